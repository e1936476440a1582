package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/outreach-cli/internal/resilience"
	"github.com/sells-group/outreach-cli/pkg/anthropic"
)

const (
	defaultModel     = "claude-haiku-4-5-20251001"
	defaultMaxTokens = 120
	defaultTimeout   = 15 * time.Second
)

const openingSystemPrompt = `You are a professional outreach assistant.
Write a short, non-spammy, and helpful opening line for a cold email to a clinic.
The goal is to sound human and genuinely interested in their clinic.
Return ONLY the opening line.`

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	APIKey    string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
	Breaker   *resilience.Breaker
}

// AnthropicProvider generates openings with the Anthropic Messages API.
type AnthropicProvider struct {
	client  anthropic.Client
	cfg     AnthropicConfig
	breaker *resilience.Breaker
}

// NewAnthropicProvider creates a provider. Without an API key every call
// fails fast with ErrProviderNotConfigured.
func NewAnthropicProvider(client anthropic.Client, cfg AnthropicConfig) *AnthropicProvider {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	b := cfg.Breaker
	if b == nil {
		b = resilience.NewBreaker(resilience.BreakerConfig{
			Name: "anthropic",
			ShouldTrip: func(err error) bool {
				return !errors.Is(err, context.Canceled)
			},
		})
	}
	return &AnthropicProvider{client: client, cfg: cfg, breaker: b}
}

// Generate asks the model for one opening line.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt Prompt) Result {
	if p.client == nil || p.cfg.APIKey == "" {
		return Failed(ErrProviderNotConfigured)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	req := anthropic.MessageRequest{
		Model:     p.cfg.Model,
		MaxTokens: p.cfg.MaxTokens,
		System:    openingSystemPrompt,
		Messages: []anthropic.Message{
			{Role: "user", Content: userPrompt(prompt)},
		},
	}

	resp, err := resilience.ExecuteVal(ctx, p.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return p.client.CreateMessage(ctx, req)
	})
	if err != nil {
		return Failed(err)
	}
	if resp == nil {
		return Failed(ErrEmptyOpening)
	}
	resp.Usage.LogCost(p.cfg.Model, "personalize")

	text := cleanOpening(resp.Text())
	if text == "" {
		return Failed(ErrEmptyOpening)
	}
	return Generated(text)
}

func userPrompt(p Prompt) string {
	site := strings.TrimSpace(p.Description)
	if site == "" {
		site = "Professional clinic"
	}
	return fmt.Sprintf("Clinic Name: %s\nContact Name: %s\nWebsite Context: %s",
		strings.TrimSpace(p.ClinicName), greetingName(p.Name), site)
}

// cleanOpening trims the reply and drops one pair of quotes wrapping the
// whole text. Inner lines are kept.
func cleanOpening(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' || first == '\'') && first == last {
			s = strings.TrimSpace(s[1 : len(s)-1])
		}
	}
	return s
}
