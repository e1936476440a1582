package compose

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// ErrProviderNotConfigured is the failure reported by providers that cannot
// generate text, such as a model provider without an API key.
var ErrProviderNotConfigured = eris.New("compose: personalization provider not configured")

// ErrEmptyOpening is the failure recorded when a provider returns only
// whitespace.
var ErrEmptyOpening = eris.New("compose: provider returned empty opening")

// Prompt carries the lead context for an opening line.
type Prompt struct {
	Name        string
	ClinicName  string
	Description string
}

// Result is the outcome of one personalization attempt. Exactly one of Text
// or Failure is meaningful.
type Result struct {
	Text    string
	Failure error
}

// Generated returns a successful Result.
func Generated(text string) Result {
	return Result{Text: text}
}

// Failed returns a failed Result.
func Failed(err error) Result {
	if err == nil {
		err = ErrEmptyOpening
	}
	return Result{Failure: err}
}

// Opening returns the trimmed text and true when the result is usable.
// Whitespace-only text counts as a failure.
func (r Result) Opening() (string, bool) {
	if r.Failure != nil {
		return "", false
	}
	text := strings.TrimSpace(r.Text)
	return text, text != ""
}

// Provider generates a personalized opening line. Implementations report
// failures in the Result instead of returning errors.
type Provider interface {
	Generate(ctx context.Context, p Prompt) Result
}

// StaticProvider never generates text, so every opening uses the fallback.
type StaticProvider struct{}

func (StaticProvider) Generate(context.Context, Prompt) Result {
	return Failed(ErrProviderNotConfigured)
}

func greetingName(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return "there"
}

// FallbackOpening is the template opening used whenever personalization
// fails.
func FallbackOpening(name, clinicName string) string {
	return fmt.Sprintf("Hi %s, I came across %s and was impressed by your work.",
		greetingName(name), strings.TrimSpace(clinicName))
}

// FollowUpOpening is the fixed opening for follow-up emails.
func FollowUpOpening(name string) string {
	return fmt.Sprintf("Hi %s, just following up on my previous email.", greetingName(name))
}
