// Package compose builds outreach emails: templated subjects and bodies with
// a personalized opening line and a deterministic fallback.
package compose

import (
	"context"
	"html"
	"strings"
	"text/template"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
)

const defaultSenderName = "Lead Generation"

// Message is a composed email ready for delivery.
type Message struct {
	Subject      string `json:"subject"`
	Body         string `json:"body"`
	HTML         string `json:"html,omitempty"`
	Personalized bool   `json:"personalized"`
}

// Validate reports whether the message can be sent.
func (m Message) Validate() bool {
	return strings.TrimSpace(m.Subject) != "" && strings.TrimSpace(m.Body) != ""
}

// Options configures a Composer.
type Options struct {
	SenderName string
	Templates  Templates
}

// Composer renders initial and follow-up emails for leads.
type Composer struct {
	provider Provider
	tmpl     *parsedTemplates
	sender   string
	metrics  *metrics.Metrics
}

// New creates a Composer. A nil provider behaves like StaticProvider. Zero
// template fields use the defaults.
func New(p Provider, opts Options, m *metrics.Metrics) (*Composer, error) {
	if p == nil {
		p = StaticProvider{}
	}
	if opts.SenderName == "" {
		opts.SenderName = defaultSenderName
	}

	tmpl, err := DefaultTemplates().merge(opts.Templates).parse()
	if err != nil {
		return nil, err
	}
	return &Composer{provider: p, tmpl: tmpl, sender: opts.SenderName, metrics: m}, nil
}

// Initial composes the first email for a lead, asking the provider for a
// personalized opening and falling back to the template opening on any
// failure. It never fails.
func (c *Composer) Initial(ctx context.Context, lead *model.Lead) Message {
	res := c.provider.Generate(ctx, Prompt{
		Name:        lead.Name,
		ClinicName:  lead.ClinicName,
		Description: lead.Description,
	})

	opening, ok := res.Opening()
	if ok {
		c.metrics.Opening(metrics.OutcomeModel)
	} else {
		zap.L().Debug("compose: using fallback opening",
			zap.String("lead_id", lead.ID),
			zap.Error(res.Failure),
		)
		opening = FallbackOpening(lead.Name, lead.ClinicName)
		c.metrics.Opening(metrics.OutcomeFallback)
	}

	msg := c.render(c.tmpl.initialSubject, lead, opening)
	msg.Personalized = ok
	return msg
}

// FollowUp composes a follow-up email. It makes no provider call.
func (c *Composer) FollowUp(lead *model.Lead) Message {
	return c.render(c.tmpl.followUpSubject, lead, FollowUpOpening(lead.Name))
}

func (c *Composer) render(subject *template.Template, lead *model.Lead, opening string) Message {
	data := templateData{
		Name:       lead.Name,
		Greeting:   greetingName(lead.Name),
		ClinicName: lead.ClinicName,
		Website:    lead.Website,
		Opening:    opening,
		SenderName: c.sender,
	}

	subj, err := execute(subject, data)
	if err != nil {
		zap.L().Warn("compose: render subject", zap.String("lead_id", lead.ID), zap.Error(err))
		subj = lead.ClinicName
	}
	body, err := execute(c.tmpl.body, data)
	if err != nil {
		zap.L().Warn("compose: render body", zap.String("lead_id", lead.ID), zap.Error(err))
		body = opening
	}
	return Message{
		Subject: strings.TrimSpace(subj),
		Body:    body,
		HTML:    BodyHTML(body),
	}
}

// BodyHTML converts a plain text body into minimal HTML: blank lines split
// paragraphs and single newlines become line breaks.
func BodyHTML(body string) string {
	paras := strings.Split(strings.ReplaceAll(strings.TrimSpace(body), "\r\n", "\n"), "\n\n")
	var b strings.Builder
	for _, p := range paras {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(html.EscapeString(p), "\n", "<br>"))
		b.WriteString("</p>\n")
	}
	return b.String()
}
