// Package delivery sends composed emails and records each successful send
// as a one-step lifecycle advance.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Store is the subset of the lead store used for delivery.
type Store interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	UpdateLead(ctx context.Context, upd model.LeadUpdate) error
}

// Receipt reports the outcome of one send attempt.
type Receipt struct {
	LeadID string           `json:"lead_id"`
	Sent   bool             `json:"sent"`
	From   model.LeadStatus `json:"from,omitempty"`
	To     model.LeadStatus `json:"to,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// Executor sends one email per call and advances the lead on success.
type Executor struct {
	store     Store
	transport Transport
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewExecutor creates an Executor that stamps sends with the wall clock.
func NewExecutor(st Store, tr Transport, m *metrics.Metrics) *Executor {
	return &Executor{store: st, transport: tr, metrics: m, now: time.Now}
}

// WithClock overrides the send timestamp source.
func (e *Executor) WithClock(now func() time.Time) *Executor {
	e.now = now
	return e
}

// Send delivers msg to the lead. Leads without an email, without a send
// successor (Followup_3 and terminal statuses), or with an empty message are
// refused before the transport is touched. Transport failures leave the lead
// unchanged. Send never retries.
func (e *Executor) Send(ctx context.Context, leadID string, msg compose.Message) Receipt {
	log := zap.L().With(zap.String("lead_id", leadID))
	rcpt := Receipt{LeadID: leadID}

	lead, err := e.store.GetLead(ctx, leadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rcpt.Reason = "lead not found"
		} else {
			rcpt.Reason = fmt.Sprintf("load lead: %v", err)
		}
		log.Warn("delivery: cannot load lead", zap.Error(err))
		e.metrics.Send("", metrics.OutcomeRefused)
		return rcpt
	}
	rcpt.From = lead.Status

	next, ok := model.NextSendStatus(lead.Status)
	switch {
	case !lead.HasEmail():
		rcpt.Reason = "no email address"
	case !ok:
		rcpt.Reason = fmt.Sprintf("status %s has no send step", lead.Status)
	case !msg.Validate():
		rcpt.Reason = "empty subject or body"
	}
	if rcpt.Reason != "" {
		log.Info("delivery: refused", zap.String("status", string(lead.Status)), zap.String("reason", rcpt.Reason))
		e.metrics.Send(string(lead.Status), metrics.OutcomeRefused)
		return rcpt
	}

	err = e.transport.Send(ctx, Envelope{
		To:      lead.Email,
		ToName:  lead.Name,
		Subject: msg.Subject,
		Text:    msg.Body,
		HTML:    msg.HTML,
	})
	if err != nil {
		rcpt.Reason = fmt.Sprintf("transport: %v", err)
		log.Warn("delivery: send failed", zap.String("email", lead.Email), zap.Error(err))
		e.metrics.Send(string(lead.Status), metrics.OutcomeFailed)
		return rcpt
	}

	sentAt := e.now().UTC()
	err = e.store.UpdateLead(ctx, model.LeadUpdate{
		ID:                lead.ID,
		From:              lead.Status,
		To:                next,
		ContactedAt:       &sentAt,
		IncrementFollowUp: true,
		Reason:            model.EventReasonSent,
		Detail:            msg.Subject,
	})
	if err != nil {
		// The email left, but the lead did not advance.
		rcpt.Reason = fmt.Sprintf("record send: %v", err)
		log.Error("delivery: email sent but lead update failed",
			zap.String("status", string(lead.Status)),
			zap.Error(err),
		)
		e.metrics.Send(string(lead.Status), metrics.OutcomeFailed)
		return rcpt
	}

	rcpt.Sent = true
	rcpt.To = next
	log.Info("delivery: sent",
		zap.String("email", lead.Email),
		zap.String("from", string(lead.Status)),
		zap.String("to", string(next)),
	)
	e.metrics.Send(string(lead.Status), metrics.OutcomeSent)
	return rcpt
}
