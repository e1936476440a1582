// Package scheduler runs the follow-up sweep: it sends due follow-ups and
// closes leads whose cadence has run out. It has no timer of its own.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/delivery"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Store is the subset of the lead store used by the sweep.
type Store interface {
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
	UpdateLead(ctx context.Context, upd model.LeadUpdate) error
}

// Composer renders follow-up emails.
type Composer interface {
	FollowUp(lead *model.Lead) compose.Message
}

// Sender delivers one email and advances the lead.
type Sender interface {
	Send(ctx context.Context, leadID string, msg compose.Message) delivery.Receipt
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Visited    int `json:"visited"`
	Sent       int `json:"sent"`
	SendFailed int `json:"send_failed"`
	Closed     int `json:"closed"`
	NotDue     int `json:"not_due"`
	Errors     int `json:"errors"`
}

// Scheduler applies the cadence to every lead in an active cadence status.
// Sweeps must not run concurrently.
type Scheduler struct {
	store    Store
	composer Composer
	sender   Sender
	cadence  Cadence
	metrics  *metrics.Metrics
	now      func() time.Time
}

// New creates a Scheduler. The cadence is validated here so a sweep never
// runs with nonsense bounds.
func New(st Store, c Composer, s Sender, cadence Cadence, m *metrics.Metrics) (*Scheduler, error) {
	if err := cadence.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{store: st, composer: c, sender: s, cadence: cadence, metrics: m, now: time.Now}, nil
}

// WithClock overrides the sweep clock.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

type action int

const (
	actionNone action = iota
	actionFollowUp
	actionClose
)

// decide returns what the cadence calls for after elapsed whole days in
// status st.
func (c Cadence) decide(st model.LeadStatus, elapsed int) action {
	if c.finalStep(st) {
		if elapsed >= c.CloseAfterDays {
			return actionClose
		}
		return actionNone
	}
	if elapsed >= c.FollowUpIntervalDays {
		return actionFollowUp
	}
	return actionNone
}

// Sweep visits every lead in Contacted through Followup_3 once. Per-lead
// failures are counted and logged; only a failure to list leads or a
// canceled context returns an error.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepResult, error) {
	log := zap.L().With(zap.String("component", "scheduler"))
	now := s.now().UTC()

	leads, err := s.store.ListLeads(ctx, store.LeadFilter{Statuses: model.ActiveCadenceStatuses()})
	if err != nil {
		return nil, eris.Wrap(err, "scheduler: list active leads")
	}

	res := &SweepResult{}
	for i := range leads {
		if err := ctx.Err(); err != nil {
			return res, eris.Wrap(err, "scheduler: sweep canceled")
		}
		lead := &leads[i]
		res.Visited++

		elapsed, ok := lead.DaysSinceContact(now)
		if !ok {
			log.Error("scheduler: contacted lead has no last_contacted",
				zap.String("lead_id", lead.ID),
				zap.String("status", string(lead.Status)),
			)
			res.Errors++
			continue
		}

		switch s.cadence.decide(lead.Status, elapsed) {
		case actionClose:
			s.close(ctx, lead, elapsed, res)
		case actionFollowUp:
			rcpt := s.sender.Send(ctx, lead.ID, s.composer.FollowUp(lead))
			if rcpt.Sent {
				res.Sent++
				s.metrics.Sweep(metrics.OutcomeSent)
			} else {
				res.SendFailed++
				s.metrics.Sweep(metrics.OutcomeFailed)
				log.Warn("scheduler: follow-up not sent",
					zap.String("lead_id", lead.ID),
					zap.String("reason", rcpt.Reason),
				)
			}
		default:
			res.NotDue++
			s.metrics.Sweep(metrics.OutcomeNotDue)
		}
	}

	log.Info("scheduler: sweep complete",
		zap.Int("visited", res.Visited),
		zap.Int("sent", res.Sent),
		zap.Int("send_failed", res.SendFailed),
		zap.Int("closed", res.Closed),
		zap.Int("not_due", res.NotDue),
		zap.Int("errors", res.Errors),
	)
	return res, nil
}

func (s *Scheduler) close(ctx context.Context, lead *model.Lead, elapsed int, res *SweepResult) {
	err := s.store.UpdateLead(ctx, model.LeadUpdate{
		ID:     lead.ID,
		From:   lead.Status,
		To:     model.LeadStatusClosed,
		Reason: model.EventReasonClosed,
		Detail: "no reply",
	})
	switch {
	case err == nil:
		res.Closed++
		s.metrics.Sweep(metrics.OutcomeClosed)
		zap.L().Info("scheduler: closed lead",
			zap.String("lead_id", lead.ID),
			zap.Int("days_since_contact", elapsed),
		)
	case errors.Is(err, store.ErrStaleStatus):
		// Replied or otherwise moved since the listing.
		res.NotDue++
	default:
		res.Errors++
		s.metrics.Sweep(metrics.OutcomeFailed)
		zap.L().Error("scheduler: close lead", zap.String("lead_id", lead.ID), zap.Error(err))
	}
}
