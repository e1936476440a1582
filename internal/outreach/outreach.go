// Package outreach runs initial and bulk sends and composes previews for
// review before sending.
package outreach

import (
	"context"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/delivery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// Store is the subset of the lead store used for outreach.
type Store interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
}

// Composer renders initial emails.
type Composer interface {
	Initial(ctx context.Context, lead *model.Lead) compose.Message
}

// Sender delivers one email and advances the lead.
type Sender interface {
	Send(ctx context.Context, leadID string, msg compose.Message) delivery.Receipt
}

// Summary counts the outcome of a batch send.
type Summary struct {
	Attempted int                `json:"attempted"`
	Sent      int                `json:"sent"`
	Failed    int                `json:"failed"`
	Receipts  []delivery.Receipt `json:"receipts,omitempty"`
}

func (s *Summary) add(r delivery.Receipt) {
	s.Attempted++
	if r.Sent {
		s.Sent++
	} else {
		s.Failed++
	}
	s.Receipts = append(s.Receipts, r)
}

// Preview is a composed email that has not been sent.
type Preview struct {
	LeadID     string          `json:"lead_id"`
	ClinicName string          `json:"clinic_name"`
	Email      string          `json:"email"`
	Message    compose.Message `json:"message"`
}

// Service runs outreach batches. Batches process leads one at a time.
type Service struct {
	store    Store
	composer Composer
	sender   Sender
}

// New creates a Service.
func New(st Store, c Composer, s Sender) *Service {
	return &Service{store: st, composer: c, sender: s}
}

// SendInitial composes and sends the first email to every Enriched lead.
func (s *Service) SendInitial(ctx context.Context) (*Summary, error) {
	leads, err := s.store.ListLeads(ctx, store.LeadFilter{
		Statuses: []model.LeadStatus{model.LeadStatusEnriched},
	})
	if err != nil {
		return nil, eris.Wrap(err, "outreach: list enriched leads")
	}
	return s.sendAll(ctx, leads)
}

// SendMany composes and sends the initial email to the given leads. Leads
// that are missing or not Enriched are not sent to and count as failed.
func (s *Service) SendMany(ctx context.Context, ids []string) (*Summary, error) {
	if len(ids) == 0 {
		return &Summary{}, nil
	}
	leads, err := s.store.ListLeads(ctx, store.LeadFilter{IDs: ids})
	if err != nil {
		return nil, eris.Wrap(err, "outreach: list leads")
	}

	byID := make(map[string]model.Lead, len(leads))
	for _, l := range leads {
		byID[l.ID] = l
	}

	var (
		sendable []model.Lead
		refused  []delivery.Receipt
	)
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		l, ok := byID[id]
		switch {
		case !ok:
			refused = append(refused, delivery.Receipt{LeadID: id, Reason: "lead not found"})
		case l.Status != model.LeadStatusEnriched:
			refused = append(refused, notEnriched(&l))
		default:
			sendable = append(sendable, l)
		}
	}

	sum, err := s.sendAll(ctx, sendable)
	for _, r := range refused {
		sum.add(r)
	}
	return sum, err
}

func notEnriched(l *model.Lead) delivery.Receipt {
	return delivery.Receipt{
		LeadID: l.ID,
		From:   l.Status,
		Reason: fmt.Sprintf("status %s is not %s", l.Status, model.LeadStatusEnriched),
	}
}

func (s *Service) sendAll(ctx context.Context, leads []model.Lead) (*Summary, error) {
	sum := &Summary{}
	for i := range leads {
		if err := ctx.Err(); err != nil {
			return sum, eris.Wrap(err, "outreach: canceled")
		}
		lead := &leads[i]
		msg := s.composer.Initial(ctx, lead)
		sum.add(s.sender.Send(ctx, lead.ID, msg))
	}
	zap.L().Info("outreach: batch complete",
		zap.Int("attempted", sum.Attempted),
		zap.Int("sent", sum.Sent),
		zap.Int("failed", sum.Failed),
	)
	return sum, nil
}

// Preview composes the initial email for one lead without sending it.
func (s *Service) Preview(ctx context.Context, id string) (*Preview, error) {
	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "outreach: preview")
	}
	p := s.preview(ctx, lead)
	return &p, nil
}

// PreviewEnriched composes initial emails for every Enriched lead.
func (s *Service) PreviewEnriched(ctx context.Context) ([]Preview, error) {
	leads, err := s.store.ListLeads(ctx, store.LeadFilter{
		Statuses: []model.LeadStatus{model.LeadStatusEnriched},
	})
	if err != nil {
		return nil, eris.Wrap(err, "outreach: list enriched leads")
	}
	previews := make([]Preview, 0, len(leads))
	for i := range leads {
		previews = append(previews, s.preview(ctx, &leads[i]))
	}
	return previews, nil
}

func (s *Service) preview(ctx context.Context, lead *model.Lead) Preview {
	return Preview{
		LeadID:     lead.ID,
		ClinicName: lead.ClinicName,
		Email:      lead.Email,
		Message:    s.composer.Initial(ctx, lead),
	}
}

// SendComposed sends caller-edited initial content to one Enriched lead.
// Follow-ups go through the scheduler only.
func (s *Service) SendComposed(ctx context.Context, id string, msg compose.Message) delivery.Receipt {
	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return delivery.Receipt{LeadID: id, Reason: "lead not found"}
		}
		zap.L().Error("outreach: load lead", zap.String("lead_id", id), zap.Error(err))
		return delivery.Receipt{LeadID: id, Reason: "load lead: " + err.Error()}
	}
	if lead.Status != model.LeadStatusEnriched {
		return notEnriched(lead)
	}
	if msg.HTML == "" {
		msg.HTML = compose.BodyHTML(msg.Body)
	}
	return s.sender.Send(ctx, id, msg)
}
