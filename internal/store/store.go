package store

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

var (
	// ErrNotFound is returned when a lead does not exist.
	ErrNotFound = eris.New("lead not found")
	// ErrStaleStatus is returned when a lead left the expected status before
	// an update could be applied.
	ErrStaleStatus = eris.New("lead status changed concurrently")
)

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	Statuses []model.LeadStatus `json:"statuses,omitempty"`
	IDs      []string           `json:"ids,omitempty"`
	Limit    int                `json:"limit,omitempty"`
	Offset   int                `json:"offset,omitempty"`
}

// Store defines the persistence interface for leads.
type Store interface {
	// Leads
	InsertLead(ctx context.Context, lead *model.Lead) (bool, error)
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	WebsiteExists(ctx context.Context, website string) (bool, error)
	UpdateLead(ctx context.Context, upd model.LeadUpdate) error
	CountByStatus(ctx context.Context) (map[model.LeadStatus]int, error)

	// Events
	ListEvents(ctx context.Context, leadID string) ([]model.LeadEvent, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// nullable maps empty strings to SQL NULL so UNIQUE(website) tolerates
// leads without a website.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
