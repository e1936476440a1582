package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// LeadStatus is a position in the outreach lifecycle.
type LeadStatus string

const (
	LeadStatusFound       LeadStatus = "Found"
	LeadStatusEnriched    LeadStatus = "Enriched"
	LeadStatusMissingInfo LeadStatus = "Missing_Info"
	LeadStatusContacted   LeadStatus = "Contacted"
	LeadStatusFollowUp1   LeadStatus = "Followup_1"
	LeadStatusFollowUp2   LeadStatus = "Followup_2"
	LeadStatusFollowUp3   LeadStatus = "Followup_3"
	LeadStatusReplied     LeadStatus = "Replied"
	LeadStatusClosed      LeadStatus = "Closed"
)

// ErrInvalidTransition is returned when a status change is not an edge of
// the lifecycle graph.
var ErrInvalidTransition = eris.New("invalid lead status transition")

// AllLeadStatuses returns every status in lifecycle order.
func AllLeadStatuses() []LeadStatus {
	return []LeadStatus{
		LeadStatusFound,
		LeadStatusEnriched,
		LeadStatusMissingInfo,
		LeadStatusContacted,
		LeadStatusFollowUp1,
		LeadStatusFollowUp2,
		LeadStatusFollowUp3,
		LeadStatusReplied,
		LeadStatusClosed,
	}
}

// transitions is the lifecycle graph. A status absent from the map, or
// mapped to an empty set, is terminal.
var transitions = map[LeadStatus][]LeadStatus{
	LeadStatusFound:     {LeadStatusEnriched, LeadStatusMissingInfo},
	LeadStatusEnriched:  {LeadStatusContacted},
	LeadStatusContacted: {LeadStatusFollowUp1, LeadStatusReplied, LeadStatusClosed},
	LeadStatusFollowUp1: {LeadStatusFollowUp2, LeadStatusReplied, LeadStatusClosed},
	LeadStatusFollowUp2: {LeadStatusFollowUp3, LeadStatusReplied, LeadStatusClosed},
	LeadStatusFollowUp3: {LeadStatusClosed, LeadStatusReplied},
}

// sendChain maps a status to the status a successful send moves it to.
var sendChain = map[LeadStatus]LeadStatus{
	LeadStatusEnriched:  LeadStatusContacted,
	LeadStatusContacted: LeadStatusFollowUp1,
	LeadStatusFollowUp1: LeadStatusFollowUp2,
	LeadStatusFollowUp2: LeadStatusFollowUp3,
}

// followUpStatuses lists the follow-up steps by ordinal (index 0 = step 1).
var followUpStatuses = []LeadStatus{
	LeadStatusFollowUp1,
	LeadStatusFollowUp2,
	LeadStatusFollowUp3,
}

// MaxFollowUpSteps is the number of follow-up statuses in the lifecycle.
const MaxFollowUpSteps = 3

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	for _, known := range AllLeadStatuses() {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s LeadStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Contacted reports whether a lead in status s has been sent at least one
// email, i.e. whether last_contacted must be set.
func (s LeadStatus) Contacted() bool {
	switch s {
	case LeadStatusFound, LeadStatusEnriched, LeadStatusMissingInfo:
		return false
	default:
		return s.Valid()
	}
}

// CanTransition reports whether from -> to is an edge of the lifecycle graph.
func CanTransition(from, to LeadStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ValidateTransition returns ErrInvalidTransition when from -> to is not allowed.
func ValidateTransition(from, to LeadStatus) error {
	if !CanTransition(from, to) {
		return eris.Wrapf(ErrInvalidTransition, "%s -> %s", from, to)
	}
	return nil
}

// NextSendStatus returns the status a successful send advances s to. The
// second return is false when s has no send successor (Followup_3 and all
// statuses that cannot be emailed).
func NextSendStatus(s LeadStatus) (LeadStatus, bool) {
	next, ok := sendChain[s]
	return next, ok
}

// FollowUpStatus returns the status for follow-up step n (1-based).
func FollowUpStatus(n int) (LeadStatus, bool) {
	if n < 1 || n > len(followUpStatuses) {
		return "", false
	}
	return followUpStatuses[n-1], true
}

// FollowUpStep returns the 1-based follow-up ordinal of s, 0 for Contacted,
// and -1 for statuses outside the active cadence.
func FollowUpStep(s LeadStatus) int {
	if s == LeadStatusContacted {
		return 0
	}
	for i, fs := range followUpStatuses {
		if s == fs {
			return i + 1
		}
	}
	return -1
}

// ActiveCadenceStatuses returns the statuses the follow-up scheduler sweeps.
func ActiveCadenceStatuses() []LeadStatus {
	return []LeadStatus{
		LeadStatusContacted,
		LeadStatusFollowUp1,
		LeadStatusFollowUp2,
		LeadStatusFollowUp3,
	}
}

// Lead is a business contact moving through the outreach lifecycle.
type Lead struct {
	ID            string     `json:"id"`
	Name          string     `json:"name,omitempty"`
	ClinicName    string     `json:"clinic_name"`
	Website       string     `json:"website,omitempty"`
	Email         string     `json:"email,omitempty"`
	Phone         string     `json:"phone,omitempty"`
	Description   string     `json:"description,omitempty"`
	Status        LeadStatus `json:"status"`
	LastContacted *time.Time `json:"last_contacted,omitempty"`
	FollowUpCount int        `json:"follow_up_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// HasEmail reports whether enrichment found an address for the lead.
func (l *Lead) HasEmail() bool {
	return l.Email != ""
}

// DaysSinceContact returns whole days elapsed since the last send. The
// second return is false when the lead was never contacted.
func (l *Lead) DaysSinceContact(now time.Time) (int, bool) {
	if l.LastContacted == nil {
		return 0, false
	}
	elapsed := now.Sub(*l.LastContacted)
	if elapsed < 0 {
		return 0, true
	}
	return int(elapsed / (24 * time.Hour)), true
}

// Candidate is a raw search result before it becomes a Lead.
type Candidate struct {
	Name       string `json:"name,omitempty"`
	ClinicName string `json:"clinic_name"`
	Website    string `json:"website,omitempty"`
	Phone      string `json:"phone,omitempty"`
}

// EventReason labels why a lead changed status.
type EventReason string

const (
	EventReasonEnriched    EventReason = "enriched"
	EventReasonMissingInfo EventReason = "missing_info"
	EventReasonSent        EventReason = "sent"
	EventReasonClosed      EventReason = "closed"
	EventReasonReplied     EventReason = "replied"
)

// LeadEvent records one committed status transition.
type LeadEvent struct {
	ID         string      `json:"id"`
	LeadID     string      `json:"lead_id"`
	FromStatus LeadStatus  `json:"from_status"`
	ToStatus   LeadStatus  `json:"to_status"`
	Reason     EventReason `json:"reason"`
	Detail     string      `json:"detail,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

// LeadUpdate describes one atomic lead mutation. The store applies it only
// while the lead is still in From, and records a LeadEvent with it.
type LeadUpdate struct {
	ID                string
	From              LeadStatus
	To                LeadStatus
	Email             *string
	Description       *string
	ContactedAt       *time.Time
	IncrementFollowUp bool
	Reason            EventReason
	Detail            string
}

// Validate checks the update against the lifecycle graph and the
// last_contacted invariant.
func (u LeadUpdate) Validate() error {
	if u.ID == "" {
		return eris.New("lead update: missing lead id")
	}
	if err := ValidateTransition(u.From, u.To); err != nil {
		return err
	}
	if u.ContactedAt != nil && !u.To.Contacted() {
		return eris.Errorf("lead update: contacted_at set for uncontacted status %s", u.To)
	}
	if u.IncrementFollowUp && u.ContactedAt == nil {
		return eris.New("lead update: follow-up increment requires contacted_at")
	}
	return nil
}
