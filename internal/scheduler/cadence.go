package scheduler

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/outreach-cli/internal/model"
)

// Cadence is the follow-up timing policy.
type Cadence struct {
	FollowUpIntervalDays int `json:"follow_up_interval_days" mapstructure:"follow_up_interval_days"`
	CloseAfterDays       int `json:"close_after_days" mapstructure:"close_after_days"`
	MaxFollowUps         int `json:"max_follow_ups" mapstructure:"max_follow_ups"`
}

// DefaultCadence returns three follow-ups three days apart, closing seven
// days after the last one.
func DefaultCadence() Cadence {
	return Cadence{FollowUpIntervalDays: 3, CloseAfterDays: 7, MaxFollowUps: model.MaxFollowUpSteps}
}

// Validate checks the cadence bounds.
func (c Cadence) Validate() error {
	if c.FollowUpIntervalDays < 1 {
		return eris.Errorf("cadence: follow_up_interval_days must be >= 1, got %d", c.FollowUpIntervalDays)
	}
	if c.CloseAfterDays < 1 {
		return eris.Errorf("cadence: close_after_days must be >= 1, got %d", c.CloseAfterDays)
	}
	if c.MaxFollowUps < 1 || c.MaxFollowUps > model.MaxFollowUpSteps {
		return eris.Errorf("cadence: max_follow_ups must be between 1 and %d, got %d", model.MaxFollowUpSteps, c.MaxFollowUps)
	}
	return nil
}

// finalStep reports whether a lead in s has received its last follow-up
// under this cadence and is only waiting to be closed.
func (c Cadence) finalStep(s model.LeadStatus) bool {
	return model.FollowUpStep(s) >= c.MaxFollowUps
}
