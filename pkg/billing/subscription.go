package billing

import (
	"time"

	"github.com/google/uuid"
)

// Subscription is the authoritative billing record for a user. Each user has
// at most one authoritative subscription; upserts key on ProviderSubID so
// provider redeliveries converge to the same row.
type Subscription struct {
	UserID             uuid.UUID // owner, immutable after creation
	Status             Status
	Plan               Plan
	ProviderCustomerID string
	ProviderSubID      string
	ProviderPriceID    string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
	CancelAtPeriodEnd  bool // cancellation scheduled but not yet effective
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

func (s *Subscription) IsTrialing() bool {
	return s.Status == StatusTrialing
}

func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive || s.Status == StatusTrialing
}

func (s *Subscription) IsSuspended() bool {
	return s.Status == StatusPastDue || s.Status == StatusCanceled
}

// TrialDaysRemainingAt returns the number of days remaining in the trial at a
// given time, rounding partial days up. Returns 0 if not trialing or the
// trial has lapsed. Accepting the clock makes the method testable with fixed
// time values.
func (s *Subscription) TrialDaysRemainingAt(now time.Time) int {
	if !s.IsTrialing() || s.TrialEnd == nil {
		return 0
	}

	remaining := s.TrialEnd.Sub(now)
	if remaining <= 0 {
		return 0
	}

	days := remaining.Hours() / 24
	return int(days + 0.5)
}

// TrialDaysRemaining returns the number of days remaining in the trial.
func (s *Subscription) TrialDaysRemaining() int {
	return s.TrialDaysRemainingAt(time.Now().UTC())
}

// StatusSummary is the derived, non-persisted view of a user's billing state
// consumed by route guards and dashboards. Active and Suspended are mutually
// exclusive by construction; a nil Status means the user never subscribed,
// which is neither active nor suspended and routes to onboarding.
type StatusSummary struct {
	Status    *Status    `json:"status"`
	Plan      *Plan      `json:"plan"`
	TrialEnd  *time.Time `json:"trial_end"`
	PeriodEnd *time.Time `json:"current_period_end"`
	Active    bool       `json:"is_active"`
	Suspended bool       `json:"is_suspended"`
}

// Summarize derives the status booleans from a subscription status. It is a
// pure function so guard behavior can be tested in isolation from any I/O.
func Summarize(status Status) (active, suspended bool) {
	switch status {
	case StatusActive, StatusTrialing:
		return true, false
	case StatusPastDue, StatusCanceled:
		return false, true
	default:
		return false, false
	}
}

// SummaryFor builds the full derived view for a subscription row. A nil row
// yields the "never subscribed" summary with all fields null.
func SummaryFor(sub *Subscription) StatusSummary {
	if sub == nil {
		return StatusSummary{}
	}

	active, suspended := Summarize(sub.Status)
	summary := StatusSummary{
		Status:    &sub.Status,
		Plan:      &sub.Plan,
		TrialEnd:  sub.TrialEnd,
		Active:    active,
		Suspended: suspended,
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		summary.PeriodEnd = &end
	}
	return summary
}
