package models

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/opengate/opengate/internal/common/errors"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate checks a recurrence rule at task create/update time so that a
// malformed rule fails early rather than on completion.
func (r *RecurrenceRule) Validate() error {
	switch r.Frequency {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
	case FrequencyCron:
		if r.Cron == "" {
			return apperrors.Validation("recurrence_rule.cron is required for cron frequency")
		}
		if _, err := cronParser.Parse(r.Cron); err != nil {
			return apperrors.Validation(fmt.Sprintf("invalid cron expression %q: %v", r.Cron, err))
		}
	default:
		return apperrors.Validation(fmt.Sprintf("unknown recurrence frequency %q", r.Frequency))
	}
	if r.Interval < 0 {
		return apperrors.Validation("recurrence_rule.interval must be >= 1")
	}
	if r.EndAfter < 0 {
		return apperrors.Validation("recurrence_rule.end_after must be >= 1 when set")
	}
	return nil
}

// intervalOrDefault treats a missing interval as 1.
func (r *RecurrenceRule) intervalOrDefault() int {
	if r.Interval < 1 {
		return 1
	}
	return r.Interval
}

// Next computes the successor occurrence from the previous one.
func (r *RecurrenceRule) Next(base time.Time) (time.Time, error) {
	n := r.intervalOrDefault()
	switch r.Frequency {
	case FrequencyDaily:
		return base.AddDate(0, 0, n), nil
	case FrequencyWeekly:
		return base.AddDate(0, 0, 7*n), nil
	case FrequencyMonthly:
		return base.AddDate(0, n, 0), nil
	case FrequencyCron:
		sched, err := cronParser.Parse(r.Cron)
		if err != nil {
			return time.Time{}, apperrors.Validation(fmt.Sprintf("invalid cron expression %q: %v", r.Cron, err))
		}
		next := base
		for i := 0; i < n; i++ {
			next = sched.Next(next)
		}
		return next, nil
	}
	return time.Time{}, apperrors.Validation(fmt.Sprintf("unknown recurrence frequency %q", r.Frequency))
}

// Ended reports whether the rule has run its course: either the chain
// already holds end_after occurrences, or the next occurrence would land
// past end_date.
func (r *RecurrenceRule) Ended(chainCount int, next time.Time) bool {
	if r.EndAfter > 0 && chainCount >= r.EndAfter {
		return true
	}
	if r.EndDate != nil && next.After(*r.EndDate) {
		return true
	}
	return false
}
