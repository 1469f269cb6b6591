package models

import (
	"testing"
	"time"
)

func TestRecurrenceNextDaily(t *testing.T) {
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rule := &RecurrenceRule{Frequency: FrequencyDaily, Interval: 1}
	next, err := rule.Next(base)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := base.AddDate(0, 0, 1); !next.Equal(want) {
		t.Errorf("daily next = %v, want %v", next, want)
	}

	rule.Interval = 3
	next, _ = rule.Next(base)
	if want := base.AddDate(0, 0, 3); !next.Equal(want) {
		t.Errorf("daily interval 3 next = %v, want %v", next, want)
	}
}

func TestRecurrenceNextWeeklyMonthly(t *testing.T) {
	base := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)

	weekly := &RecurrenceRule{Frequency: FrequencyWeekly, Interval: 2}
	next, _ := weekly.Next(base)
	if want := base.AddDate(0, 0, 14); !next.Equal(want) {
		t.Errorf("weekly next = %v, want %v", next, want)
	}

	monthly := &RecurrenceRule{Frequency: FrequencyMonthly}
	next, _ = monthly.Next(base)
	// Jan 31 + 1 month normalizes per time.AddDate.
	if want := base.AddDate(0, 1, 0); !next.Equal(want) {
		t.Errorf("monthly next = %v, want %v", next, want)
	}
}

func TestRecurrenceNextCron(t *testing.T) {
	// Every day at 06:30.
	rule := &RecurrenceRule{Frequency: FrequencyCron, Cron: "30 6 * * *", Interval: 1}
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	next, err := rule.Next(base)
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	want := time.Date(2026, 3, 11, 6, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("cron next = %v, want %v", next, want)
	}

	rule.Interval = 2
	next, _ = rule.Next(base)
	want = time.Date(2026, 3, 12, 6, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("cron interval 2 next = %v, want %v", next, want)
	}
}

func TestRecurrenceValidate(t *testing.T) {
	good := []RecurrenceRule{
		{Frequency: FrequencyDaily, Interval: 1},
		{Frequency: FrequencyWeekly},
		{Frequency: FrequencyMonthly, Interval: 6},
		{Frequency: FrequencyCron, Cron: "0 9 * * 1"},
	}
	for _, r := range good {
		if err := r.Validate(); err != nil {
			t.Errorf("rule %+v should validate: %v", r, err)
		}
	}

	bad := []RecurrenceRule{
		{Frequency: "hourly"},
		{Frequency: FrequencyCron},
		{Frequency: FrequencyCron, Cron: "not a cron"},
		{Frequency: FrequencyDaily, Interval: -1},
	}
	for _, r := range bad {
		if err := r.Validate(); err == nil {
			t.Errorf("rule %+v should fail validation", r)
		}
	}
}

func TestRecurrenceEnded(t *testing.T) {
	end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	rule := &RecurrenceRule{Frequency: FrequencyDaily, EndAfter: 3, EndDate: &end}

	if rule.Ended(2, end.AddDate(0, 0, -5)) {
		t.Error("chain of 2 with end_after 3 should continue")
	}
	if !rule.Ended(3, end.AddDate(0, 0, -5)) {
		t.Error("chain of 3 with end_after 3 should stop")
	}
	if !rule.Ended(1, end.AddDate(0, 0, 1)) {
		t.Error("next past end_date should stop")
	}
}
