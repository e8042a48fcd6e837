package domain

import (
	"strings"
	"time"
)

// PlanID is the closed set of purchasable plans.
type PlanID string

const (
	PlanOneTime PlanID = "one-time"
	PlanWeekly  PlanID = "weekly"
	PlanMonthly PlanID = "monthly"
)

const weeklyPeriod = 7 * 24 * time.Hour

func ParsePlanID(raw string) (PlanID, error) {
	p := PlanID(strings.TrimSpace(raw))
	if !p.Valid() {
		return "", ErrInvalidPlan
	}
	return p, nil
}

func (p PlanID) Valid() bool {
	switch p {
	case PlanOneTime, PlanWeekly, PlanMonthly:
		return true
	}
	return false
}

func (p PlanID) String() string { return string(p) }

func (p PlanID) IsSubscription() bool {
	switch p {
	case PlanWeekly, PlanMonthly:
		return true
	case PlanOneTime:
		return false
	}
	return false
}

// ExpiresAt returns the expiry for a purchase made at purchasedAt. One-time
// plans never expire. Monthly plans keep the wall-clock time and clamp the
// day to the end of the target month.
func (p PlanID) ExpiresAt(purchasedAt time.Time) (*time.Time, error) {
	switch p {
	case PlanOneTime:
		return nil, nil
	case PlanWeekly:
		t := purchasedAt.Add(weeklyPeriod)
		return &t, nil
	case PlanMonthly:
		t := addMonthClamped(purchasedAt)
		return &t, nil
	}
	return nil, ErrInvalidPlan
}

func addMonthClamped(t time.Time) time.Time {
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()

	target := time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
	last := daysIn(target.Year(), target.Month(), t.Location())
	if day > last {
		day = last
	}
	return time.Date(target.Year(), target.Month(), day, hour, minute, sec, t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
