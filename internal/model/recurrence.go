package model

import (
	"fmt"
	"time"
)

// ReferenceZone is the fixed zone all calendar arithmetic runs in. Occurrences
// and streak days never depend on the process's local zone, so a DST switch
// cannot skip or duplicate an occurrence.
var ReferenceZone = time.UTC

type Frequency string

const (
	FrequencyNone    Frequency = "none"
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyNone, FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyYearly:
		return true
	default:
		return false
	}
}

// RepeatRule is a task's recurrence. Anchor is the first occurrence of the
// series; every later occurrence is derived from it, so a month-end anchor
// keeps landing on month ends after a clamped February.
type RepeatRule struct {
	Frequency Frequency  `json:"frequency"`
	Interval  int        `json:"interval"`
	EndDate   *time.Time `json:"endDate,omitempty"`
	Anchor    time.Time  `json:"anchor,omitempty"`
}

func NoRepeat() RepeatRule {
	return RepeatRule{Frequency: FrequencyNone, Interval: 1}
}

func (r RepeatRule) Validate() error {
	if !r.Frequency.IsValid() {
		return fmt.Errorf("%w: invalid repeat frequency %q", ErrValidation, r.Frequency)
	}
	if r.Interval < 1 {
		return fmt.Errorf("%w: invalid repeat interval %d", ErrValidation, r.Interval)
	}
	return nil
}

func (r RepeatRule) Active() bool {
	return r.Frequency != "" && r.Frequency != FrequencyNone
}

func (r RepeatRule) Equal(other RepeatRule) bool {
	return r.Frequency == other.Frequency &&
		r.Interval == other.Interval &&
		timePtrEqual(r.EndDate, other.EndDate) &&
		r.Anchor.Equal(other.Anchor)
}

// NextOccurrence returns the first occurrence strictly after from, treating
// from itself as the anchor. It reports false for non-repeating rules and
// when the occurrence would fall after the rule's end date.
func NextOccurrence(rule RepeatRule, from time.Time) (time.Time, bool) {
	anchored := rule
	anchored.Anchor = from
	return anchored.Next(from)
}

// Next returns the first occurrence of the anchored series strictly after
// after. The anchor itself counts when it lies after after.
func (r RepeatRule) Next(after time.Time) (time.Time, bool) {
	if !r.Active() || r.Interval < 1 || r.Anchor.IsZero() {
		return time.Time{}, false
	}
	anchor := r.Anchor.In(ReferenceZone)
	after = after.In(ReferenceZone)

	var next time.Time
	switch r.Frequency {
	case FrequencyDaily:
		next = nextByDays(anchor, after, r.Interval)
	case FrequencyWeekly:
		next = nextByDays(anchor, after, 7*r.Interval)
	case FrequencyMonthly:
		next = nextByMonths(anchor, after, r.Interval)
	case FrequencyYearly:
		next = nextByMonths(anchor, after, 12*r.Interval)
	default:
		return time.Time{}, false
	}
	if r.EndDate != nil && next.After(*r.EndDate) {
		return time.Time{}, false
	}
	return next, true
}

// Preview lists up to count occurrences after from. It stops early when the
// series ends.
func (r RepeatRule) Preview(from time.Time, count int) []time.Time {
	if count <= 0 {
		return []time.Time{}
	}
	out := make([]time.Time, 0, count)
	cursor := from
	for i := 0; i < count; i++ {
		next, ok := r.Next(cursor)
		if !ok {
			break
		}
		out = append(out, next)
		cursor = next
	}
	return out
}

func nextByDays(anchor, after time.Time, step int) time.Time {
	if anchor.After(after) {
		return anchor
	}
	days := int(after.Sub(anchor) / (24 * time.Hour))
	k := days / step
	candidate := anchor.AddDate(0, 0, k*step)
	for !candidate.After(after) {
		k++
		candidate = anchor.AddDate(0, 0, k*step)
	}
	return candidate
}

func nextByMonths(anchor, after time.Time, step int) time.Time {
	if anchor.After(after) {
		return anchor
	}
	months := (after.Year()-anchor.Year())*12 + int(after.Month()) - int(anchor.Month())
	k := months / step
	if k < 0 {
		k = 0
	}
	candidate := addMonthsClamped(anchor, k*step)
	for !candidate.After(after) {
		k++
		candidate = addMonthsClamped(anchor, k*step)
	}
	return candidate
}

// addMonthsClamped moves anchor forward n months, keeping its day of month
// when the target month has it and clamping to the last day otherwise.
func addMonthsClamped(anchor time.Time, n int) time.Time {
	y, m, d := anchor.Date()
	total := int(m) - 1 + n
	year := y + total/12
	month := time.Month(total%12 + 1)
	if last := daysIn(year, month); d > last {
		d = last
	}
	return time.Date(year, month, d, anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), ReferenceZone)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Day returns t's calendar day in ReferenceZone as YYYY-MM-DD.
func Day(t time.Time) string {
	return t.In(ReferenceZone).Format(DayLayout)
}

const DayLayout = "2006-01-02"
