package models

import (
	"fmt"
	"regexp"
	"time"
)

type EntryStatus string

const (
	EntryStatusApproved EntryStatus = "approved"
	EntryStatusSent     EntryStatus = "sent"
)

// ScheduledEntry is one queued outbound message in
// scheduled-messages.json. An entry is mutated exactly once, by the
// dispatch engine, when it transitions approved -> sent.
type ScheduledEntry struct {
	ID          string      `json:"id"`
	Recipient   string      `json:"recipient"`
	Message     string      `json:"message"`
	Attachment  *string     `json:"attachment"`
	ScheduledAt string      `json:"scheduledAt"`
	Status      EntryStatus `json:"status"`
	SentAt      *string     `json:"sentAt"`
}

// ScheduleTimeLayout is the second-precision layout used in
// scheduled-messages.json. Times without a zone are local.
const ScheduleTimeLayout = "2006-01-02T15:04:05"

var hasSecondsRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)

// EnsureSeconds appends ":00" to a minute-precision timestamp so that
// form submissions and API callers may omit seconds.
func EnsureSeconds(scheduledAt string) string {
	if hasSecondsRe.MatchString(scheduledAt) {
		return scheduledAt
	}
	return scheduledAt + ":00"
}

// ParseScheduleTime parses a scheduledAt value, accepting both the
// local second-precision layout and RFC 3339.
func ParseScheduleTime(value string) (time.Time, error) {
	if t, err := time.ParseInLocation(ScheduleTimeLayout, value, time.Local); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid scheduledAt %q", value)
}

// DueBy reports whether the entry's delivery time has been reached.
// Unparseable timestamps are never due; the dispatch engine logs them.
func (e *ScheduledEntry) DueBy(now time.Time) (bool, error) {
	t, err := ParseScheduleTime(e.ScheduledAt)
	if err != nil {
		return false, err
	}
	return !t.After(now), nil
}

// Pending reports whether the entry is still awaiting dispatch.
func (e *ScheduledEntry) Pending() bool {
	return e.Status == EntryStatusApproved && e.SentAt == nil
}
