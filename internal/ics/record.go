package ics

import "time"

// Status is the VEVENT STATUS property, reduced to the three values the
// resolver cares about.
type Status int

const (
	StatusConfirmed Status = iota
	StatusTentative
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusTentative:
		return "TENTATIVE"
	case StatusCancelled:
		return "CANCELLED"
	default:
		return "CONFIRMED"
	}
}

// EventRecord is the parsed form of one VEVENT block. Records come in three
// kinds: masters (Rule set), overrides (RecurrenceOf set), and standalone
// events (neither). A record never carries both Rule and RecurrenceOf;
// overrides are already concrete and are never re-expanded.
type EventRecord struct {
	UID   string
	Title string

	Start time.Time
	// End is the zero time when the block had no usable DTEND.
	End    time.Time
	AllDay bool

	Sequence int
	Status   Status

	// Rule is the raw RRULE value on a master record. It stays unparsed
	// here; recurrence expansion happens in the resolver.
	Rule string

	// ExDates are instants explicitly removed from expansion of Rule.
	ExDates []time.Time

	// RecurrenceOf points at the series instant this record replaces
	// (RECURRENCE-ID). Only set on override records.
	RecurrenceOf *time.Time
}

// IsOverride reports whether the record replaces a single instance of a
// recurring series.
func (r EventRecord) IsOverride() bool { return r.RecurrenceOf != nil }

// IsMaster reports whether the record generates a recurring series.
func (r EventRecord) IsMaster() bool { return r.Rule != "" }
