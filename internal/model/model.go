package model

import "time"

// RawCalendarObject is a single calendar entry as delivered by a transport
// source: an opaque scope identifier plus the iCalendar text body, which may
// contain one or more VEVENT blocks. The resolver treats it as immutable.
type RawCalendarObject struct {
	UID  string
	Data string
}

// Occurrence is one concrete, calendar-placed instance of an event after
// recurrence resolution. It is the engine's output unit.
type Occurrence struct {
	// ID is stable across repeated resolutions of the same window. For an
	// instance expanded from a recurring series it is
	// "<masterUID>_<unix epoch of the occurrence start>".
	ID     string    `json:"id"`
	Title  string    `json:"title"`
	Start  time.Time `json:"start"`
	End    time.Time `json:"end"`
	AllDay bool      `json:"all_day"`
}
