package ics

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "occal/internal/log"
	"occal/internal/model"
)

// Parse scans one raw calendar object and extracts the structured event
// records contained in its VEVENT blocks.
//
//   - The underlying library handles line unfolding and block structure;
//     bodies without a VCALENDAR wrapper are wrapped before parsing.
//   - A block missing SUMMARY or a usable DTSTART is skipped with a
//     diagnostic, never a batch failure.
//   - A block whose STATUS is CANCELLED contributes no record.
//   - Non-UTF8 or structurally unparseable text is the caller's contract
//     violation and is returned as an error.
func Parse(obj model.RawCalendarObject) ([]EventRecord, error) {
	body := obj.Data
	if body == "" {
		return nil, errors.New("ics: empty calendar object body")
	}
	if !utf8.ValidString(body) {
		return nil, fmt.Errorf("ics: calendar object %q is not valid UTF-8", obj.UID)
	}
	if !strings.Contains(body, "BEGIN:VCALENDAR") {
		body = "BEGIN:VCALENDAR\r\n" + strings.TrimRight(body, "\r\n") + "\r\nEND:VCALENDAR\r\n"
	}

	cal, err := ical.ParseCalendar(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ics: parse calendar object %q: %w", obj.UID, err)
	}

	records := make([]EventRecord, 0, len(cal.Events()))
	for _, ve := range cal.Events() {
		rec, perr := parseVEvent(ve)
		if perr != nil {
			// Skip this block but keep parsing the rest.
			appLog.Debug("ics: skipping vevent", "object", obj.UID, "reason", perr)
			continue
		}
		if rec == nil {
			continue
		}
		records = append(records, *rec)
	}

	return records, nil
}

// parseVEvent extracts one EventRecord from a VEVENT block. It returns
// (nil, nil) for blocks that parse fine but are suppressed (cancelled).
func parseVEvent(ve *ical.VEvent) (*EventRecord, error) {
	var rec EventRecord

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		rec.Title = p.Value
	}
	if rec.Title == "" {
		return nil, errors.New("missing SUMMARY")
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil || dtStart.Value == "" {
		return nil, errors.New("missing DTSTART")
	}
	start, dateOnly, err := parseTimeValue(dtStart.Value)
	if err != nil {
		return nil, fmt.Errorf("bad DTSTART %q: %w", dtStart.Value, err)
	}
	rec.Start = start
	rec.AllDay = dateOnly || hasDateParam(dtStart)

	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil && dtEnd.Value != "" {
		// A bad DTEND degrades to "no end"; the start already anchors
		// the record.
		if end, _, eerr := parseTimeValue(dtEnd.Value); eerr == nil {
			rec.End = end
		}
	}

	if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
		rec.UID = p.Value
	}
	if rec.UID == "" {
		rec.UID = uuid.NewString()
	}

	// SEQUENCE defaults to 0 on absence or a bad integer.
	if p := ve.GetProperty(ical.ComponentPropertySequence); p != nil {
		if n, aerr := strconv.Atoi(strings.TrimSpace(p.Value)); aerr == nil {
			rec.Sequence = n
		}
	}

	// Raw property name; the constant set varies across library versions.
	if p := ve.GetProperty("STATUS"); p != nil {
		rec.Status = parseStatus(p.Value)
	}
	if rec.Status == StatusCancelled {
		// Hard suppress: cancelled blocks never become records.
		return nil, nil
	}

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		rec.Rule = p.Value
	}

	// EXDATE may repeat, and each value may hold a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, _, terr := parseTimeValue(part); terr == nil {
				rec.ExDates = append(rec.ExDates, t)
			}
		}
	}

	if p := ve.GetProperty("RECURRENCE-ID"); p != nil {
		if t, _, terr := parseTimeValue(p.Value); terr == nil {
			rec.RecurrenceOf = &t
			// Overrides are terminal: an RRULE on the same block is
			// never re-expanded.
			rec.Rule = ""
		}
	}

	return &rec, nil
}

func hasDateParam(p *ical.IANAProperty) bool {
	if p.ICalParameters == nil {
		return false
	}
	vs, ok := p.ICalParameters["VALUE"]
	return ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE")
}

func parseStatus(v string) Status {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "CANCELLED":
		return StatusCancelled
	case "TENTATIVE":
		return StatusTentative
	default:
		return StatusConfirmed
	}
}

// parseTimeValue parses the three date/time value forms the engine
// understands: YYYYMMDD (date-only, local), YYYYMMDDTHHMMSS (floating,
// local) and YYYYMMDDTHHMMSSZ (UTC). There is no timezone-database lookup
// beyond the UTC/local distinction.
func parseTimeValue(v string) (t time.Time, dateOnly bool, err error) {
	v = strings.TrimSpace(v)
	switch {
	case v == "":
		return time.Time{}, false, errors.New("empty time value")
	case strings.HasSuffix(v, "Z"):
		t, err = time.Parse("20060102T150405Z", v)
		return t, false, err
	case strings.Contains(v, "T"):
		t, err = time.ParseInLocation("20060102T150405", v, time.Local)
		return t, false, err
	default:
		t, err = time.ParseInLocation("20060102", v, time.Local)
		return t, true, err
	}
}
