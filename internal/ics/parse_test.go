package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"occal/internal/model"
)

func lines(ls ...string) string {
	out := ""
	for _, l := range ls {
		out += l + "\r\n"
	}
	return out
}

func wrap(vevents ...string) string {
	body := lines("BEGIN:VCALENDAR", "VERSION:2.0", "PRODID:-//occal//EN")
	for _, ve := range vevents {
		body += ve
	}
	return body + lines("END:VCALENDAR")
}

func TestParseBasicEvent(t *testing.T) {
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: wrap(lines(
			"BEGIN:VEVENT",
			"UID:ev-1",
			"SUMMARY:Dentist",
			"DTSTART:20260107T150000Z",
			"DTEND:20260107T160000Z",
			"SEQUENCE:3",
			"STATUS:CONFIRMED",
			"END:VEVENT",
		)),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.Equal(t, "ev-1", rec.UID)
	require.Equal(t, "Dentist", rec.Title)
	require.True(t, rec.Start.Equal(time.Date(2026, 1, 7, 15, 0, 0, 0, time.UTC)))
	require.True(t, rec.End.Equal(time.Date(2026, 1, 7, 16, 0, 0, 0, time.UTC)))
	require.False(t, rec.AllDay)
	require.Equal(t, 3, rec.Sequence)
	require.Equal(t, StatusConfirmed, rec.Status)
	require.False(t, rec.IsMaster())
	require.False(t, rec.IsOverride())
}

func TestParseAllDayEvent(t *testing.T) {
	tests := []struct {
		name    string
		dtstart string
	}{
		{name: "value date parameter", dtstart: "DTSTART;VALUE=DATE:20260110"},
		{name: "date-only value", dtstart: "DTSTART:20260110"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			obj := model.RawCalendarObject{
				UID: "cal-1",
				Data: wrap(lines(
					"BEGIN:VEVENT",
					"UID:ev-2",
					"SUMMARY:Holiday",
					tc.dtstart,
					"END:VEVENT",
				)),
			}

			records, err := Parse(obj)
			require.NoError(t, err)
			require.Len(t, records, 1)
			require.True(t, records[0].AllDay)

			want := time.Date(2026, 1, 10, 0, 0, 0, 0, time.Local)
			require.True(t, records[0].Start.Equal(want))
		})
	}
}

func TestParseFloatingTimeIsLocal(t *testing.T) {
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: wrap(lines(
			"BEGIN:VEVENT",
			"UID:ev-3",
			"SUMMARY:Lunch",
			"DTSTART:20260110T123000",
			"END:VEVENT",
		)),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Len(t, records, 1)
	want := time.Date(2026, 1, 10, 12, 30, 0, 0, time.Local)
	require.True(t, records[0].Start.Equal(want))
	require.False(t, records[0].AllDay)
}

func TestParseDropsDefectiveBlocksKeepsRest(t *testing.T) {
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: wrap(
			lines(
				"BEGIN:VEVENT",
				"UID:no-start",
				"SUMMARY:Broken",
				"END:VEVENT",
			),
			lines(
				"BEGIN:VEVENT",
				"UID:no-title",
				"DTSTART:20260107T150000Z",
				"END:VEVENT",
			),
			lines(
				"BEGIN:VEVENT",
				"UID:ok",
				"SUMMARY:Fine",
				"DTSTART:20260107T150000Z",
				"END:VEVENT",
			),
		),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "ok", records[0].UID)
}

func TestParseCancelledIsSuppressed(t *testing.T) {
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: wrap(lines(
			"BEGIN:VEVENT",
			"UID:gone",
			"SUMMARY:Cancelled meeting",
			"DTSTART:20260107T150000Z",
			"STATUS:CANCELLED",
			"END:VEVENT",
		)),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Empty(t, records)
}

func TestParseBadSequenceDefaultsToZero(t *testing.T) {
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: wrap(lines(
			"BEGIN:VEVENT",
			"UID:ev-4",
			"SUMMARY:Sync",
			"DTSTART:20260107T150000Z",
			"SEQUENCE:not-a-number",
			"END:VEVENT",
		)),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, 0, records[0].Sequence)
}

func TestParseUIDFallbackIsGenerated(t *testing.T) {
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: wrap(lines(
			"BEGIN:VEVENT",
			"SUMMARY:Anonymous",
			"DTSTART:20260107T150000Z",
			"END:VEVENT",
		)),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.NotEmpty(t, records[0].UID)
}

func TestParseRecurrenceProperties(t *testing.T) {
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: wrap(lines(
			"BEGIN:VEVENT",
			"UID:series",
			"SUMMARY:Standup",
			"DTSTART:20260105T090000Z",
			"RRULE:FREQ=WEEKLY;BYDAY=MO,WE,FR",
			"EXDATE:20260107T090000Z",
			"EXDATE:20260109T090000Z,20260112T090000Z",
			"END:VEVENT",
		)),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.True(t, rec.IsMaster())
	require.Equal(t, "FREQ=WEEKLY;BYDAY=MO,WE,FR", rec.Rule)
	require.Len(t, rec.ExDates, 3)
	require.True(t, rec.ExDates[2].Equal(time.Date(2026, 1, 12, 9, 0, 0, 0, time.UTC)))
}

func TestParseOverrideIsTerminal(t *testing.T) {
	// An RRULE on a RECURRENCE-ID block must not survive: overrides are
	// concrete and never re-expanded.
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: wrap(lines(
			"BEGIN:VEVENT",
			"UID:series",
			"SUMMARY:Standup",
			"DTSTART:20260119T103000Z",
			"RECURRENCE-ID:20260119T090000Z",
			"RRULE:FREQ=WEEKLY",
			"END:VEVENT",
		)),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	require.True(t, rec.IsOverride())
	require.False(t, rec.IsMaster())
	require.True(t, rec.RecurrenceOf.Equal(time.Date(2026, 1, 19, 9, 0, 0, 0, time.UTC)))
}

func TestParseFoldedLine(t *testing.T) {
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: wrap(lines(
			"BEGIN:VEVENT",
			"UID:ev-5",
			"SUMMARY:A meeting with a very lo",
			" ng folded title",
			"DTSTART:20260107T150000Z",
			"END:VEVENT",
		)),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "A meeting with a very long folded title", records[0].Title)
}

func TestParseBareVEventBlock(t *testing.T) {
	// Transport layers sometimes hand over the block without its
	// VCALENDAR wrapper.
	obj := model.RawCalendarObject{
		UID: "cal-1",
		Data: lines(
			"BEGIN:VEVENT",
			"UID:bare",
			"SUMMARY:Unwrapped",
			"DTSTART:20260107T150000Z",
			"END:VEVENT",
		),
	}

	records, err := Parse(obj)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "bare", records[0].UID)
}

func TestParseRejectsGarbage(t *testing.T) {
	_, err := Parse(model.RawCalendarObject{UID: "cal-1", Data: ""})
	require.Error(t, err)

	_, err = Parse(model.RawCalendarObject{UID: "cal-1", Data: "\xff\xfe not utf8"})
	require.Error(t, err)
}

func TestParseTimeValueForms(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		want     time.Time
		dateOnly bool
		wantErr  bool
	}{
		{name: "utc", in: "20260101T090000Z", want: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
		{name: "floating", in: "20260101T090000", want: time.Date(2026, 1, 1, 9, 0, 0, 0, time.Local)},
		{name: "date-only", in: "20260101", want: time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local), dateOnly: true},
		{name: "empty", in: "", wantErr: true},
		{name: "garbage", in: "tomorrow", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, dateOnly, err := parseTimeValue(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.True(t, got.Equal(tc.want), "got %v want %v", got, tc.want)
			require.Equal(t, tc.dateOnly, dateOnly)
		})
	}
}
