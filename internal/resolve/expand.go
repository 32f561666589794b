package resolve

import (
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"occal/internal/ics"
	appLog "occal/internal/log"
	"occal/internal/model"
)

// supportedFreqs are the recurrence frequencies the engine honors. Anything
// else degrades the master to a single event rather than failing the batch.
var supportedFreqs = map[string]struct{}{
	"DAILY":   {},
	"WEEKLY":  {},
	"MONTHLY": {},
	"YEARLY":  {},
}

// ruleFrequency extracts the FREQ token from a raw RRULE value and reports
// whether it is one the engine expands.
func ruleFrequency(raw string) (string, bool) {
	for _, part := range strings.Split(raw, ";") {
		k, v, ok := strings.Cut(part, "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "FREQ") {
			continue
		}
		freq := strings.ToUpper(strings.TrimSpace(v))
		_, known := supportedFreqs[freq]
		return freq, known
	}
	return "", false
}

// expandMaster generates the window-bounded instances implied by a master's
// recurrence rule, anchored at the master's own start. Instances inherit
// the master's title, all-day flag and duration; IDs are
// "<masterUID>_<unix epoch>". EXDATE instants are removed here, by calendar
// day for all-day events and by exact instant otherwise.
//
// Expansion defects never abort resolution: an unrecognized or unparseable
// rule falls back to the master's own single start, and a rule generating
// more than limit instances is truncated.
func expandMaster(m ics.EventRecord, windowStart, windowEnd time.Time, limit int) []candidate {
	if _, ok := ruleFrequency(m.Rule); !ok {
		appLog.Debug("resolve: unsupported recurrence frequency, treating master as single event",
			"uid", m.UID, "rrule", m.Rule)
		return masterAsSingle(m, windowStart, windowEnd)
	}

	r, err := rrule.StrToRRule(m.Rule)
	if err != nil {
		appLog.Error("resolve: failed to parse RRULE, treating master as single event", err,
			"uid", m.UID, "rrule", m.Rule)
		return masterAsSingle(m, windowStart, windowEnd)
	}
	r.DTStart(m.Start)

	// Step the rule in the master's own location so all-day and floating
	// starts land on the intended wall-clock times.
	loc := m.Start.Location()
	times := r.Between(windowStart.In(loc), windowEnd.In(loc), true)
	if len(times) > limit {
		appLog.Info("resolve: recurrence expansion truncated",
			"uid", m.UID, "generated", len(times), "cap", limit)
		times = times[:limit]
	}

	out := make([]candidate, 0, len(times))
	for _, t := range times {
		start := t
		if m.AllDay {
			start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		}
		if excludedDate(m, start) {
			continue
		}
		out = append(out, candidate{
			occ: model.Occurrence{
				ID:     m.UID + "_" + strconv.FormatInt(start.Unix(), 10),
				Title:  m.Title,
				Start:  start,
				End:    recordEnd(m, start),
				AllDay: m.AllDay,
			},
			seq:          m.Sequence,
			masterUID:    m.UID,
			masterTitle:  m.Title,
			seriesTime:   start,
			seriesAllDay: m.AllDay,
		})
	}
	return out
}

// masterAsSingle is the non-fatal expansion fallback: the master's own
// start is emitted as if it were a standalone event, window permitting.
func masterAsSingle(m ics.EventRecord, windowStart, windowEnd time.Time) []candidate {
	if c, ok := makeCandidate(m, windowStart, windowEnd); ok {
		return []candidate{c}
	}
	return nil
}

// excludedDate reports whether an instance falls on an EXDATE. All-day
// series compare by calendar day; timed series require the exact instant.
func excludedDate(m ics.EventRecord, start time.Time) bool {
	for _, ex := range m.ExDates {
		e := ex.In(start.Location())
		if m.AllDay {
			if sameDay(e, start) {
				return true
			}
		} else if e.Equal(start) {
			return true
		}
	}
	return false
}
