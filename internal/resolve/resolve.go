// Package resolve turns parsed event records into a flat, deduplicated,
// time-ordered list of concrete occurrences inside a caller-supplied window.
//
// Resolution is a pipeline of explicit stages over immutable inputs:
// classify -> expand -> apply overrides -> standalone pass-through ->
// dedup -> sort. The package holds no state between calls; concurrent
// Resolve calls need no coordination.
package resolve

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"occal/internal/ics"
	appLog "occal/internal/log"
	"occal/internal/model"
)

// ErrInvalidWindow is returned when the caller passes a window whose start
// is after its end. There is no safe default for that, so it is the one
// input defect that does not degrade gracefully.
var ErrInvalidWindow = errors.New("resolve: window start is after window end")

const parseConcurrency = 8

// candidate carries resolver-internal state alongside the outward-facing
// occurrence while the pipeline runs.
type candidate struct {
	occ model.Occurrence
	seq int

	// Series bookkeeping, set only on instances expanded from a master.
	// seriesTime is the pre-override instant the instance was generated
	// at; overrides match against it via RECURRENCE-ID.
	masterUID    string
	masterTitle  string
	seriesTime   time.Time
	seriesAllDay bool
}

// Resolve parses every raw calendar object in the batch and resolves the
// combined record set into occurrences within [windowStart, windowEnd].
//
// Objects are parsed concurrently but merged in input order before any
// resolver stage runs, so the result is deterministic. Per-object parse
// failures do not abort the batch: the well-formed remainder still
// resolves, and the failures come back joined in the returned error.
func Resolve(objects []model.RawCalendarObject, windowStart, windowEnd time.Time) ([]model.Occurrence, error) {
	if windowEnd.Before(windowStart) {
		return nil, fmt.Errorf("%w: start=%s end=%s", ErrInvalidWindow,
			windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	}

	parsed := make([][]ics.EventRecord, len(objects))
	parseErrs := make([]error, len(objects))

	var g errgroup.Group
	g.SetLimit(parseConcurrency)
	for i, obj := range objects {
		g.Go(func() error {
			parsed[i], parseErrs[i] = ics.Parse(obj)
			return nil
		})
	}
	_ = g.Wait()

	var records []ics.EventRecord
	for _, recs := range parsed {
		records = append(records, recs...)
	}

	occs, err := ResolveRecords(records, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	return occs, errors.Join(parseErrs...)
}

// ResolveRecords runs the resolution pipeline over an already-parsed record
// set. The full set must be visible at once; streaming partial resolution
// is not supported because dedup and override matching are global.
func ResolveRecords(records []ics.EventRecord, windowStart, windowEnd time.Time) ([]model.Occurrence, error) {
	if windowEnd.Before(windowStart) {
		return nil, fmt.Errorf("%w: start=%s end=%s", ErrInvalidWindow,
			windowStart.Format(time.RFC3339), windowEnd.Format(time.RFC3339))
	}

	masters, overrides, standalones := classify(records)

	limit := candidateCap(windowStart, windowEnd)
	var cands []candidate
	for _, m := range masters {
		cands = append(cands, expandMaster(m, windowStart, windowEnd, limit)...)
	}

	cands = applyOverrides(cands, overrides, windowStart, windowEnd)

	for _, s := range standalones {
		if c, ok := makeCandidate(s, windowStart, windowEnd); ok {
			cands = append(cands, c)
		}
	}

	cands = dedup(cands)

	occs := make([]model.Occurrence, len(cands))
	for i, c := range cands {
		occs[i] = c.occ
	}
	sortOccurrences(occs)
	return occs, nil
}

// classify partitions records into masters (recurrence rule), overrides
// (RECURRENCE-ID) and standalone events.
func classify(records []ics.EventRecord) (masters, overrides, standalones []ics.EventRecord) {
	for _, r := range records {
		switch {
		case r.IsOverride():
			overrides = append(overrides, r)
		case r.IsMaster():
			masters = append(masters, r)
		default:
			standalones = append(standalones, r)
		}
	}
	return masters, overrides, standalones
}

// applyOverrides reconciles override records with expanded series
// instances. A matched instance is replaced, never duplicated alongside
// the override. Matching prefers a shared UID with the generating master;
// title equality is the fallback correlation key, kept for inputs whose
// overrides carry their own UIDs.
func applyOverrides(cands []candidate, overrides []ics.EventRecord, windowStart, windowEnd time.Time) []candidate {
	for _, ov := range overrides {
		match := findOverrideTarget(cands, ov)
		if match >= 0 {
			cands = append(cands[:match], cands[match+1:]...)
		}
		// The override's own start decides inclusion; an override that
		// moved its instance out of the window removes it outright.
		if c, ok := makeCandidate(ov, windowStart, windowEnd); ok {
			cands = append(cands, c)
		}
	}
	return cands
}

func findOverrideTarget(cands []candidate, ov ics.EventRecord) int {
	byUID, byTitle := -1, -1
	for i, c := range cands {
		if c.masterUID == "" || !overrideInstantMatches(c, ov) {
			continue
		}
		if c.masterUID == ov.UID {
			byUID = i
			break
		}
		if byTitle < 0 && c.masterTitle == ov.Title {
			byTitle = i
		}
	}
	if byUID >= 0 {
		return byUID
	}
	return byTitle
}

func overrideInstantMatches(c candidate, ov ics.EventRecord) bool {
	rid := ov.RecurrenceOf.In(c.seriesTime.Location())
	if c.seriesAllDay {
		return sameDay(rid, c.seriesTime)
	}
	return rid.Equal(c.seriesTime)
}

// makeCandidate turns a non-recurring record (standalone, override, or a
// master degraded to a single event) into a window-filtered candidate.
// Timed events are kept when their start lies inside the window inclusive;
// all-day events are kept when their span overlaps it, so a multi-day
// event straddling the window edge still shows up once with its true span.
func makeCandidate(r ics.EventRecord, windowStart, windowEnd time.Time) (candidate, bool) {
	end := recordEnd(r, r.Start)

	var in bool
	if r.AllDay {
		in = !end.Before(windowStart) && !r.Start.After(windowEnd)
	} else {
		in = !r.Start.Before(windowStart) && !r.Start.After(windowEnd)
	}
	if !in {
		return candidate{}, false
	}

	return candidate{
		occ: model.Occurrence{
			ID:     r.UID,
			Title:  r.Title,
			Start:  r.Start,
			End:    end,
			AllDay: r.AllDay,
		},
		seq: r.Sequence,
	}, true
}

// recordEnd reapplies the record's own duration to the given start. A
// record without DTEND gets a zero duration, except all-day events which
// span their full day.
func recordEnd(r ics.EventRecord, start time.Time) time.Time {
	if r.End.IsZero() {
		if r.AllDay {
			return start.AddDate(0, 0, 1)
		}
		return start
	}
	return start.Add(r.End.Sub(r.Start))
}

// dedup collapses occurrences sharing a (title, calendar day) key down to
// the highest-sequence entry. Sequence ties at different exact instants
// are genuinely distinct events and both survive; ties at the same
// instant collapse to one.
func dedup(cands []candidate) []candidate {
	keyOf := func(c candidate) string {
		return c.occ.Title + "\x00" + c.occ.Start.Format("20060102")
	}

	var order []string
	groups := make(map[string][]candidate)
	for _, c := range cands {
		k := keyOf(c)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}

	out := make([]candidate, 0, len(cands))
	for _, k := range order {
		group := groups[k]
		maxSeq := group[0].seq
		for _, c := range group[1:] {
			if c.seq > maxSeq {
				maxSeq = c.seq
			}
		}
		seen := make(map[int64]bool, len(group))
		for _, c := range group {
			if c.seq != maxSeq {
				continue
			}
			instant := c.occ.Start.UnixNano()
			if seen[instant] {
				continue
			}
			seen[instant] = true
			out = append(out, c)
		}
	}
	return out
}

// sortOccurrences establishes the output contract: all-day occurrences
// first, then ascending start, with ID as the final tiebreak so the order
// is total and repeated resolutions agree.
func sortOccurrences(occs []model.Occurrence) {
	sort.Slice(occs, func(i, j int) bool {
		if occs[i].AllDay != occs[j].AllDay {
			return occs[i].AllDay
		}
		if !occs[i].Start.Equal(occs[j].Start) {
			return occs[i].Start.Before(occs[j].Start)
		}
		return occs[i].ID < occs[j].ID
	})
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// candidateCap bounds the number of generated instances per master so a
// pathological rule still terminates. The bound is proportional to the
// window length at the minimum one-day step, clamped to a sane range.
func candidateCap(windowStart, windowEnd time.Time) int {
	days := int(windowEnd.Sub(windowStart).Hours()/24) + 2
	const (
		floor   = 31
		ceiling = 5000
	)
	if days < floor {
		return floor
	}
	if days > ceiling {
		appLog.Debug("resolve: candidate cap clamped", "days", days, "cap", ceiling)
		return ceiling
	}
	return days
}
