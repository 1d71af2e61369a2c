package schedule

import (
	"math/rand"
	"sort"
	"time"
)

const (
	// SlotRound is the mark candidate times are rounded to.
	SlotRound = 15 * time.Minute
	// ShiftStep is the autoshift search increment.
	ShiftStep = 5 * time.Minute
)

// Window is an absolute half-open interval [Start, End) derived from a local
// day window.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) Span() time.Duration {
	return w.End.Sub(w.Start)
}

// Location resolves a timezone name, falling back to UTC when the name is
// unknown or empty.
func Location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}

// DayWindow converts a calendar day and a local "HH:MM" window into absolute
// time. End is exclusive. A window whose end is not after its start collapses
// to one minute so the interval is never empty or inverted.
func DayWindow(day time.Time, loc *time.Location, start, end string) (Window, error) {
	st, err := time.Parse("15:04", start)
	if err != nil {
		return Window{}, err
	}
	et, err := time.Parse("15:04", end)
	if err != nil {
		return Window{}, err
	}

	y, m, d := day.Date()
	ws := time.Date(y, m, d, st.Hour(), st.Minute(), 0, 0, loc)
	we := time.Date(y, m, d, et.Hour(), et.Minute(), 0, 0, loc)
	if !we.After(ws) {
		we = ws.Add(time.Minute)
	}
	return Window{Start: ws.UTC(), End: we.UTC()}, nil
}

// Spread places count candidates evenly across the window: the span is split
// into count+1 segments and one candidate sits at each interior boundary,
// which keeps candidates off the window edges. Each candidate is rounded to
// the nearest 15-minute mark (ties round up) and clamped into the window.
// Rounding can collapse neighbours, so the result may be shorter than count.
func Spread(w Window, count int) []time.Time {
	if count <= 0 {
		return []time.Time{}
	}

	step := w.Span() / time.Duration(count+1)
	out := make([]time.Time, 0, count)
	seen := make(map[time.Time]struct{}, count)
	for i := 1; i <= count; i++ {
		t := clamp(w.Start.Add(step*time.Duration(i)).Round(SlotRound), w)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// RandomSpread places up to count candidates uniformly at random inside the
// window, rounded to 15-minute marks. Used by randomized batch commits
// instead of the even spread.
func RandomSpread(w Window, count int, rng *rand.Rand) []time.Time {
	if count <= 0 {
		return []time.Time{}
	}

	span := w.Span()
	out := make([]time.Time, 0, count)
	seen := make(map[time.Time]struct{}, count)
	for i := 0; i < count; i++ {
		t := clamp(w.Start.Add(time.Duration(rng.Int63n(int64(span)))).Round(SlotRound), w)
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// HasConflict reports whether any existing instant is strictly within
// minSpacing of the candidate. Exactly minSpacing apart is not a conflict.
func HasConflict(candidate time.Time, existing []time.Time, minSpacing time.Duration) bool {
	for _, t := range existing {
		d := candidate.Sub(t)
		if d < 0 {
			d = -d
		}
		if d < minSpacing {
			return true
		}
	}
	return false
}

// Autoshift accepts each candidate as-is when it is inside the window and
// conflict-free against existing bookings plus everything placed so far.
// Otherwise it searches outward in ShiftStep increments, later first then
// earlier for each radius, up to the full window span. Candidates that
// exhaust the search are returned unplaced.
func Autoshift(w Window, candidates, existing []time.Time, minSpacing time.Duration) (placed, unplaced []time.Time) {
	placed = make([]time.Time, 0, len(candidates))
	unplaced = []time.Time{}

	conflict := func(t time.Time) bool {
		return HasConflict(t, existing, minSpacing) || HasConflict(t, placed, minSpacing)
	}

	for _, c := range candidates {
		if w.Contains(c) && !conflict(c) {
			placed = append(placed, c)
			continue
		}

		found := false
		for offset := ShiftStep; offset < w.Span(); offset += ShiftStep {
			for _, sign := range []time.Duration{1, -1} {
				t := c.Add(sign * offset)
				if w.Contains(t) && !conflict(t) {
					placed = append(placed, t)
					found = true
					break
				}
			}
			if found {
				break
			}
		}
		if !found {
			unplaced = append(unplaced, c)
		}
	}
	return placed, unplaced
}

// clamp keeps a rounded candidate inside [start, end-1m].
func clamp(t time.Time, w Window) time.Time {
	if t.Before(w.Start) {
		return w.Start
	}
	if last := w.End.Add(-time.Minute); t.After(last) {
		return last
	}
	return t
}
