package coordinator

import (
	"time"

	"github.com/ssdims/ssdims/pkg/types"
)

// localMidnight returns the start of t's day in loc.
func localMidnight(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// dayRange returns the portal request range for the local day starting at
// day: from local midnight to the next local midnight.
func dayRange(day time.Time) (time.Time, time.Time) {
	return day, day.AddDate(0, 0, 1)
}

// yesterday returns local midnight of the day before now. Data is only
// published for complete days so yesterday is the newest day we can fetch.
func yesterday(now time.Time, loc *time.Location) time.Time {
	return localMidnight(now, loc).AddDate(0, 0, -1)
}

// window is an inclusive range of local days. A window with start after end
// is empty.
type window struct {
	start time.Time
	end   time.Time
}

func (w window) empty() bool {
	return w.start.After(w.end)
}

// days lists every local midnight in the window.
func (w window) days() []time.Time {
	var days []time.Time
	for d := w.start; !d.After(w.end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// seriesWindow is the range of days that still need statistics for a series
// whose last persisted point is last. Without a last point the window covers
// historyDays days ending yesterday; historyDays below one still fetches
// yesterday.
func seriesWindow(last *types.StatisticPoint, now time.Time, loc *time.Location, historyDays int) window {
	end := yesterday(now, loc)
	if last == nil {
		if historyDays < 1 {
			historyDays = 1
		}
		return window{start: end.AddDate(0, 0, -(historyDays - 1)), end: end}
	}
	return window{start: localMidnight(last.Start, loc).AddDate(0, 0, 1), end: end}
}

// union merges windows of the same point; empty windows are ignored.
func union(ws ...window) window {
	var out window
	first := true
	for _, w := range ws {
		if w.empty() {
			continue
		}
		if first {
			out = w
			first = false
			continue
		}
		if w.start.Before(out.start) {
			out.start = w.start
		}
		if w.end.After(out.end) {
			out.end = w.end
		}
	}
	if first {
		return window{start: time.Unix(1, 0), end: time.Unix(0, 0)}
	}
	return out
}
