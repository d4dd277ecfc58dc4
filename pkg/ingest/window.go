package ingest

import (
	"time"
)

// DefaultAlignment is the width of the windows the collector expects.
const DefaultAlignment = 10 * time.Second

// Window is the time interval a profile was collected over, with second
// granularity.
type Window struct {
	From  time.Time
	Until time.Time
}

// AlignedWindow floors start to a multiple of alignment and returns the
// window of that width starting there: with a 10s alignment, a start of
// 1005 gives [1000, 1010]. It assumes the profile was collected over no
// more than alignment.
func AlignedWindow(start time.Time, alignment time.Duration) Window {
	width := int64(alignment / time.Second)
	if width <= 0 {
		width = 1
	}
	from := start.Unix() - start.Unix()%width

	return Window{
		From:  time.Unix(from, 0),
		Until: time.Unix(from+width, 0),
	}
}

// MeasuredWindow returns the window actually elapsed between from and
// until, never shorter than one second.
func MeasuredWindow(from, until time.Time) Window {
	f, u := from.Unix(), until.Unix()
	if u <= f {
		u = f + 1
	}

	return Window{
		From:  time.Unix(f, 0),
		Until: time.Unix(u, 0),
	}
}

// Duration returns the width of the window.
func (w Window) Duration() time.Duration {
	return w.Until.Sub(w.From)
}
