package availability

import (
	"time"

	"github.com/chairbook/chairbook/services/scheduling-service/internal/interval"
)

// Slots returns slot start times inside the working intervals where a booking of
// length duration would not overlap any occupied interval and would start no
// earlier than earliest.
//
// Working intervals are walked in the order given. A candidate that would run past
// its interval's end is dropped, not truncated. A start instant is emitted at most
// once even when working intervals overlap each other.
func Slots(working, occupied []interval.Interval, duration, step time.Duration, earliest time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}

	var slots []time.Time
	seen := make(map[int64]struct{})
	for _, w := range working {
		if !w.Valid() {
			continue
		}
		for t := w.Start; !t.Add(duration).After(w.End); t = t.Add(step) {
			if t.Before(earliest) {
				continue
			}
			if interval.OverlapsAny(interval.New(t, duration), occupied) {
				continue
			}
			key := t.UnixNano()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			slots = append(slots, t)
		}
	}
	return slots
}
