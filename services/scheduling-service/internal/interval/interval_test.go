package interval

import (
	"testing"
	"time"
)

func at(h, m int) time.Time {
	return time.Date(2026, 3, 10, h, m, 0, 0, time.UTC)
}

func TestOverlaps(t *testing.T) {
	cases := []struct {
		name string
		a, b Interval
		want bool
	}{
		{"disjoint", Interval{at(9, 0), at(9, 30)}, Interval{at(10, 0), at(10, 30)}, false},
		{"touching end", Interval{at(9, 0), at(10, 0)}, Interval{at(10, 0), at(10, 45)}, false},
		{"touching start", Interval{at(10, 45), at(11, 30)}, Interval{at(10, 0), at(10, 45)}, false},
		{"partial", Interval{at(9, 30), at(10, 15)}, Interval{at(10, 0), at(10, 45)}, true},
		{"contained", Interval{at(10, 10), at(10, 20)}, Interval{at(10, 0), at(10, 45)}, true},
		{"identical", Interval{at(10, 0), at(10, 45)}, Interval{at(10, 0), at(10, 45)}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Overlaps(tc.a, tc.b); got != tc.want {
				t.Fatalf("Overlaps(%s, %s) = %v, want %v", tc.a, tc.b, got, tc.want)
			}
			if got := Overlaps(tc.b, tc.a); got != tc.want {
				t.Fatalf("Overlaps is not symmetric for %s, %s", tc.a, tc.b)
			}
		})
	}
}

func TestOverlapsAny(t *testing.T) {
	set := []Interval{{at(12, 0), at(13, 0)}, {at(15, 0), at(15, 30)}}
	if OverlapsAny(Interval{at(13, 0), at(15, 0)}, set) {
		t.Fatalf("13:00-15:00 should fit between the two blocks")
	}
	if !OverlapsAny(Interval{at(14, 45), at(15, 15)}, set) {
		t.Fatalf("14:45-15:15 should collide with the 15:00 block")
	}
	if OverlapsAny(Interval{at(9, 0), at(10, 0)}, nil) {
		t.Fatalf("empty set never overlaps")
	}
}

func TestClockRangeOnKeepsLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	date := time.Date(2026, 3, 10, 0, 0, 0, 0, loc)
	r := ClockRange{Start: Clock{9, 0}, End: Clock{18, 0}}

	iv := r.On(date)
	if iv.Start.Location() != loc || iv.Start.Hour() != 9 || iv.End.Hour() != 18 {
		t.Fatalf("unexpected anchoring: %s", iv)
	}
	if iv.Duration() != 9*time.Hour {
		t.Fatalf("duration = %s, want 9h", iv.Duration())
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("08:30")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c != (Clock{8, 30}) || c.String() != "08:30" {
		t.Fatalf("unexpected clock %v", c)
	}
	if _, err := ParseClock("8h30"); err == nil {
		t.Fatalf("expected error for malformed clock")
	}
}

func TestDay(t *testing.T) {
	d := Day(at(15, 20))
	if !d.Start.Equal(at(0, 0)) || d.Duration() != 24*time.Hour {
		t.Fatalf("unexpected day interval %s", d)
	}
}
