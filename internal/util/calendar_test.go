package util

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func at(year int, month time.Month, day, hour, min int) int64 {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC).Unix()
}

func TestIsMarketOpenScenarios(t *testing.T) {
	tests := []struct {
		name string
		t    int64
		open bool
		near bool
	}{
		{"monday 14:35", at(2024, 1, 1, 14, 35), true, true},
		{"monday 14:29", at(2024, 1, 1, 14, 29), false, false},
		{"monday 14:30", at(2024, 1, 1, 14, 30), true, true},
		{"monday 14:45", at(2024, 1, 1, 14, 45), true, false},
		{"wednesday 18:00", at(2024, 1, 3, 18, 0), true, false},
		{"thursday 20:59", at(2024, 1, 4, 20, 59), true, false},
		{"thursday 21:00", at(2024, 1, 4, 21, 0), false, true},
		{"thursday 21:14", at(2024, 1, 4, 21, 14), false, true},
		{"thursday 21:15", at(2024, 1, 4, 21, 15), false, false},
		{"friday 15:00", at(2024, 1, 5, 15, 0), true, false},
		{"saturday 15:00", at(2024, 1, 6, 15, 0), false, false},
		{"saturday 14:30", at(2024, 1, 6, 14, 30), false, true},
		{"sunday 16:00", at(2024, 1, 7, 16, 0), false, false},
		{"epoch thursday", 0, false, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsMarketOpen(tc.t); got != tc.open {
				t.Errorf("IsMarketOpen = %v, want %v", got, tc.open)
			}
			if got := IsNearOpenOrClose(tc.t); got != tc.near {
				t.Errorf("IsNearOpenOrClose = %v, want %v", got, tc.near)
			}
		})
	}
}

// A raw (day+4)%7 index in 0..4 would open Thursday through Monday. Business
// days are Monday through Friday by calendar weekday instead.
func TestBusinessDaysFollowCalendarWeekday(t *testing.T) {
	friday := at(2024, 1, 5, 15, 0)
	sunday := at(2024, 1, 7, 15, 0)

	if !IsMarketOpen(friday) {
		t.Error("Friday 15:00 UTC should be open")
	}
	if IsMarketOpen(sunday) {
		t.Error("Sunday 15:00 UTC should be closed")
	}
	if idx := (floorDiv(sunday, SecondsPerDay) + 4) % 7; idx > 4 {
		t.Fatalf("Sunday raw day index = %d, expected it inside 0..4", idx)
	}

	for d := 1; d <= 7; d++ {
		ts := at(2024, 1, d, 15, 0)
		wd := time.Unix(ts, 0).UTC().Weekday()
		if got := Weekday(ts); got != wd {
			t.Errorf("Weekday(2024-01-%02d) = %v, want %v", d, got, wd)
		}
		want := wd != time.Saturday && wd != time.Sunday
		if got := IsMarketOpen(ts); got != want {
			t.Errorf("IsMarketOpen(%v 15:00) = %v, want %v", wd, got, want)
		}
	}
}

func TestNegativeTimestamps(t *testing.T) {
	// 1969-12-31 was a Wednesday.
	ts := at(1969, 12, 31, 15, 0)
	if ts >= 0 {
		t.Fatalf("expected pre-epoch timestamp, got %d", ts)
	}
	if got := SecondsSinceMidnight(ts); got != 15*3600 {
		t.Errorf("SecondsSinceMidnight = %d, want %d", got, 15*3600)
	}
	if got := Weekday(ts); got != time.Wednesday {
		t.Errorf("Weekday = %v, want Wednesday", got)
	}
	if !IsMarketOpen(ts) {
		t.Error("expected market open on pre-epoch Wednesday 15:00")
	}
	if got := SecondsSinceMidnight(-1); got != SecondsPerDay-1 {
		t.Errorf("SecondsSinceMidnight(-1) = %d, want %d", got, SecondsPerDay-1)
	}
}

func TestNextOpenClose(t *testing.T) {
	// Friday after close rolls to Monday.
	fri := at(2024, 1, 5, 22, 0)
	if got, want := NextOpen(fri), at(2024, 1, 8, 14, 30); got != want {
		t.Errorf("NextOpen = %v, want %v", time.Unix(got, 0).UTC(), time.Unix(want, 0).UTC())
	}
	if got, want := NextClose(fri), at(2024, 1, 8, 21, 0); got != want {
		t.Errorf("NextClose = %v, want %v", time.Unix(got, 0).UTC(), time.Unix(want, 0).UTC())
	}
	// Exactly at open.
	open := at(2024, 1, 3, 14, 30)
	if got := NextOpen(open); got != open {
		t.Errorf("NextOpen at boundary = %d, want %d", got, open)
	}

	cal := NewTradingCalendar()
	mid := time.Date(2024, 1, 3, 18, 0, 0, 0, time.UTC)
	if !cal.IsMarketOpen(mid) {
		t.Error("calendar should report open")
	}
	if cal.IsNearOpenOrClose(mid) {
		t.Error("calendar should report outside reward window")
	}
	if got := cal.NextClose(mid); !got.Equal(time.Date(2024, 1, 3, 21, 0, 0, 0, time.UTC)) {
		t.Errorf("NextClose = %v", got)
	}
	if got := cal.NextOpen(mid); !got.Equal(time.Date(2024, 1, 4, 14, 30, 0, 0, time.UTC)) {
		t.Errorf("NextOpen = %v", got)
	}
}

func TestMarketClockProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	// Roughly 1900 to 2100.
	anyTime := gen.Int64Range(-2208988800, 4102444800)

	properties.Property("weekday matches time.Weekday", prop.ForAll(
		func(ts int64) bool {
			return Weekday(ts) == time.Unix(ts, 0).UTC().Weekday()
		},
		anyTime,
	))

	properties.Property("closed on weekends", prop.ForAll(
		func(ts int64) bool {
			wd := time.Unix(ts, 0).UTC().Weekday()
			if wd != time.Saturday && wd != time.Sunday {
				return true
			}
			return !IsMarketOpen(ts)
		},
		anyTime,
	))

	properties.Property("open exactly inside the session on business days", prop.ForAll(
		func(ts int64) bool {
			u := time.Unix(ts, 0).UTC()
			wd := u.Weekday()
			if wd == time.Saturday || wd == time.Sunday {
				return true
			}
			s := int64(u.Hour()*3600 + u.Minute()*60 + u.Second())
			want := s >= 14*3600+30*60 && s < 21*3600
			return IsMarketOpen(ts) == want
		},
		anyTime,
	))

	properties.Property("reward window ignores weekday", prop.ForAll(
		func(ts int64) bool {
			u := time.Unix(ts, 0).UTC()
			s := int64(u.Hour()*3600 + u.Minute()*60 + u.Second())
			want := (s >= 52200 && s < 53100) || (s >= 75600 && s < 76500)
			return IsNearOpenOrClose(ts) == want
		},
		anyTime,
	))

	properties.Property("next open is an open boundary no earlier than t", prop.ForAll(
		func(ts int64) bool {
			n := NextOpen(ts)
			return n >= ts && n-ts < 4*SecondsPerDay &&
				SecondsSinceMidnight(n) == MarketOpenOffset && IsMarketOpen(n)
		},
		anyTime,
	))

	properties.TestingRun(t)
}
