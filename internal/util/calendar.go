package util

import (
	"time"
)

// Fixed US equity session boundaries in UTC. 14:30-21:00 UTC is 09:30-16:00
// US Eastern Standard Time; daylight saving is not applied.
const (
	SecondsPerDay     int64 = 86400
	MarketOpenOffset  int64 = 14*3600 + 30*60 // 14:30 UTC
	MarketCloseOffset int64 = 21 * 3600       // 21:00 UTC
	OpenCloseMargin   int64 = 15 * 60
)

// floorDiv divides rounding toward negative infinity so pre-epoch timestamps
// map onto the correct day.
func floorDiv(a, b int64) int64 {
	q := a / b
	if a%b != 0 && (a < 0) != (b < 0) {
		q--
	}
	return q
}

// SecondsSinceMidnight returns the UTC time of day of t in [0, 86400).
func SecondsSinceMidnight(t int64) int64 {
	return t - floorDiv(t, SecondsPerDay)*SecondsPerDay
}

// Weekday returns the UTC weekday of t. The epoch fell on a Thursday, so the
// day index is offset by 4 to land on time.Weekday numbering (Sunday = 0).
func Weekday(t int64) time.Weekday {
	return weekdayOfDay(floorDiv(t, SecondsPerDay))
}

func weekdayOfDay(day int64) time.Weekday {
	w := (day + 4) % 7
	if w < 0 {
		w += 7
	}
	return time.Weekday(w)
}

// IsBusinessDay reports whether t falls Monday through Friday (UTC).
func IsBusinessDay(t int64) bool {
	wd := Weekday(t)
	return wd != time.Saturday && wd != time.Sunday
}

// IsMarketOpen reports whether the session is open at unix time t: a business
// day with time of day in [14:30, 21:00) UTC. Holidays are not considered.
func IsMarketOpen(t int64) bool {
	if !IsBusinessDay(t) {
		return false
	}
	s := SecondsSinceMidnight(t)
	return s >= MarketOpenOffset && s < MarketCloseOffset
}

// IsNearOpenOrClose reports whether t is within the 15 minutes following the
// open or the close boundary. The weekday is not checked.
func IsNearOpenOrClose(t int64) bool {
	s := SecondsSinceMidnight(t)
	return (s >= MarketOpenOffset && s < MarketOpenOffset+OpenCloseMargin) ||
		(s >= MarketCloseOffset && s < MarketCloseOffset+OpenCloseMargin)
}

// NextOpen returns the first session open at or after t.
func NextOpen(t int64) int64 {
	return nextBoundary(t, MarketOpenOffset)
}

// NextClose returns the first session close at or after t.
func NextClose(t int64) int64 {
	return nextBoundary(t, MarketCloseOffset)
}

func nextBoundary(t, offset int64) int64 {
	day := floorDiv(t, SecondsPerDay)
	for i := int64(0); ; i++ {
		d := day + i
		wd := weekdayOfDay(d)
		if wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if b := d*SecondsPerDay + offset; b >= t {
			return b
		}
	}
}

// TradingCalendar answers market-hours questions for time.Time values using
// the fixed UTC session above.
type TradingCalendar struct{}

// NewTradingCalendar creates a TradingCalendar.
func NewTradingCalendar() *TradingCalendar {
	return &TradingCalendar{}
}

// IsMarketOpen returns whether the market is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	return IsMarketOpen(t.Unix())
}

// IsNearOpenOrClose returns whether t is inside a crank reward window.
func (tc *TradingCalendar) IsNearOpenOrClose(t time.Time) bool {
	return IsNearOpenOrClose(t.Unix())
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	return time.Unix(NextOpen(t.Unix()), 0).UTC()
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	return time.Unix(NextClose(t.Unix()), 0).UTC()
}
