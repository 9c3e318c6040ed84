package reference

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"markethours/internal/util"
)

// Session is one exchange trading day with its regular-hours bounds.
type Session struct {
	Date  string // YYYY-MM-DD, exchange local
	Open  time.Time
	Close time.Time
}

// CalendarSource lists exchange sessions.
type CalendarSource interface {
	Sessions(ctx context.Context, start, end time.Time) ([]Session, error)
}

// AlpacaCalendar reads the exchange calendar from the Alpaca trading API.
type AlpacaCalendar struct {
	client *alpaca.Client
}

// NewAlpacaCalendar creates an AlpacaCalendar with the given credentials.
func NewAlpacaCalendar(apiKey, apiSecret, baseURL string) *AlpacaCalendar {
	return &AlpacaCalendar{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// Sessions calls GET /v2/calendar for [start, end].
func (a *AlpacaCalendar) Sessions(ctx context.Context, start, end time.Time) ([]Session, error) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		return nil, fmt.Errorf("loading ET timezone: %w", err)
	}

	type result struct {
		days []alpaca.CalendarDay
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		days, err := a.client.GetCalendar(alpaca.GetCalendarRequest{Start: start, End: end})
		ch <- result{days, err}
	}()

	var r result
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r = <-ch:
	}
	if r.err != nil {
		return nil, fmt.Errorf("GetCalendar: %w", r.err)
	}

	out := make([]Session, 0, len(r.days))
	for _, d := range r.days {
		s, err := parseSession(d.Date, d.Open, d.Close, et)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// parseSession converts the calendar's local "HH:MM" bounds to instants.
func parseSession(date, openAt, closeAt string, loc *time.Location) (Session, error) {
	o, err := time.ParseInLocation("2006-01-02 15:04", date+" "+openAt, loc)
	if err != nil {
		return Session{}, fmt.Errorf("parsing open for %s: %w", date, err)
	}
	c, err := time.ParseInLocation("2006-01-02 15:04", date+" "+closeAt, loc)
	if err != nil {
		return Session{}, fmt.Errorf("parsing close for %s: %w", date, err)
	}
	return Session{Date: date, Open: o.UTC(), Close: c.UTC()}, nil
}

// DayDiff is a day on which the oracle clock and the exchange disagree.
type DayDiff struct {
	Date              string        `json:"date"`
	Weekday           string        `json:"weekday"`
	OracleBusinessDay bool          `json:"oracle_business_day"`
	ExchangeOpen      bool          `json:"exchange_open"`
	OpenDelta         time.Duration `json:"open_delta,omitempty"`  // oracle minus exchange
	CloseDelta        time.Duration `json:"close_delta,omitempty"` // oracle minus exchange
	Reason            string        `json:"reason"`
}

// CompareCalendar walks the UTC days in [start, end] and reports each one on
// which the oracle's fixed weekday window differs from the exchange sessions:
// holidays, early closes and the daylight-saving offset.
func CompareCalendar(sessions []Session, start, end time.Time) []DayDiff {
	byDate := make(map[string]Session, len(sessions))
	for _, s := range sessions {
		byDate[s.Date] = s
	}

	var diffs []DayDiff
	day := time.Date(start.UTC().Year(), start.UTC().Month(), start.UTC().Day(), 0, 0, 0, 0, time.UTC)
	for ; !day.After(end); day = day.AddDate(0, 0, 1) {
		date := day.Format(time.DateOnly)
		midnight := day.Unix()
		business := util.IsBusinessDay(midnight)
		s, open := byDate[date]

		d := DayDiff{
			Date:              date,
			Weekday:           util.Weekday(midnight).String(),
			OracleBusinessDay: business,
			ExchangeOpen:      open,
		}
		switch {
		case business && !open:
			d.Reason = "exchange holiday"
		case !business && open:
			d.Reason = "exchange session on oracle non-business day"
		case business && open:
			d.OpenDelta = time.Unix(midnight+util.MarketOpenOffset, 0).Sub(s.Open)
			d.CloseDelta = time.Unix(midnight+util.MarketCloseOffset, 0).Sub(s.Close)
			switch {
			case d.OpenDelta != 0 && d.CloseDelta != 0 && d.OpenDelta == d.CloseDelta:
				d.Reason = "daylight saving offset"
			case d.OpenDelta != 0 && d.CloseDelta != 0:
				d.Reason = "open and close differ"
			case d.CloseDelta != 0:
				d.Reason = "early close"
			case d.OpenDelta != 0:
				d.Reason = "late open"
			}
		}
		if d.Reason != "" {
			diffs = append(diffs, d)
		}
	}
	return diffs
}
