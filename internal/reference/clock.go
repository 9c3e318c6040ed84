// Package reference checks the oracle's fixed-offset market clock against the
// Alpaca market clock, which knows about holidays and daylight saving time.
package reference

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"

	"markethours/internal/util"
)

// Snapshot is a reference market clock reading.
type Snapshot struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// ClockSource reads a reference market clock.
type ClockSource interface {
	MarketClock(ctx context.Context) (Snapshot, error)
}

// AlpacaClock reads the clock from the Alpaca trading API.
type AlpacaClock struct {
	client *alpaca.Client
}

// NewAlpacaClock creates an AlpacaClock with the given credentials.
func NewAlpacaClock(apiKey, apiSecret, baseURL string) *AlpacaClock {
	return &AlpacaClock{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
	}
}

// MarketClock calls GET /v2/clock. The SDK call does not take a context, so
// ctx only bounds the wait.
func (a *AlpacaClock) MarketClock(ctx context.Context) (Snapshot, error) {
	type result struct {
		clock *alpaca.Clock
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := a.client.GetClock()
		ch <- result{c, err}
	}()

	select {
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	case r := <-ch:
		if r.err != nil {
			return Snapshot{}, fmt.Errorf("GetClock: %w", r.err)
		}
		return Snapshot{
			Timestamp: r.clock.Timestamp,
			IsOpen:    r.clock.IsOpen,
			NextOpen:  r.clock.NextOpen,
			NextClose: r.clock.NextClose,
		}, nil
	}
}

// Drift compares the oracle's view with a reference reading.
type Drift struct {
	At             time.Time
	OracleOpen     bool
	ReferenceOpen  bool
	NextOpenDelta  time.Duration // oracle minus reference
	NextCloseDelta time.Duration
}

// Agrees reports whether both clocks agree the market is open or closed.
func (d Drift) Agrees() bool { return d.OracleOpen == d.ReferenceOpen }

// Compare evaluates the oracle clock at the snapshot's timestamp.
func Compare(s Snapshot) Drift {
	tc := util.NewTradingCalendar()
	d := Drift{
		At:            s.Timestamp.UTC(),
		OracleOpen:    tc.IsMarketOpen(s.Timestamp),
		ReferenceOpen: s.IsOpen,
	}
	if !s.NextOpen.IsZero() {
		d.NextOpenDelta = tc.NextOpen(s.Timestamp).Sub(s.NextOpen)
	}
	if !s.NextClose.IsZero() {
		d.NextCloseDelta = tc.NextClose(s.Timestamp).Sub(s.NextClose)
	}
	return d
}

// Checker reads a ClockSource and logs disagreements.
type Checker struct {
	source ClockSource
	log    *slog.Logger
}

// NewChecker creates a Checker.
func NewChecker(source ClockSource, log *slog.Logger) *Checker {
	return &Checker{source: source, log: log}
}

// Check reads the reference clock and compares it with the oracle clock.
func (c *Checker) Check(ctx context.Context) (Drift, error) {
	s, err := c.source.MarketClock(ctx)
	if err != nil {
		return Drift{}, err
	}
	d := Compare(s)
	if !d.Agrees() {
		c.log.Warn("market clock disagrees with reference",
			"at", d.At,
			"oracle_open", d.OracleOpen,
			"reference_open", d.ReferenceOpen,
		)
	} else {
		c.log.Debug("market clock agrees with reference",
			"at", d.At,
			"open", d.OracleOpen,
			"next_open_delta", d.NextOpenDelta,
			"next_close_delta", d.NextCloseDelta,
		)
	}
	return d, nil
}

// Clock adapts a ClockSource into a unix-seconds clock.
type Clock struct {
	Source ClockSource
}

// Now returns the reference timestamp.
func (c Clock) Now(ctx context.Context) (int64, error) {
	s, err := c.Source.MarketClock(ctx)
	if err != nil {
		return 0, err
	}
	return s.Timestamp.Unix(), nil
}
