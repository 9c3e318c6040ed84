// Package cranker submits crank_oracle on a cron schedule so the oracle is
// refreshed right after the open and the close, when the reward is paid.
package cranker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"markethours/internal/config"
	"markethours/internal/domain"
	"markethours/internal/engine"
	"markethours/internal/oracle"
	"markethours/internal/pda"
	"markethours/internal/program"
	"markethours/internal/reference"
	"markethours/internal/store"
	"markethours/internal/util"
)

// Submitter sends a crank on behalf of signer.
type Submitter interface {
	CrankOracle(ctx context.Context, signer pda.Address) (*domain.Receipt, error)
}

// DriftChecker compares the oracle clock with a reference clock.
type DriftChecker interface {
	Check(ctx context.Context) (reference.Drift, error)
}

// Cranker runs scheduled cranks with retry.
type Cranker struct {
	submitter Submitter
	identity  pda.Address
	cfg       config.Cranker
	limiter   *util.RateLimiter
	drift     DriftChecker
	log       *slog.Logger

	mu     sync.Mutex
	last   *domain.Receipt
	runCtx context.Context
	sched  *cron.Cron
}

// New creates a Cranker. drift may be nil.
func New(sub Submitter, identity pda.Address, cfg config.Cranker, drift DriftChecker, log *slog.Logger) (*Cranker, error) {
	if identity.IsZero() {
		return nil, errors.New("cranker identity is required")
	}
	c := &Cranker{
		submitter: sub,
		identity:  identity,
		cfg:       cfg,
		limiter:   util.NewRateLimiter(6),
		drift:     drift,
		log:       log.With("identity", identity.String()),
		runCtx:    context.Background(),
		sched:     cron.New(cron.WithLocation(time.UTC)),
	}
	for _, spec := range cfg.Schedules {
		if _, err := c.sched.AddFunc(spec, c.runScheduled); err != nil {
			return nil, fmt.Errorf("parsing schedule %q: %w", spec, err)
		}
	}
	return c, nil
}

// RunOnce submits one crank, retrying transient failures with backoff. Calls
// the oracle rejects outright are not retried.
func (c *Cranker) RunOnce(ctx context.Context) (*domain.Receipt, error) {
	if c.drift != nil {
		if d, err := c.drift.Check(ctx); err != nil {
			c.log.Warn("reference clock check failed", "error", err)
		} else if !d.Agrees() {
			c.log.Warn("cranking while clocks disagree", "oracle_open", d.OracleOpen, "reference_open", d.ReferenceOpen)
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var rc *domain.Receipt
	err := util.Retry(ctx, c.cfg.MaxAttempts, c.cfg.RetryDelay, func(attempt int) error {
		callCtx := ctx
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}
		r, err := c.submitter.CrankOracle(callCtx, c.identity)
		if err == nil {
			rc = r
			return nil
		}
		if permanent(err) {
			return util.Permanent(err)
		}
		c.log.Warn("crank failed, retrying", "attempt", attempt, "error", err)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.last = rc
	c.mu.Unlock()
	return rc, nil
}

// runScheduled cranks under the context passed to Run, so a shutdown aborts
// pending retries.
func (c *Cranker) runScheduled() {
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()
	rc, err := c.RunOnce(ctx)
	if err != nil {
		c.log.Error("scheduled crank failed", "error", err)
		return
	}
	c.log.Info("scheduled crank",
		"receipt", rc.ID,
		"unix_ts", rc.UnixTimestamp,
		"reward", rc.Reward,
	)
}

// Last returns the receipt of the most recent successful crank, if any.
func (c *Cranker) Last() *domain.Receipt {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Next returns the next scheduled run, or the zero time if nothing is
// scheduled.
func (c *Cranker) Next() time.Time {
	var next time.Time
	for _, e := range c.sched.Entries() {
		if next.IsZero() || (!e.Next.IsZero() && e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

// Run starts the schedule and blocks until ctx is cancelled, then waits for a
// running crank to finish.
func (c *Cranker) Run(ctx context.Context) error {
	c.mu.Lock()
	c.runCtx = ctx
	c.mu.Unlock()
	c.sched.Start()
	c.log.Info("cranker started", "schedules", c.cfg.Schedules, "next", c.Next())
	<-ctx.Done()
	<-c.sched.Stop().Done()
	c.log.Info("cranker stopped")
	return nil
}

// permanent reports whether err is a rejection that will not change on retry.
func permanent(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.InvalidArgument, codes.FailedPrecondition,
		codes.AlreadyExists, codes.PermissionDenied:
		return true
	}
	return errors.Is(err, oracle.ErrNotInitialized) ||
		errors.Is(err, store.ErrAccountNotFound) ||
		errors.Is(err, program.ErrSeedsMismatch) ||
		errors.Is(err, engine.ErrMissingSignature) ||
		errors.Is(err, engine.ErrMissingAccount) ||
		errors.Is(err, engine.ErrIllegalOwner)
}
