// Package oracle is the application service over the engine and the oracle
// program. The HTTP, gRPC and CLI surfaces all go through a Service.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"markethours/internal/domain"
	"markethours/internal/engine"
	"markethours/internal/pda"
	"markethours/internal/program"
	"markethours/internal/store"
	"markethours/internal/util"
)

// ErrNotInitialized is returned by Status when the oracle record does not exist.
var ErrNotInitialized = errors.New("oracle not initialized")

// Record is the decoded oracle record.
type Record struct {
	Version   uint8                   `json:"version"`
	Transfer  domain.ValidationResult `json:"transfer"`
	Create    domain.ValidationResult `json:"create"`
	Update    domain.ValidationResult `json:"update"`
	Burn      domain.ValidationResult `json:"burn"`
	Bump      uint8                   `json:"bump"`
	VaultBump uint8                   `json:"vault_bump"`
}

// ClockView is the market clock evaluated at one instant.
type ClockView struct {
	UnixTimestamp   int64  `json:"unix_timestamp"`
	Weekday         string `json:"weekday"`
	BusinessDay     bool   `json:"business_day"`
	Open            bool   `json:"open"`
	NearOpenOrClose bool   `json:"near_open_or_close"`
	NextOpen        int64  `json:"next_open"`
	NextClose       int64  `json:"next_close"`
}

// NewClockView evaluates the market clock at unix time t.
func NewClockView(t int64) ClockView {
	return ClockView{
		UnixTimestamp:   t,
		Weekday:         util.Weekday(t).String(),
		BusinessDay:     util.IsBusinessDay(t),
		Open:            util.IsMarketOpen(t),
		NearOpenOrClose: util.IsNearOpenOrClose(t),
		NextOpen:        util.NextOpen(t),
		NextClose:       util.NextClose(t),
	}
}

// Status is the oracle as seen by a consumer.
type Status struct {
	ProgramID      pda.Address `json:"program_id"`
	Oracle         pda.Address `json:"oracle"`
	RewardVault    pda.Address `json:"reward_vault"`
	Initialized    bool        `json:"initialized"`
	Record         *Record     `json:"record,omitempty"`
	VaultBalance   uint64      `json:"vault_balance"`
	RewardLamports uint64      `json:"reward_lamports"`
	RewardEligible bool        `json:"reward_eligible"`
	Clock          ClockView   `json:"clock"`
}

// Service executes oracle instructions and answers read queries.
type Service struct {
	engine *engine.Engine
	addrs  program.Addresses
	log    *slog.Logger
}

// NewService registers the oracle program on e and derives its addresses.
func NewService(e *engine.Engine, log *slog.Logger) (*Service, error) {
	addrs, err := program.DeriveAddresses(e.ProgramID())
	if err != nil {
		return nil, err
	}
	program.Register(e)
	log.Info("oracle program registered",
		"program", e.ProgramID().String(),
		"oracle", addrs.Oracle.String(),
		"reward_vault", addrs.RewardVault.String(),
	)
	return &Service{engine: e, addrs: addrs, log: log}, nil
}

// Addresses returns the derived oracle and vault addresses.
func (s *Service) Addresses() program.Addresses { return s.addrs }

// ProgramID returns the program the service drives.
func (s *Service) ProgramID() pda.Address { return s.engine.ProgramID() }

// Create runs create_oracle. A zero payer means the signer pays.
func (s *Service) Create(ctx context.Context, signer, payer pda.Address) (*domain.Receipt, error) {
	return s.engine.Execute(ctx, engine.Instruction{
		Name:     program.InstructionCreateOracle,
		Signer:   signer,
		Payer:    payer,
		Accounts: s.addrs.Accounts(),
	})
}

// Crank runs crank_oracle on behalf of signer, who receives any reward.
func (s *Service) Crank(ctx context.Context, signer pda.Address) (*domain.Receipt, error) {
	return s.engine.Execute(ctx, engine.Instruction{
		Name:     program.InstructionCrankOracle,
		Signer:   signer,
		Accounts: s.addrs.Accounts(),
	})
}

// Record reads and decodes the oracle record.
func (s *Service) Record(ctx context.Context) (*Record, error) {
	acct, err := s.engine.Account(ctx, s.addrs.Oracle)
	if errors.Is(err, store.ErrAccountNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, err
	}
	o, err := program.Decode(acct, s.engine.ProgramID())
	if err != nil {
		return nil, fmt.Errorf("decoding oracle %s: %w", s.addrs.Oracle, err)
	}
	v, ok := o.Validation.(domain.ValidationV1)
	if !ok {
		return nil, domain.ErrUnknownValidationVersion
	}
	return &Record{
		Version:   v.Version(),
		Transfer:  v.Transfer,
		Create:    v.Create,
		Update:    v.Update,
		Burn:      v.Burn,
		Bump:      o.Bump,
		VaultBump: o.VaultBump,
	}, nil
}

// Clock evaluates the market clock at the engine's current time.
func (s *Service) Clock(ctx context.Context) (ClockView, error) {
	now, err := s.engine.Clock().Now(ctx)
	if err != nil {
		return ClockView{}, fmt.Errorf("%w: %v", engine.ErrClockUnavailable, err)
	}
	return NewClockView(now), nil
}

// Status gathers the record, vault balance and clock. An uninitialized
// oracle is reported with Initialized false rather than an error.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	clock, err := s.Clock(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := s.engine.Balance(ctx, s.addrs.RewardVault)
	if err != nil {
		return nil, fmt.Errorf("reading vault balance: %w", err)
	}
	st := &Status{
		ProgramID:      s.engine.ProgramID(),
		Oracle:         s.addrs.Oracle,
		RewardVault:    s.addrs.RewardVault,
		VaultBalance:   balance,
		RewardLamports: program.RewardLamports,
		RewardEligible: program.ShouldPayReward(clock.UnixTimestamp, balance),
		Clock:          clock,
	}
	rec, err := s.Record(ctx)
	switch {
	case errors.Is(err, ErrNotInitialized):
	case err != nil:
		return nil, err
	default:
		st.Initialized = true
		st.Record = rec
	}
	return st, nil
}

// Airdrop credits lamports to an address.
func (s *Service) Airdrop(ctx context.Context, to pda.Address, lamports uint64) (*domain.Receipt, error) {
	if to.IsZero() {
		return nil, fmt.Errorf("airdrop: %w", engine.ErrMissingAccount)
	}
	return s.engine.Airdrop(ctx, to, lamports)
}

// FundVault credits the reward vault.
func (s *Service) FundVault(ctx context.Context, lamports uint64) (*domain.Receipt, error) {
	return s.engine.Airdrop(ctx, s.addrs.RewardVault, lamports)
}

// Balance returns the lamports held at addr.
func (s *Service) Balance(ctx context.Context, addr pda.Address) (uint64, error) {
	return s.engine.Balance(ctx, addr)
}

// Receipts lists calls recorded in [start, end), newest first.
func (s *Service) Receipts(ctx context.Context, start, end time.Time, limit int) ([]domain.Receipt, error) {
	return s.engine.Receipts(ctx, start, end, limit)
}

// Archive copies receipts recorded in [start, end) into the archive and
// returns how many were written.
func (s *Service) Archive(ctx context.Context, archive store.ReceiptArchive, start, end time.Time) (int, error) {
	receipts, err := s.engine.Receipts(ctx, start, end, 0)
	if err != nil {
		return 0, fmt.Errorf("listing receipts: %w", err)
	}
	if len(receipts) == 0 {
		return 0, nil
	}
	if err := archive.WriteReceipts(ctx, receipts); err != nil {
		return 0, fmt.Errorf("archiving receipts: %w", err)
	}
	s.log.Info("receipts archived", "count", len(receipts), "start", start, "end", end)
	return len(receipts), nil
}
