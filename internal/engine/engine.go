// Package engine is the host runtime for the oracle program. It executes one
// instruction at a time as an all-or-nothing ledger transaction, supplies the
// trusted clock, authorizes value transfers, and records a receipt per call.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"markethours/internal/domain"
	"markethours/internal/pda"
	"markethours/internal/store"
)

var (
	// ErrUnknownInstruction is returned for an instruction with no handler.
	ErrUnknownInstruction = errors.New("unknown instruction")
	// ErrMissingSignature is returned when a call lacks a signer or moves
	// value out of an account it is not authorized for.
	ErrMissingSignature = errors.New("missing required signature")
	// ErrMissingAccount is returned when an instruction omits a named account.
	ErrMissingAccount = errors.New("missing account")
	// ErrAccountInUse is returned when creating an account that already exists.
	ErrAccountInUse = errors.New("account already in use")
	// ErrInsufficientFunds is returned when a debit exceeds the balance.
	ErrInsufficientFunds = errors.New("insufficient funds")
	// ErrIllegalOwner is returned when writing data of an account the program
	// does not own, or debiting an account that carries data.
	ErrIllegalOwner = errors.New("illegal account owner")
	// ErrInvalidSeeds is returned when seeds do not derive the target address.
	ErrInvalidSeeds = errors.New("seeds do not derive account address")
)

// Rent parameters: accounts are funded for two years of storage up front.
const (
	LamportsPerByteYear    uint64 = 3480
	ExemptionYears         uint64 = 2
	AccountStorageOverhead uint64 = 128
)

// RentExemptMinimum returns the balance an account of the given data size
// must hold at creation.
func RentExemptMinimum(space int) uint64 {
	return (AccountStorageOverhead + uint64(space)) * LamportsPerByteYear * ExemptionYears
}

// Instruction is one call submitted to the engine. Signer and Payer are
// asserted identities; key management is outside the engine.
type Instruction struct {
	Name     string
	Signer   pda.Address
	Payer    pda.Address // defaults to Signer
	Accounts map[string]pda.Address
}

// Handler implements an instruction.
type Handler func(ic *InvokeContext) error

// Observer is notified of every receipt after the call completes.
type Observer interface {
	ObserveReceipt(r *domain.Receipt)
}

// Engine executes instructions for a single program against a ledger.
type Engine struct {
	programID pda.Address
	ledger    store.Ledger
	clock     Clock
	log       *slog.Logger

	// mu serializes calls so conflicting writes never interleave.
	mu        sync.Mutex
	handlers  map[string]Handler
	observers []Observer
}

// NewEngine creates an Engine for programID wired with the given dependencies.
func NewEngine(programID pda.Address, ledger store.Ledger, clock Clock, log *slog.Logger) *Engine {
	return &Engine{
		programID: programID,
		ledger:    ledger,
		clock:     clock,
		log:       log,
		handlers:  make(map[string]Handler),
	}
}

// ProgramID returns the program the engine executes.
func (e *Engine) ProgramID() pda.Address { return e.programID }

// Clock returns the engine's trusted clock.
func (e *Engine) Clock() Clock { return e.clock }

// Register binds an instruction name to its handler.
func (e *Engine) Register(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[name] = h
}

// Observe adds an observer for receipts.
func (e *Engine) Observe(o Observer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observers = append(e.observers, o)
}

// Execute runs ix. On error nothing the handler wrote is kept; the returned
// receipt still describes the failed call.
func (e *Engine) Execute(ctx context.Context, ix Instruction) (*domain.Receipt, error) {
	e.mu.Lock()
	h, ok := e.handlers[ix.Name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", ix.Name, ErrUnknownInstruction)
	}
	return e.run(ctx, ix, h)
}

// Airdrop credits lamports to an address out of thin air. It stands in for
// external funding of the reward vault and fee payers.
func (e *Engine) Airdrop(ctx context.Context, to pda.Address, lamports uint64) (*domain.Receipt, error) {
	ix := Instruction{Name: "airdrop", Signer: to, Payer: to}
	return e.run(ctx, ix, func(ic *InvokeContext) error {
		ic.Msg(fmt.Sprintf("Airdrop %d lamports to %s", lamports, to))
		return ic.credit(to, lamports)
	})
}

// Balance returns the lamports held at addr, or 0 if no account exists.
func (e *Engine) Balance(ctx context.Context, addr pda.Address) (uint64, error) {
	acct, err := e.ledger.GetAccount(ctx, addr)
	if errors.Is(err, store.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Lamports, nil
}

// Account returns the account at addr.
func (e *Engine) Account(ctx context.Context, addr pda.Address) (*domain.Account, error) {
	return e.ledger.GetAccount(ctx, addr)
}

// Receipts lists recorded calls in [start, end), newest first.
func (e *Engine) Receipts(ctx context.Context, start, end time.Time, limit int) ([]domain.Receipt, error) {
	return e.ledger.ListReceipts(ctx, start, end, limit)
}

func (e *Engine) run(ctx context.Context, ix Instruction, h Handler) (*domain.Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if ix.Payer.IsZero() {
		ix.Payer = ix.Signer
	}
	r := &domain.Receipt{
		ID:          uuid.NewString(),
		Instruction: ix.Name,
		Signer:      ix.Signer,
		Payer:       ix.Payer,
		CreatedAt:   time.Now().UTC(),
	}
	log := e.log.With("receipt", r.ID, "instruction", ix.Name, "signer", ix.Signer.String())

	err := e.invoke(ctx, ix, h, r, log)
	if err != nil {
		r.Success = false
		r.Error = err.Error()
		r.Reward = 0
		if saveErr := e.ledger.SaveReceipt(context.WithoutCancel(ctx), r); saveErr != nil {
			log.Error("saving failed receipt", "error", saveErr)
		}
		log.Warn("call failed", "error", err)
	} else {
		log.Info("call succeeded", "unix_ts", r.UnixTimestamp, "reward", r.Reward)
	}

	for _, o := range e.observers {
		o.ObserveReceipt(r)
	}
	return r, err
}

func (e *Engine) invoke(ctx context.Context, ix Instruction, h Handler, r *domain.Receipt, log *slog.Logger) error {
	if ix.Signer.IsZero() {
		return ErrMissingSignature
	}
	now, err := e.clock.Now(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrClockUnavailable, err)
	}
	r.UnixTimestamp = now

	return e.ledger.WithTx(ctx, func(tx store.Tx) error {
		ic := &InvokeContext{
			ctx:       ctx,
			tx:        tx,
			programID: e.programID,
			ix:        ix,
			now:       now,
			log:       log,
		}
		err := h(ic)
		r.Logs = ic.logs
		if err != nil {
			return err
		}
		r.Success = true
		r.Reward = ic.programPaid
		return tx.SaveReceipt(ctx, r)
	})
}
