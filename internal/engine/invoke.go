package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"markethours/internal/domain"
	"markethours/internal/pda"
	"markethours/internal/store"
)

// InvokeContext is what a handler sees during one call: the instruction's
// accounts and identities, the call timestamp, and ledger access scoped to
// the call's transaction.
type InvokeContext struct {
	ctx       context.Context
	tx        store.Tx
	programID pda.Address
	ix        Instruction
	now       int64
	log       *slog.Logger

	logs        []string
	programPaid uint64
}

// Context returns the call context.
func (c *InvokeContext) Context() context.Context { return c.ctx }

// ProgramID returns the executing program.
func (c *InvokeContext) ProgramID() pda.Address { return c.programID }

// Signer returns the calling identity.
func (c *InvokeContext) Signer() pda.Address { return c.ix.Signer }

// Payer returns the identity that pays for account creation.
func (c *InvokeContext) Payer() pda.Address { return c.ix.Payer }

// UnixTimestamp returns the trusted clock value for this call.
func (c *InvokeContext) UnixTimestamp() int64 { return c.now }

// Msg appends a line to the call's log.
func (c *InvokeContext) Msg(line string) {
	c.logs = append(c.logs, line)
	c.log.Debug("program log", "msg", line)
}

// AccountKey returns the address the caller supplied under name.
func (c *InvokeContext) AccountKey(name string) (pda.Address, error) {
	a, ok := c.ix.Accounts[name]
	if !ok || a.IsZero() {
		return pda.Address{}, fmt.Errorf("%q: %w", name, ErrMissingAccount)
	}
	return a, nil
}

// Account loads an account within the call transaction.
func (c *InvokeContext) Account(addr pda.Address) (*domain.Account, error) {
	return c.tx.GetAccount(c.ctx, addr)
}

// Balance returns the lamports at addr, or 0 if the account does not exist.
func (c *InvokeContext) Balance(addr pda.Address) (uint64, error) {
	acct, err := c.tx.GetAccount(c.ctx, addr)
	if errors.Is(err, store.ErrAccountNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return acct.Lamports, nil
}

// CreateAccount allocates a program-owned account at the derived address addr.
// seeds, bump included, must derive addr under the program. The payer funds
// the rent-exempt minimum. An address already holding data or owned by a
// program is rejected with ErrAccountInUse; a bare pre-funded system account
// is adopted.
func (c *InvokeContext) CreateAccount(addr pda.Address, seeds [][]byte, space int, data []byte) error {
	derived, err := pda.CreateProgramAddress(seeds, c.programID)
	if err != nil || derived != addr {
		return fmt.Errorf("creating %s: %w", addr, ErrInvalidSeeds)
	}
	if len(data) > space {
		return fmt.Errorf("creating %s: %d bytes exceed space %d", addr, len(data), space)
	}

	existing, err := c.tx.GetAccount(c.ctx, addr)
	switch {
	case errors.Is(err, store.ErrAccountNotFound):
		existing = &domain.Account{Address: addr, Owner: pda.SystemProgram}
	case err != nil:
		return err
	case existing.Owner != pda.SystemProgram || len(existing.Data) > 0:
		return fmt.Errorf("creating %s: %w", addr, ErrAccountInUse)
	}

	rent := RentExemptMinimum(space)
	if existing.Lamports < rent {
		if err := c.debit(c.ix.Payer, rent-existing.Lamports, "rent"); err != nil {
			return err
		}
		existing.Lamports = rent
	}

	buf := make([]byte, space)
	copy(buf, data)
	existing.Owner = c.programID
	existing.Data = buf
	return c.tx.PutAccount(c.ctx, existing)
}

// WriteData replaces the data of a program-owned account. The data size is
// fixed at creation; shorter writes are zero-padded.
func (c *InvokeContext) WriteData(addr pda.Address, data []byte) error {
	acct, err := c.tx.GetAccount(c.ctx, addr)
	if err != nil {
		return err
	}
	if acct.Owner != c.programID {
		return fmt.Errorf("writing %s: %w", addr, ErrIllegalOwner)
	}
	if len(data) > len(acct.Data) {
		return fmt.Errorf("writing %s: %d bytes exceed space %d", addr, len(data), len(acct.Data))
	}
	buf := make([]byte, len(acct.Data))
	copy(buf, data)
	acct.Data = buf
	return c.tx.PutAccount(c.ctx, acct)
}

// Transfer moves lamports between system accounts. The source must be the
// signer, the payer, or a program-derived address proven by signerSeeds (bump
// included). Value moved out of program-derived addresses is recorded as the
// call's reward.
func (c *InvokeContext) Transfer(from, to pda.Address, lamports uint64, signerSeeds [][]byte) error {
	programSigned := false
	switch {
	case from == c.ix.Signer || from == c.ix.Payer:
	case signerSeeds != nil:
		derived, err := pda.CreateProgramAddress(signerSeeds, c.programID)
		if err != nil || derived != from {
			return fmt.Errorf("transfer from %s: %w", from, ErrMissingSignature)
		}
		programSigned = true
	default:
		return fmt.Errorf("transfer from %s: %w", from, ErrMissingSignature)
	}

	if err := c.debit(from, lamports, "transfer"); err != nil {
		return err
	}
	if err := c.credit(to, lamports); err != nil {
		return err
	}
	if programSigned {
		c.programPaid += lamports
	}
	return nil
}

func (c *InvokeContext) debit(from pda.Address, lamports uint64, what string) error {
	src, err := c.tx.GetAccount(c.ctx, from)
	if errors.Is(err, store.ErrAccountNotFound) {
		return fmt.Errorf("%s from %s: %w", what, from, ErrInsufficientFunds)
	}
	if err != nil {
		return err
	}
	if len(src.Data) > 0 {
		return fmt.Errorf("%s from %s: account carries data: %w", what, from, ErrIllegalOwner)
	}
	if src.Lamports < lamports {
		return fmt.Errorf("%s from %s: have %d, need %d: %w", what, from, src.Lamports, lamports, ErrInsufficientFunds)
	}
	src.Lamports -= lamports
	return c.tx.PutAccount(c.ctx, src)
}

func (c *InvokeContext) credit(to pda.Address, lamports uint64) error {
	dst, err := c.tx.GetAccount(c.ctx, to)
	if errors.Is(err, store.ErrAccountNotFound) {
		dst = &domain.Account{Address: to, Owner: pda.SystemProgram}
	} else if err != nil {
		return err
	}
	dst.Lamports += lamports
	return c.tx.PutAccount(c.ctx, dst)
}
