// Package domain defines the core types shared across the oracle: the
// validation record, ledger accounts, and call receipts.
package domain

import (
	"errors"
	"fmt"
	"time"

	"markethours/internal/pda"
)

// ErrUnknownValidationVersion is returned for a validation variant that this
// build does not understand. Consumers must treat it as a denial.
var ErrUnknownValidationVersion = errors.New("unknown validation version")

// ---------------------------------------------------------------------------
// Validation results
// ---------------------------------------------------------------------------

// ValidationResult is the outcome of one permission check.
type ValidationResult uint8

const (
	Approved ValidationResult = iota
	Rejected
	Pass
)

// String returns the result name.
func (r ValidationResult) String() string {
	switch r {
	case Approved:
		return "Approved"
	case Rejected:
		return "Rejected"
	case Pass:
		return "Pass"
	default:
		return fmt.Sprintf("ValidationResult(%d)", uint8(r))
	}
}

// Valid reports whether r is one of the three known results.
func (r ValidationResult) Valid() bool {
	return r <= Pass
}

// Permits reports whether the result allows the action. Approved and Pass
// both permit; Rejected and unknown values deny.
func (r ValidationResult) Permits() bool {
	return r == Approved || r == Pass
}

// MarshalText implements encoding.TextMarshaler.
func (r ValidationResult) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("invalid validation result %d", uint8(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *ValidationResult) UnmarshalText(text []byte) error {
	switch string(text) {
	case "Approved":
		*r = Approved
	case "Rejected":
		*r = Rejected
	case "Pass":
		*r = Pass
	default:
		return fmt.Errorf("invalid validation result %q", text)
	}
	return nil
}

// Action names an operation gated by the oracle.
type Action string

const (
	ActionTransfer Action = "transfer"
	ActionCreate   Action = "create"
	ActionUpdate   Action = "update"
	ActionBurn     Action = "burn"
)

// ---------------------------------------------------------------------------
// Versioned validation record
// ---------------------------------------------------------------------------

// Validation is the versioned permission record. ValidationV1 is the only
// variant today; switch on the concrete type and fail closed on anything else.
type Validation interface {
	// Version returns the on-ledger variant tag.
	Version() uint8
	isValidation()
}

// ValidationV1 holds one result per gated action.
type ValidationV1 struct {
	Transfer ValidationResult `json:"transfer"`
	Create   ValidationResult `json:"create"`
	Update   ValidationResult `json:"update"`
	Burn     ValidationResult `json:"burn"`
}

// VersionV1 is the tag of ValidationV1.
const VersionV1 uint8 = 0

// Version implements Validation.
func (ValidationV1) Version() uint8 { return VersionV1 }

func (ValidationV1) isValidation() {}

// MarketValidation builds the record for the given market state. Only the
// transfer result depends on the market; the others always pass.
func MarketValidation(marketOpen bool) ValidationV1 {
	transfer := Rejected
	if marketOpen {
		transfer = Approved
	}
	return ValidationV1{
		Transfer: transfer,
		Create:   Pass,
		Update:   Pass,
		Burn:     Pass,
	}
}

// Result returns the stored result for an action.
func Result(v Validation, action Action) (ValidationResult, error) {
	switch v := v.(type) {
	case ValidationV1:
		return v.result(action)
	case *ValidationV1:
		if v == nil {
			return Rejected, ErrUnknownValidationVersion
		}
		return v.result(action)
	default:
		return Rejected, ErrUnknownValidationVersion
	}
}

// Permits reports whether v allows the action. Any error denies.
func Permits(v Validation, action Action) bool {
	r, err := Result(v, action)
	return err == nil && r.Permits()
}

func (v ValidationV1) result(action Action) (ValidationResult, error) {
	switch action {
	case ActionTransfer:
		return v.Transfer, nil
	case ActionCreate:
		return v.Create, nil
	case ActionUpdate:
		return v.Update, nil
	case ActionBurn:
		return v.Burn, nil
	default:
		return Rejected, fmt.Errorf("unknown action %q", action)
	}
}

// Oracle is the persistent oracle record.
type Oracle struct {
	Validation Validation
	Bump       uint8 // fixed at creation
	VaultBump  uint8 // fixed at creation
}

// ---------------------------------------------------------------------------
// Ledger types
// ---------------------------------------------------------------------------

// Account is a ledger entry: a native balance plus program-owned data.
type Account struct {
	Address  pda.Address
	Owner    pda.Address
	Lamports uint64
	Data     []byte
}

// Receipt records the outcome of one call against the ledger.
type Receipt struct {
	ID            string      `json:"id"`
	Instruction   string      `json:"instruction"`
	Signer        pda.Address `json:"signer"`
	Payer         pda.Address `json:"payer"`
	UnixTimestamp int64       `json:"unix_timestamp"` // clock value the call ran at; 0 if the clock failed
	Success       bool        `json:"success"`
	Error         string      `json:"error,omitempty"`
	Logs          []string    `json:"logs"`
	Reward        uint64      `json:"reward"` // lamports paid out of program-signed accounts
	CreatedAt     time.Time   `json:"created_at"`
}
