// Package program implements the market-hours oracle: create_oracle seeds the
// oracle record from the market clock, and crank_oracle refreshes it and pays
// a fixed reward to the caller shortly after the open or close.
package program

import (
	"errors"
	"fmt"

	"markethours/internal/domain"
	"markethours/internal/engine"
	"markethours/internal/pda"
	"markethours/internal/util"
)

// DefaultProgramID is the address the oracle program is deployed under.
const DefaultProgramID = "32RNH2JPGUCGdYp5TetkT1Y2CHwAUk2XzXn6VCFqvb7F"

// Instruction and account names.
const (
	InstructionCreateOracle = "create_oracle"
	InstructionCrankOracle  = "crank_oracle"

	AccountOracle      = "oracle"
	AccountRewardVault = "reward_vault"
)

// Derivation seeds.
const (
	OracleSeed      = "oracle"
	RewardVaultSeed = "reward_vault"
)

// RewardLamports is paid per eligible crank (0.01 of the native unit).
const RewardLamports uint64 = 10_000_000

// ErrSeedsMismatch is returned when a supplied account is not the address the
// seeds and stored bump derive.
var ErrSeedsMismatch = errors.New("seeds constraint violated")

// Addresses are the derived oracle and vault addresses with their bumps.
type Addresses struct {
	Oracle      pda.Address
	OracleBump  uint8
	RewardVault pda.Address
	VaultBump   uint8
}

// DeriveAddresses finds the canonical oracle and vault addresses for a program.
func DeriveAddresses(programID pda.Address) (Addresses, error) {
	oracle, bump, err := pda.FindProgramAddress(oracleSeeds(), programID)
	if err != nil {
		return Addresses{}, fmt.Errorf("deriving oracle address: %w", err)
	}
	vault, vaultBump, err := pda.FindProgramAddress(vaultSeeds(oracle), programID)
	if err != nil {
		return Addresses{}, fmt.Errorf("deriving reward vault address: %w", err)
	}
	return Addresses{Oracle: oracle, OracleBump: bump, RewardVault: vault, VaultBump: vaultBump}, nil
}

// Accounts returns the instruction account map for these addresses.
func (a Addresses) Accounts() map[string]pda.Address {
	return map[string]pda.Address{
		AccountOracle:      a.Oracle,
		AccountRewardVault: a.RewardVault,
	}
}

func oracleSeeds() [][]byte {
	return [][]byte{[]byte(OracleSeed)}
}

func vaultSeeds(oracle pda.Address) [][]byte {
	return [][]byte{[]byte(RewardVaultSeed), oracle.Bytes()}
}

func withBump(seeds [][]byte, bump uint8) [][]byte {
	return append(seeds, []byte{bump})
}

// Register installs the oracle instructions on an engine.
func Register(e *engine.Engine) {
	e.Register(InstructionCreateOracle, CreateOracle)
	e.Register(InstructionCrankOracle, CrankOracle)
}

// ShouldPayReward reports whether a crank at unix time t with a vault balance
// of balance earns the reward. A balance equal to the reward is not enough.
func ShouldPayReward(t int64, balance uint64) bool {
	return util.IsNearOpenOrClose(t) && balance > RewardLamports
}

// CreateOracle creates the oracle record at its derived address and seeds the
// validation from the market clock. It fails if the record already exists.
func CreateOracle(ic *engine.InvokeContext) error {
	ic.Msg("Creating Oracle account...")
	now := ic.UnixTimestamp()
	open := util.IsMarketOpen(now)

	addrs, err := DeriveAddresses(ic.ProgramID())
	if err != nil {
		return err
	}
	if err := expectAccount(ic, AccountOracle, addrs.Oracle); err != nil {
		return err
	}
	if err := expectAccount(ic, AccountRewardVault, addrs.RewardVault); err != nil {
		return err
	}

	ic.Msg("Setting Oracle state...")
	record := &domain.Oracle{
		Validation: domain.MarketValidation(open),
		Bump:       addrs.OracleBump,
		VaultBump:  addrs.VaultBump,
	}
	data, err := record.MarshalBinary()
	if err != nil {
		return err
	}
	if err := ic.CreateAccount(addrs.Oracle, withBump(oracleSeeds(), addrs.OracleBump), domain.OracleSpace, data); err != nil {
		return err
	}

	ic.Msg("Oracle account created successfully.")
	return nil
}

// CrankOracle verifies the supplied accounts against the stored bumps,
// overwrites the validation from the market clock, and pays the reward when
// inside the window and the vault holds more than the reward.
func CrankOracle(ic *engine.InvokeContext) error {
	now := ic.UnixTimestamp()

	oracleAddr, err := ic.AccountKey(AccountOracle)
	if err != nil {
		return err
	}
	vaultAddr, err := ic.AccountKey(AccountRewardVault)
	if err != nil {
		return err
	}

	record, err := loadOracle(ic, oracleAddr)
	if err != nil {
		return err
	}
	if !pda.Verify(oracleAddr, oracleSeeds(), record.Bump, ic.ProgramID()) {
		return fmt.Errorf("%s %s: %w", AccountOracle, oracleAddr, ErrSeedsMismatch)
	}
	if !pda.Verify(vaultAddr, vaultSeeds(oracleAddr), record.VaultBump, ic.ProgramID()) {
		return fmt.Errorf("%s %s: %w", AccountRewardVault, vaultAddr, ErrSeedsMismatch)
	}

	record.Validation = domain.MarketValidation(util.IsMarketOpen(now))
	data, err := record.MarshalBinary()
	if err != nil {
		return err
	}
	if err := ic.WriteData(oracleAddr, data); err != nil {
		return err
	}

	balance, err := ic.Balance(vaultAddr)
	if err != nil {
		return err
	}
	if !ShouldPayReward(now, balance) {
		return nil
	}
	signerSeeds := withBump(vaultSeeds(oracleAddr), record.VaultBump)
	return ic.Transfer(vaultAddr, ic.Signer(), RewardLamports, signerSeeds)
}

// expectAccount fails unless the caller supplied want under name.
func expectAccount(ic *engine.InvokeContext, name string, want pda.Address) error {
	got, err := ic.AccountKey(name)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("%s %s: %w", name, got, ErrSeedsMismatch)
	}
	return nil
}

func loadOracle(ic *engine.InvokeContext, addr pda.Address) (*domain.Oracle, error) {
	acct, err := ic.Account(addr)
	if err != nil {
		return nil, err
	}
	if acct.Owner != ic.ProgramID() {
		return nil, fmt.Errorf("%s %s: %w", AccountOracle, addr, engine.ErrIllegalOwner)
	}
	var record domain.Oracle
	if err := record.UnmarshalBinary(acct.Data); err != nil {
		return nil, fmt.Errorf("%s %s: %w", AccountOracle, addr, err)
	}
	return &record, nil
}

// Decode reads an oracle record from raw account data.
func Decode(acct *domain.Account, programID pda.Address) (*domain.Oracle, error) {
	if acct.Owner != programID {
		return nil, engine.ErrIllegalOwner
	}
	var record domain.Oracle
	if err := record.UnmarshalBinary(acct.Data); err != nil {
		return nil, err
	}
	return &record, nil
}
