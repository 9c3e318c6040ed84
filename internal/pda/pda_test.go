package pda

import (
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var testProgram = MustParseAddress("32RNH2JPGUCGdYp5TetkT1Y2CHwAUk2XzXn6VCFqvb7F")

func TestAddressTextRoundTrip(t *testing.T) {
	text, err := testProgram.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText: %v", err)
	}
	if string(text) != "32RNH2JPGUCGdYp5TetkT1Y2CHwAUk2XzXn6VCFqvb7F" {
		t.Errorf("MarshalText = %q", text)
	}
	var back Address
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if back != testProgram {
		t.Errorf("round trip mismatch: %s != %s", back, testProgram)
	}
}

func TestParseAddressRejectsWrongLength(t *testing.T) {
	if _, err := ParseAddress("3yZe7d"); err == nil {
		t.Fatal("expected error for short address")
	}
	if _, err := ParseAddress("0OIl"); err == nil {
		t.Fatal("expected error for non-base58 input")
	}
}

func TestSystemProgramString(t *testing.T) {
	if got := SystemProgram.String(); got != "11111111111111111111111111111111" {
		t.Errorf("SystemProgram = %q", got)
	}
	if !SystemProgram.IsZero() {
		t.Error("SystemProgram should be zero")
	}
}

func TestFindProgramAddressOracleSeeds(t *testing.T) {
	oracle, bump, err := FindProgramAddress([][]byte{[]byte("oracle")}, testProgram)
	if err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if !Verify(oracle, [][]byte{[]byte("oracle")}, bump, testProgram) {
		t.Fatal("oracle address does not verify with its bump")
	}
	if isOnCurve(oracle[:]) {
		t.Fatal("derived address is on curve")
	}

	vault, vaultBump, err := FindProgramAddress([][]byte{[]byte("reward_vault"), oracle.Bytes()}, testProgram)
	if err != nil {
		t.Fatalf("FindProgramAddress vault: %v", err)
	}
	if vault == oracle {
		t.Fatal("vault and oracle collide")
	}
	if !Verify(vault, [][]byte{[]byte("reward_vault"), oracle.Bytes()}, vaultBump, testProgram) {
		t.Fatal("vault address does not verify with its bump")
	}
	// A different program yields a different address.
	other, _, err := FindProgramAddress([][]byte{[]byte("oracle")}, SystemProgram)
	if err != nil {
		t.Fatalf("FindProgramAddress other: %v", err)
	}
	if other == oracle {
		t.Fatal("addresses for different programs collide")
	}
}

func TestCreateProgramAddressLimits(t *testing.T) {
	long := make([]byte, MaxSeedLength+1)
	if _, err := CreateProgramAddress([][]byte{long}, testProgram); !errors.Is(err, ErrInvalidSeeds) {
		t.Errorf("oversized seed: err = %v, want ErrInvalidSeeds", err)
	}
	many := make([][]byte, MaxSeeds+1)
	if _, err := CreateProgramAddress(many, testProgram); !errors.Is(err, ErrInvalidSeeds) {
		t.Errorf("too many seeds: err = %v, want ErrInvalidSeeds", err)
	}
}

func TestFindProgramAddressDoesNotMutateSeeds(t *testing.T) {
	seeds := make([][]byte, 1, 4)
	seeds[0] = []byte("oracle")
	if _, _, err := FindProgramAddress(seeds, testProgram); err != nil {
		t.Fatalf("FindProgramAddress: %v", err)
	}
	if len(seeds) != 1 || string(seeds[0]) != "oracle" {
		t.Errorf("seeds mutated: %q", seeds)
	}
}

func TestDerivationProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("found address verifies with its bump and is stable", prop.ForAll(
		func(seed string, program []byte) bool {
			if len(seed) > MaxSeedLength {
				seed = seed[:MaxSeedLength]
			}
			var pid Address
			copy(pid[:], program)
			seeds := [][]byte{[]byte(seed)}

			a1, b1, err1 := FindProgramAddress(seeds, pid)
			a2, b2, err2 := FindProgramAddress(seeds, pid)
			if err1 != nil || err2 != nil {
				return false
			}
			return a1 == a2 && b1 == b2 && Verify(a1, seeds, b1, pid)
		},
		gen.AlphaString(),
		gen.SliceOfN(AddressLength, gen.UInt8()),
	))

	properties.Property("a wrong bump never verifies", prop.ForAll(
		func(seed string, delta uint8) bool {
			if delta == 0 {
				return true
			}
			if len(seed) > MaxSeedLength {
				seed = seed[:MaxSeedLength]
			}
			seeds := [][]byte{[]byte(seed)}
			a, bump, err := FindProgramAddress(seeds, testProgram)
			if err != nil {
				return false
			}
			return !Verify(a, seeds, bump+delta, testProgram)
		},
		gen.AlphaString(),
		gen.UInt8(),
	))

	properties.TestingRun(t)
}
