// Package pda implements deterministic program-derived addressing: an address
// is the SHA-256 of a list of seeds, a bump byte, the owning program ID, and a
// fixed marker, accepted only when the digest is not a valid ed25519 point.
package pda

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

const (
	// AddressLength is the size of an address in bytes.
	AddressLength = 32
	// MaxSeedLength is the largest single seed accepted.
	MaxSeedLength = 32
	// MaxSeeds is the largest number of seeds, bump included.
	MaxSeeds = 16
)

var pdaMarker = []byte("ProgramDerivedAddress")

var (
	// ErrInvalidSeeds is returned for too many seeds or an oversized seed.
	ErrInvalidSeeds = errors.New("pda: invalid seeds")
	// ErrOnCurve is returned when a candidate digest is a valid curve point
	// and could therefore have a private key.
	ErrOnCurve = errors.New("pda: address is on the ed25519 curve")
	// ErrNoViableBump is returned when every bump in [0, 255] lands on the curve.
	ErrNoViableBump = errors.New("pda: no viable bump seed")
)

// Address is a 32-byte account address rendered as base58.
type Address [AddressLength]byte

// SystemProgram owns plain value-holding accounts.
var SystemProgram = Address{}

// ParseAddress decodes a base58 address.
func ParseAddress(s string) (Address, error) {
	var a Address
	raw, err := base58.Decode(s)
	if err != nil {
		return a, fmt.Errorf("decoding address %q: %w", s, err)
	}
	if len(raw) != AddressLength {
		return a, fmt.Errorf("address %q: got %d bytes, want %d", s, len(raw), AddressLength)
	}
	copy(a[:], raw)
	return a, nil
}

// MustParseAddress is ParseAddress for constants; it panics on bad input.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// IsZero reports whether a is the all-zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Bytes returns a copy of the raw address for use as a seed.
func (a Address) Bytes() []byte {
	return bytes.Clone(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CreateProgramAddress hashes seeds (bump included, if any) with programID.
// It returns ErrOnCurve when the result is not a valid derived address.
func CreateProgramAddress(seeds [][]byte, programID Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, ErrInvalidSeeds
	}
	h := sha256.New()
	for _, s := range seeds {
		if len(s) > MaxSeedLength {
			return Address{}, ErrInvalidSeeds
		}
		h.Write(s)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var a Address
	copy(a[:], h.Sum(nil))
	if isOnCurve(a[:]) {
		return Address{}, ErrOnCurve
	}
	return a, nil
}

// FindProgramAddress searches bumps from 255 downward and returns the first
// off-curve address together with the bump that produced it.
func FindProgramAddress(seeds [][]byte, programID Address) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Address{}, 0, ErrInvalidSeeds
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		a, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return a, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Address{}, 0, err
		}
	}
	return Address{}, 0, ErrNoViableBump
}

// Verify recomputes the address for seeds plus bump and reports whether it
// equals want.
func Verify(want Address, seeds [][]byte, bump uint8, programID Address) bool {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	withBump[len(seeds)] = []byte{bump}
	got, err := CreateProgramAddress(withBump, programID)
	return err == nil && got == want
}

func isOnCurve(b []byte) bool {
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
