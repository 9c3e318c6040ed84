package domain

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
)

// OracleSpace is the allocated size of an oracle account: an 8-byte type
// discriminator plus 30 bytes of body, of which 7 are used today.
const OracleSpace = 8 + 30

// ErrNotOracleAccount is returned when account data lacks the oracle
// discriminator.
var ErrNotOracleAccount = errors.New("account is not an oracle record")

var oracleDiscriminator = accountDiscriminator("Oracle")

func accountDiscriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("account:" + name))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

// MarshalBinary encodes the record into an OracleSpace-sized buffer.
func (o *Oracle) MarshalBinary() ([]byte, error) {
	v, ok := o.Validation.(ValidationV1)
	if !ok {
		if p, isPtr := o.Validation.(*ValidationV1); isPtr && p != nil {
			v, ok = *p, true
		}
	}
	if !ok {
		return nil, ErrUnknownValidationVersion
	}
	for _, r := range []ValidationResult{v.Transfer, v.Create, v.Update, v.Burn} {
		if !r.Valid() {
			return nil, fmt.Errorf("encoding oracle: invalid result %d", uint8(r))
		}
	}

	buf := make([]byte, OracleSpace)
	copy(buf, oracleDiscriminator[:])
	body := buf[8:]
	body[0] = VersionV1
	body[1] = byte(v.Transfer)
	body[2] = byte(v.Create)
	body[3] = byte(v.Update)
	body[4] = byte(v.Burn)
	body[5] = o.Bump
	body[6] = o.VaultBump
	return buf, nil
}

// UnmarshalBinary decodes an oracle account. Unknown version tags and result
// bytes are rejected.
func (o *Oracle) UnmarshalBinary(data []byte) error {
	if len(data) < 8+7 {
		return fmt.Errorf("decoding oracle: %d bytes is too short", len(data))
	}
	if !bytes.Equal(data[:8], oracleDiscriminator[:]) {
		return ErrNotOracleAccount
	}
	body := data[8:]
	if body[0] != VersionV1 {
		return fmt.Errorf("decoding oracle: tag %d: %w", body[0], ErrUnknownValidationVersion)
	}
	v := ValidationV1{
		Transfer: ValidationResult(body[1]),
		Create:   ValidationResult(body[2]),
		Update:   ValidationResult(body[3]),
		Burn:     ValidationResult(body[4]),
	}
	for _, r := range []ValidationResult{v.Transfer, v.Create, v.Update, v.Burn} {
		if !r.Valid() {
			return fmt.Errorf("decoding oracle: invalid result %d", uint8(r))
		}
	}
	o.Validation = v
	o.Bump = body[5]
	o.VaultBump = body[6]
	return nil
}
