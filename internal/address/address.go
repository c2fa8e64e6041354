// Package address parses payout destinations: principal ids and 64-hex account ids.
package address

import (
	"encoding/base32"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"regexp"
	"strings"
)

var ErrInvalidAddress = errors.New("invalid address")

var (
	principalIDPattern = regexp.MustCompile(`^(?:([a-z0-9]{5}-){10}[a-z0-9]{3}|([a-z0-9]{5}-){4}cai)$`)
	accountIDPattern   = regexp.MustCompile(`^[a-f0-9]{64}$`)

	principalEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)
)

type Kind string

const (
	KindPrincipalID Kind = "principal_id"
	KindAccountID   Kind = "account_id"
)

// Address is a validated payout destination.
type Address struct {
	Kind  Kind   `json:"kind"`
	Value string `json:"value"`
}

func (a Address) String() string { return a.Value }

func (a Address) IsZero() bool { return a.Value == "" }

// PrincipalID wraps an already trusted principal (e.g. the authenticated caller).
func PrincipalID(principal string) Address {
	return Address{Kind: KindPrincipalID, Value: principal}
}

// IsPrincipalID reports whether s has the textual shape of a user or canister principal.
func IsPrincipalID(s string) bool {
	return principalIDPattern.MatchString(s)
}

// Parse validates s as a principal id (including its CRC32 checksum) or an account id.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	switch {
	case principalIDPattern.MatchString(s):
		if err := verifyPrincipalChecksum(s); err != nil {
			return Address{}, err
		}
		return Address{Kind: KindPrincipalID, Value: s}, nil
	case accountIDPattern.MatchString(s):
		if err := verifyAccountChecksum(s); err != nil {
			return Address{}, err
		}
		return Address{Kind: KindAccountID, Value: s}, nil
	default:
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
}

// principal text is base32(crc32(bytes) || bytes), lowercased and grouped by 5 with dashes
func verifyPrincipalChecksum(s string) error {
	raw, err := principalEncoding.DecodeString(strings.ToUpper(strings.ReplaceAll(s, "-", "")))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	if len(raw) < 4 {
		return fmt.Errorf("%w: principal too short", ErrInvalidAddress)
	}
	want := binary.BigEndian.Uint32(raw[:4])
	if crc32.ChecksumIEEE(raw[4:]) != want {
		return fmt.Errorf("%w: principal checksum mismatch", ErrInvalidAddress)
	}
	return nil
}

// account id is crc32(hash) || hash where hash is 28 bytes
func verifyAccountChecksum(s string) error {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}
	want := binary.BigEndian.Uint32(raw[:4])
	if crc32.ChecksumIEEE(raw[4:]) != want {
		return fmt.Errorf("%w: account id checksum mismatch", ErrInvalidAddress)
	}
	return nil
}

// EncodePrincipal renders raw principal bytes in textual form.
func EncodePrincipal(raw []byte) string {
	buf := make([]byte, 4+len(raw))
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(raw))
	copy(buf[4:], raw)
	enc := strings.ToLower(principalEncoding.EncodeToString(buf))

	var b strings.Builder
	for i := 0; i < len(enc); i += 5 {
		if i > 0 {
			b.WriteByte('-')
		}
		end := i + 5
		if end > len(enc) {
			end = len(enc)
		}
		b.WriteString(enc[i:end])
	}
	return b.String()
}

// EncodeAccountID renders a 28-byte account hash with its checksum prefix.
func EncodeAccountID(hash [28]byte) string {
	buf := make([]byte, 32)
	binary.BigEndian.PutUint32(buf, crc32.ChecksumIEEE(hash[:]))
	copy(buf[4:], hash[:])
	return hex.EncodeToString(buf)
}

func (a *Address) UnmarshalJSON(data []byte) error {
	type plain Address
	var p plain
	if err := json.Unmarshal(data, &p); err == nil && p.Value != "" {
		*a = Address(p)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAddress, string(data))
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
