package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/decred/base58"
)

// AddressSize is the length of an address payload in bytes (RIPEMD160(SHA256(pubkey))).
const AddressSize = 20

// Address version bytes (prepended before Base58Check encoding).
const (
	MainnetVersion byte = 0x1C
	TestnetVersion byte = 0x6F
)

// activeVersion is the address version byte used by String() and
// MarshalJSON(). Set once at startup via SetAddressVersion(). Default is
// mainnet.
var activeVersion = MainnetVersion

// SetAddressVersion sets the active address version byte (call once at startup).
func SetAddressVersion(v byte) {
	activeVersion = v
}

// GetAddressVersion returns the currently active address version byte.
func GetAddressVersion() byte {
	return activeVersion
}

// Address represents a 160-bit address (public key hash).
type Address [AddressSize]byte

// IsZero returns true if the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String returns the Base58Check-encoded address using the active version byte.
func (a Address) String() string {
	return base58.CheckEncode(a[:], activeVersion)
}

// Hex returns the raw hex-encoded address without any version/checksum.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address payload as a byte slice.
func (a Address) Bytes() []byte {
	b := make([]byte, AddressSize)
	copy(b, a[:])
	return b
}

// MarshalJSON encodes the address as a Base58Check string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes a Base58Check or raw hex string into an address.
func (a *Address) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*a = Address{}
		return nil
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// ParseAddress parses a Base58Check address string, or (for genesis/internal
// use) a raw 40-char hex payload.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return Address{}, fmt.Errorf("empty address")
	}

	if isHex40(s) {
		return HexToAddress(s)
	}

	payload, _, err := base58.CheckDecode(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid base58check address: %w", err)
	}
	if len(payload) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(payload))
	}
	var a Address
	copy(a[:], payload)
	return a, nil
}

// HexToAddress converts a raw hex string to an Address.
// Returns an error if the string is not exactly 40 hex characters.
// For user-facing input, use ParseAddress instead.
func HexToAddress(s string) (Address, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex: %w", err)
	}
	if len(b) != AddressSize {
		return Address{}, fmt.Errorf("address must be %d bytes, got %d", AddressSize, len(b))
	}
	var a Address
	copy(a[:], b)
	return a, nil
}

// isHex40 returns true if s is exactly 40 hex characters.
func isHex40(s string) bool {
	if len(s) != 40 {
		return false
	}
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
