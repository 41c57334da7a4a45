package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// Prefix is the human-readable part of every custodia party address.
const Prefix = "cst"

// Address represents a 20-byte party identity rendered as bech32.
type Address struct {
	bytes [20]byte
}

// NewAddress wraps raw party bytes in an Address.
func NewAddress(b [20]byte) Address {
	return Address{bytes: b}
}

// String renders the address as bech32 with the custodia prefix.
func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(Prefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// Bytes returns the raw 20-byte identity.
func (a Address) Bytes() [20]byte {
	return a.bytes
}

// IsZero reports whether the address is the unset identity.
func (a Address) IsZero() bool {
	return a.bytes == [20]byte{}
}

// DecodeAddress parses a bech32 party address, rejecting foreign prefixes
// and payloads that are not exactly 20 bytes.
func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	if prefix != Prefix {
		return Address{}, fmt.Errorf("unexpected address prefix %q", prefix)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("address payload must be 20 bytes, got %d", len(conv))
	}
	var out [20]byte
	copy(out[:], conv)
	return Address{bytes: out}, nil
}

// MustDecodeAddress parses a bech32 address and panics on failure. Intended
// for configuration values validated at startup.
func MustDecodeAddress(addrStr string) Address {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		panic(err)
	}
	return addr
}
