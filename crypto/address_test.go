package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	var raw [20]byte
	copy(raw[:], bytes.Repeat([]byte{0x5A}, 20))
	addr := NewAddress(raw)

	encoded := addr.String()
	if !strings.HasPrefix(encoded, Prefix+"1") {
		t.Fatalf("unexpected encoding: %s", encoded)
	}

	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("DecodeAddress: %v", err)
	}
	if decoded.Bytes() != raw {
		t.Fatalf("round trip mutated payload: %x", decoded.Bytes())
	}
}

func TestDecodeAddressRejectsForeignPrefix(t *testing.T) {
	if _, err := DecodeAddress("nhb1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq7mcjcu"); err == nil {
		t.Fatalf("expected foreign prefix to be rejected")
	}
}

func TestDecodeAddressRejectsGarbage(t *testing.T) {
	if _, err := DecodeAddress("not-an-address"); err == nil {
		t.Fatalf("expected malformed input to fail")
	}
}

func TestIsZero(t *testing.T) {
	if !(Address{}).IsZero() {
		t.Fatalf("zero value should report IsZero")
	}
	var raw [20]byte
	raw[0] = 1
	if NewAddress(raw).IsZero() {
		t.Fatalf("non-zero address reported zero")
	}
}
