package crypto

import (
	"crypto/sha256"
	"testing"

	"github.com/co2chain/co2chain/pkg/types"
)

func TestHash256_Deterministic(t *testing.T) {
	data := []byte("deterministic test input")
	h1 := Hash256(data)
	h2 := Hash256(data)
	if h1 != h2 {
		t.Errorf("Hash256 is not deterministic: %x != %x", h1, h2)
	}
}

func TestHash256_DifferentInputs(t *testing.T) {
	h1 := Hash256([]byte("input A"))
	h2 := Hash256([]byte("input B"))
	if h1 == h2 {
		t.Error("different inputs produced the same hash")
	}
}

func TestHash256_MatchesDoubleSHA256(t *testing.T) {
	input := []byte("hello")
	// Hash256 must equal sha256(sha256(input)) — compared against the
	// standard library's SHA-256 applied twice rather than a hardcoded
	// vector.
	first := sha256.Sum256(input)
	want := types.Hash(sha256.Sum256(first[:]))
	if got := Hash256(input); got != want {
		t.Fatalf("Hash256(%q) = %x, want %x", input, got, want)
	}
}

func TestHashConcat(t *testing.T) {
	a := Hash256([]byte("left"))
	b := Hash256([]byte("right"))
	result := HashConcat(a, b)

	if result == (types.Hash{}) {
		t.Error("HashConcat returned zero hash")
	}

	reversed := HashConcat(b, a)
	if result == reversed {
		t.Error("HashConcat(a,b) should differ from HashConcat(b,a)")
	}

	again := HashConcat(a, b)
	if result != again {
		t.Error("HashConcat is not deterministic")
	}
}

func TestHashConcat_EqualsManualConcat(t *testing.T) {
	a := Hash256([]byte("left"))
	b := Hash256([]byte("right"))

	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	want := Hash256(buf[:])

	got := HashConcat(a, b)
	if got != want {
		t.Errorf("HashConcat = %x, want %x", got, want)
	}
}

func TestAddressFromPubKey_Deterministic(t *testing.T) {
	pubKey := []byte("a fake compressed public key 01")
	a1 := AddressFromPubKey(pubKey)
	a2 := AddressFromPubKey(pubKey)
	if a1 != a2 {
		t.Errorf("AddressFromPubKey is not deterministic: %x != %x", a1, a2)
	}
}

func TestAddressFromPubKey_DifferentKeys(t *testing.T) {
	a1 := AddressFromPubKey([]byte("pubkey A"))
	a2 := AddressFromPubKey([]byte("pubkey B"))
	if a1 == a2 {
		t.Error("different public keys produced the same address")
	}
}
