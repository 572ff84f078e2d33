// Package crypto provides cryptographic primitives for the CO2 ledger chain.
package crypto

import (
	"crypto/sha256"

	"github.com/co2chain/co2chain/pkg/types"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // required for Base58Check address hashing
)

// Hash256 computes SHA-256d (double SHA-256) of the input data. This is the
// chain's primary hash: block headers, transaction IDs and merkle nodes all
// use Hash256.
func Hash256(data []byte) types.Hash {
	first := sha256.Sum256(data)
	second := sha256.Sum256(first[:])
	return second
}

// AddressHash computes HASH160-style address material from a compressed
// public key: RIPEMD160(SHA256(pubkey)). The result is 20 bytes and becomes
// the payload of a Base58Check-encoded address.
func AddressHash(pubKey []byte) [20]byte {
	sha := sha256.Sum256(pubKey)
	r := ripemd160.New()
	r.Write(sha[:])
	sum := r.Sum(nil)
	var out [20]byte
	copy(out[:], sum)
	return out
}

// AddressFromPubKey derives a 20-byte address payload from a compressed
// public key. See AddressHash.
func AddressFromPubKey(pubKey []byte) types.Address {
	return types.Address(AddressHash(pubKey))
}

// HashConcat hashes the concatenation of two hashes with Hash256.
// Used for building merkle trees.
func HashConcat(a, b types.Hash) types.Hash {
	var buf [64]byte
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return Hash256(buf[:])
}
