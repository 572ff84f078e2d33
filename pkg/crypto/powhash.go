package crypto

import (
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/scrypt"

	"github.com/co2chain/co2chain/pkg/types"
)

// ErrUnknownPoWAlgo is returned when a chain's configured PoW algorithm
// name does not match a supported implementation.
var ErrUnknownPoWAlgo = errors.New("unknown proof-of-work algorithm")

// PoWAlgo identifies a proof-of-work hash function. The algorithm is fixed
// per chain at genesis and never changes over the chain's lifetime.
type PoWAlgo string

const (
	PoWAlgoScrypt   PoWAlgo = "scrypt"
	PoWAlgoArgon2id PoWAlgo = "argon2id"
)

// scrypt parameters: N=1024, r=1, p=1, 32-byte output.
const (
	scryptN = 1024
	scryptR = 1
	scryptP = 1
)

// argon2id parameters: memory=64MiB, time=3, parallelism=4, 32-byte output.
const (
	argon2Time    = 3
	argon2Memory  = 64 * 1024
	argon2Threads = 4
)

// ScryptPoWHash computes the scrypt-based proof-of-work hash of a block
// header's signing bytes, salted with itself (no separate salt is kept
// since the header bytes already commit to everything that must vary).
func ScryptPoWHash(data []byte) (types.Hash, error) {
	out, err := scrypt.Key(data, data, scryptN, scryptR, scryptP, types.HashSize)
	if err != nil {
		return types.Hash{}, err
	}
	var h types.Hash
	copy(h[:], out)
	return h, nil
}

// Argon2PoWHash computes the Argon2id-based proof-of-work hash of a block
// header's signing bytes.
func Argon2PoWHash(data []byte) types.Hash {
	out := argon2.IDKey(data, data, argon2Time, argon2Memory, argon2Threads, types.HashSize)
	var h types.Hash
	copy(h[:], out)
	return h
}

// ComputePoWHash dispatches to the configured PoW hash algorithm.
func ComputePoWHash(algo PoWAlgo, data []byte) (types.Hash, error) {
	switch algo {
	case PoWAlgoArgon2id:
		return Argon2PoWHash(data), nil
	case PoWAlgoScrypt, "":
		return ScryptPoWHash(data)
	default:
		return types.Hash{}, ErrUnknownPoWAlgo
	}
}
