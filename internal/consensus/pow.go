package consensus

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/co2chain/co2chain/pkg/block"
	"github.com/co2chain/co2chain/pkg/crypto"
)

// PoW errors.
var (
	ErrInsufficientWork = errors.New("hash does not meet difficulty target")
	ErrZeroBits         = errors.New("bits must be non-zero")
	ErrBadBits          = errors.New("block bits does not match expected")
	ErrBitsAboveLimit   = errors.New("bits exceeds the chain's minimum-difficulty limit")
)

// maxUint256 is 2^256 - 1, used as the unbounded ceiling for target math.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// CompactToBig expands a compact "bits" target encoding
// (mantissa * 256^(exponent-3)) into a 256-bit big.Int.
func CompactToBig(bits uint32) *big.Int {
	mantissa := bits & 0x007fffff
	exponent := bits >> 24
	isNegative := bits&0x00800000 != 0

	var result *big.Int
	if exponent <= 3 {
		result = big.NewInt(int64(mantissa) >> (8 * (3 - exponent)))
	} else {
		result = new(big.Int).SetUint64(uint64(mantissa))
		result.Lsh(result, uint(8*(exponent-3)))
	}
	if isNegative {
		result.Neg(result)
	}
	return result
}

// BigToCompact packs a 256-bit big.Int into the compact "bits" encoding.
func BigToCompact(n *big.Int) uint32 {
	if n.Sign() == 0 {
		return 0
	}

	var mantissa uint32
	exponent := uint(len(n.Bytes()))

	var tmp *big.Int
	if exponent <= 3 {
		mantissa = uint32(n.Bits()[0])
		mantissa <<= 8 * (3 - exponent)
	} else {
		tmp = new(big.Int).Set(n)
		tmp.Rsh(tmp, 8*(exponent-3))
		mantissa = uint32(tmp.Bits()[0])
	}

	// The sign bit (0x00800000) would otherwise be set by a mantissa with its
	// high bit on; shift one more byte into the exponent to keep it clear.
	if mantissa&0x00800000 != 0 {
		mantissa >>= 8
		exponent++
	}

	compact := uint32(exponent)<<24 | mantissa
	if n.Sign() < 0 {
		compact |= 0x00800000
	}
	return compact
}

// PoW implements proof-of-work consensus over a chain whose hash algorithm
// and genesis difficulty limit are fixed for the chain's lifetime.
type PoW struct {
	Algo            crypto.PoWAlgo // immutable per chain, set from genesis
	PowLimitBits    uint32         // easiest allowed target (genesis bits)
	RetargetInterval uint32        // blocks between difficulty adjustments
	TargetBlockTime  uint32        // target seconds between blocks
	RetargetClamp    int64         // max multiplicative adjustment per period

	// Threads controls the number of parallel mining goroutines.
	// 0 or 1 = single-threaded (default). Each goroutine searches a
	// strided partition of the nonce space.
	Threads int

	// BitsFn is called by Prepare to compute the expected bits for a new
	// block at the given height. Set by the node operator (co2chaind),
	// typically backed by ExpectedBits against chain history. If nil,
	// Prepare uses PowLimitBits.
	BitsFn func(height uint32) uint32
}

// NewPoW creates a new PoW engine for a chain whose genesis difficulty limit
// is powLimitBits.
func NewPoW(algo crypto.PoWAlgo, powLimitBits uint32, retargetInterval, targetBlockTime uint32, clamp int64) (*PoW, error) {
	if powLimitBits == 0 {
		return nil, ErrZeroBits
	}
	return &PoW{
		Algo:             algo,
		PowLimitBits:     powLimitBits,
		RetargetInterval: retargetInterval,
		TargetBlockTime:  targetBlockTime,
		RetargetClamp:    clamp,
	}, nil
}

// ShouldAdjust returns true if difficulty should be recalculated at this height.
func (p *PoW) ShouldAdjust(height uint32) bool {
	return height > 0 && p.RetargetInterval > 0 && height%p.RetargetInterval == 0
}

func (p *PoW) powLimit() *big.Int {
	limit := CompactToBig(p.PowLimitBits)
	if limit.Sign() <= 0 || limit.Cmp(maxUint256) > 0 {
		return new(big.Int).Set(maxUint256)
	}
	return limit
}

// VerifyHeader checks that the header's proof-of-work hash meets the target
// encoded by its Bits field, and that Bits does not exceed the chain's
// minimum-difficulty limit.
func (p *PoW) VerifyHeader(header *block.Header) error {
	if header.Bits == 0 {
		return ErrZeroBits
	}
	target := CompactToBig(header.Bits)
	if target.Sign() <= 0 {
		return ErrZeroBits
	}
	if target.Cmp(p.powLimit()) > 0 {
		return ErrBitsAboveLimit
	}

	hash, err := crypto.ComputePoWHash(p.Algo, header.SigningBytes())
	if err != nil {
		return err
	}
	hashInt := new(big.Int).SetBytes(hash[:])
	if hashInt.Cmp(target) > 0 {
		return ErrInsufficientWork
	}
	return nil
}

// Prepare sets the block header's bits for mining at the given height.
// If BitsFn is set, it computes the expected bits from chain state;
// otherwise Prepare uses PowLimitBits.
func (p *PoW) Prepare(header *block.Header, height uint32) error {
	if p.BitsFn != nil {
		header.Bits = p.BitsFn(height)
	} else {
		header.Bits = p.PowLimitBits
	}
	return nil
}

// Seal mines the block by iterating the nonce until the header hash meets
// the target encoded by header.Bits.
func (p *PoW) Seal(blk *block.Block) error {
	return p.SealWithCancel(context.Background(), blk)
}

// SealWithCancel mines the block with cancellation support. When the context
// is cancelled, mining stops and ctx.Err() is returned. If Threads > 1,
// mining runs in parallel goroutines with strided nonce partitioning.
func (p *PoW) SealWithCancel(ctx context.Context, blk *block.Block) error {
	if blk == nil || blk.Header == nil {
		return fmt.Errorf("nil block or header")
	}
	if blk.Header.Bits == 0 {
		return ErrZeroBits
	}

	threads := p.Threads
	if threads <= 1 {
		return p.sealSingle(ctx, blk)
	}
	return p.sealParallel(ctx, blk, threads)
}

// signingPrefix returns the header's signing bytes without the trailing
// 4-byte nonce, so each mining goroutine hashes only the varying suffix.
func signingPrefix(h *block.Header) []byte {
	buf := make([]byte, 0, block.HeaderSize-4)
	buf = binary.LittleEndian.AppendUint32(buf, h.Version)
	buf = append(buf, h.PrevHash[:]...)
	buf = append(buf, h.MerkleRoot[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, h.Timestamp)
	buf = binary.LittleEndian.AppendUint32(buf, h.Bits)
	return buf
}

func (p *PoW) sealSingle(ctx context.Context, blk *block.Block) error {
	target := CompactToBig(blk.Header.Bits)
	prefix := signingPrefix(blk.Header)
	buf := make([]byte, len(prefix)+4)
	copy(buf, prefix)
	hashInt := new(big.Int)

	for nonce := uint32(0); ; nonce++ {
		if nonce&0xFFFF == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		binary.LittleEndian.PutUint32(buf[len(prefix):], nonce)
		hash, err := crypto.ComputePoWHash(p.Algo, buf)
		if err != nil {
			return err
		}
		hashInt.SetBytes(hash[:])
		if hashInt.Cmp(target) <= 0 {
			blk.Header.Nonce = nonce
			return nil
		}
		if nonce == ^uint32(0) {
			return fmt.Errorf("nonce space exhausted")
		}
	}
}

func (p *PoW) sealParallel(ctx context.Context, blk *block.Block, threads int) error {
	target := CompactToBig(blk.Header.Bits)
	prefix := signingPrefix(blk.Header)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		nonce uint32
		err   error
	}
	found := make(chan result, 1)

	var wg sync.WaitGroup
	for i := 0; i < threads; i++ {
		wg.Add(1)
		startNonce := uint32(i)
		stride := uint32(threads)
		go func() {
			defer wg.Done()
			buf := make([]byte, len(prefix)+4)
			copy(buf, prefix)
			hashInt := new(big.Int)

			for nonce := startNonce; ; nonce += stride {
				if (nonce/stride)&0xFFFF == 0 && nonce > 0 {
					select {
					case <-ctx.Done():
						return
					default:
					}
				}

				binary.LittleEndian.PutUint32(buf[len(prefix):], nonce)
				hash, err := crypto.ComputePoWHash(p.Algo, buf)
				if err != nil {
					select {
					case found <- result{err: err}:
					default:
					}
					return
				}
				hashInt.SetBytes(hash[:])
				if hashInt.Cmp(target) <= 0 {
					select {
					case found <- result{nonce: nonce}:
					default:
					}
					cancel()
					return
				}

				if nonce > ^uint32(0)-stride {
					select {
					case found <- result{err: fmt.Errorf("nonce space exhausted")}:
					default:
					}
					return
				}
			}
		}()
	}

	go func() {
		wg.Wait()
		close(found)
	}()

	select {
	case r, ok := <-found:
		if !ok {
			return fmt.Errorf("nonce space exhausted")
		}
		if r.err != nil {
			return r.err
		}
		blk.Header.Nonce = r.nonce
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// BlockWork returns the amount of proof-of-work a block with the given bits
// represents, as ⌊2^256 / (target+1)⌋ (mirrors Bitcoin's GetBlockProof).
// Cumulative work, not height or bits, is the fork-choice metric: it lets a
// harder but shorter branch outweigh a longer but easier one.
func BlockWork(bits uint32) *big.Int {
	target := CompactToBig(bits)
	if target.Sign() <= 0 {
		return big.NewInt(0)
	}
	denom := new(big.Int).Add(target, big.NewInt(1))
	work := new(big.Int).Lsh(big.NewInt(1), 256)
	work.Div(work, denom)
	return work
}

// ExpectedBits computes the correct bits for a block at the given height.
// prevBits is the bits of the block at height-1. getTimestamp retrieves a
// block's timestamp by height, used only at retarget boundaries.
func (p *PoW) ExpectedBits(height uint32, prevBits uint32, getTimestamp func(uint32) (uint32, error)) uint32 {
	if height == 0 || prevBits == 0 {
		return p.PowLimitBits
	}
	if !p.ShouldAdjust(height) {
		return prevBits
	}

	startTS, err := getTimestamp(height - p.RetargetInterval)
	if err != nil {
		return prevBits
	}
	endTS, err := getTimestamp(height - 1)
	if err != nil {
		return prevBits
	}

	actual := int64(endTS) - int64(startTS)
	expected := int64(p.RetargetInterval) * int64(p.TargetBlockTime)
	return p.CalcNextBits(prevBits, actual, expected)
}

// VerifyDifficulty checks that a block header's stated bits matches the
// expected bits computed from chain history.
func (p *PoW) VerifyDifficulty(header *block.Header, height uint32, prevBits uint32, getTimestamp func(uint32) (uint32, error)) error {
	expected := p.ExpectedBits(height, prevBits, getTimestamp)
	if header.Bits != expected {
		return fmt.Errorf("%w: height %d has bits %#x, want %#x", ErrBadBits, height, header.Bits, expected)
	}
	return nil
}

// CalcNextBits computes the new compact target after a retarget period.
// actualTimeSpan is the elapsed seconds for the last interval; expectedTimeSpan
// is RetargetInterval * TargetBlockTime. The span is clamped to
// [expected/RetargetClamp, expected*RetargetClamp] and the resulting target is
// never allowed to exceed the chain's PowLimitBits (i.e. difficulty never
// drops below the genesis floor).
func (p *PoW) CalcNextBits(prevBits uint32, actualTimeSpan, expectedTimeSpan int64) uint32 {
	if actualTimeSpan <= 0 {
		actualTimeSpan = 1
	}
	if expectedTimeSpan <= 0 {
		expectedTimeSpan = 1
	}

	clamp := p.RetargetClamp
	if clamp <= 1 {
		clamp = 4
	}
	minSpan := expectedTimeSpan / clamp
	maxSpan := expectedTimeSpan * clamp
	if minSpan == 0 {
		minSpan = 1
	}
	if actualTimeSpan < minSpan {
		actualTimeSpan = minSpan
	}
	if actualTimeSpan > maxSpan {
		actualTimeSpan = maxSpan
	}

	prevTarget := CompactToBig(prevBits)
	newTarget := new(big.Int).Mul(prevTarget, big.NewInt(actualTimeSpan))
	newTarget.Div(newTarget, big.NewInt(expectedTimeSpan))

	if limit := p.powLimit(); newTarget.Cmp(limit) > 0 {
		newTarget = limit
	}
	if newTarget.Sign() <= 0 {
		newTarget = big.NewInt(1)
	}
	return BigToCompact(newTarget)
}
