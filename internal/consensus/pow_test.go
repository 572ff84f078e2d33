package consensus

import (
	"context"
	"math/big"
	"testing"

	"github.com/co2chain/co2chain/pkg/block"
	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/types"
)

// easyBits is a compact target so loose that sealSingle finds a nonce in a
// handful of iterations, keeping these tests fast.
const easyBits = 0x207fffff

func TestNewPoW_ZeroBits(t *testing.T) {
	_, err := NewPoW(crypto.PoWAlgoScrypt, 0, 2016, 600, 4)
	if err != ErrZeroBits {
		t.Fatalf("NewPoW(bits=0) err = %v, want ErrZeroBits", err)
	}
}

func TestCompactToBig_RoundTrip(t *testing.T) {
	for _, bits := range []uint32{0x1d00ffff, 0x1e0fffff, easyBits} {
		n := CompactToBig(bits)
		got := BigToCompact(n)
		if got != bits {
			t.Errorf("BigToCompact(CompactToBig(%#x)) = %#x, want %#x", bits, got, bits)
		}
	}
}

func newEasyPoW(t *testing.T) *PoW {
	t.Helper()
	pow, err := NewPoW(crypto.PoWAlgoScrypt, easyBits, 2016, 600, 4)
	if err != nil {
		t.Fatalf("NewPoW: %v", err)
	}
	return pow
}

func TestPoW_SealAndVerifyHeader(t *testing.T) {
	pow := newEasyPoW(t)

	header := &block.Header{
		Version:    1,
		PrevHash:   types.Hash{},
		MerkleRoot: types.Hash{1, 2, 3},
		Timestamp:  1000,
	}
	if err := pow.Prepare(header, 1); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	blk := block.NewBlock(header, 1, nil)

	if err := pow.Seal(blk); err != nil {
		t.Fatalf("Seal: %v", err)
	}
	if err := pow.VerifyHeader(blk.Header); err != nil {
		t.Fatalf("VerifyHeader after Seal: %v", err)
	}
}

func TestPoW_SealWithCancel_Parallel(t *testing.T) {
	pow := newEasyPoW(t)
	pow.Threads = 4

	header := &block.Header{Version: 1, MerkleRoot: types.Hash{9}, Timestamp: 1}
	if err := pow.Prepare(header, 1); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	blk := block.NewBlock(header, 1, nil)

	if err := pow.SealWithCancel(context.Background(), blk); err != nil {
		t.Fatalf("SealWithCancel (parallel): %v", err)
	}
	if err := pow.VerifyHeader(blk.Header); err != nil {
		t.Fatalf("VerifyHeader after parallel seal: %v", err)
	}
}

func TestPoW_SealWithCancel_CancelledContext(t *testing.T) {
	// Bits 0x03000001 encode a target of 1, the hardest possible, which makes
	// finding a nonce effectively impossible, so a cancelled context must stop
	// mining.
	pow, err := NewPoW(crypto.PoWAlgoScrypt, 0x03000001, 2016, 600, 4)
	if err != nil {
		t.Fatalf("NewPoW: %v", err)
	}

	header := &block.Header{Version: 1, MerkleRoot: types.Hash{1}, Timestamp: 1}
	if err := pow.Prepare(header, 1); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	blk := block.NewBlock(header, 1, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := pow.SealWithCancel(ctx, blk); err == nil {
		t.Fatal("SealWithCancel with a pre-cancelled context should return an error")
	}
}

func TestPoW_VerifyHeader_RejectsInsufficientWork(t *testing.T) {
	pow := newEasyPoW(t)

	header := &block.Header{
		Version: 1,
		Bits:    0x03000001, // Very hard target: a random nonce won't satisfy it.
		Nonce:   42,
	}
	if err := pow.VerifyHeader(header); err != ErrInsufficientWork {
		t.Fatalf("VerifyHeader with unmet target = %v, want ErrInsufficientWork", err)
	}
}

func TestPoW_VerifyHeader_ZeroBits(t *testing.T) {
	pow := newEasyPoW(t)

	header := &block.Header{Version: 1, Bits: 0}
	if err := pow.VerifyHeader(header); err != ErrZeroBits {
		t.Fatalf("VerifyHeader(bits=0) = %v, want ErrZeroBits", err)
	}
}

func TestPoW_VerifyHeader_RejectsBitsAboveLimit(t *testing.T) {
	pow := newEasyPoW(t)

	// A looser target (larger exponent) than the chain's PowLimitBits must
	// be rejected outright, regardless of the nonce.
	header := &block.Header{Version: 1, Bits: 0x217fffff}
	if err := pow.VerifyHeader(header); err != ErrBitsAboveLimit {
		t.Fatalf("VerifyHeader(bits above limit) = %v, want ErrBitsAboveLimit", err)
	}
}

func TestPoW_Prepare_NoBitsFn(t *testing.T) {
	pow := newEasyPoW(t)
	header := &block.Header{Version: 1, Timestamp: 1}
	if err := pow.Prepare(header, 1); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if header.Bits != easyBits {
		t.Fatalf("Prepare without BitsFn set bits = %#x, want %#x", header.Bits, easyBits)
	}
}

func TestPoW_Prepare_UsesBitsFn(t *testing.T) {
	pow := newEasyPoW(t)
	pow.BitsFn = func(height uint32) uint32 {
		return easyBits - height
	}

	header := &block.Header{Version: 1, Timestamp: 1}
	if err := pow.Prepare(header, 5); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if want := easyBits - 5; header.Bits != want {
		t.Fatalf("Prepare with BitsFn set bits = %#x, want %#x", header.Bits, want)
	}
}

func TestPoW_ShouldAdjust(t *testing.T) {
	pow, _ := NewPoW(crypto.PoWAlgoScrypt, easyBits, 10, 600, 4)

	tests := []struct {
		height uint32
		want   bool
	}{
		{0, false},
		{1, false},
		{9, false},
		{10, true},
		{11, false},
		{20, true},
		{100, true},
	}
	for _, tt := range tests {
		if got := pow.ShouldAdjust(tt.height); got != tt.want {
			t.Errorf("ShouldAdjust(%d) = %v, want %v", tt.height, got, tt.want)
		}
	}

	pow0, _ := NewPoW(crypto.PoWAlgoScrypt, easyBits, 0, 600, 4)
	if pow0.ShouldAdjust(10) {
		t.Error("ShouldAdjust with RetargetInterval=0 should be false")
	}
}

func TestPoW_CalcNextBits_ExactTiming(t *testing.T) {
	pow, _ := NewPoW(crypto.PoWAlgoScrypt, easyBits, 2016, 600, 4)
	prevBits := uint32(0x1e0fffff)
	expected := int64(2016) * 600

	got := pow.CalcNextBits(prevBits, expected, expected)
	if got != prevBits {
		t.Fatalf("CalcNextBits(exact timing) = %#x, want unchanged %#x", got, prevBits)
	}
}

func TestPoW_CalcNextBits_FasterThanExpected_Hardens(t *testing.T) {
	pow, _ := NewPoW(crypto.PoWAlgoScrypt, easyBits, 2016, 600, 4)
	prevBits := uint32(0x1e0fffff)
	expected := int64(2016) * 600

	got := pow.CalcNextBits(prevBits, expected/2, expected)
	prevTarget := CompactToBig(prevBits)
	newTarget := CompactToBig(got)
	if newTarget.Cmp(prevTarget) >= 0 {
		t.Fatalf("CalcNextBits after faster-than-expected blocks should tighten the target")
	}
}

func TestPoW_CalcNextBits_NeverLoosensPastPowLimit(t *testing.T) {
	pow, _ := NewPoW(crypto.PoWAlgoScrypt, easyBits, 2016, 600, 4)
	expected := int64(2016) * 600

	// Blocks arriving far slower than expected would loosen the target past
	// the genesis floor; CalcNextBits must clamp it back to PowLimitBits.
	got := pow.CalcNextBits(easyBits, expected*100, expected)
	limit := pow.powLimit()
	newTarget := CompactToBig(got)
	if newTarget.Cmp(limit) > 0 {
		t.Fatalf("CalcNextBits produced a target looser than the pow limit")
	}
}

func TestPoW_ExpectedBits_CarriesForwardBetweenRetargets(t *testing.T) {
	pow, _ := NewPoW(crypto.PoWAlgoScrypt, easyBits, 10, 600, 4)
	got := pow.ExpectedBits(5, 0x1e0fffff, nil)
	if got != 0x1e0fffff {
		t.Fatalf("ExpectedBits at non-boundary height = %#x, want prevBits unchanged", got)
	}
}

func TestPoW_ExpectedBits_GenesisUsesPowLimit(t *testing.T) {
	pow, _ := NewPoW(crypto.PoWAlgoScrypt, easyBits, 10, 600, 4)
	if got := pow.ExpectedBits(0, 0, nil); got != easyBits {
		t.Fatalf("ExpectedBits(height=0) = %#x, want PowLimitBits %#x", got, easyBits)
	}
}

func TestPoW_VerifyDifficulty(t *testing.T) {
	pow, _ := NewPoW(crypto.PoWAlgoScrypt, easyBits, 10, 600, 4)

	header := &block.Header{Bits: easyBits}
	if err := pow.VerifyDifficulty(header, 5, 0, nil); err != nil {
		t.Fatalf("VerifyDifficulty(non-boundary, matching bits) = %v, want nil", err)
	}

	wrong := &block.Header{Bits: easyBits - 1}
	if err := pow.VerifyDifficulty(wrong, 5, easyBits, nil); err == nil {
		t.Fatal("VerifyDifficulty with mismatched bits should return an error")
	}
}

func TestBlockWork_HarderTargetYieldsMoreWork(t *testing.T) {
	easy := BlockWork(easyBits)
	hard := BlockWork(0x1d00ffff)
	if hard.Cmp(easy) <= 0 {
		t.Fatalf("BlockWork(harder bits) = %s, want > BlockWork(easier bits) = %s", hard, easy)
	}
}

func TestBlockWork_ZeroTargetIsZeroWork(t *testing.T) {
	if got := BlockWork(0); got.Cmp(big.NewInt(0)) != 0 {
		t.Fatalf("BlockWork(0) = %s, want 0", got)
	}
}
