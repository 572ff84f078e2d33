package tx

import (
	"testing"

	"github.com/co2chain/co2chain/pkg/types"
)

func TestEstimateTxFee(t *testing.T) {
	// overhead = 4 (version) + 1 (kind) + 1 (inputCount) + 1 (outputCount) + 4 (timestamp) + 1 (metadataLen) = 12
	// perInput = 32 (txID) + 4 (index) = 36
	// perOutput = 8 (value) + 20 (address) + 1 (coin_state) + 1 (certificate_id len) = 30
	tests := []struct {
		name       string
		numInputs  int
		numOutputs int
		feeRate    uint64
		want       uint64
	}{
		{"zero rate", 1, 2, 0, 0},
		{"simple 1-in 2-out", 1, 2, 10, (12 + 36 + 60) * 10},          // 108 * 10 = 1080
		{"2-in 2-out", 2, 2, 10, (12 + 72 + 60) * 10},                 // 144 * 10 = 1440
		{"consolidate 10-in 1-out", 10, 1, 10, (12 + 360 + 30) * 10},  // 402 * 10 = 4020
		{"rate 1", 1, 1, 1, 12 + 36 + 30},                             // 78
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EstimateTxFee(tt.numInputs, tt.numOutputs, tt.feeRate)
			if got != tt.want {
				t.Errorf("EstimateTxFee(%d, %d, %d) = %d, want %d",
					tt.numInputs, tt.numOutputs, tt.feeRate, got, tt.want)
			}
		})
	}
}

func TestEstimateTxFee_ExtraOutputBytes(t *testing.T) {
	base := EstimateTxFee(1, 1, 10)
	withExtra := EstimateTxFee(1, 1, 10, 20)
	if withExtra <= base {
		t.Errorf("extra output bytes should increase the estimate: base=%d withExtra=%d", base, withExtra)
	}
	if withExtra != base+20*10 {
		t.Errorf("EstimateTxFee with extra = %d, want %d", withExtra, base+20*10)
	}
}

func TestRequiredFee(t *testing.T) {
	key := mustKey(t)
	b := NewBuilder(KindTransfer).
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
		AddOutput(1000, types.Address{0x02})
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	txn := b.Build()

	fee := RequiredFee(txn, 10)
	want := uint64(len(txn.SigningBytes())) * 10
	if fee != want {
		t.Errorf("RequiredFee = %d, want %d", fee, want)
	}
}

func TestRequiredFee_ZeroRate(t *testing.T) {
	key := mustKey(t)
	b := NewBuilder(KindTransfer).
		AddInput(types.Outpoint{TxID: types.Hash{0x01}, Index: 0}).
		AddOutput(1000, types.Address{0x02})
	if err := b.Sign(key); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	txn := b.Build()

	if fee := RequiredFee(txn, 0); fee != 0 {
		t.Errorf("RequiredFee at zero rate = %d, want 0", fee)
	}
}
