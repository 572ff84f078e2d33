package tx

import (
	"math"
	"testing"

	"github.com/co2chain/co2chain/pkg/types"
)

func TestTransaction_Hash_Deterministic(t *testing.T) {
	txn := &Transaction{
		Version: 1,
		Kind:    KindTransfer,
		Inputs:  []Input{{PrevOut: types.Outpoint{TxID: types.Hash{0x01}, Index: 0}}},
		Outputs: []Output{{Value: 1000, Address: types.Address{0x02}}},
	}
	h1 := txn.Hash()
	h2 := txn.Hash()
	if h1 != h2 {
		t.Error("Transaction.Hash() should be deterministic")
	}
}

func TestTransaction_Hash_IgnoresSignature(t *testing.T) {
	txn := &Transaction{
		Version: 1,
		Kind:    KindTransfer,
		Inputs:  []Input{{PrevOut: types.Outpoint{TxID: types.Hash{0x01}, Index: 0}}},
		Outputs: []Output{{Value: 1000, Address: types.Address{0x02}}},
	}
	h1 := txn.Hash()
	txn.Inputs[0].Signature = []byte("sig")
	txn.Inputs[0].PubKey = []byte("pubkey")
	h2 := txn.Hash()
	if h1 != h2 {
		t.Error("Transaction.Hash() should not change when signature/pubkey are set")
	}
}

func TestTransaction_Hash_ChangesWithOutput(t *testing.T) {
	base := &Transaction{
		Version: 1,
		Kind:    KindTransfer,
		Inputs:  []Input{{PrevOut: types.Outpoint{TxID: types.Hash{0x01}, Index: 0}}},
		Outputs: []Output{{Value: 1000, Address: types.Address{0x02}}},
	}
	h1 := base.Hash()
	base.Outputs[0].Value = 2000
	h2 := base.Hash()
	if h1 == h2 {
		t.Error("Transaction.Hash() should change when an output changes")
	}
}

func TestTransaction_Hash_CoinbaseDistinctByExtraNonce(t *testing.T) {
	c1 := &Transaction{
		Version: 1,
		Kind:    KindCoinbase,
		Inputs:  []Input{{PrevOut: types.Outpoint{}, Signature: []byte{0x01}}},
		Outputs: []Output{{Value: 1000, Address: types.Address{0x02}}},
	}
	c2 := &Transaction{
		Version: 1,
		Kind:    KindCoinbase,
		Inputs:  []Input{{PrevOut: types.Outpoint{}, Signature: []byte{0x02}}},
		Outputs: []Output{{Value: 1000, Address: types.Address{0x02}}},
	}
	if c1.Hash() == c2.Hash() {
		t.Error("two coinbases with different extra-nonce bytes should hash differently")
	}
}

func TestTransaction_IsCoinbase(t *testing.T) {
	coinbase := &Transaction{
		Inputs: []Input{{PrevOut: types.Outpoint{}}},
	}
	if !coinbase.IsCoinbase() {
		t.Error("transaction with single zero-outpoint input should be a coinbase")
	}

	notCoinbase := &Transaction{
		Inputs: []Input{{PrevOut: types.Outpoint{TxID: types.Hash{0x01}}}},
	}
	if notCoinbase.IsCoinbase() {
		t.Error("transaction with a non-zero outpoint should not be a coinbase")
	}

	multiInput := &Transaction{
		Inputs: []Input{{PrevOut: types.Outpoint{}}, {PrevOut: types.Outpoint{TxID: types.Hash{0x01}}}},
	}
	if multiInput.IsCoinbase() {
		t.Error("multi-input transaction should not be a coinbase even with one zero outpoint")
	}
}

func TestTransaction_TotalOutputValue(t *testing.T) {
	txn := &Transaction{
		Outputs: []Output{
			{Value: 1000, Address: types.Address{0x01}},
			{Value: 2000, Address: types.Address{0x02}},
		},
	}
	total, err := txn.TotalOutputValue()
	if err != nil {
		t.Fatalf("TotalOutputValue: %v", err)
	}
	if total != 3000 {
		t.Errorf("TotalOutputValue = %d, want 3000", total)
	}
}

func TestTransaction_TotalOutputValue_Overflow(t *testing.T) {
	txn := &Transaction{
		Outputs: []Output{
			{Value: math.MaxUint64, Address: types.Address{0x01}},
			{Value: 1, Address: types.Address{0x02}},
		},
	}
	if _, err := txn.TotalOutputValue(); err == nil {
		t.Error("expected overflow error")
	}
}

func TestKind_String(t *testing.T) {
	cases := map[Kind]string{
		KindCoinbase:           "COINBASE",
		KindTransfer:           "TRANSFER",
		KindAssignCert:         "ASSIGN_CERT",
		KindAssignCompensation: "ASSIGN_COMPENSATION",
		KindBurn:               "BURN",
		Kind(99):               "UNKNOWN",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", kind, got, want)
		}
	}
}

func TestInput_JSONRoundTrip(t *testing.T) {
	in := Input{
		PrevOut:   types.Outpoint{TxID: types.Hash{0x01}, Index: 3},
		Signature: []byte{0xde, 0xad, 0xbe, 0xef},
		PubKey:    []byte{0x01, 0x02, 0x03},
	}
	data, err := in.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var out Input
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if out.PrevOut != in.PrevOut {
		t.Errorf("PrevOut mismatch: got %v, want %v", out.PrevOut, in.PrevOut)
	}
	if string(out.Signature) != string(in.Signature) {
		t.Errorf("Signature mismatch: got %x, want %x", out.Signature, in.Signature)
	}
	if string(out.PubKey) != string(in.PubKey) {
		t.Errorf("PubKey mismatch: got %x, want %x", out.PubKey, in.PubKey)
	}
}

func TestInput_JSONRoundTrip_NilFields(t *testing.T) {
	in := Input{PrevOut: types.Outpoint{TxID: types.Hash{0x01}, Index: 1}}
	data, err := in.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}

	var out Input
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if out.Signature != nil || out.PubKey != nil {
		t.Error("nil signature/pubkey should round-trip as nil")
	}
}
