package miner

import (
	"context"
	"testing"

	"github.com/co2chain/co2chain/internal/consensus"
	"github.com/co2chain/co2chain/internal/storage"
	"github.com/co2chain/co2chain/internal/utxo"
	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/tx"
	"github.com/co2chain/co2chain/pkg/types"
)

const easyBits = 0x207fffff

// --- BuildCoinbase ---

func TestBuildCoinbase(t *testing.T) {
	addr := types.Address{0x01, 0x02, 0x03}
	cb := BuildCoinbase(addr, 50000, 42, 0)

	if cb.Version != 1 {
		t.Errorf("version: got %d, want 1", cb.Version)
	}
	if cb.Kind != tx.KindCoinbase {
		t.Errorf("kind: got %v, want KindCoinbase", cb.Kind)
	}
	if len(cb.Inputs) != 1 {
		t.Fatalf("inputs: got %d, want 1", len(cb.Inputs))
	}
	if !cb.Inputs[0].PrevOut.IsZero() {
		t.Error("coinbase input should be zero outpoint")
	}
	if len(cb.Outputs) != 1 {
		t.Fatalf("outputs: got %d, want 1", len(cb.Outputs))
	}
	if cb.Outputs[0].Value != 50000 {
		t.Errorf("output value: got %d, want 50000", cb.Outputs[0].Value)
	}
	if cb.Outputs[0].Address != addr {
		t.Error("output address mismatch")
	}
	if cb.Outputs[0].CoinState != types.Spendable {
		t.Error("coinbase output should be SPENDABLE")
	}

	// Different extra-nonces must produce different tx hashes.
	cb2 := BuildCoinbase(addr, 50000, 42, 1)
	if cb.Hash() == cb2.Hash() {
		t.Error("coinbases with different extra-nonce must have different hashes")
	}
}

func TestBuildCoinbase_Validate(t *testing.T) {
	addr := types.Address{0xaa}
	cb := BuildCoinbase(addr, 1000, 1, 0)

	if err := cb.Validate(); err != nil {
		t.Errorf("coinbase should pass Validate: %v", err)
	}
}

// --- mockChainState ---

type mockChainState struct {
	height  uint32
	tipHash types.Hash
	tipTS   uint32
}

func (m *mockChainState) Height() uint32       { return m.height }
func (m *mockChainState) TipHash() types.Hash  { return m.tipHash }
func (m *mockChainState) TipTimestamp() uint32 { return m.tipTS }

// --- mockMempool ---

type mockMempool struct {
	txs  []*tx.Transaction
	fees map[types.Hash]uint64
}

func newMockMempool(txs []*tx.Transaction, fees map[types.Hash]uint64) *mockMempool {
	return &mockMempool{txs: txs, fees: fees}
}

func (m *mockMempool) SelectForBlock(maxBytes int) []*tx.Transaction {
	return m.txs
}

func (m *mockMempool) GetFee(txHash types.Hash) uint64 {
	if m.fees == nil {
		return 0
	}
	return m.fees[txHash]
}

// --- Miner ---

func easyPoW(t *testing.T) *consensus.PoW {
	t.Helper()
	pow, err := consensus.NewPoW(crypto.PoWAlgoScrypt, easyBits, 2016, 600, 4)
	if err != nil {
		t.Fatalf("NewPoW: %v", err)
	}
	return pow
}

func testMiner(t *testing.T) (*Miner, types.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())

	chain := &mockChainState{height: 0, tipHash: types.Hash{0xaa, 0xbb}, tipTS: 1000}
	m := New(chain, easyPoW(t), nil, addr)
	return m, addr
}

func TestMiner_ProduceBlock(t *testing.T) {
	m, addr := testMiner(t)

	blk, err := m.ProduceBlock()
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}

	if blk.Height != 1 {
		t.Errorf("height: got %d, want 1", blk.Height)
	}
	if blk.Header.PrevHash != (types.Hash{0xaa, 0xbb}) {
		t.Error("PrevHash should match chain tip")
	}
	if blk.Header.Version != 1 {
		t.Errorf("version: got %d, want 1", blk.Header.Version)
	}
	if blk.Header.Timestamp == 0 {
		t.Error("timestamp should not be zero")
	}
	if len(blk.Transactions) != 1 {
		t.Fatalf("expected 1 tx (coinbase), got %d", len(blk.Transactions))
	}
	if blk.Transactions[0].Outputs[0].Address != addr {
		t.Error("coinbase output address mismatch")
	}
}

func TestMiner_ProduceBlock_ValidStructure(t *testing.T) {
	m, _ := testMiner(t)

	blk, err := m.ProduceBlock()
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}
	if err := blk.Validate(); err != nil {
		t.Errorf("block should pass Validate: %v", err)
	}
}

func TestMiner_ProduceBlock_ValidConsensus(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())
	chain := &mockChainState{height: 5, tipHash: types.Hash{0x11}, tipTS: 1000}
	pow := easyPoW(t)
	m := New(chain, pow, nil, addr)

	blk, err := m.ProduceBlock()
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}

	if err := pow.VerifyHeader(blk.Header); err != nil {
		t.Errorf("block should pass consensus: %v", err)
	}
	if blk.Height != 6 {
		t.Errorf("height: got %d, want 6", blk.Height)
	}
}

func TestMiner_ProduceBlock_WithMempool(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())
	chain := &mockChainState{height: 0, tipHash: types.Hash{0x01}, tipTS: 1000}

	b := tx.NewBuilder(tx.KindTransfer).
		AddInput(types.Outpoint{TxID: types.Hash{0xff}, Index: 0}).
		AddOutput(500, types.Address{0x02})
	b.Sign(key)
	mempoolTx := b.Build()

	txFee := uint64(100)
	fees := map[types.Hash]uint64{mempoolTx.Hash(): txFee}
	pool := newMockMempool([]*tx.Transaction{mempoolTx}, fees)

	m := New(chain, easyPoW(t), pool, addr)

	blk, err := m.ProduceBlock()
	if err != nil {
		t.Fatalf("ProduceBlock: %v", err)
	}

	if len(blk.Transactions) != 2 {
		t.Errorf("expected 2 txs, got %d", len(blk.Transactions))
	}

	genesisReward := blk.Transactions[0].Outputs[0].Value
	if genesisReward <= txFee {
		t.Errorf("coinbase value %d should at least include the %d fee", genesisReward, txFee)
	}
}

func TestMiner_ProduceBlockCtx_Cancelled(t *testing.T) {
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	addr := crypto.AddressFromPubKey(key.PublicKey())
	chain := &mockChainState{height: 0, tipHash: types.Hash{0x01}, tipTS: 1000}

	// A near-impossible target makes cancellation observable.
	pow, err := consensus.NewPoW(crypto.PoWAlgoScrypt, 0x03000001, 2016, 600, 4)
	if err != nil {
		t.Fatalf("NewPoW: %v", err)
	}
	m := New(chain, pow, nil, addr)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := m.ProduceBlockCtx(ctx); err == nil {
		t.Error("ProduceBlockCtx with a pre-cancelled context should return an error")
	}
}

// --- UTXOAdapter ---

func TestUTXOAdapter_GetUTXO(t *testing.T) {
	db := storage.NewMemory()
	store := utxo.NewStore(db)

	op := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	u := &utxo.UTXO{Outpoint: op, Value: 1000, Address: types.Address{0x02}, CoinState: types.Spendable}
	store.Put(u)

	adapter := NewUTXOAdapter(store)

	val, addr, state, err := adapter.GetUTXO(op)
	if err != nil {
		t.Fatalf("GetUTXO: %v", err)
	}
	if val != 1000 {
		t.Errorf("value: got %d, want 1000", val)
	}
	if addr != u.Address {
		t.Error("address mismatch")
	}
	if state != types.Spendable {
		t.Error("coin state mismatch")
	}
}

func TestUTXOAdapter_HasUTXO(t *testing.T) {
	db := storage.NewMemory()
	store := utxo.NewStore(db)

	op := types.Outpoint{TxID: types.Hash{0x01}, Index: 0}
	store.Put(&utxo.UTXO{Outpoint: op, Value: 1})

	adapter := NewUTXOAdapter(store)

	if !adapter.HasUTXO(op) {
		t.Error("HasUTXO should return true for existing outpoint")
	}

	missing := types.Outpoint{TxID: types.Hash{0xff}, Index: 0}
	if adapter.HasUTXO(missing) {
		t.Error("HasUTXO should return false for missing outpoint")
	}
}

func TestUTXOAdapter_GetUTXO_NotFound(t *testing.T) {
	db := storage.NewMemory()
	store := utxo.NewStore(db)
	adapter := NewUTXOAdapter(store)

	_, _, _, err := adapter.GetUTXO(types.Outpoint{TxID: types.Hash{0xff}})
	if err == nil {
		t.Error("GetUTXO should fail for missing outpoint")
	}
}
