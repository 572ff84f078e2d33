package chain

import (
	"testing"

	"github.com/co2chain/co2chain/config"
	"github.com/co2chain/co2chain/internal/consensus"
	"github.com/co2chain/co2chain/internal/ledger"
	"github.com/co2chain/co2chain/internal/storage"
	"github.com/co2chain/co2chain/internal/utxo"
	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/types"
)

// TestRebuildReorg_MissingUndo forces the reorg path to fall back to a
// full replay from genesis when the old branch's undo data is gone.
func TestRebuildReorg_MissingUndo(t *testing.T) {
	ch, _, addr, pow := testChain(t)
	genesisHash := ch.TipHash()

	a1 := mineBlock(t, pow, genesisHash, 1, 2000, easyBits, addr, config.Subsidy(1), nil)
	if err := ch.ProcessBlock(a1); err != nil {
		t.Fatalf("ProcessBlock(a1): %v", err)
	}

	// Simulate lost undo data (e.g. corruption) for the block about to be reverted.
	if err := ch.blocks.DeleteUndo(a1.Hash()); err != nil {
		t.Fatalf("DeleteUndo: %v", err)
	}

	b1 := mineBlock(t, pow, genesisHash, 1, 2100, easyBits, addr, config.Subsidy(1), nil)
	if err := ch.ProcessBlock(b1); err != nil {
		t.Fatalf("ProcessBlock(b1): %v", err)
	}
	b2 := mineBlock(t, pow, b1.Hash(), 2, 2200, easyBits, addr, config.Subsidy(2), nil)
	if err := ch.ProcessBlock(b2); err != nil {
		t.Fatalf("ProcessBlock(b2) should rebuild-reorg despite missing undo: %v", err)
	}

	if ch.Height() != 2 {
		t.Errorf("height = %d, want 2", ch.Height())
	}
	if ch.TipHash() != b2.Hash() {
		t.Error("tip should be b2 after rebuild reorg")
	}
}

func TestRebuildReorg_SupplyCorrect(t *testing.T) {
	ch, _, addr, pow := testChain(t)
	genesisHash := ch.TipHash()
	genesisSupply := ch.Supply()

	a1 := mineBlock(t, pow, genesisHash, 1, 2000, easyBits, addr, config.Subsidy(1), nil)
	if err := ch.ProcessBlock(a1); err != nil {
		t.Fatalf("ProcessBlock(a1): %v", err)
	}
	if err := ch.blocks.DeleteUndo(a1.Hash()); err != nil {
		t.Fatalf("DeleteUndo: %v", err)
	}

	b1 := mineBlock(t, pow, genesisHash, 1, 2100, easyBits, addr, config.Subsidy(1), nil)
	ch.ProcessBlock(b1)
	b2 := mineBlock(t, pow, b1.Hash(), 2, 2200, easyBits, addr, config.Subsidy(2), nil)
	b3 := mineBlock(t, pow, b2.Hash(), 3, 2300, easyBits, addr, config.Subsidy(3), nil)
	if err := ch.ProcessBlock(b2); err != nil {
		t.Fatalf("ProcessBlock(b2): %v", err)
	}
	if err := ch.ProcessBlock(b3); err != nil {
		t.Fatalf("ProcessBlock(b3) should rebuild-reorg: %v", err)
	}

	want := genesisSupply + config.Subsidy(1) + config.Subsidy(2) + config.Subsidy(3)
	if ch.Supply() != want {
		t.Errorf("supply after rebuild reorg = %d, want %d", ch.Supply(), want)
	}
}

// TestRebuildUTXOs_CrashRecovery simulates a crash mid-reorg: a reorg
// checkpoint is left on disk with no corresponding completed reorg. The
// next call to New() must detect the checkpoint and rebuild the UTXO set
// from scratch before the chain is usable.
func TestRebuildUTXOs_CrashRecovery(t *testing.T) {
	_, addr := testKey(t)
	gen := testGenesis(map[string]uint64{addr.String(): 1_000_000 * config.Coin})

	db := storage.NewMemory()
	utxoStore := utxo.NewStore(db)
	ledgerStore := ledger.NewStore(db)
	pow, err := consensus.NewPoW(crypto.PoWAlgoScrypt, easyBits, 2016, 600, 4)
	if err != nil {
		t.Fatalf("NewPoW: %v", err)
	}

	ch, err := New(types.ChainID{}, db, utxoStore, ledgerStore, pow)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := ch.InitFromGenesis(gen); err != nil {
		t.Fatalf("InitFromGenesis: %v", err)
	}
	ch.SetConsensusRules(gen.Protocol.Consensus)

	blk1 := mineNextBlock(t, ch, pow, 2000, addr, nil)
	if err := ch.ProcessBlock(blk1); err != nil {
		t.Fatalf("ProcessBlock(blk1): %v", err)
	}

	// Simulate a crash partway through a reorg: a checkpoint is present
	// but the UTXO set has not actually been rebuilt.
	if err := ch.blocks.PutReorgCheckpoint(0); err != nil {
		t.Fatalf("PutReorgCheckpoint: %v", err)
	}

	ch2, err := New(types.ChainID{}, db, utxoStore, ledgerStore, pow)
	if err != nil {
		t.Fatalf("New (recovery): %v", err)
	}

	if _, found := ch2.blocks.GetReorgCheckpoint(); found {
		t.Error("reorg checkpoint should be cleared after recovery")
	}
	if ch2.Height() != 1 {
		t.Errorf("height after recovery = %d, want 1", ch2.Height())
	}

	utxos, err := utxoStore.GetByAddress(addr)
	if err != nil {
		t.Fatalf("GetByAddress: %v", err)
	}
	var total uint64
	for _, u := range utxos {
		total += u.Value
	}
	want := 1_000_000*config.Coin + config.Subsidy(1)
	if total != want {
		t.Errorf("utxo total after recovery = %d, want %d", total, want)
	}
}
