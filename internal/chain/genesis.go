package chain

import (
	"fmt"
	"sort"

	"github.com/co2chain/co2chain/config"
	"github.com/co2chain/co2chain/pkg/block"
	"github.com/co2chain/co2chain/pkg/tx"
	"github.com/co2chain/co2chain/pkg/types"
)

// CreateGenesisBlock builds the genesis block from the genesis configuration.
// The genesis block has height 0, a zero PrevHash, and a single coinbase
// transaction that distributes the initial allocations.
func CreateGenesisBlock(gen *config.Genesis) (*block.Block, error) {
	if gen == nil {
		return nil, fmt.Errorf("genesis config is nil")
	}

	coinbase, err := buildCoinbaseTx(gen)
	if err != nil {
		return nil, fmt.Errorf("build coinbase: %w", err)
	}

	txs := []*tx.Transaction{coinbase}
	txHashes := []types.Hash{coinbase.Hash()}
	merkle := block.ComputeMerkleRoot(txHashes)

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   types.Hash{},
		MerkleRoot: merkle,
		Timestamp:  gen.Timestamp,
		Bits:       gen.Protocol.Consensus.GenesisBits,
	}

	return block.NewBlock(header, 0, txs), nil
}

// buildCoinbaseTx creates the genesis coinbase transaction distributing the
// initial allocations. Each allocation becomes a SPENDABLE output.
func buildCoinbaseTx(gen *config.Genesis) (*tx.Transaction, error) {
	if len(gen.Alloc) == 0 {
		return nil, fmt.Errorf("genesis has no allocations")
	}

	addrs := make([]string, 0, len(gen.Alloc))
	for addr := range gen.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	outputs := make([]tx.Output, 0, len(addrs))
	for _, addrStr := range addrs {
		value := gen.Alloc[addrStr]
		if value == 0 {
			continue
		}
		addr, err := types.ParseAddress(addrStr)
		if err != nil {
			return nil, fmt.Errorf("invalid alloc address %q: %w", addrStr, err)
		}
		outputs = append(outputs, tx.Output{
			Value:     value,
			Address:   addr,
			CoinState: types.Spendable,
		})
	}
	if len(outputs) == 0 {
		return nil, fmt.Errorf("genesis allocations sum to zero")
	}

	return &tx.Transaction{
		Version: 1,
		Kind:    tx.KindCoinbase,
		Inputs: []tx.Input{{
			PrevOut: types.Outpoint{},
		}},
		Outputs:   outputs,
		Timestamp: gen.Timestamp,
	}, nil
}
