// Package miner implements block production for the CO2 ledger chain.
package miner

import (
	"context"
	"fmt"
	"time"

	"github.com/co2chain/co2chain/config"
	"github.com/co2chain/co2chain/internal/consensus"
	"github.com/co2chain/co2chain/pkg/block"
	"github.com/co2chain/co2chain/pkg/tx"
	"github.com/co2chain/co2chain/pkg/types"
)

// ChainState provides read-only access to the current chain state.
type ChainState interface {
	Height() uint32
	TipHash() types.Hash
	TipTimestamp() uint32
}

// MempoolSelector selects transactions for block inclusion, ordered by
// descending fee rate with each transaction's ancestors already resolved.
type MempoolSelector interface {
	SelectForBlock(maxBytes int) []*tx.Transaction
	GetFee(txHash types.Hash) uint64
}

// Miner produces new blocks by draining the mempool and sealing a header
// against the target implied by the consensus engine.
type Miner struct {
	chain        ChainState
	engine       consensus.Engine
	pool         MempoolSelector
	coinbaseAddr types.Address
}

// New creates a new block producer.
func New(chain ChainState, engine consensus.Engine, pool MempoolSelector, coinbaseAddr types.Address) *Miner {
	return &Miner{
		chain:        chain,
		engine:       engine,
		pool:         pool,
		coinbaseAddr: coinbaseAddr,
	}
}

// ProduceBlock builds, seals, and returns a new block using the current time.
// The block is NOT applied to the chain — the caller must call the chain
// manager's accept/connect path.
func (m *Miner) ProduceBlock() (*block.Block, error) {
	return m.produceBlock(context.Background(), uint32(time.Now().Unix()))
}

// ProduceBlockCtx builds and seals a block with cancellation support. When
// the context is cancelled (typically because a competing block advanced
// the tip), PoW sealing stops immediately and the caller should restart
// with a fresh header built on the new tip.
func (m *Miner) ProduceBlockCtx(ctx context.Context) (*block.Block, error) {
	return m.produceBlock(ctx, uint32(time.Now().Unix()))
}

func (m *Miner) produceBlock(ctx context.Context, timestamp uint32) (*block.Block, error) {
	if parentTS := m.chain.TipTimestamp(); timestamp <= parentTS {
		timestamp = parentTS + 1
	}

	height := m.chain.Height() + 1

	var selected []*tx.Transaction
	var totalFees uint64
	if m.pool != nil {
		selected = m.pool.SelectForBlock(config.MaxBlockBytes - block.HeaderSize)
		for _, t := range selected {
			totalFees += m.pool.GetFee(t.Hash())
		}
	}

	reward := config.Subsidy(height)
	coinbase := BuildCoinbase(m.coinbaseAddr, reward+totalFees, height, 0)

	txs := make([]*tx.Transaction, 0, 1+len(selected))
	txs = append(txs, coinbase)
	txs = append(txs, selected...)

	txHashes := make([]types.Hash, len(txs))
	for i, t := range txs {
		txHashes[i] = t.Hash()
	}
	merkle := block.ComputeMerkleRoot(txHashes)

	header := &block.Header{
		Version:    block.CurrentVersion,
		PrevHash:   m.chain.TipHash(),
		MerkleRoot: merkle,
		Timestamp:  timestamp,
	}

	if err := m.engine.Prepare(header, height); err != nil {
		return nil, fmt.Errorf("prepare header: %w", err)
	}

	blk := block.NewBlock(header, height, txs)

	if pow, ok := m.engine.(*consensus.PoW); ok {
		if err := pow.SealWithCancel(ctx, blk); err != nil {
			return nil, m.rebuildOnOverflow(ctx, blk, err)
		}
	} else {
		if err := m.engine.Seal(blk); err != nil {
			return nil, fmt.Errorf("seal block: %w", err)
		}
	}

	return blk, nil
}

// rebuildOnOverflow re-rolls the coinbase's extra-nonce and re-seals when
// the 32-bit header nonce space is exhausted without finding a solution,
// per the extra-nonce overflow handling described for the mining loop.
func (m *Miner) rebuildOnOverflow(ctx context.Context, blk *block.Block, sealErr error) error {
	if sealErr == context.Canceled || sealErr == context.DeadlineExceeded {
		return sealErr
	}

	for extraNonce := uint32(1); extraNonce < 1<<16; extraNonce++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		coinbase := blk.Transactions[0]
		rebuilt := BuildCoinbase(m.coinbaseAddr, coinbaseReward(coinbase), blk.Height, extraNonce)
		blk.Transactions[0] = rebuilt

		txHashes := make([]types.Hash, len(blk.Transactions))
		for i, t := range blk.Transactions {
			txHashes[i] = t.Hash()
		}
		blk.Header.MerkleRoot = block.ComputeMerkleRoot(txHashes)
		blk.Header.Nonce = 0

		pow, ok := m.engine.(*consensus.PoW)
		if !ok {
			return fmt.Errorf("seal block: %w", sealErr)
		}
		err := pow.SealWithCancel(ctx, blk)
		if err == nil {
			return nil
		}
		if err == context.Canceled || err == context.DeadlineExceeded {
			return err
		}
	}
	return fmt.Errorf("extra-nonce space exhausted: %w", sealErr)
}

func coinbaseReward(t *tx.Transaction) uint64 {
	if len(t.Outputs) == 0 {
		return 0
	}
	return t.Outputs[0].Value
}

// extraNonceBytes encodes a little-endian uint32 extra-nonce. BuildCoinbase
// carries it in the coinbase input's Signature field (that field otherwise
// goes unused on a coinbase input) so distinct coinbases at the same height
// hash to distinct transaction IDs, letting the miner retry with a fresh
// nonce space when a full 2^32 search comes up empty.
func extraNonceBytes(extraNonce uint32) []byte {
	b := make([]byte, 4)
	b[0] = byte(extraNonce)
	b[1] = byte(extraNonce >> 8)
	b[2] = byte(extraNonce >> 16)
	b[3] = byte(extraNonce >> 24)
	return b
}

// BuildCoinbase creates a coinbase transaction paying reward to addr at the
// given height, with the given extra-nonce.
func BuildCoinbase(addr types.Address, reward uint64, height uint32, extraNonce uint32) *tx.Transaction {
	return &tx.Transaction{
		Version: 1,
		Kind:    tx.KindCoinbase,
		Inputs: []tx.Input{{
			PrevOut:   types.Outpoint{},
			Signature: extraNonceBytes(extraNonce),
		}},
		Outputs: []tx.Output{{
			Value:     reward,
			Address:   addr,
			CoinState: types.Spendable,
		}},
		Timestamp: uint32(time.Now().Unix()),
		Metadata:  map[string]string{"height": fmt.Sprintf("%d", height)},
	}
}
