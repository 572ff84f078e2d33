// Package node provides a reusable blockchain node that can be embedded
// in any binary (daemon, block explorer indexer, etc.).
package node

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/co2chain/co2chain/config"
	"github.com/co2chain/co2chain/internal/chain"
	"github.com/co2chain/co2chain/internal/consensus"
	klog "github.com/co2chain/co2chain/internal/log"
	"github.com/co2chain/co2chain/internal/ledger"
	"github.com/co2chain/co2chain/internal/mempool"
	"github.com/co2chain/co2chain/internal/miner"
	"github.com/co2chain/co2chain/internal/storage"
	"github.com/co2chain/co2chain/internal/utxo"
	"github.com/co2chain/co2chain/pkg/tx"
	"github.com/co2chain/co2chain/pkg/types"
	"github.com/rs/zerolog"
)

// Node is a fully-initialized blockchain node. It owns the storage, UTXO
// set, certificate ledger, consensus engine, chain manager, and mempool,
// and optionally drives block production. Anything resembling a transport
// (peer gossip, a query API) is deliberately outside this package — Node
// is consumed through its methods, not wired to any particular front end.
type Node struct {
	cfg     *config.Config
	genesis *config.Genesis
	logger  zerolog.Logger

	db          storage.DB
	utxoStore   *utxo.Store
	ledgerStore *ledger.Store
	engine      consensus.Engine
	ch          *chain.Chain
	pool        *mempool.Pool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a new Node. It performs all setup steps
// (logger, genesis, storage, consensus, chain, mempool) but does not start
// background goroutines (mining). Call Start() for that.
func New(cfg *config.Config) (*Node, error) {
	// ── 1. Set address version byte ─────────────────────────────────
	if cfg.Network == config.Testnet {
		types.SetAddressVersion(types.TestnetVersion)
	} else {
		types.SetAddressVersion(types.MainnetVersion)
	}

	// ── 2. Init logger ──────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = logsDir + "/co2chain.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	// ── 3. Genesis ──────────────────────────────────────────────────
	genesis := config.GenesisFor(cfg.Network)

	logger.Info().
		Str("chain_id", genesis.ChainID).
		Str("network", string(cfg.Network)).
		Uint32("genesis_bits", genesis.Protocol.Consensus.GenesisBits).
		Msg("Starting CO2Chain node")

	// ── 4. Open storage ──────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.ChainDataDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.ChainDataDir(), err)
	}

	utxoStore := utxo.NewStore(db)
	ledgerStore := ledger.NewStore(db)
	logger.Info().Str("path", cfg.ChainDataDir()).Msg("Database opened")

	// ── 5. Consensus engine ───────────────────────────────────────────
	engine, err := createEngine(genesis)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create consensus engine: %w", err)
	}

	// ── 6. Chain ──────────────────────────────────────────────────────
	ch, err := chain.New(types.ChainID{}, db, utxoStore, ledgerStore, engine)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create chain: %w", err)
	}
	ch.SetConsensusRules(genesis.Protocol.Consensus)

	state := ch.State()
	if state.IsGenesis() {
		if err := ch.InitFromGenesis(genesis); err != nil {
			db.Close()
			return nil, fmt.Errorf("init from genesis: %w", err)
		}
		logger.Info().Msg("Chain initialized from genesis")
	} else {
		logger.Info().
			Uint32("height", ch.Height()).
			Str("tip", ch.TipHash().String()[:16]+"...").
			Msg("Chain resumed from database")
	}

	// ── 7. Mempool ────────────────────────────────────────────────────
	adapter := miner.NewUTXOAdapter(utxoStore)
	pool := mempool.New(adapter, 10_000)
	pool.SetMinFeeRate(genesis.Protocol.Consensus.MinFeeRate)
	pool.SetMinAbsoluteFee(genesis.Protocol.Consensus.MinAbsoluteFee)
	pool.SetCoinbaseMaturity(uint64(config.CoinbaseMaturity), func() uint64 { return uint64(ch.Height()) }, utxoStore)

	logger.Info().
		Uint64("min_fee_rate", genesis.Protocol.Consensus.MinFeeRate).
		Uint64("min_absolute_fee", genesis.Protocol.Consensus.MinAbsoluteFee).
		Msg("Mempool ready")

	// Reverted-tx handler: a reorg may orphan transactions whose outputs
	// are absent from the winning branch; give them another shot at inclusion.
	ch.SetRevertedTxHandler(func(txs []*tx.Transaction) {
		reinserted := 0
		for _, t := range txs {
			if _, err := pool.Add(t); err == nil {
				reinserted++
			}
		}
		if reinserted > 0 {
			logger.Info().
				Int("reverted", len(txs)).
				Int("reinserted", reinserted).
				Msg("Reverted transactions returned to mempool")
		}
	})

	ctx, cancel := context.WithCancel(context.Background())

	n := &Node{
		cfg:         cfg,
		genesis:     genesis,
		logger:      logger,
		db:          db,
		utxoStore:   utxoStore,
		ledgerStore: ledgerStore,
		engine:      engine,
		ch:          ch,
		pool:        pool,
		ctx:         ctx,
		cancel:      cancel,
	}

	return n, nil
}

// Start launches background goroutines (block production). It does not
// block; call Stop to shut down.
func (n *Node) Start() error {
	if n.cfg.Mining.Enabled {
		coinbaseAddr, err := resolveCoinbase(n.cfg.Mining.Coinbase)
		if err != nil {
			return fmt.Errorf("resolve coinbase: %w", err)
		}

		m := miner.New(n.ch, n.engine, n.pool, coinbaseAddr)
		blockTime := time.Duration(config.TargetBlockTimeSeconds) * time.Second

		n.logger.Info().
			Str("coinbase", coinbaseAddr.String()).
			Dur("interval", blockTime).
			Msg("Block production enabled")

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.runMiner(m, blockTime)
		}()
	}

	n.logger.Info().
		Uint32("height", n.ch.Height()).
		Str("tip", n.ch.TipHash().String()[:16]+"...").
		Bool("mining", n.cfg.Mining.Enabled).
		Msg("Node started successfully")

	return nil
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// Height returns the current chain height.
func (n *Node) Height() uint32 {
	return n.ch.Height()
}

// Chain returns the underlying chain manager.
func (n *Node) Chain() *chain.Chain {
	return n.ch
}

// Mempool returns the node's transaction pool.
func (n *Node) Mempool() *mempool.Pool {
	return n.pool
}

// UTXOStore returns the node's UTXO index.
func (n *Node) UTXOStore() *utxo.Store {
	return n.utxoStore
}

// LedgerStore returns the node's certificate/project ledger.
func (n *Node) LedgerStore() *ledger.Store {
	return n.ledgerStore
}

// ── Mining ────────────────────────────────────────────────────────────

func (n *Node) runMiner(m *miner.Miner, blockTime time.Duration) {
	ticker := time.NewTicker(blockTime)
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			n.logger.Info().Msg("Block production stopped")
			return
		case <-ticker.C:
			nextHeight := n.ch.Height() + 1

			blk, err := m.ProduceBlockCtx(n.ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					n.logger.Error().Err(err).Msg("Failed to produce block")
				}
				continue
			}

			// A block may have arrived via an external source while sealing.
			if n.ch.Height() >= nextHeight {
				continue
			}

			if err := n.ch.ProcessBlock(blk); err != nil {
				n.logger.Error().Err(err).Msg("Failed to process own block")
				if errors.Is(err, chain.ErrCoinbaseNotMature) {
					for _, t := range blk.Transactions[1:] {
						n.pool.Remove(t.Hash())
					}
					n.logger.Info().Msg("Evicted mempool transactions due to coinbase maturity")
				}
				continue
			}
			n.pool.RemoveConfirmed(blk.Transactions)

			n.logger.Info().
				Uint32("height", blk.Height).
				Str("hash", blk.Hash().String()[:16]+"...").
				Int("txs", len(blk.Transactions)).
				Uint64("reward", blk.Transactions[0].Outputs[0].Value).
				Msg("Block produced")
		}
	}
}
