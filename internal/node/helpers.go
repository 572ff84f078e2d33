package node

import (
	"fmt"

	"github.com/co2chain/co2chain/config"
	"github.com/co2chain/co2chain/internal/consensus"
	"github.com/co2chain/co2chain/pkg/types"
)

// resolveCoinbase parses the configured coinbase address. Mining requires
// an explicit address — proof-of-work has no signing key to derive one from.
func resolveCoinbase(coinbaseStr string) (types.Address, error) {
	if coinbaseStr == "" {
		return types.Address{}, fmt.Errorf("mining.enabled requires mining.coinbase address")
	}
	addr, err := types.ParseAddress(coinbaseStr)
	if err != nil {
		return types.Address{}, fmt.Errorf("invalid coinbase address: %w", err)
	}
	return addr, nil
}

// createEngine builds the proof-of-work consensus engine from genesis rules.
func createEngine(genesis *config.Genesis) (consensus.Engine, error) {
	rules := genesis.Protocol.Consensus
	engine, err := consensus.NewPoW(rules.PoWHash, rules.GenesisBits,
		config.RetargetInterval, config.TargetBlockTimeSeconds, config.RetargetClamp)
	if err != nil {
		return nil, fmt.Errorf("create proof-of-work engine: %w", err)
	}
	return engine, nil
}

// formatDifficulty returns a human-readable difficulty string (e.g. "1.05M").
func formatDifficulty(d uint64) string {
	switch {
	case d >= 1_000_000_000_000:
		return fmt.Sprintf("%.2fT", float64(d)/1_000_000_000_000)
	case d >= 1_000_000_000:
		return fmt.Sprintf("%.2fG", float64(d)/1_000_000_000)
	case d >= 1_000_000:
		return fmt.Sprintf("%.2fM", float64(d)/1_000_000)
	case d >= 1_000:
		return fmt.Sprintf("%.2fK", float64(d)/1_000)
	default:
		return fmt.Sprintf("%d", d)
	}
}
