package chain

import (
	"math/big"

	"github.com/co2chain/co2chain/pkg/types"
)

// State holds the current chain tip state.
type State struct {
	Height         uint32
	TipHash        types.Hash
	Supply         uint64   // Total coins in circulation (genesis alloc + cumulative subsidy).
	CumulativeWork *big.Int // Sum of BlockWork(bits) over the active chain, the fork-choice metric.
	TipTimestamp   uint32   // Timestamp of the current tip block.
}

// IsGenesis returns true if no blocks have been processed yet.
func (s *State) IsGenesis() bool {
	return s.Height == 0 && s.TipHash.IsZero()
}
