// Package consensus defines consensus engine interfaces and proof-of-work
// mechanics for the chain.
package consensus

import "github.com/co2chain/co2chain/pkg/block"

// Engine is the interface for consensus implementations.
type Engine interface {
	VerifyHeader(header *block.Header) error
	Prepare(header *block.Header, height uint32) error
	Seal(blk *block.Block) error
}
