// Package block defines block types and validation.
package block

import "github.com/co2chain/co2chain/pkg/tx"

// Block represents a block in the chain. Height is chain-manager metadata
// (it is not part of the header's signing bytes and does not affect the
// block hash); it is carried alongside the header once the block is
// connected to a specific position in a chain.
type Block struct {
	Header       *Header           `json:"header"`
	Height       uint32            `json:"height"`
	Transactions []*tx.Transaction `json:"transactions"`
}

// NewBlock creates a new block with the given header, height and transactions.
func NewBlock(header *Header, height uint32, txs []*tx.Transaction) *Block {
	return &Block{
		Header:       header,
		Height:       height,
		Transactions: txs,
	}
}
