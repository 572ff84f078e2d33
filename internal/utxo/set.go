// Package utxo manages the unspent transaction output set.
package utxo

import "github.com/co2chain/co2chain/pkg/types"

// UTXO represents an unspent transaction output.
type UTXO struct {
	Outpoint      types.Outpoint  `json:"outpoint"`
	Value         uint64          `json:"value"`
	Address       types.Address   `json:"address"`
	CoinState     types.CoinState `json:"coin_state"`
	CertificateID string          `json:"certificate_id,omitempty"`
	Height        uint32          `json:"height"`
	Coinbase      bool            `json:"coinbase"`
}

// Set is the interface for UTXO storage.
type Set interface {
	Get(outpoint types.Outpoint) (*UTXO, error)
	Put(utxo *UTXO) error
	Delete(outpoint types.Outpoint) error
	Has(outpoint types.Outpoint) (bool, error)
}
