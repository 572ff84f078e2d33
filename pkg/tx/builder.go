package tx

import (
	"fmt"

	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/types"
)

// Builder constructs transactions incrementally.
type Builder struct {
	tx *Transaction
}

// NewBuilder creates a new transaction builder of the given kind.
func NewBuilder(kind Kind) *Builder {
	return &Builder{
		tx: &Transaction{Version: 1, Kind: kind},
	}
}

// AddInput adds an input referencing a previous output.
func (b *Builder) AddInput(prevOut types.Outpoint) *Builder {
	b.tx.Inputs = append(b.tx.Inputs, Input{PrevOut: prevOut})
	return b
}

// AddOutput adds a plain SPENDABLE output.
func (b *Builder) AddOutput(value uint64, addr types.Address) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{Value: value, Address: addr, CoinState: types.Spendable})
	return b
}

// AddCertifiedOutput adds a CERTIFIED output bound to a certificate_id.
// Only meaningful on an ASSIGN_CERT transaction.
func (b *Builder) AddCertifiedOutput(value uint64, addr types.Address, certificateID string) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{
		Value:         value,
		Address:       addr,
		CoinState:     types.Certified,
		CertificateID: certificateID,
	})
	return b
}

// AddCompensatedOutput adds a COMPENSATED output bound to a certificate_id.
// Only meaningful on an ASSIGN_COMPENSATION or BURN transaction.
func (b *Builder) AddCompensatedOutput(value uint64, addr types.Address, certificateID string) *Builder {
	b.tx.Outputs = append(b.tx.Outputs, Output{
		Value:         value,
		Address:       addr,
		CoinState:     types.Compensated,
		CertificateID: certificateID,
	})
	return b
}

// SetTimestamp sets the transaction timestamp.
func (b *Builder) SetTimestamp(ts uint32) *Builder {
	b.tx.Timestamp = ts
	return b
}

// SetMetadata sets a single metadata key/value pair.
func (b *Builder) SetMetadata(key, value string) *Builder {
	if b.tx.Metadata == nil {
		b.tx.Metadata = make(map[string]string)
	}
	b.tx.Metadata[key] = value
	return b
}

// Sign signs all inputs with the provided private key.
// Each input gets the same signature (single-key spending).
func (b *Builder) Sign(key *crypto.PrivateKey) error {
	hash := b.tx.Hash()
	sig, err := key.Sign(hash[:])
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	pubKey := key.PublicKey()
	for i := range b.tx.Inputs {
		b.tx.Inputs[i].Signature = sig
		b.tx.Inputs[i].PubKey = pubKey
	}
	return nil
}

// SignMulti signs each input with the key that owns its outpoint.
// outpointAddr maps each input's outpoint to the address that owns it.
// signers maps each address to the private key that can spend from it.
func (b *Builder) SignMulti(
	signers map[types.Address]*crypto.PrivateKey,
	outpointAddr map[types.Outpoint]types.Address,
) error {
	hash := b.tx.Hash()

	type sigPub struct {
		sig    []byte
		pubKey []byte
	}
	cache := make(map[types.Address]*sigPub)

	for i := range b.tx.Inputs {
		if b.tx.Inputs[i].PrevOut.IsZero() {
			continue
		}

		addr, ok := outpointAddr[b.tx.Inputs[i].PrevOut]
		if !ok {
			return fmt.Errorf("no address mapping for input %d outpoint", i)
		}
		key, ok := signers[addr]
		if !ok {
			return fmt.Errorf("no signer for address %s (input %d)", addr, i)
		}

		sp, cached := cache[addr]
		if !cached {
			sig, err := key.Sign(hash[:])
			if err != nil {
				return fmt.Errorf("sign input %d: %w", i, err)
			}
			sp = &sigPub{sig: sig, pubKey: key.PublicKey()}
			cache[addr] = sp
		}
		b.tx.Inputs[i].Signature = sp.sig
		b.tx.Inputs[i].PubKey = sp.pubKey
	}
	return nil
}

// Build returns the constructed transaction.
// Does NOT validate — call tx.Validate() separately.
func (b *Builder) Build() *Transaction {
	return b.tx
}
