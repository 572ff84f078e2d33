// Package tx defines transaction types and validation.
package tx

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/types"
)

// Kind identifies the operation a transaction performs. Klingnet's teacher
// style avoids virtual dispatch for transaction variants in favor of a
// small tagged-sum byte, switched on explicitly wherever kind-specific
// rules apply.
type Kind uint8

const (
	KindCoinbase           Kind = 0
	KindTransfer           Kind = 1
	KindAssignCert         Kind = 2
	KindAssignCompensation Kind = 3
	KindBurn               Kind = 4
)

// String returns a human-readable name for the transaction kind.
func (k Kind) String() string {
	switch k {
	case KindCoinbase:
		return "COINBASE"
	case KindTransfer:
		return "TRANSFER"
	case KindAssignCert:
		return "ASSIGN_CERT"
	case KindAssignCompensation:
		return "ASSIGN_COMPENSATION"
	case KindBurn:
		return "BURN"
	default:
		return "UNKNOWN"
	}
}

// Transaction represents a blockchain transaction.
type Transaction struct {
	Version   uint32            `json:"version"`
	Kind      Kind              `json:"kind"`
	Inputs    []Input           `json:"inputs"`
	Outputs   []Output          `json:"outputs"`
	Timestamp uint32            `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Input references a UTXO being spent.
type Input struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature []byte         `json:"signature"`
	PubKey    []byte         `json:"pubkey"`
}

// inputJSON is the JSON representation of Input with hex-encoded byte fields.
type inputJSON struct {
	PrevOut   types.Outpoint `json:"prevout"`
	Signature *string        `json:"signature"`
	PubKey    *string        `json:"pubkey"`
}

// MarshalJSON encodes the input with hex-encoded signature and pubkey.
func (in Input) MarshalJSON() ([]byte, error) {
	j := inputJSON{PrevOut: in.PrevOut}
	if in.Signature != nil {
		s := hex.EncodeToString(in.Signature)
		j.Signature = &s
	}
	if in.PubKey != nil {
		p := hex.EncodeToString(in.PubKey)
		j.PubKey = &p
	}
	return json.Marshal(j)
}

// UnmarshalJSON decodes an input with hex-encoded signature and pubkey.
func (in *Input) UnmarshalJSON(data []byte) error {
	var j inputJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	in.PrevOut = j.PrevOut
	if j.Signature != nil {
		b, err := hex.DecodeString(*j.Signature)
		if err != nil {
			return err
		}
		in.Signature = b
	}
	if j.PubKey != nil {
		b, err := hex.DecodeString(*j.PubKey)
		if err != nil {
			return err
		}
		in.PubKey = b
	}
	return nil
}

// Output defines a new UTXO.
type Output struct {
	Value         uint64          `json:"value"`
	Address       types.Address   `json:"address"`
	CoinState     types.CoinState `json:"coin_state"`
	CertificateID string          `json:"certificate_id,omitempty"`
}

// Hash computes the transaction ID (Hash256 of the canonical signing data).
// This excludes signatures to avoid circular dependency.
func (t *Transaction) Hash() types.Hash {
	return crypto.Hash256(t.SigningBytes())
}

// SigningBytes returns the canonical byte representation used for signing
// and for the persisted transaction encoding:
//
//	version u32, kind u8, input_count varint, inputs...,
//	output_count varint, outputs..., timestamp u32, metadata_len varint, metadata_bytes
//
// Each input serializes as prevout(36 bytes); coinbase inputs additionally
// carry their extra-nonce bytes so distinct coinbases at the same height
// hash to distinct transaction IDs. Each output serializes as
// value(8) | address(20) | coin_state(1) | certificate_id (varint-len + bytes).
func (t *Transaction) SigningBytes() []byte {
	var buf []byte
	var varintBuf [binary.MaxVarintLen64]byte

	appendUvarint := func(n uint64) {
		l := binary.PutUvarint(varintBuf[:], n)
		buf = append(buf, varintBuf[:l]...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, t.Version)
	buf = append(buf, byte(t.Kind))

	appendUvarint(uint64(len(t.Inputs)))
	for _, in := range t.Inputs {
		buf = append(buf, in.PrevOut.TxID[:]...)
		buf = binary.LittleEndian.AppendUint32(buf, in.PrevOut.Index)
		if in.PrevOut.IsZero() && len(in.Signature) > 0 {
			appendUvarint(uint64(len(in.Signature)))
			buf = append(buf, in.Signature...)
		}
	}

	appendUvarint(uint64(len(t.Outputs)))
	for _, out := range t.Outputs {
		buf = binary.LittleEndian.AppendUint64(buf, out.Value)
		buf = append(buf, out.Address[:]...)
		buf = append(buf, byte(out.CoinState))
		appendUvarint(uint64(len(out.CertificateID)))
		buf = append(buf, out.CertificateID...)
	}

	buf = binary.LittleEndian.AppendUint32(buf, t.Timestamp)

	metaBytes := encodeMetadata(t.Metadata)
	appendUvarint(uint64(len(metaBytes)))
	buf = append(buf, metaBytes...)

	return buf
}

// encodeMetadata produces a deterministic encoding of the metadata map:
// varint(count) then, for each key in sorted order, varint-len-prefixed
// key and value.
func encodeMetadata(m map[string]string) []byte {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf []byte
	var varintBuf [binary.MaxVarintLen64]byte
	appendUvarint := func(n uint64) {
		l := binary.PutUvarint(varintBuf[:], n)
		buf = append(buf, varintBuf[:l]...)
	}

	appendUvarint(uint64(len(keys)))
	for _, k := range keys {
		v := m[k]
		appendUvarint(uint64(len(k)))
		buf = append(buf, k...)
		appendUvarint(uint64(len(v)))
		buf = append(buf, v...)
	}
	return buf
}

// TotalOutputValue returns the sum of all output values.
// Returns an error if the sum overflows uint64.
func (t *Transaction) TotalOutputValue() (uint64, error) {
	var total uint64
	for _, out := range t.Outputs {
		if total > math.MaxUint64-out.Value {
			return 0, fmt.Errorf("output value overflow")
		}
		total += out.Value
	}
	return total, nil
}

// IsCoinbase returns true if the transaction has a single zero-outpoint input.
func (t *Transaction) IsCoinbase() bool {
	return len(t.Inputs) == 1 && t.Inputs[0].PrevOut.IsZero()
}
