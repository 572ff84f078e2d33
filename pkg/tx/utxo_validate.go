package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/types"
)

// UTXO-aware validation errors.
var (
	ErrInputNotFound      = errors.New("input UTXO not found")
	ErrInsufficientFee    = errors.New("insufficient fee")
	ErrInputOverflow      = errors.New("input values overflow")
	ErrAddressMismatch    = errors.New("pubkey does not hash to the UTXO's address")
	ErrCoinStateForbidden = errors.New("coin state forbids this operation")
)

// UTXOProvider provides read-only access to the UTXO set for validation.
type UTXOProvider interface {
	GetUTXO(outpoint types.Outpoint) (value uint64, address types.Address, coinState types.CoinState, err error)
	HasUTXO(outpoint types.Outpoint) bool
}

// allowedInputState reports whether a transaction of the given kind may
// spend a coin currently in the given state. COMPENSATED coins are
// terminal and can never be spent by any kind.
func allowedInputState(kind Kind, state types.CoinState) bool {
	switch state {
	case types.Compensated:
		return false
	case types.Certified:
		return kind == KindAssignCompensation
	case types.Spendable:
		return kind == KindTransfer || kind == KindAssignCert || kind == KindBurn
	default:
		return false
	}
}

// ValidateWithUTXOs performs full phase-C validation of a transaction
// against the UTXO set: input existence, coin-state transition legality,
// signature verification against each input's bound address, and fee
// sufficiency. Certificate-ledger invariants (certificate_id uniqueness,
// issuance/assignment/compensation accounting) are validated separately
// by internal/ledger, which has its own view of certificate state.
//
// Returns the fee (total input value minus total output value).
func (t *Transaction) ValidateWithUTXOs(provider UTXOProvider) (uint64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	if err := t.VerifySignatures(); err != nil {
		return 0, err
	}

	var totalInput uint64
	for i, in := range t.Inputs {
		if in.PrevOut.IsZero() {
			continue // coinbase
		}

		if !provider.HasUTXO(in.PrevOut) {
			return 0, fmt.Errorf("input %d (%s): %w", i, in.PrevOut, ErrInputNotFound)
		}

		value, addr, state, err := provider.GetUTXO(in.PrevOut)
		if err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if !allowedInputState(t.Kind, state) {
			return 0, fmt.Errorf("input %d (%s): %w: cannot spend %s coin in a %s transaction",
				i, in.PrevOut, ErrCoinStateForbidden, state, t.Kind)
		}

		if err := verifyInputAddress(in.PubKey, addr); err != nil {
			return 0, fmt.Errorf("input %d: %w", i, err)
		}

		if totalInput > math.MaxUint64-value {
			return 0, fmt.Errorf("input %d: %w", i, ErrInputOverflow)
		}
		totalInput += value
	}

	totalOutput, err := t.TotalOutputValue()
	if err != nil {
		return 0, fmt.Errorf("output overflow: %w", err)
	}
	if t.IsCoinbase() {
		return 0, nil
	}
	if totalInput < totalOutput {
		return 0, fmt.Errorf("%w: inputs=%d outputs=%d", ErrInsufficientFee, totalInput, totalOutput)
	}

	return totalInput - totalOutput, nil
}

// verifyInputAddress checks that the input's declared public key hashes to
// the address bound to the UTXO it spends.
func verifyInputAddress(pubKey []byte, utxoAddr types.Address) error {
	if len(pubKey) == 0 {
		return ErrMissingPubKey
	}
	derived := crypto.AddressFromPubKey(pubKey)
	if derived != utxoAddr {
		return fmt.Errorf("%w: expected %s, got %s", ErrAddressMismatch, utxoAddr, derived)
	}
	return nil
}
