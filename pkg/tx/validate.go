package tx

import (
	"errors"
	"fmt"
	"math"

	"github.com/co2chain/co2chain/config"
	"github.com/co2chain/co2chain/pkg/crypto"
	"github.com/co2chain/co2chain/pkg/types"
)

// Validation errors.
var (
	ErrNoInputs          = errors.New("transaction has no inputs")
	ErrNoOutputs         = errors.New("transaction has no outputs")
	ErrDuplicateInput    = errors.New("duplicate input")
	ErrOutputOverflow    = errors.New("output values overflow")
	ErrZeroOutput        = errors.New("output value is zero")
	ErrOutputExceedsMax  = errors.New("total output value exceeds max money")
	ErrMissingPubKey     = errors.New("input missing public key")
	ErrMissingSig        = errors.New("input missing signature")
	ErrInvalidSig        = errors.New("invalid signature")
	ErrTooManyInputs     = errors.New("too many inputs")
	ErrTooManyOutputs    = errors.New("too many outputs")
	ErrMetadataTooLarge  = errors.New("metadata too large")
	ErrNotCoinbaseShape  = errors.New("coinbase transaction must have exactly one null-outpoint input")
	ErrMissingCertBlob   = errors.New("ASSIGN_CERT transaction missing certificate metadata")
	ErrCertOutputWrongOp = errors.New("CERTIFIED output only allowed on ASSIGN_CERT")
	ErrCompOutputWrongOp = errors.New("COMPENSATED output only allowed on ASSIGN_COMPENSATION or BURN")
	ErrCompNotOnlyOutput = errors.New("ASSIGN_COMPENSATION outputs must all be COMPENSATED")
	ErrBurnWrongAddress  = errors.New("BURN outputs must pay the canonical burn address")
	ErrUnknownKind       = errors.New("unknown transaction kind")
)

// BurnAddress is the canonical, unspendable address BURN transactions pay.
func BurnAddress() types.Address {
	return types.Address(config.CanonicalBurnAddressPayload)
}

// Validate checks transaction structure and basic, kind-specific rules.
// This does NOT check UTXO existence (that requires the UTXO set, see
// ValidateWithUTXOs) and does NOT check certificate-ledger invariants
// (see internal/ledger).
func (t *Transaction) Validate() error {
	if len(t.Inputs) == 0 {
		return ErrNoInputs
	}
	if len(t.Outputs) == 0 {
		return ErrNoOutputs
	}
	if len(t.Inputs) > config.MaxTxInputs {
		return fmt.Errorf("%w: %d inputs, max %d", ErrTooManyInputs, len(t.Inputs), config.MaxTxInputs)
	}
	if len(t.Outputs) > config.MaxTxOutputs {
		return fmt.Errorf("%w: %d outputs, max %d", ErrTooManyOutputs, len(t.Outputs), config.MaxTxOutputs)
	}
	if len(encodeMetadata(t.Metadata)) > config.MaxMetadata {
		return fmt.Errorf("%w: max %d bytes", ErrMetadataTooLarge, config.MaxMetadata)
	}

	seen := make(map[types.Outpoint]bool, len(t.Inputs))
	for i, in := range t.Inputs {
		if seen[in.PrevOut] {
			return fmt.Errorf("input %d: %w", i, ErrDuplicateInput)
		}
		seen[in.PrevOut] = true
	}

	isCoinbase := t.Kind == KindCoinbase
	if isCoinbase {
		if len(t.Inputs) != 1 || !t.Inputs[0].PrevOut.IsZero() {
			return ErrNotCoinbaseShape
		}
	} else {
		for i, in := range t.Inputs {
			if in.PrevOut.IsZero() {
				return fmt.Errorf("input %d: null outpoint only allowed in COINBASE", i)
			}
			if len(in.PubKey) == 0 {
				return fmt.Errorf("input %d: %w", i, ErrMissingPubKey)
			}
			if len(in.Signature) == 0 {
				return fmt.Errorf("input %d: %w", i, ErrMissingSig)
			}
		}
	}

	var totalOutput uint64
	for i, out := range t.Outputs {
		if out.Value == 0 {
			return fmt.Errorf("output %d: %w", i, ErrZeroOutput)
		}
		if totalOutput > math.MaxUint64-out.Value {
			return fmt.Errorf("output %d: %w", i, ErrOutputOverflow)
		}
		totalOutput += out.Value
		if out.CoinState == types.Certified && out.CertificateID == "" {
			return fmt.Errorf("output %d: CERTIFIED output must carry a certificate_id", i)
		}
	}
	if totalOutput > config.MaxMoney {
		return fmt.Errorf("%w: %d", ErrOutputExceedsMax, totalOutput)
	}

	if err := t.validateKindShape(); err != nil {
		return err
	}

	return nil
}

// validateKindShape checks the per-kind output-shape rules from phase B.
// Certificate-ledger invariants (certificate_id uniqueness, accumulator
// bounds) are NOT checked here — see internal/ledger.ValidateCertificateOps.
func (t *Transaction) validateKindShape() error {
	switch t.Kind {
	case KindCoinbase:
		for i, out := range t.Outputs {
			if out.CoinState != types.Spendable {
				return fmt.Errorf("output %d: coinbase outputs must be SPENDABLE", i)
			}
		}
		return nil

	case KindTransfer:
		for i, out := range t.Outputs {
			if out.CoinState == types.Certified {
				return fmt.Errorf("output %d: %w", i, ErrCertOutputWrongOp)
			}
			if out.CoinState != types.Spendable {
				return fmt.Errorf("output %d: %w", i, ErrCompOutputWrongOp)
			}
		}
		return nil

	case KindAssignCert:
		if t.Metadata["certificate"] == "" {
			return ErrMissingCertBlob
		}
		for i, out := range t.Outputs {
			if out.CoinState == types.Compensated {
				return fmt.Errorf("output %d: %w", i, ErrCompOutputWrongOp)
			}
		}
		return nil

	case KindAssignCompensation:
		for i, out := range t.Outputs {
			if out.CoinState != types.Compensated {
				return fmt.Errorf("output %d: %w", i, ErrCompNotOnlyOutput)
			}
		}
		return nil

	case KindBurn:
		burn := BurnAddress()
		for i, out := range t.Outputs {
			if out.Address != burn {
				return fmt.Errorf("output %d: %w", i, ErrBurnWrongAddress)
			}
			if out.CertificateID != "" && out.CoinState != types.Compensated {
				return fmt.Errorf("output %d: burned certified coin must be marked COMPENSATED", i)
			}
			if out.CertificateID == "" && out.CoinState != types.Spendable {
				return fmt.Errorf("output %d: plain burn output must be SPENDABLE (and thus unspendable only by address)", i)
			}
		}
		return nil

	default:
		return fmt.Errorf("%w: %d", ErrUnknownKind, t.Kind)
	}
}

// VerifySignatures checks that all input signatures are valid for this
// transaction, each against its own declared public key. UTXO-address
// binding is checked separately in ValidateWithUTXOs.
func (t *Transaction) VerifySignatures() error {
	if t.IsCoinbase() {
		return nil
	}
	hash := t.Hash()
	for i, in := range t.Inputs {
		if !crypto.VerifySignature(hash[:], in.Signature, in.PubKey) {
			return fmt.Errorf("input %d: %w", i, ErrInvalidSig)
		}
	}
	return nil
}
