// Package coreerr classifies node-facing errors into a stable taxonomy and
// carries structured {code, message, details} to submitters and event
// listeners.
package coreerr

import (
	"errors"
	"fmt"

	"github.com/co2chain/co2chain/internal/consensus"
	"github.com/co2chain/co2chain/internal/ledger"
	"github.com/co2chain/co2chain/pkg/block"
	"github.com/co2chain/co2chain/pkg/tx"
)

// Kind is the broad error category a CoreError belongs to.
type Kind string

const (
	KindMalformed     Kind = "MALFORMED"
	KindInvalidHeader Kind = "INVALID_HEADER"
	KindInvalidTx     Kind = "INVALID_TX"
	KindInvalidBlock  Kind = "INVALID_BLOCK"
	KindConflict      Kind = "CONFLICT"
	KindUnknownParent Kind = "UNKNOWN_PARENT"
	KindIntegrityFault Kind = "INTEGRITY_FAULT"
)

// Code is a stable, version-independent identifier for a specific failure.
type Code string

// Stable error codes, referenced by both API responses and tests.
const (
	CodeMalformedEncoding   Code = "MALFORMED_ENCODING"
	CodeInvalidSignature    Code = "INVALID_SIGNATURE"
	CodeDoubleSpend         Code = "DOUBLE_SPEND"
	CodeCertIDReused        Code = "CERT_ID_REUSED"
	CodeCertOvercompensated Code = "CERT_OVERCOMPENSATED"
	CodeCoinStateForbidden  Code = "COIN_STATE_FORBIDDEN"
	CodeOversizeBlock       Code = "OVERSIZE_BLOCK"
	CodePoWInsufficient     Code = "POW_INSUFFICIENT"
	CodeBadBits             Code = "BAD_BITS"
	CodeBadTimestamp        Code = "BAD_TIMESTAMP"
	CodeNoCoinbase          Code = "NO_COINBASE"
	CodeDuplicateCoinbase   Code = "DUPLICATE_COINBASE"
	CodeMerkleMismatch      Code = "MERKLE_MISMATCH"
	CodeUnknownParent       Code = "UNKNOWN_PARENT"
	CodeRBFUnderbid         Code = "RBF_UNDERBID"
	CodeMempoolFull         Code = "MEMPOOL_FULL"
	CodeIntegrityFault      Code = "INTEGRITY_FAULT"
)

// CoreError is the structured error surfaced to submitters and event
// listeners. It wraps an underlying cause for log-line detail while keeping
// Code and Kind stable across versions.
type CoreError struct {
	Kind    Kind
	Code    Code
	Message string
	Details map[string]string
	Cause   error
}

// New creates a CoreError with no wrapped cause.
func New(kind Kind, code Code, message string) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: message}
}

// Wrap creates a CoreError that wraps an underlying error.
func Wrap(kind Kind, code Code, message string, cause error) *CoreError {
	return &CoreError{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithDetail attaches a detail key/value and returns the receiver for chaining.
func (e *CoreError) WithDetail(key, value string) *CoreError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

func (e *CoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Kind, e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *CoreError) Unwrap() error {
	return e.Cause
}

// Fatal reports whether this error kind should halt the chain writer rather
// than be recovered locally.
func (e *CoreError) Fatal() bool {
	return e.Kind == KindIntegrityFault
}

// Pending reports whether this error represents a not-yet-rejected input
// (stored pending rather than dropped), per the UnknownParent propagation policy.
func (e *CoreError) Pending() bool {
	return e.Kind == KindUnknownParent
}

// Classify maps a leaf validation error to its stable Code, so submitters
// and event listeners see the taxonomy from spec §7 rather than the
// underlying package's plain error. The original error is kept as Cause,
// so errors.Is against the underlying sentinel (e.g.
// tx.ErrCoinStateForbidden) still works through Unwrap. Already-classified
// errors pass through unchanged; unrecognized errors fall back to
// CodeMalformedEncoding rather than being dropped.
func Classify(err error) *CoreError {
	if err == nil {
		return nil
	}
	var existing *CoreError
	if errors.As(err, &existing) {
		return existing
	}

	switch {
	case errors.Is(err, tx.ErrInvalidSig), errors.Is(err, tx.ErrAddressMismatch):
		return Wrap(KindInvalidTx, CodeInvalidSignature, "transaction signature invalid", err)
	case errors.Is(err, tx.ErrInputNotFound):
		return Wrap(KindInvalidTx, CodeDoubleSpend, "referenced output already spent or unknown", err)
	case errors.Is(err, tx.ErrCoinStateForbidden):
		return Wrap(KindInvalidTx, CodeCoinStateForbidden, "coin state forbids this operation", err)
	case errors.Is(err, ledger.ErrCertIDReused):
		return Wrap(KindInvalidTx, CodeCertIDReused, "certificate_id already in use", err)
	case errors.Is(err, ledger.ErrCompensationOverrun):
		return Wrap(KindInvalidTx, CodeCertOvercompensated, "compensation exceeds assigned amount", err)
	case errors.Is(err, block.ErrNoCoinbase):
		return Wrap(KindInvalidBlock, CodeNoCoinbase, "block has no coinbase transaction", err)
	case errors.Is(err, block.ErrMultipleCoinbase):
		return Wrap(KindInvalidBlock, CodeDuplicateCoinbase, "block has more than one coinbase transaction", err)
	case errors.Is(err, block.ErrBadMerkleRoot):
		return Wrap(KindInvalidBlock, CodeMerkleMismatch, "merkle root does not match transactions", err)
	case errors.Is(err, block.ErrBlockTooLarge), errors.Is(err, block.ErrTooManyTxs):
		return Wrap(KindInvalidBlock, CodeOversizeBlock, "block exceeds size or transaction-count limit", err)
	case errors.Is(err, consensus.ErrInsufficientWork):
		return Wrap(KindInvalidHeader, CodePoWInsufficient, "header hash does not meet difficulty target", err)
	case errors.Is(err, consensus.ErrBadBits), errors.Is(err, consensus.ErrBitsAboveLimit), errors.Is(err, consensus.ErrZeroBits):
		return Wrap(KindInvalidHeader, CodeBadBits, "header bits fail consensus check", err)
	default:
		return Wrap(KindMalformed, CodeMalformedEncoding, "validation failed", err)
	}
}
