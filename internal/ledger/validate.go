package ledger

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/co2chain/co2chain/pkg/tx"
	"github.com/co2chain/co2chain/pkg/types"
)

// Certificate/ledger validation errors.
var (
	ErrBadCertificateID     = errors.New("certificate_id does not match the required format")
	ErrCertIDReused         = errors.New("certificate_id already in use")
	ErrMissingBlob          = errors.New("ASSIGN_CERT transaction missing a decodable certificate blob")
	ErrAssignExceedsTotal   = errors.New("assignment increment exceeds certificate total_amount")
	ErrUnknownCertificate   = errors.New("referenced certificate does not exist")
	ErrMixedCertificates    = errors.New("transaction spends inputs from more than one certificate")
	ErrNoCertificateInputs  = errors.New("transaction has no certificate-bound inputs")
	ErrCompensationOverrun  = errors.New("compensation would exceed assigned_amount")
	ErrCompensationNoTarget = errors.New("compensated output carries no certificate_id to credit")
)

// Reader is the read-only view of the certificate ledger ValidateCertificateOps needs.
type Reader interface {
	GetCertificate(id string) (*Certificate, error)
	HasCertificate(id string) (bool, error)
}

// InputCertificates resolves the certificate_id (if any) bound to a spent
// UTXO, read from the UTXO set before the spending transaction's inputs are
// removed from it.
type InputCertificates interface {
	CertificateIDOf(outpoint types.Outpoint) (string, error)
}

// Delta is the set of certificate/project changes produced by validating one
// transaction. The chain manager applies each transaction's delta as it
// connects that transaction; disconnect reverses them with Undo.
type Delta struct {
	NewProjects      []*Project
	NewCertificates  []*Certificate
	UpdatedCertificates []*Certificate
}

// Empty reports whether the delta has no effect.
func (d *Delta) Empty() bool {
	return d == nil || (len(d.NewProjects) == 0 && len(d.NewCertificates) == 0 && len(d.UpdatedCertificates) == 0)
}

// ValidateCertificateOps checks the certificate-ledger invariants for a
// single transaction (already known to have passed pkg/tx structural and
// UTXO-spendability validation) and returns the ledger delta it implies.
// height is the height of the block the transaction is being connected in
// (used only to stamp a newly created Project).
func ValidateCertificateOps(t *tx.Transaction, height uint32, reader Reader, inputs InputCertificates) (*Delta, error) {
	switch t.Kind {
	case tx.KindAssignCert:
		return validateAssignCert(t, height, reader)
	case tx.KindAssignCompensation:
		return validateCompensation(t, reader, inputs)
	case tx.KindBurn:
		return validateBurnCompensation(t, reader, inputs)
	default:
		return nil, nil
	}
}

func validateAssignCert(t *tx.Transaction, height uint32, reader Reader) (*Delta, error) {
	certID := certOutputID(t)
	if certID == "" {
		return nil, nil // No CERTIFIED outputs: nothing for the ledger to track.
	}
	if !ValidCertificateID(certID) {
		return nil, fmt.Errorf("%w: %s", ErrBadCertificateID, certID)
	}

	exists, err := reader.HasCertificate(certID)
	if err != nil {
		return nil, fmt.Errorf("certificate lookup: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrCertIDReused, certID)
	}

	blobJSON, ok := t.Metadata["certificate"]
	if !ok {
		return nil, ErrMissingBlob
	}
	var blob CertificateBlob
	if err := json.Unmarshal([]byte(blobJSON), &blob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMissingBlob, err)
	}

	increment := sumOutputsForCert(t, certID, types.Certified)
	if increment > blob.TotalAmount {
		return nil, fmt.Errorf("%w: increment=%d total=%d", ErrAssignExceedsTotal, increment, blob.TotalAmount)
	}

	cert := &Certificate{
		ID:             certID,
		ProjectID:      blob.ProjectID,
		TotalAmount:    blob.TotalAmount,
		AssignedAmount: increment,
		IssuerAddress:  firstOutputAddress(t),
		Standard:       blob.Standard,
		Location:       blob.Location,
		IssueDate:      blob.IssueDate,
		Metadata:       blob.Metadata,
	}

	// Project existence is checked by Store.Apply against its own project
	// index; it creates the Project record only the first time any
	// certificate references that project_id.
	delta := &Delta{
		NewCertificates: []*Certificate{cert},
		NewProjects: []*Project{{
			ID:            blob.ProjectID,
			Name:          blob.ProjectName,
			Type:          blob.ProjectType,
			Location:      blob.ProjectLocation,
			CreatedHeight: height,
		}},
	}

	return delta, nil
}

func validateCompensation(t *tx.Transaction, reader Reader, inputs InputCertificates) (*Delta, error) {
	certID, err := singleInputCertificate(t, inputs)
	if err != nil {
		return nil, err
	}

	amount := sumOutputsForCert(t, certID, types.Compensated)
	return applyCompensation(certID, amount, reader)
}

func validateBurnCompensation(t *tx.Transaction, reader Reader, inputs InputCertificates) (*Delta, error) {
	certID := certOutputID(t)
	if certID == "" {
		return nil, nil // Plain burn of SPENDABLE coins; nothing for the ledger.
	}
	amount := sumOutputsForCert(t, certID, types.Compensated)
	return applyCompensation(certID, amount, reader)
}

func applyCompensation(certID string, amount uint64, reader Reader) (*Delta, error) {
	if amount == 0 {
		return nil, ErrCompensationNoTarget
	}
	cert, err := reader.GetCertificate(certID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCertificate, certID)
	}
	if cert.CompensatedAmount+amount > cert.AssignedAmount {
		return nil, fmt.Errorf("%w: %s would reach %d, assigned %d",
			ErrCompensationOverrun, certID, cert.CompensatedAmount+amount, cert.AssignedAmount)
	}

	updated := *cert
	updated.CompensatedAmount += amount
	return &Delta{UpdatedCertificates: []*Certificate{&updated}}, nil
}

// singleInputCertificate returns the certificate_id shared by every
// non-coinbase input, or an error if the inputs reference more than one
// certificate or none at all.
func singleInputCertificate(t *tx.Transaction, inputs InputCertificates) (string, error) {
	var certID string
	for _, in := range t.Inputs {
		if in.PrevOut.IsZero() {
			continue
		}
		id, err := inputs.CertificateIDOf(in.PrevOut)
		if err != nil {
			return "", fmt.Errorf("resolve input certificate: %w", err)
		}
		if id == "" {
			continue
		}
		if certID == "" {
			certID = id
		} else if certID != id {
			return "", fmt.Errorf("%w: %s and %s", ErrMixedCertificates, certID, id)
		}
	}
	if certID == "" {
		return "", ErrNoCertificateInputs
	}
	return certID, nil
}

// certOutputID returns the certificate_id bound to this transaction's
// CERTIFIED or COMPENSATED outputs (they are validated elsewhere to all
// share one id within a single ASSIGN_CERT/ASSIGN_COMPENSATION/BURN tx).
func certOutputID(t *tx.Transaction) string {
	for _, out := range t.Outputs {
		if out.CertificateID != "" {
			return out.CertificateID
		}
	}
	return ""
}

func sumOutputsForCert(t *tx.Transaction, certID string, state types.CoinState) uint64 {
	var total uint64
	for _, out := range t.Outputs {
		if out.CertificateID == certID && out.CoinState == state {
			total += out.Value
		}
	}
	return total
}

func firstOutputAddress(t *tx.Transaction) types.Address {
	if len(t.Outputs) == 0 {
		return types.Address{}
	}
	return t.Outputs[0].Address
}
