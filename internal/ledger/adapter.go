package ledger

import (
	"fmt"

	"github.com/co2chain/co2chain/internal/utxo"
	"github.com/co2chain/co2chain/pkg/types"
)

// UTXOCertAdapter resolves the certificate_id bound to a spent UTXO by
// reading it from the UTXO set before the spending transaction removes it.
type UTXOCertAdapter struct {
	set utxo.Set
}

// NewUTXOCertAdapter creates an InputCertificates view over a utxo.Set.
func NewUTXOCertAdapter(set utxo.Set) *UTXOCertAdapter {
	return &UTXOCertAdapter{set: set}
}

// CertificateIDOf returns the certificate_id bound to the UTXO at outpoint,
// or "" if the UTXO has no certificate_id (a plain SPENDABLE coin).
func (a *UTXOCertAdapter) CertificateIDOf(outpoint types.Outpoint) (string, error) {
	u, err := a.set.Get(outpoint)
	if err != nil {
		return "", fmt.Errorf("lookup utxo %s: %w", outpoint, err)
	}
	return u.CertificateID, nil
}
