// Package ledger derives and persists the certificate/project index from
// committed ASSIGN_CERT, ASSIGN_COMPENSATION, and BURN transactions. It is
// the CO2-specific analog of a colored-coin token ledger: certificates are
// identified by a declared ID rather than derived from an outpoint, but the
// "walk the transaction, build a delta, apply it under the chain writer
// lock" shape is the same.
package ledger

import (
	"regexp"

	"github.com/co2chain/co2chain/pkg/types"
)

// certificateIDPattern is the frozen wire format for certificate_id: CERT-
// followed by a 4-digit year and a monotonically assigned sequence number
// of at least 4 digits (CERT-2026-0001, CERT-2026-10432, ...).
var certificateIDPattern = regexp.MustCompile(`^CERT-\d{4}-\d{4,}$`)

// ValidCertificateID reports whether id matches the certificate_id wire format.
func ValidCertificateID(id string) bool {
	return certificateIDPattern.MatchString(id)
}

// Certificate is an on-chain record of a measured CO2 reduction.
type Certificate struct {
	ID                string            `json:"id"`
	ProjectID         string            `json:"project_id"`
	TotalAmount       uint64            `json:"total_amount"`
	AssignedAmount    uint64            `json:"assigned_amount"`
	CompensatedAmount uint64            `json:"compensated_amount"`
	IssuerAddress     types.Address     `json:"issuer_address"`
	Standard          string            `json:"standard"`
	Location          string            `json:"location"`
	IssueDate         uint32            `json:"issue_date"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// Project is the real-world source of one or more certificates.
type Project struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	Location      string `json:"location"`
	CreatedHeight uint32 `json:"created_height"`
}

// CertificateBlob is the frozen JSON layout carried in an ASSIGN_CERT
// transaction's Metadata["certificate"] field. The canonical byte layout of
// this blob is left unspecified upstream; this node freezes it as JSON so
// every implementation that speaks this wire format agrees on it.
type CertificateBlob struct {
	ProjectID       string            `json:"project_id"`
	ProjectName     string            `json:"project_name"`
	ProjectType     string            `json:"project_type"`
	ProjectLocation string            `json:"project_location"`
	TotalAmount     uint64            `json:"total_amount"`
	Standard        string            `json:"standard"`
	Location        string            `json:"location"`
	IssueDate       uint32            `json:"issue_date"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}
