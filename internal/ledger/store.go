package ledger

import (
	"encoding/json"
	"fmt"

	"github.com/co2chain/co2chain/internal/storage"
)

// Key prefixes for the ledger store.
var (
	prefixCertificate = []byte("t/") // t/<certificate_id> -> Certificate JSON
	prefixProject     = []byte("p/") // p/<project_id> -> Project JSON
)

// Store persists the certificate/project ledger to a storage.DB.
type Store struct {
	db storage.DB
}

// NewStore creates a ledger store backed by the given database.
func NewStore(db storage.DB) *Store {
	return &Store{db: db}
}

func certKey(id string) []byte {
	return append(append([]byte{}, prefixCertificate...), []byte(id)...)
}

func projKey(id string) []byte {
	return append(append([]byte{}, prefixProject...), []byte(id)...)
}

// GetCertificate retrieves a certificate by ID.
func (s *Store) GetCertificate(id string) (*Certificate, error) {
	data, err := s.db.Get(certKey(id))
	if err != nil {
		return nil, fmt.Errorf("certificate get: %w", err)
	}
	var c Certificate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("certificate unmarshal: %w", err)
	}
	return &c, nil
}

// HasCertificate reports whether a certificate with the given ID exists.
func (s *Store) HasCertificate(id string) (bool, error) {
	return s.db.Has(certKey(id))
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(id string) (*Project, error) {
	data, err := s.db.Get(projKey(id))
	if err != nil {
		return nil, fmt.Errorf("project get: %w", err)
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("project unmarshal: %w", err)
	}
	return &p, nil
}

// HasProject reports whether a project with the given ID exists.
func (s *Store) HasProject(id string) (bool, error) {
	return s.db.Has(projKey(id))
}

func (s *Store) putCertificate(c *Certificate) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("certificate marshal: %w", err)
	}
	return s.db.Put(certKey(c.ID), data)
}

func (s *Store) putProject(p *Project) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("project marshal: %w", err)
	}
	return s.db.Put(projKey(p.ID), data)
}

// Apply persists a delta produced by ValidateCertificateOps, in order, when
// a block connects. New projects are only created the first time seen;
// certificate updates overwrite the prior record.
func (s *Store) Apply(delta *Delta) error {
	if delta.Empty() {
		return nil
	}
	for _, p := range delta.NewProjects {
		exists, err := s.HasProject(p.ID)
		if err != nil {
			return fmt.Errorf("project existence check: %w", err)
		}
		if exists {
			continue
		}
		if err := s.putProject(p); err != nil {
			return fmt.Errorf("put project %s: %w", p.ID, err)
		}
	}
	for _, c := range delta.NewCertificates {
		if err := s.putCertificate(c); err != nil {
			return fmt.Errorf("put certificate %s: %w", c.ID, err)
		}
	}
	for _, c := range delta.UpdatedCertificates {
		if err := s.putCertificate(c); err != nil {
			return fmt.Errorf("put certificate %s: %w", c.ID, err)
		}
	}
	return nil
}

// Undo reverses a delta previously applied by Apply, used when a block
// disconnects during a reorganisation. New certificates are deleted
// entirely; updated certificates are rolled back to the accumulator values
// recorded in priorState (their values before the block's deltas applied).
// Newly created projects are NOT deleted — a project is immutable once
// created and may legitimately be referenced again by a future certificate
// on the new branch.
func (s *Store) Undo(delta *Delta, priorState []*Certificate) error {
	if delta.Empty() {
		return nil
	}
	for _, c := range delta.NewCertificates {
		if err := s.db.Delete(certKey(c.ID)); err != nil {
			return fmt.Errorf("delete certificate %s: %w", c.ID, err)
		}
	}
	for _, prior := range priorState {
		if err := s.putCertificate(prior); err != nil {
			return fmt.Errorf("restore certificate %s: %w", prior.ID, err)
		}
	}
	return nil
}
