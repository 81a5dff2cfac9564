package ledger

import (
	"sync"

	cm "github.com/meshnetworks/toll/src/common"
)

// InmemStore implements the Store interface with in-memory maps. It is used
// in tests and dry runs; a restart forgets everything.
type InmemStore struct {
	sync.Mutex

	debts       map[string]*DebtEntry
	obligations map[string]*Obligation
	unresolved  map[string]bool
}

// NewInmemStore ...
func NewInmemStore() *InmemStore {
	return &InmemStore{
		debts:       make(map[string]*DebtEntry),
		obligations: make(map[string]*Obligation),
		unresolved:  make(map[string]bool),
	}
}

// GetDebt implements the Store interface.
func (s *InmemStore) GetDebt(key string) (*DebtEntry, error) {
	s.Lock()
	defer s.Unlock()

	d, ok := s.debts[key]
	if !ok {
		return nil, cm.NewStoreErr("Debt", cm.KeyNotFound, key)
	}
	return d.Copy(), nil
}

// SetDebt implements the Store interface.
func (s *InmemStore) SetDebt(d *DebtEntry) error {
	s.Lock()
	defer s.Unlock()

	s.debts[d.Key] = d.Copy()
	return nil
}

// AllDebts implements the Store interface.
func (s *InmemStore) AllDebts() ([]*DebtEntry, error) {
	s.Lock()
	defer s.Unlock()

	res := make([]*DebtEntry, 0, len(s.debts))
	for _, d := range s.debts {
		res = append(res, d.Copy())
	}
	return res, nil
}

// GetObligation implements the Store interface.
func (s *InmemStore) GetObligation(id string) (*Obligation, error) {
	s.Lock()
	defer s.Unlock()

	o, ok := s.obligations[id]
	if !ok {
		return nil, cm.NewStoreErr("Obligation", cm.KeyNotFound, id)
	}
	return o.Copy(), nil
}

// SetObligation implements the Store interface.
func (s *InmemStore) SetObligation(o *Obligation) error {
	s.Lock()
	defer s.Unlock()

	s.obligations[o.ID] = o.Copy()
	if o.State.Terminal() && o.Consumed {
		delete(s.unresolved, o.ID)
	} else {
		s.unresolved[o.ID] = true
	}
	return nil
}

// CreateObligation implements the Store interface.
func (s *InmemStore) CreateObligation(d *DebtEntry, o *Obligation) error {
	s.Lock()
	defer s.Unlock()

	if _, ok := s.obligations[o.ID]; ok {
		return cm.NewStoreErr("Obligation", cm.KeyAlreadyExists, o.ID)
	}

	s.debts[d.Key] = d.Copy()
	s.obligations[o.ID] = o.Copy()
	s.unresolved[o.ID] = true

	return nil
}

// ResolveObligation implements the Store interface.
func (s *InmemStore) ResolveObligation(d *DebtEntry, o *Obligation) error {
	s.Lock()
	defer s.Unlock()

	s.debts[d.Key] = d.Copy()
	s.obligations[o.ID] = o.Copy()
	delete(s.unresolved, o.ID)

	return nil
}

// UnresolvedObligations implements the Store interface.
func (s *InmemStore) UnresolvedObligations() ([]*Obligation, error) {
	s.Lock()
	defer s.Unlock()

	res := make([]*Obligation, 0, len(s.unresolved))
	for id := range s.unresolved {
		res = append(res, s.obligations[id].Copy())
	}
	return res, nil
}

// Close implements the Store interface.
func (s *InmemStore) Close() error {
	return nil
}
