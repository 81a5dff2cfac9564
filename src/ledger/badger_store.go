package ledger

import (
	"fmt"
	"os"

	"github.com/dgraph-io/badger"
	cm "github.com/meshnetworks/toll/src/common"
)

const (
	debtPrefix       = "debt"
	obligationPrefix = "obligation"
	unresolvedPrefix = "unresolved"
)

// BadgerStore is a write-through Store: every write goes to the InmemStore
// and to the database in that order, reads are served from memory. The
// unresolved_ index keys track obligations whose outcome has not been applied
// to the ledger yet, so a restart can find them without scanning everything.
type BadgerStore struct {
	inmemStore *InmemStore
	db         *badger.DB
	path       string
}

// NewBadgerStore creates a brand new Store with a new database
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
	}
	return store, nil
}

// LoadBadgerStore creates a Store from an existing database
func LoadBadgerStore(path string) (*BadgerStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(path)
	opts.SyncWrites = true
	handle, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	store := &BadgerStore{
		inmemStore: NewInmemStore(),
		db:         handle,
		path:       path,
	}

	if err := store.dbLoad(); err != nil {
		store.db.Close()
		return nil, err
	}

	return store, nil
}

// LoadOrCreateBadgerStore loads an existing database or creates a new one if
// the path does not exist yet.
func LoadOrCreateBadgerStore(path string) (*BadgerStore, error) {
	store, err := LoadBadgerStore(path)

	if err != nil {
		store, err = NewBadgerStore(path)

		if err != nil {
			return nil, err
		}
	}

	return store, nil
}

//==============================================================================
//Keys

func debtKey(key string) []byte {
	return []byte(fmt.Sprintf("%s_%s", debtPrefix, key))
}

func obligationKey(id string) []byte {
	return []byte(fmt.Sprintf("%s_%s", obligationPrefix, id))
}

func unresolvedKey(id string) []byte {
	return []byte(fmt.Sprintf("%s_%s", unresolvedPrefix, id))
}

//==============================================================================
//Implement the Store interface

// GetDebt implements the Store interface.
func (s *BadgerStore) GetDebt(key string) (*DebtEntry, error) {
	return s.inmemStore.GetDebt(key)
}

// SetDebt implements the Store interface.
func (s *BadgerStore) SetDebt(d *DebtEntry) error {
	if err := s.inmemStore.SetDebt(d); err != nil {
		return err
	}
	return s.dbSetDebt(d)
}

// AllDebts implements the Store interface.
func (s *BadgerStore) AllDebts() ([]*DebtEntry, error) {
	return s.inmemStore.AllDebts()
}

// GetObligation implements the Store interface.
func (s *BadgerStore) GetObligation(id string) (*Obligation, error) {
	o, err := s.inmemStore.GetObligation(id)
	if err != nil {
		o, err = s.dbGetObligation(id)
	}
	return o, mapError(err, "Obligation", id)
}

// SetObligation implements the Store interface.
func (s *BadgerStore) SetObligation(o *Obligation) error {
	if err := s.inmemStore.SetObligation(o); err != nil {
		return err
	}
	return s.dbSetObligation(o)
}

// CreateObligation implements the Store interface.
func (s *BadgerStore) CreateObligation(d *DebtEntry, o *Obligation) error {
	if err := s.inmemStore.CreateObligation(d, o); err != nil {
		return err
	}
	return s.dbCreateObligation(d, o)
}

// ResolveObligation implements the Store interface.
func (s *BadgerStore) ResolveObligation(d *DebtEntry, o *Obligation) error {
	if err := s.inmemStore.ResolveObligation(d, o); err != nil {
		return err
	}
	return s.dbResolveObligation(d, o)
}

// UnresolvedObligations implements the Store interface.
func (s *BadgerStore) UnresolvedObligations() ([]*Obligation, error) {
	return s.inmemStore.UnresolvedObligations()
}

// Close implements the Store interface.
func (s *BadgerStore) Close() error {
	if err := s.inmemStore.Close(); err != nil {
		return err
	}
	return s.db.Close()
}

//==============================================================================
//DB Methods

// dbLoad reads every debt entry and every unresolved obligation into the
// InmemStore.
func (s *BadgerStore) dbLoad() error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		dp := []byte(debtPrefix + "_")
		for it.Seek(dp); it.ValidForPrefix(dp); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			d := new(DebtEntry)
			if err := d.Unmarshal(val); err != nil {
				return err
			}
			s.inmemStore.debts[d.Key] = d
		}

		up := []byte(unresolvedPrefix + "_")
		for it.Seek(up); it.ValidForPrefix(up); it.Next() {
			id := string(it.Item().Key()[len(up):])
			o, err := s.dbGetObligationTx(txn, id)
			if err != nil {
				return err
			}
			s.inmemStore.obligations[o.ID] = o
			s.inmemStore.unresolved[o.ID] = true
		}

		return nil
	})
}

func (s *BadgerStore) dbSetDebt(d *DebtEntry) error {
	val, err := d.Marshal()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(debtKey(d.Key), val)
	})
}

func (s *BadgerStore) dbGetObligation(id string) (*Obligation, error) {
	var o *Obligation
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		o, err = s.dbGetObligationTx(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (s *BadgerStore) dbGetObligationTx(txn *badger.Txn, id string) (*Obligation, error) {
	item, err := txn.Get(obligationKey(id))
	if err != nil {
		return nil, err
	}
	val, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	o := new(Obligation)
	if err := o.Unmarshal(val); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *BadgerStore) dbSetObligation(o *Obligation) error {
	val, err := o.Marshal()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(obligationKey(o.ID), val); err != nil {
			return err
		}
		if o.State.Terminal() && o.Consumed {
			err := txn.Delete(unresolvedKey(o.ID))
			if err != nil && !isDBKeyNotFound(err) {
				return err
			}
			return nil
		}
		return txn.Set(unresolvedKey(o.ID), []byte{})
	})
}

// dbCreateObligation writes the updated debt entry, the obligation, and the
// unresolved index entry in one transaction.
func (s *BadgerStore) dbCreateObligation(d *DebtEntry, o *Obligation) error {
	dVal, err := d.Marshal()
	if err != nil {
		return err
	}
	oVal, err := o.Marshal()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(debtKey(d.Key), dVal); err != nil {
			return err
		}
		if err := txn.Set(obligationKey(o.ID), oVal); err != nil {
			return err
		}
		return txn.Set(unresolvedKey(o.ID), []byte{})
	})
}

// dbResolveObligation writes the updated debt entry and the consumed
// obligation, and drops the unresolved index entry, in one transaction.
func (s *BadgerStore) dbResolveObligation(d *DebtEntry, o *Obligation) error {
	dVal, err := d.Marshal()
	if err != nil {
		return err
	}
	oVal, err := o.Marshal()
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(debtKey(d.Key), dVal); err != nil {
			return err
		}
		if err := txn.Set(obligationKey(o.ID), oVal); err != nil {
			return err
		}
		err := txn.Delete(unresolvedKey(o.ID))
		if err != nil && !isDBKeyNotFound(err) {
			return err
		}
		return nil
	})
}

func isDBKeyNotFound(err error) bool {
	return err == badger.ErrKeyNotFound
}

func mapError(err error, name, key string) error {
	if err != nil {
		if isDBKeyNotFound(err) {
			return cm.NewStoreErr(name, cm.KeyNotFound, key)
		}
	}
	return err
}
