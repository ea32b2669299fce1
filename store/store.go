// Package store persists node administrative modes across restarts,
// keyed by FQDN, per spec §6 ("Persisted state"). The Controller is its
// only caller. It uses
// go.etcd.io/bbolt, the embedded key-value store also used by
// siderolabs-omni and canonical-snapd in the wider retrieval pack.
package store

import (
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/skyvane-array/mcs/types"
)

var adminModeBucket = []byte("admin_mode")

// Store wraps a bbolt database for the single concern this system
// persists: admin mode per node FQDN.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// admin-mode bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(adminModeBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init buckets: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveAdminMode memorizes a node's admin mode.
func (s *Store) SaveAdminMode(fqdn types.FQDN, mode types.AdminMode) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(adminModeBucket)
		return b.Put([]byte(fqdn), []byte(mode))
	})
}

// LoadAdminMode recovers a node's memorized admin mode, returning
// (types.AdminOffline, false) if none was ever saved — the mandated
// start state for a never-seen node per spec §3's lifecycle rule.
func (s *Store) LoadAdminMode(fqdn types.FQDN) (types.AdminMode, bool) {
	var mode types.AdminMode
	var found bool
	_ = s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(adminModeBucket)
		v := b.Get([]byte(fqdn))
		if v != nil {
			mode = types.AdminMode(v)
			found = true
		}
		return nil
	})
	if !found {
		return types.AdminOffline, false
	}
	return mode, true
}
