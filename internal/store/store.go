// Package store persists the local accessory registry.
package store

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	SaveAccessory(acc *Accessory) error
	GetAccessory(id string) (*Accessory, error)
	DeleteAccessory(id string) error
	ListAccessories() ([]*Accessory, error)

	// Apply saves and deletes accessories in a single transaction, so a
	// failed write leaves the registry as it was.
	Apply(save []*Accessory, remove []string) error

	// Close the store
	Close() error
}

// Open returns the store for driver ("bolt" or "sqlite") at path.
func Open(driver, path string) (Store, error) {
	switch driver {
	case "", "bolt":
		s, err := NewBoltStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	case "sqlite":
		s, err := NewSQLiteStore(path)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}
