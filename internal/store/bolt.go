package store

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketAccessories = []byte("accessories")

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates a BoltDB database.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAccessories)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func putAccessory(b *bolt.Bucket, acc *Accessory) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	return b.Put([]byte(acc.ID), data)
}

func (s *BoltStore) SaveAccessory(acc *Accessory) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccessories)
		}
		return putAccessory(b, acc)
	})
}

func (s *BoltStore) GetAccessory(id string) (*Accessory, error) {
	var acc Accessory
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccessories)
		}
		data := b.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("accessory %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &acc)
	})
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *BoltStore) DeleteAccessory(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccessories)
		}
		return b.Delete([]byte(id))
	})
}

func (s *BoltStore) ListAccessories() ([]*Accessory, error) {
	var accessories []*Accessory
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return nil // no bucket = no accessories
		}
		accessories = make([]*Accessory, 0, b.Stats().KeyN)
		return b.ForEach(func(k, v []byte) error {
			var acc Accessory
			if err := json.Unmarshal(v, &acc); err != nil {
				return fmt.Errorf("accessory %s: %w", k, err)
			}
			accessories = append(accessories, &acc)
			return nil
		})
	})
	return accessories, err
}

func (s *BoltStore) Apply(save []*Accessory, remove []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketAccessories)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketAccessories)
		}
		for _, acc := range save {
			if err := putAccessory(b, acc); err != nil {
				return fmt.Errorf("save %s: %w", acc.ID, err)
			}
		}
		for _, id := range remove {
			if err := b.Delete([]byte(id)); err != nil {
				return fmt.Errorf("delete %s: %w", id, err)
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
