package objectstore

import (
	"encoding"
	"errors"
	"fmt"
	"log"

	"github.com/dgraph-io/badger/v4"
	"github.com/ldsec/poseidon/utils"
)

// badgerObjectStore is a type implementing the objectstore.ObjectStore interface with a permanent storage backend
// based on BadgerDB.
type badgerObjectStore struct {
	db          *badger.DB
	bytesStored int
}

// NewBadgerObjectStore creates a new ObjectStore instance backed by BadgerDB.
// An empty conf.DBPath opens an in-memory database.
func NewBadgerObjectStore(conf Config) (ks *badgerObjectStore, err error) {
	// SynchWrites writes any change to disk immediately.
	// Maximum size of a single log file = 10MB
	// Maximum size of memtable table = 5MB
	// Value Threshold for an entry to be stored in the log file = 0.5MB
	opt := badger.DefaultOptions(conf.DBPath).WithValueLogFileSize(10 * (1 << 20)).WithMemTableSize(5 * (1 << 20)).WithValueThreshold(1 << 19)
	if conf.DBPath == "" {
		opt = opt.WithInMemory(true)
	}
	opt.Logger = nil
	db, err := badger.Open(opt)
	if err != nil {
		return nil, fmt.Errorf("could not instantiate BadgerDB: %w", err)
	}

	return &badgerObjectStore{db: db, bytesStored: 0}, nil
}

func (objstore *badgerObjectStore) Store(objectID string, object encoding.BinaryMarshaler) error {
	encodedObject, err := object.MarshalBinary()
	if err != nil {
		return err
	}
	err = objstore.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(objectID), encodedObject)
	})
	if err != nil {
		return err
	}
	objstore.bytesStored += len(encodedObject)
	return nil
}

func (objstore *badgerObjectStore) Load(objectID string, object encoding.BinaryUnmarshaler) error {
	var encodedObject []byte
	err := objstore.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(objectID))
		if err != nil {
			return err
		}
		encodedObject, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: no value for key %s in BadgerDB ObjectStore", ErrNotFound, objectID)
	}
	if err != nil {
		return err
	}
	return object.UnmarshalBinary(encodedObject)
}

func (objstore *badgerObjectStore) IsPresent(objectID string) (bool, error) {
	present := false
	err := objstore.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(objectID))

		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}

		if err != nil {
			return err
		}

		present = true
		return nil
	})
	return present, err
}

func (objstore *badgerObjectStore) Delete(objectID string) error {
	return objstore.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(objectID))
	})
}

// Write applies the batch in a single BadgerDB transaction.
func (objstore *badgerObjectStore) Write(batch *Batch) error {
	stored := 0
	err := objstore.db.Update(func(txn *badger.Txn) error {
		for _, op := range batch.ops {
			if op.Value == nil {
				if err := txn.Delete([]byte(op.ID)); err != nil {
					return err
				}
				continue
			}
			if err := txn.Set([]byte(op.ID), op.Value); err != nil {
				return err
			}
			stored += len(op.Value)
		}
		return nil
	})
	if err != nil {
		return err
	}
	objstore.bytesStored += stored
	return nil
}

func (objstore *badgerObjectStore) Close() error {
	log.Printf("Total bytes stored: %s\n", utils.ByteCountSI(uint64(objstore.bytesStored)))
	return objstore.db.Close()
}
