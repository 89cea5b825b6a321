package objectstore

import (
	"encoding"
	"errors"
	"fmt"
	"log"
)

// hybridObjectStore is a type implementing the objectstore.ObjectStore interface with a hybrid storage backend.
// It combines an in-memory backend and a persistent backend: writes go to both,
// reads are served from memory first.
type hybridObjectStore struct {
	badgerObjectStore *badgerObjectStore
	memObjectStore    *memObjectStore
}

// NewHybridObjectStore creates a new ObjectStore instance.
func NewHybridObjectStore(conf Config) (*hybridObjectStore, error) {
	badgerObjectStore, err := NewBadgerObjectStore(conf)
	if err != nil {
		return nil, fmt.Errorf("error while creating BadgerDB ObjectStore in hybrid ObjectStore: %w", err)
	}

	objstore := &hybridObjectStore{
		badgerObjectStore: badgerObjectStore,
		memObjectStore:    NewMemObjectStore(),
	}

	return objstore, nil
}

func (objstore *hybridObjectStore) Store(objectID string, object encoding.BinaryMarshaler) error {
	if err := objstore.badgerObjectStore.Store(objectID, object); err != nil {
		return fmt.Errorf("error while storing in Hybrid ObjectStore: %w", err)
	}
	return objstore.memObjectStore.Store(objectID, object)
}

func (objstore *hybridObjectStore) Load(objectID string, object encoding.BinaryUnmarshaler) error {
	// attempt to load the object from the in-memory ObjectStore
	if err := objstore.memObjectStore.Load(objectID, object); err == nil {
		return nil
	}

	var data Bytes
	if err := objstore.badgerObjectStore.Load(objectID, &data); err != nil {
		if !errors.Is(err, ErrNotFound) {
			log.Printf("error: could not load object %s from persistent ObjectStore: %s\n", objectID, err)
		}
		return err
	}

	// propagate the object to the in-memory ObjectStore
	if err := objstore.memObjectStore.Store(objectID, data); err != nil {
		log.Printf("warning: could not propagate object %s to in-memory ObjectStore: %s\n", objectID, err)
	}

	return object.UnmarshalBinary(data)
}

func (objstore *hybridObjectStore) IsPresent(objectID string) (bool, error) {
	if present, _ := objstore.memObjectStore.IsPresent(objectID); present {
		return true, nil
	}
	return objstore.badgerObjectStore.IsPresent(objectID)
}

func (objstore *hybridObjectStore) Delete(objectID string) error {
	if err := objstore.badgerObjectStore.Delete(objectID); err != nil {
		return err
	}
	return objstore.memObjectStore.Delete(objectID)
}

func (objstore *hybridObjectStore) Write(batch *Batch) error {
	if err := objstore.badgerObjectStore.Write(batch); err != nil {
		return fmt.Errorf("error while writing batch in Hybrid ObjectStore: %w", err)
	}
	return objstore.memObjectStore.Write(batch)
}

func (objstore *hybridObjectStore) Close() error {
	if err := objstore.badgerObjectStore.Close(); err != nil {
		return err
	}
	return objstore.memObjectStore.Close()
}
