package objectstore

import (
	"encoding"
	"fmt"
)

// nullObjectStore is a type implementing the objectstore.ObjectStore interface with a NULL backend.
type nullObjectStore struct{}

// NewNullObjectStore creates a new ObjectStore instance that stores nothing.
func NewNullObjectStore() *nullObjectStore {
	return &nullObjectStore{}
}

func (objstore *nullObjectStore) Store(objectID string, object encoding.BinaryMarshaler) error {
	return nil
}

func (objstore *nullObjectStore) Load(objectID string, object encoding.BinaryUnmarshaler) error {
	return fmt.Errorf("%w: Load: ObjectStore backend is NULL", ErrNotFound)
}

func (objstore *nullObjectStore) IsPresent(objectID string) (bool, error) {
	return false, nil
}

func (objstore *nullObjectStore) Delete(objectID string) error { return nil }

func (objstore *nullObjectStore) Write(batch *Batch) error { return nil }

func (objstore *nullObjectStore) Close() error { return nil }
