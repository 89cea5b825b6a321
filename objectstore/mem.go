package objectstore

import (
	"encoding"
	"fmt"
	"sync"
)

// memObjectStore is a type implementing the objectstore.ObjectStore interface with a main memory backend.
// Objects are kept in their binary encoding, so later mutations of a stored object
// do not alias the stored state.
type memObjectStore struct {
	objstore map[string][]byte
	mtx      sync.RWMutex
}

// NewMemObjectStore creates a new in-memory ObjectStore instance.
func NewMemObjectStore() *memObjectStore {
	return &memObjectStore{objstore: make(map[string][]byte)}
}

func (objstore *memObjectStore) Store(objectID string, object encoding.BinaryMarshaler) error {
	data, err := object.MarshalBinary()
	if err != nil {
		return err
	}
	objstore.mtx.Lock()
	defer objstore.mtx.Unlock()
	objstore.objstore[objectID] = data
	return nil
}

func (objstore *memObjectStore) Load(objectID string, object encoding.BinaryUnmarshaler) error {
	objstore.mtx.RLock()
	data, isPresent := objstore.objstore[objectID]
	objstore.mtx.RUnlock()
	if !isPresent {
		return fmt.Errorf("%w: no value for key %s in in-memory ObjectStore", ErrNotFound, objectID)
	}
	return object.UnmarshalBinary(append([]byte(nil), data...))
}

func (objstore *memObjectStore) IsPresent(objectID string) (bool, error) {
	objstore.mtx.RLock()
	defer objstore.mtx.RUnlock()

	_, ok := objstore.objstore[objectID]

	return ok, nil
}

func (objstore *memObjectStore) Delete(objectID string) error {
	objstore.mtx.Lock()
	defer objstore.mtx.Unlock()
	delete(objstore.objstore, objectID)
	return nil
}

func (objstore *memObjectStore) Write(batch *Batch) error {
	objstore.mtx.Lock()
	defer objstore.mtx.Unlock()
	for _, op := range batch.ops {
		if op.Value == nil {
			delete(objstore.objstore, op.ID)
			continue
		}
		objstore.objstore[op.ID] = append([]byte(nil), op.Value...)
	}
	return nil
}

func (objstore *memObjectStore) Close() error { return nil }
