// Package objectstore defines an interface between the poseidon services and
// their persistent records. Records are addressed by string identifiers and
// stored in their binary encoding.
package objectstore

import (
	"encoding"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no object is stored under the requested identifier.
var ErrNotFound = errors.New("object not found")

// Config represents the ObjectStore configuration.
type Config struct {
	BackendName string `json:"backend" yaml:"backend"` // BackendName is a string defining the ObjectStore implementation to use.
	DBPath      string `json:"db_path" yaml:"db_path"` // DBPath is the directory (badgerdb, hybrid) or file (sqlite) of the database.
	DSN         string `json:"dsn" yaml:"dsn"`         // DSN is the connection string of the postgres backend.
}

// ObjectStore is an interface to store and retrieve records.
type ObjectStore interface {
	// Store stores the binary-serializable `object` into the ObjectStore indexing it with the string `objectID`.
	Store(objectID string, object encoding.BinaryMarshaler) error

	// Load loads the binary-deserializable `object` from the ObjectStore indexing it with the string `objectID`.
	// the result is loaded directly into `object`. It returns an error wrapping ErrNotFound if no such object exists.
	Load(objectID string, object encoding.BinaryUnmarshaler) error

	// IsPresent checks if the object indexed with the string `objectID` is present in the ObjectStore.
	IsPresent(objectID string) (bool, error)

	// Delete removes the object indexed with the string `objectID`. Deleting an absent object is not an error.
	Delete(objectID string) error

	// Write applies all the writes of `batch` or none of them.
	Write(batch *Batch) error

	// Close releases the resources allocated by the ObjectStore.
	Close() error
}

// NewObjectStoreFromConfig returns the ObjectStore selected by config.BackendName.
func NewObjectStoreFromConfig(config Config) (objs ObjectStore, err error) {
	switch config.BackendName {
	case "null":
		objs = NewNullObjectStore()
	case "mem":
		objs = NewMemObjectStore()
	case "badgerdb":
		if objs, err = NewBadgerObjectStore(config); err != nil {
			return nil, err
		}
	case "hybrid":
		if objs, err = NewHybridObjectStore(config); err != nil {
			return nil, err
		}
	case "sqlite":
		if objs, err = NewSQLObjectStore("sqlite3", config.DBPath); err != nil {
			return nil, err
		}
	case "postgres":
		if objs, err = NewSQLObjectStore("postgres", config.DSN); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("config must specify an object store backend, got %q", config.BackendName)
	}
	return
}

// Bytes is a raw byte slice usable as both a BinaryMarshaler and a BinaryUnmarshaler.
type Bytes []byte

// MarshalBinary implements encoding.BinaryMarshaler.
func (b Bytes) MarshalBinary() ([]byte, error) {
	return append([]byte(nil), b...), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (b *Bytes) UnmarshalBinary(data []byte) error {
	*b = append((*b)[:0], data...)
	return nil
}
