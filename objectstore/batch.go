package objectstore

import (
	"encoding"
	"fmt"
)

// Op is a single write of a Batch. A nil Value deletes the object.
type Op struct {
	ID    string
	Value []byte
}

// Batch is an ordered set of writes applied together by ObjectStore.Write.
// Objects are encoded when they are added, so a Batch holds no reference to them.
type Batch struct {
	ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Store adds a write of object under objectID to the batch.
func (b *Batch) Store(objectID string, object encoding.BinaryMarshaler) error {
	data, err := object.MarshalBinary()
	if err != nil {
		return fmt.Errorf("could not encode %s: %w", objectID, err)
	}
	if data == nil {
		data = []byte{}
	}
	b.ops = append(b.ops, Op{ID: objectID, Value: data})
	return nil
}

// Delete adds a deletion of objectID to the batch.
func (b *Batch) Delete(objectID string) {
	b.ops = append(b.ops, Op{ID: objectID})
}

// Ops returns the writes of the batch in the order they were added.
func (b *Batch) Ops() []Op {
	return append([]Op(nil), b.ops...)
}

// Len returns the number of writes in the batch.
func (b *Batch) Len() int {
	return len(b.ops)
}
