// Package utils defines a set of utility functions and types used across the poseidon project.
package utils

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"golang.org/x/exp/constraints"
)

// Set is a mutable set of elements of type T.
// Set is not safe for concurrent use.
type Set[T comparable] map[T]struct{}

var exists = struct{}{}

// NewEmptySet creates a new empty set.
func NewEmptySet[T comparable]() Set[T] {
	return make(map[T]struct{})
}

// Add adds an element el to the receiver set.
func (s *Set[T]) Add(el T) {
	if *s == nil {
		*s = NewEmptySet[T]()
	}
	(*s)[el] = exists
}

// Contains returns whether an element el is in the receiver set.
func (s Set[T]) Contains(el T) bool {
	_, inSet := s[el]
	return inSet
}

// Elements returns the set elements as a slice.
func (s Set[T]) Elements() []T {
	els := make([]T, 0, len(s))
	for el := range s {
		els = append(els, el)
	}
	return els
}

// SortedElements returns the elements of an ordered set in increasing order.
func SortedElements[T constraints.Ordered](s Set[T]) []T {
	els := s.Elements()
	sort.Slice(els, func(i, j int) bool { return els[i] < els[j] })
	return els
}

// MarshalJSONToFile attempts to write s to a file with file name filename,
// by calling the json.Marshal function.
func MarshalJSONToFile(s interface{}, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("could not open file: %w", err)
	}

	marshalled, err := json.MarshalIndent(s, "", "\t")
	if err != nil {
		return fmt.Errorf("could not marshal object: %w", err)
	}

	_, err = file.Write(marshalled)
	if err != nil {
		return fmt.Errorf("could not write to file: %w", err)
	}

	return file.Close()
}

// UnmarshalJSONFromFile attempts to load a json file with name filename,
// and to decode its content into s by calling the json.Unmarshal function.
func UnmarshalJSONFromFile(filename string, s interface{}) error {
	confFile, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("could not open file: %w", err)
	}
	defer confFile.Close()

	cb, err := io.ReadAll(confFile)
	if err != nil {
		return fmt.Errorf("could not read file: %w", err)
	}

	err = json.Unmarshal(cb, s)
	if err != nil {
		return fmt.Errorf("could not parse the file: %w", err)
	}

	return nil
}

// ByteCountSI returns a string representation of a byte count b,
// by formatting it as a SI value.
func ByteCountSI(b uint64) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(b)/float64(div), "kMGTPE"[exp])
}
