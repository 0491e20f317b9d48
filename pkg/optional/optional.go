// Package optional distinguishes a JSON field that was left out from one
// sent as null, so partial updates only touch the fields a client named.
package optional

import (
	"bytes"
	"encoding/json"
)

// Field records whether a key was present in the decoded object and, if it
// was, its value. V is nil when the key was sent as null.
type Field[T any] struct {
	Set bool
	V   *T
}

// Of returns a set field holding v.
func Of[T any](v T) Field[T] {
	return Field[T]{Set: true, V: &v}
}

// Null returns a set field holding null.
func Null[T any]() Field[T] {
	return Field[T]{Set: true}
}

// UnmarshalJSON only runs for keys present in the input.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.Set = true
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		f.V = nil
		return nil
	}
	var v T
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	f.V = &v
	return nil
}

func (f Field[T]) MarshalJSON() ([]byte, error) {
	if f.V == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*f.V)
}

// IsNull reports whether the field was sent as an explicit null.
func (f Field[T]) IsNull() bool {
	return f.Set && f.V == nil
}

// Apply copies a non-null value into dst.
func (f Field[T]) Apply(dst *T) {
	if f.Set && f.V != nil {
		*dst = *f.V
	}
}

// ApplyNullable copies the value into a nullable destination, clearing it
// on an explicit null.
func (f Field[T]) ApplyNullable(dst **T) {
	if !f.Set {
		return
	}
	if f.V == nil {
		*dst = nil
		return
	}
	v := *f.V
	*dst = &v
}
