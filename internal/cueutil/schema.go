// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// DefaultMaxSize bounds the size of a document accepted for checking (5MB).
const DefaultMaxSize int64 = 5 << 20

type (
	// Schema is a CUE definition, such as "#Fleet" in an embedded schema
	// file, that user documents are unified with.
	Schema struct {
		source     []byte
		definition string
		partial    bool
		maxSize    int64
	}

	// SchemaOption configures a Schema.
	SchemaOption func(*Schema)
)

// Partial accepts documents that leave fields non-concrete, for files in
// which every field is optional.
func Partial() SchemaOption {
	return func(s *Schema) { s.partial = true }
}

// MaxSize sets the largest accepted document in bytes.
func MaxSize(n int64) SchemaOption {
	return func(s *Schema) { s.maxSize = n }
}

// NewSchema returns the definition of source named by definition.
func NewSchema(source []byte, definition string, opts ...SchemaOption) Schema {
	s := Schema{source: source, definition: definition, maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// Source returns the schema text.
func (s Schema) Source() []byte { return s.source }

// Check unifies data with the definition and validates the result. Errors
// name filename and the offending field.
func (s Schema) Check(data []byte, filename string) (cue.Value, error) {
	if filename == "" {
		filename = "<input>"
	}
	if size := int64(len(data)); size > s.maxSize {
		return cue.Value{}, fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", filename, size, s.maxSize)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileBytes(s.source)
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("internal error: compile schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath(s.definition))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("internal error: schema has no %s: %w", s.definition, err)
	}

	doc := ctx.CompileBytes(data, cue.Filename(filename))
	if err := doc.Err(); err != nil {
		return cue.Value{}, FormatError(err, filename)
	}

	unified := def.Unify(doc)
	if err := unified.Validate(cue.Concrete(!s.partial)); err != nil {
		return cue.Value{}, FormatError(err, filename)
	}
	return unified, nil
}

// Decode checks data against s and decodes it into a new T.
func Decode[T any](s Schema, data []byte, filename string) (*T, error) {
	v, err := s.Check(data, filename)
	if err != nil {
		return nil, err
	}
	var out T
	if err := v.Decode(&out); err != nil {
		return nil, FormatError(err, filename)
	}
	return &out, nil
}
