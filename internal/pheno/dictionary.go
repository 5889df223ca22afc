package pheno

import (
	"context"
	"fmt"
)

type valueKey struct {
	field string
	text  string
}

// Dictionary assigns Codes to (field, raw text) pairs.
//
// Codes come from a single counter shared by all fields, starting at 0. The
// counter, not map iteration, defines assignment order. Raw text is compared
// byte for byte: "1" and "1.0" are different values.
type Dictionary struct {
	codes map[valueKey]Code
	next  Code
}

// NewDictionary returns an empty dictionary whose first code is 0.
func NewDictionary() *Dictionary {
	return &Dictionary{codes: make(map[valueKey]Code)}
}

// Resolve returns the code for (fieldID, text). On first sight it emits the
// dictionary row through sink before returning; created reports whether that
// happened. A failed emission assigns nothing.
func (d *Dictionary) Resolve(ctx context.Context, sink Sink, fieldID, text string) (code Code, created bool, err error) {
	key := valueKey{field: fieldID, text: text}
	if code, ok := d.codes[key]; ok {
		return code, false, nil
	}
	code = d.next
	if err := sink.InsertValue(ctx, code, fieldID, text); err != nil {
		return 0, false, fmt.Errorf("insert value %d (field %s): %w", code, fieldID, err)
	}
	d.codes[key] = code
	d.next++
	return code, true, nil
}

// Len returns the number of assigned codes.
func (d *Dictionary) Len() int {
	return len(d.codes)
}
