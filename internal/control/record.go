// Package control parses Debian control-file stanzas: blank-line-separated
// blocks of "Field: value" lines with whitespace-continuation for multi-line
// values. It is the input format of Packages, Sources, and Release indices.
package control

import (
	"fmt"
	"io"
	"strings"
)

// Field is a single "name: value" entry of a stanza. Names keep the casing
// found in the input; lookups are case-insensitive.
type Field struct {
	Name  string
	Value string
}

// Record is one parsed stanza. Field order is preserved so a record can be
// re-serialized byte-for-byte modulo whitespace normalization. Records are
// immutable once returned by the parser.
type Record struct {
	fields []Field
	byName map[string]int

	// File and Line locate the stanza for diagnostics. Line is the line
	// number of the stanza's first field, 1-based.
	File string
	Line int
}

// Get returns the value of the named field, case-insensitively.
// The second return is false when the field is absent.
func (r *Record) Get(name string) (string, bool) {
	i, ok := r.byName[strings.ToLower(name)]
	if !ok {
		return "", false
	}
	return r.fields[i].Value, true
}

// Value returns the named field's value or "" when absent
func (r *Record) Value(name string) string {
	v, _ := r.Get(name)
	return v
}

// Has reports whether the named field is present
func (r *Record) Has(name string) bool {
	_, ok := r.byName[strings.ToLower(name)]
	return ok
}

// Fields returns the fields in original order. The caller must not modify
// the returned slice.
func (r *Record) Fields() []Field {
	return r.fields
}

// Len returns the number of fields
func (r *Record) Len() int {
	return len(r.fields)
}

// WriteTo serializes the record back into stanza form, preserving field
// order. Multi-line values are written with single-space continuation and
// empty lines encoded as a lone ".". Re-parsing the output yields an equal
// record.
func (r *Record) WriteTo(w io.Writer) (int64, error) {
	var n int64
	for _, f := range r.fields {
		lines := strings.Split(f.Value, "\n")
		m, err := fmt.Fprintf(w, "%s: %s\n", f.Name, lines[0])
		n += int64(m)
		if err != nil {
			return n, err
		}
		for _, line := range lines[1:] {
			if line == "" {
				line = "."
			}
			m, err = fmt.Fprintf(w, " %s\n", line)
			n += int64(m)
			if err != nil {
				return n, err
			}
		}
	}
	return n, nil
}

// String renders the record in stanza form
func (r *Record) String() string {
	var b strings.Builder
	r.WriteTo(&b)
	return b.String()
}
