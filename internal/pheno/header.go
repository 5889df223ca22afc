package pheno

import (
	"fmt"
	"strings"
)

const (
	// IdentifierToken is the header text of the participant column.
	IdentifierToken = "f.eid"

	// MissingToken marks a cell with no observation.
	MissingToken = "NA"

	// Separator splits header and data columns.
	Separator = "\t"
)

// ColumnKind says how the row processor treats a column.
type ColumnKind int

const (
	// ColumnField is a (field, repetition) measurement column.
	ColumnField ColumnKind = iota
	// ColumnIdentifier holds the participant identifier.
	ColumnIdentifier
	// ColumnIgnored belongs to a field owned by an earlier file.
	ColumnIgnored
)

func (k ColumnKind) String() string {
	switch k {
	case ColumnField:
		return "field"
	case ColumnIdentifier:
		return "identifier"
	case ColumnIgnored:
		return "ignore"
	default:
		return fmt.Sprintf("ColumnKind(%d)", int(k))
	}
}

// MarshalText renders the kind by name in JSON output.
func (k ColumnKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Column describes one header column. Immutable once parsed.
type Column struct {
	Kind       ColumnKind `json:"kind"`
	Header     string     `json:"header"`
	FieldID    string     `json:"field_id,omitempty"`
	Repetition string     `json:"repetition,omitempty"`
}

// Header is the parsed header of one phenotype file.
type Header struct {
	Source     string           `json:"source"`
	Columns    []Column         `json:"columns"`
	IDIndex    int              `json:"id_index"`
	Duplicates []DuplicateField `json:"duplicates,omitempty"`
}

// Width is the number of columns every data line must have.
func (h *Header) Width() int {
	return len(h.Columns)
}

// Ignored counts columns skipped because their field is owned elsewhere.
func (h *Header) Ignored() int {
	n := 0
	for _, c := range h.Columns {
		if c.Kind == ColumnIgnored {
			n++
		}
	}
	return n
}

// ParseHeader parses the header line of source and claims its fields in
// fields.
//
// Every token is decomposed before any field is claimed, so a malformed header
// leaves the registry untouched. A field already owned by an earlier file is
// reported once in Header.Duplicates and all of its columns are ignored.
func ParseHeader(line, source string, fields *FieldRegistry) (*Header, error) {
	tokens := strings.Split(line, Separator)
	h := &Header{Source: source, Columns: make([]Column, len(tokens)), IDIndex: -1}

	for i, tok := range tokens {
		tok = unquote(tok)
		if tok == IdentifierToken {
			if h.IDIndex >= 0 {
				return nil, &FormatError{
					Code:    ErrCodeDupIdentifier,
					Source:  source,
					Line:    1,
					Column:  i,
					Message: fmt.Sprintf("%s already defined in column %d", IdentifierToken, h.IDIndex+1),
				}
			}
			h.IDIndex = i
			h.Columns[i] = Column{Kind: ColumnIdentifier, Header: tok}
			continue
		}
		col, err := decompose(tok)
		if err != nil {
			return nil, &FormatError{Code: ErrCodeHeaderShape, Source: source, Line: 1, Column: i, Message: err.Error()}
		}
		h.Columns[i] = col
	}
	if h.IDIndex < 0 {
		return nil, &FormatError{
			Code:    ErrCodeNoIdentifier,
			Source:  source,
			Line:    1,
			Column:  -1,
			Message: fmt.Sprintf("header has no %s column", IdentifierToken),
		}
	}

	// decided holds this file's verdict per field: true means ignored.
	decided := make(map[string]bool)
	for i := range h.Columns {
		col := &h.Columns[i]
		if col.Kind != ColumnField {
			continue
		}
		ignored, seen := decided[col.FieldID]
		if !seen {
			if owner, claimed := fields.Owner(col.FieldID); claimed {
				ignored = true
				h.Duplicates = append(h.Duplicates, DuplicateField{Header: col.Header, FieldID: col.FieldID, Owner: owner})
			} else {
				fields.Claim(col.FieldID, source)
			}
			decided[col.FieldID] = ignored
		}
		if ignored {
			col.Kind = ColumnIgnored
		}
	}
	return h, nil
}

// decompose splits prefix.fieldId.repetition.arrayIndex. The array index is
// dropped.
func decompose(tok string) (Column, error) {
	parts := strings.Split(tok, ".")
	if len(parts) != 4 {
		return Column{}, fmt.Errorf("expected field ID of the form f.x.x.x, got %q", tok)
	}
	if parts[1] == "" || parts[2] == "" {
		return Column{}, fmt.Errorf("empty field or repetition in %q", tok)
	}
	return Column{Kind: ColumnField, Header: tok, FieldID: parts[1], Repetition: parts[2]}, nil
}

// unquote strips one pair of wrapping double quotes.
func unquote(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}
