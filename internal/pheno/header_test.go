package pheno

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeader_Basic(t *testing.T) {
	fields := NewFieldRegistry()

	h, err := ParseHeader("f.eid\tf.31.0.0\tf.50.2.1", "a.tsv", fields)
	require.NoError(t, err)

	assert.Equal(t, 0, h.IDIndex)
	assert.Equal(t, 3, h.Width())
	assert.Equal(t, []Column{
		{Kind: ColumnIdentifier, Header: "f.eid"},
		{Kind: ColumnField, Header: "f.31.0.0", FieldID: "31", Repetition: "0"},
		{Kind: ColumnField, Header: "f.50.2.1", FieldID: "50", Repetition: "2"},
	}, h.Columns)
	assert.Empty(t, h.Duplicates)

	owner, ok := fields.Owner("31")
	assert.True(t, ok)
	assert.Equal(t, "a.tsv", owner)
}

func TestParseHeader_StripsQuotes(t *testing.T) {
	h, err := ParseHeader(`"f.50.0.0"`+"\t"+`"f.eid"`, "a.tsv", NewFieldRegistry())
	require.NoError(t, err)

	assert.Equal(t, 1, h.IDIndex)
	assert.Equal(t, "50", h.Columns[0].FieldID)
	assert.Equal(t, "f.50.0.0", h.Columns[0].Header)
}

func TestParseHeader_MalformedToken(t *testing.T) {
	fields := NewFieldRegistry()

	_, err := ParseHeader("f.eid\tf.21.0.0\tf.50.0", "a.tsv", fields)
	require.Error(t, err)

	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeHeaderShape, fe.Code)
	assert.Equal(t, 2, fe.Column)
	assert.Contains(t, err.Error(), "f.50.0")
	assert.Equal(t, 0, fields.Len(), "a rejected header must not claim fields")
}

func TestParseHeader_EmptyComponents(t *testing.T) {
	_, err := ParseHeader("f.eid\tf..0.0", "a.tsv", NewFieldRegistry())
	var fe *FormatError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, ErrCodeHeaderShape, fe.Code)
}

func TestParseHeader_Identifier(t *testing.T) {
	tests := []struct {
		name string
		line string
		code FormatErrorCode
	}{
		{name: "missing", line: "f.21.0.0\tf.22.0.0", code: ErrCodeNoIdentifier},
		{name: "twice", line: "f.eid\tf.21.0.0\tf.eid", code: ErrCodeDupIdentifier},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseHeader(tt.line, "a.tsv", NewFieldRegistry())
			var fe *FormatError
			require.True(t, errors.As(err, &fe), "got %v", err)
			assert.Equal(t, tt.code, fe.Code)
		})
	}
}

func TestParseHeader_CrossFileDuplicate(t *testing.T) {
	fields := NewFieldRegistry()
	_, err := ParseHeader("f.100.0.0\tf.eid", "a.tsv", fields)
	require.NoError(t, err)

	h, err := ParseHeader("f.100.0.0\tf.100.1.0\tf.eid\tf.200.0.0", "b.tsv", fields)
	require.NoError(t, err)

	assert.Equal(t, ColumnIgnored, h.Columns[0].Kind)
	assert.Equal(t, ColumnIgnored, h.Columns[1].Kind, "repeats of an ignored field stay ignored")
	assert.Equal(t, ColumnField, h.Columns[3].Kind)
	assert.Equal(t, 2, h.Ignored())

	require.Len(t, h.Duplicates, 1, "one warning per field per file")
	assert.Equal(t, DuplicateField{Header: "f.100.0.0", FieldID: "100", Owner: "a.tsv"}, h.Duplicates[0])

	owner, _ := fields.Owner("100")
	assert.Equal(t, "a.tsv", owner)
	owner, _ = fields.Owner("200")
	assert.Equal(t, "b.tsv", owner)
}

func TestParseHeader_IntraFileRepeatsAreNotDuplicates(t *testing.T) {
	h, err := ParseHeader("f.eid\tf.20002.0.0\tf.20002.0.1\tf.20002.1.0", "a.tsv", NewFieldRegistry())
	require.NoError(t, err)

	assert.Empty(t, h.Duplicates)
	assert.Equal(t, 0, h.Ignored())
}

func TestColumnKindString(t *testing.T) {
	assert.Equal(t, "field", ColumnField.String())
	assert.Equal(t, "identifier", ColumnIdentifier.String())
	assert.Equal(t, "ignore", ColumnIgnored.String())
	assert.Equal(t, "ColumnKind(9)", ColumnKind(9).String())
}
