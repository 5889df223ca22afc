package pheno

import "fmt"

// FormatErrorCode categorizes malformed input.
type FormatErrorCode string

const (
	// ErrCodeHeaderShape: a header token is not f.<field>.<repetition>.<array>.
	ErrCodeHeaderShape FormatErrorCode = "E_HEADER_SHAPE"

	// ErrCodeNoIdentifier: the header has no f.eid column.
	ErrCodeNoIdentifier FormatErrorCode = "E_NO_IDENTIFIER"

	// ErrCodeDupIdentifier: the header has more than one f.eid column.
	ErrCodeDupIdentifier FormatErrorCode = "E_DUP_IDENTIFIER"

	// ErrCodeColumnCount: a data line has a different width than the header.
	ErrCodeColumnCount FormatErrorCode = "E_COLUMN_COUNT"

	// ErrCodeMissingIdentifier: a data line has NA or nothing in the f.eid column.
	ErrCodeMissingIdentifier FormatErrorCode = "E_MISSING_IDENTIFIER"

	// ErrCodeBadIdentifier: the f.eid cell is not a participant number in
	// canonical decimal form (no sign, no leading zeros).
	ErrCodeBadIdentifier FormatErrorCode = "E_BAD_IDENTIFIER"

	// ErrCodeEmptyFile: the file has no header line.
	ErrCodeEmptyFile FormatErrorCode = "E_EMPTY_FILE"

	// ErrCodeLineTooLong: a line exceeds the configured maximum length.
	ErrCodeLineTooLong FormatErrorCode = "E_LINE_TOO_LONG"

	// ErrCodeRecordWidth: a showcase or primary care record has the wrong
	// number of columns.
	ErrCodeRecordWidth FormatErrorCode = "E_RECORD_WIDTH"

	// ErrCodeRecordValue: a showcase or primary care cell does not parse as
	// its column type.
	ErrCodeRecordValue FormatErrorCode = "E_RECORD_VALUE"
)

// FormatError reports input that cannot be normalized. It is always fatal.
type FormatError struct {
	Code    FormatErrorCode
	Source  string
	Line    int64 // 1-based; 0 when not tied to a line
	Column  int   // 0-based; -1 when not tied to a column
	Message string
}

func (e *FormatError) Error() string {
	switch {
	case e.Line > 0 && e.Column >= 0:
		return fmt.Sprintf("%s: %s:%d: column %d: %s", e.Code, e.Source, e.Line, e.Column+1, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("%s: %s:%d: %s", e.Code, e.Source, e.Line, e.Message)
	default:
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Source, e.Message)
	}
}

// DuplicateField records a header column whose field is already owned by an
// earlier file.
type DuplicateField struct {
	Header  string
	FieldID string
	Owner   string
}
