package pheno

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// FileStats counts what one file contributed.
type FileStats struct {
	Lines        int64
	Facts        int64
	Missing      int64
	Values       int64
	Participants int64
}

// rowProcessor turns data lines of one file into rows on sink.
type rowProcessor struct {
	header *Header
	dict   *Dictionary
	people *ParticipantRegistry
	sink   Sink
	stats  FileStats
}

// process handles one trimmed, non-blank data line.
func (p *rowProcessor) process(ctx context.Context, lineNo int64, line string) error {
	cols := strings.Split(line, Separator)
	if len(cols) != p.header.Width() {
		return &FormatError{
			Code:    ErrCodeColumnCount,
			Source:  p.header.Source,
			Line:    lineNo,
			Column:  -1,
			Message: fmt.Sprintf("file is expected to have exactly %d columns, line has %d", p.header.Width(), len(cols)),
		}
	}

	id := cols[p.header.IDIndex]
	if id == "" || id == MissingToken {
		return &FormatError{
			Code:    ErrCodeMissingIdentifier,
			Source:  p.header.Source,
			Line:    lineNo,
			Column:  p.header.IDIndex,
			Message: fmt.Sprintf("participant identifier is %q", id),
		}
	}
	if !canonicalID(id) {
		return &FormatError{
			Code:    ErrCodeBadIdentifier,
			Source:  p.header.Source,
			Line:    lineNo,
			Column:  p.header.IDIndex,
			Message: fmt.Sprintf("participant identifier %q is not a canonical integer", id),
		}
	}
	created, err := p.people.Register(ctx, p.sink, id)
	if err != nil {
		return err
	}
	if created {
		p.stats.Participants++
	}

	for i, text := range cols {
		col := &p.header.Columns[i]
		if col.Kind == ColumnIdentifier {
			continue
		}
		if text == MissingToken {
			p.stats.Missing++
			continue
		}
		if col.Kind == ColumnIgnored {
			continue
		}
		code, created, err := p.dict.Resolve(ctx, p.sink, col.FieldID, text)
		if err != nil {
			return err
		}
		if created {
			p.stats.Values++
		}
		if err := p.sink.InsertFact(ctx, FactRow{ParticipantID: id, Code: code, Repetition: col.Repetition}); err != nil {
			return fmt.Errorf("insert fact (participant %s, code %d): %w", id, code, err)
		}
		p.stats.Facts++
	}
	p.stats.Lines++
	return nil
}

// canonicalID reports whether id is the decimal form the PARTICIPANT key
// stores, so that equal strings and equal keys coincide.
func canonicalID(id string) bool {
	v, err := strconv.ParseInt(id, 10, 64)
	return err == nil && v >= 0 && strconv.FormatInt(v, 10) == id
}
