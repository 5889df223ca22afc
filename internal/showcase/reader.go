package showcase

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/ukbsql/internal/metrics"
	"github.com/roach88/ukbsql/internal/pheno"
)

// table describes one delimited input.
type table struct {
	kind  string // metrics label and log name
	comma rune   // 0 detects tab or comma from the header
	width int
}

// readTable streams path, validates every record against t.width and hands
// trimmed cells to each. Blank lines are skipped. It returns the number of
// records passed to each.
func (l *Loader) readTable(ctx context.Context, path string, t table, each func(line int64, rec []string) error) (rows int64, err error) {
	start := time.Now()
	log := l.log.With("file", path, "kind", t.kind)
	defer func() {
		metrics.RecordFile(t.kind, err, time.Since(start))
		if err == nil {
			metrics.RecordRows(t.kind, rows)
		}
	}()

	in, err := l.opener.Open(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", t.kind, err)
	}
	defer in.Close()

	br := bufio.NewReader(in)
	first, err := br.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("read %s: %w", path, err)
	}
	if strings.TrimSpace(first) == "" {
		return 0, &pheno.FormatError{Code: pheno.ErrCodeEmptyFile, Source: path, Column: -1, Message: "no header line"}
	}
	comma := t.comma
	if comma == 0 {
		comma = detectDelimiter(first)
		log.Debug("detected delimiter", "delimiter", strconv.QuoteRune(comma))
	}

	r := csv.NewReader(io.MultiReader(strings.NewReader(first), br))
	r.Comma = comma
	r.LazyQuotes = true
	r.FieldsPerRecord = -1
	r.ReuseRecord = true

	header, err := r.Read()
	if err != nil {
		return 0, recordError(path, 1, err)
	}
	if len(header) != t.width {
		return 0, widthError(path, 1, t, len(header))
	}
	log.Info("reading", "header", strings.Join(header, string(comma)))

	l.progress.Begin(path, in.Size)
	defer func() {
		if err != nil {
			l.progress.Abort()
		}
	}()
	for {
		if err := ctx.Err(); err != nil {
			return rows, err
		}
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return rows, recordError(path, 0, err)
		}
		line, _ := r.FieldPos(0)
		if len(rec) == 1 && strings.TrimSpace(rec[0]) == "" {
			continue
		}
		if len(rec) != t.width {
			return rows, widthError(path, int64(line), t, len(rec))
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		if err := each(int64(line), rec); err != nil {
			return rows, err
		}
		rows++
		l.progress.Advance(r.InputOffset())
	}
	l.progress.Finish()

	return rows, nil
}

func widthError(path string, line int64, t table, got int) error {
	return &pheno.FormatError{
		Code:    pheno.ErrCodeRecordWidth,
		Source:  path,
		Line:    line,
		Column:  -1,
		Message: fmt.Sprintf("%s is expected to have exactly %d columns, found %d", t.kind, t.width, got),
	}
}

func recordError(path string, line int64, err error) error {
	var pe *csv.ParseError
	if errors.As(err, &pe) {
		return &pheno.FormatError{Code: pheno.ErrCodeRecordValue, Source: path, Line: int64(pe.Line), Column: pe.Column - 1, Message: pe.Err.Error()}
	}
	return fmt.Errorf("read %s:%d: %w", path, line, err)
}

// detectDelimiter picks tab or comma, whichever occurs more often in the
// header line.
func detectDelimiter(header string) rune {
	if strings.Count(header, "\t") >= strings.Count(header, ",") && strings.Contains(header, "\t") {
		return '\t'
	}
	return ','
}

// parseInt parses a required integer cell.
func parseInt(path string, line int64, col int, cell string) (int64, error) {
	v, err := strconv.ParseInt(cell, 10, 64)
	if err != nil {
		return 0, &pheno.FormatError{
			Code:    pheno.ErrCodeRecordValue,
			Source:  path,
			Line:    line,
			Column:  col,
			Message: fmt.Sprintf("expected an integer, got %q", cell),
		}
	}
	return v, nil
}

// optionalInt parses an integer cell where empty means NULL.
func optionalInt(path string, line int64, col int, cell string) (any, error) {
	if cell == "" {
		return nil, nil
	}
	return parseInt(path, line, col, cell)
}

// optionalText maps an empty cell to NULL.
func optionalText(cell string) any {
	if cell == "" {
		return nil
	}
	return cell
}
