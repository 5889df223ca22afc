// Package showcase loads the companion tables of a phenotype database: the
// coding and data dictionaries published with the Showcase, and primary care
// clinical and prescription records.
//
// Each input is loaded in a single transaction. Records must have exactly the
// expected number of columns; anything else is a *pheno.FormatError and the
// whole input is rolled back.
package showcase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/ukbsql/internal/pheno"
	"github.com/roach88/ukbsql/internal/source"
	"github.com/roach88/ukbsql/internal/store"
)

const (
	codeColumns = 3  // Coding, Value, Meaning
	dataColumns = 17 // Path .. Link
)

// FieldSet reports whether a field was loaded from a phenotype file.
type FieldSet interface {
	Has(fieldID string) bool
}

// Loader writes showcase and primary care inputs into a store.
type Loader struct {
	store    *store.Store
	opener   pheno.Opener
	log      *slog.Logger
	progress pheno.Progress
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces the default local/S3 opener.
func WithOpener(o pheno.Opener) Option {
	return func(l *Loader) { l.opener = o }
}

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// WithProgress reports per-file progress to p.
func WithProgress(p pheno.Progress) Option {
	return func(l *Loader) { l.progress = p }
}

// NewLoader returns a Loader writing to s.
func NewLoader(s *store.Store, opts ...Option) *Loader {
	l := &Loader{
		store:    s,
		opener:   source.Default(),
		log:      slog.Default(),
		progress: silent{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type silent struct{}

func (silent) Begin(string, int64) {}
func (silent) Advance(int64)       {}
func (silent) Finish()             {}
func (silent) Abort()              {}

// LoadCodes loads a coding showcase (Coding,Value,Meaning) into CODE and
// CODE_META. CODE receives each coding once.
func (l *Loader) LoadCodes(ctx context.Context, path string) (int64, error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	codes, err := tx.Inserter(ctx, "CODE", "ID")
	if err != nil {
		return 0, err
	}
	meta, err := tx.Inserter(ctx, "CODE_META", "ID", "Value", "Meaning")
	if err != nil {
		return 0, err
	}

	seen := make(map[int64]struct{})
	rows, err := l.readTable(ctx, path, table{kind: "code", comma: ',', width: codeColumns}, func(line int64, rec []string) error {
		id, err := parseInt(path, line, 0, rec[0])
		if err != nil {
			return err
		}
		if _, ok := seen[id]; !ok {
			if err := codes.Insert(ctx, id); err != nil {
				return err
			}
			seen[id] = struct{}{}
		}
		return meta.Insert(ctx, id, rec[1], rec[2])
	})
	if err != nil {
		return rows, err
	}

	if err := tx.Commit(); err != nil {
		return rows, fmt.Errorf("commit code showcase: %w", err)
	}
	l.log.Info("code showcase loaded", "file", path, "rows", rows, "codings", len(seen))
	return rows, nil
}

// LoadDataShowcase loads the 17-column data dictionary into DATA_META.
// Included is set for fields present in included.
func (l *Loader) LoadDataShowcase(ctx context.Context, path string, included FieldSet) (int64, error) {
	tx, err := l.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ins, err := tx.Inserter(ctx, "DATA_META",
		"Category", "FieldID", "Field", "Participants", "Items", "Stability",
		"ValueType", "Units", "ItemType", "Strata", "Sexed", "Instances",
		`"Array"`, "Coding", "Included")
	if err != nil {
		return 0, err
	}

	var marked int64
	rows, err := l.readTable(ctx, path, table{kind: "data", comma: ',', width: dataColumns}, func(line int64, rec []string) error {
		// Path (0), Notes (15) and Link (16) are not stored.
		args := make([]any, 0, 15)
		for _, col := range []int{1, 2} {
			v, err := parseInt(path, line, col, rec[col])
			if err != nil {
				return err
			}
			args = append(args, v)
		}
		args = append(args, rec[3])
		for _, col := range []int{4, 5} {
			v, err := parseInt(path, line, col, rec[col])
			if err != nil {
				return err
			}
			args = append(args, v)
		}
		args = append(args, rec[6], rec[7],
			optionalText(rec[8]), optionalText(rec[9]), optionalText(rec[10]), optionalText(rec[11]))
		for _, col := range []int{12, 13} {
			v, err := parseInt(path, line, col, rec[col])
			if err != nil {
				return err
			}
			args = append(args, v)
		}
		coding, err := optionalInt(path, line, 14, rec[14])
		if err != nil {
			return err
		}
		in := included != nil && included.Has(rec[2])
		if in {
			marked++
		}
		args = append(args, coding, in)
		return ins.Insert(ctx, args...)
	})
	if err != nil {
		return rows, err
	}

	if err := tx.Commit(); err != nil {
		return rows, fmt.Errorf("commit data showcase: %w", err)
	}
	l.log.Info("data showcase loaded", "file", path, "rows", rows, "included", marked)
	return rows, nil
}
