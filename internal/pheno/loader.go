package pheno

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/ukbsql/internal/metrics"
	"github.com/roach88/ukbsql/internal/source"
)

// DefaultMaxLineBytes bounds a single line. Wide exports have lines of
// several megabytes.
const DefaultMaxLineBytes = 64 << 20

const lineBuffer = 256

// Opener opens inputs by name.
type Opener interface {
	Open(ctx context.Context, name string) (*source.Input, error)
}

type openerFunc func(ctx context.Context, name string) (*source.Input, error)

func (f openerFunc) Open(ctx context.Context, name string) (*source.Input, error) { return f(ctx, name) }

// ErrLoaderFailed is returned by every call on a Loader after a file failed.
var ErrLoaderFailed = errors.New("phenotype loader stopped after a failed file")

// Progress observes a file being streamed. Advance receives the bytes of the
// lines handed to the row processor so far. Exactly one of Finish or Abort
// follows Begin.
type Progress interface {
	Begin(name string, size int64)
	Advance(offset int64)
	Finish()
	Abort()
}

type nopProgress struct{}

func (nopProgress) Begin(string, int64) {}
func (nopProgress) Advance(int64)       {}
func (nopProgress) Finish()             {}
func (nopProgress) Abort()              {}

// Summary totals a run.
type Summary struct {
	Files        int   `json:"files"`
	Facts        int64 `json:"facts"`
	Missing      int64 `json:"missing"`
	Values       int   `json:"values"`
	Participants int   `json:"participants"`
	Fields       int   `json:"fields"`
	Ignored      int   `json:"ignored_columns"`
}

// Loader ingests phenotype files in order, sharing its registries across
// files. A Loader is not safe for concurrent use.
//
// A failed file is rolled back, but the fields, participants and codes it
// added stay in the registries. The first failure is therefore final: every
// later LoadFile, LoadInput or LoadFiles call returns ErrLoaderFailed wrapping
// it. Start a new Loader to retry.
type Loader struct {
	emitter  Emitter
	opener   Opener
	fields   *FieldRegistry
	dict     *Dictionary
	people   *ParticipantRegistry
	log      *slog.Logger
	progress Progress
	maxLine  int
	summary  Summary
	err      error // first failure, sticky
}

// Option configures a Loader.
type Option func(*Loader)

// WithOpener replaces the default local/S3 opener.
func WithOpener(o Opener) Option {
	return func(l *Loader) { l.opener = o }
}

// WithLogger sets the logger used for warnings and file lifecycle events.
func WithLogger(log *slog.Logger) Option {
	return func(l *Loader) { l.log = log }
}

// WithProgress reports per-file progress to p.
func WithProgress(p Progress) Option {
	return func(l *Loader) { l.progress = p }
}

// WithMaxLineBytes overrides DefaultMaxLineBytes.
func WithMaxLineBytes(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxLine = n
		}
	}
}

// WithRegistries injects pre-built registries, e.g. to continue numbering.
func WithRegistries(fields *FieldRegistry, dict *Dictionary, people *ParticipantRegistry) Option {
	return func(l *Loader) {
		l.fields, l.dict, l.people = fields, dict, people
	}
}

// NewLoader returns a Loader writing through emitter with fresh registries.
func NewLoader(emitter Emitter, opts ...Option) *Loader {
	l := &Loader{
		emitter:  emitter,
		opener:   openerFunc(source.Open),
		fields:   NewFieldRegistry(),
		dict:     NewDictionary(),
		people:   NewParticipantRegistry(),
		log:      slog.Default(),
		progress: nopProgress{},
		maxLine:  DefaultMaxLineBytes,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Fields exposes the field registry, e.g. to mark included fields in the data
// showcase.
func (l *Loader) Fields() *FieldRegistry {
	return l.fields
}

// Summary returns the totals accumulated so far.
func (l *Loader) Summary() Summary {
	s := l.summary
	s.Values = l.dict.Len()
	s.Participants = l.people.Len()
	s.Fields = l.fields.Len()
	return s
}

// LoadFiles loads every path in order. It stops at the first error; files
// finalized before it stay committed.
func (l *Loader) LoadFiles(ctx context.Context, paths []string) (Summary, error) {
	for _, path := range paths {
		if _, err := l.LoadFile(ctx, path); err != nil {
			return l.Summary(), err
		}
	}
	return l.Summary(), nil
}

// Err returns the failure that stopped the Loader, or nil.
func (l *Loader) Err() error {
	return l.err
}

func (l *Loader) stopped() error {
	if l.err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrLoaderFailed, l.err)
}

// LoadFile opens and loads one file.
func (l *Loader) LoadFile(ctx context.Context, path string) (FileReport, error) {
	if err := l.stopped(); err != nil {
		return FileReport{}, err
	}
	in, err := l.opener.Open(ctx, path)
	if err != nil {
		return FileReport{}, fmt.Errorf("open phenotype file: %w", err)
	}
	defer in.Close()
	return l.LoadInput(ctx, in)
}

// numberedLine is a raw line and its 1-based position in the file.
type numberedLine struct {
	no   int64
	text string
	end  int64 // bytes of the file up to and including this line
}

// LoadInput streams one opened input inside a single FileBatch.
func (l *Loader) LoadInput(ctx context.Context, in *source.Input) (report FileReport, err error) {
	if err := l.stopped(); err != nil {
		return FileReport{}, err
	}
	start := time.Now()
	log := l.log.With("file", in.Name)
	defer func() {
		metrics.RecordFile("pheno", err, time.Since(start))
		if err != nil {
			l.err = err
			log.Debug("file aborted", "error", err)
		}
	}()

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, min(64*1024, l.maxLine)), l.maxLine)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return FileReport{}, l.scanError(in.Name, 1, err)
		}
		return FileReport{}, &FormatError{Code: ErrCodeEmptyFile, Source: in.Name, Column: -1, Message: "missing header line"}
	}
	headerBytes := int64(len(scanner.Bytes())) + 1
	header, err := ParseHeader(strings.TrimSpace(scanner.Text()), in.Name, l.fields)
	if err != nil {
		return FileReport{}, err
	}
	for _, d := range header.Duplicates {
		log.Warn("duplicated field ID, ignoring this instance",
			"field", d.FieldID, "header", d.Header, "owner", d.Owner)
	}
	log.Info("processing phenotype file", "columns", header.Width(), "ignored", header.Ignored())

	batch, err := l.emitter.BeginFile(ctx, in.Name)
	if err != nil {
		return FileReport{}, fmt.Errorf("begin file %s: %w", in.Name, err)
	}
	defer batch.Rollback() // no-op once committed

	proc := &rowProcessor{header: header, dict: l.dict, people: l.people, sink: batch}
	l.progress.Begin(in.Name, in.Size)
	defer func() {
		if err != nil {
			l.progress.Abort()
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	lines := make(chan numberedLine, lineBuffer)

	g.Go(func() error {
		defer close(lines)
		var no int64 = 1
		end := headerBytes
		for scanner.Scan() {
			no++
			end += int64(len(scanner.Bytes())) + 1
			select {
			case lines <- numberedLine{no: no, text: scanner.Text(), end: end}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		if err := scanner.Err(); err != nil {
			return l.scanError(in.Name, no+1, err)
		}
		return nil
	})

	g.Go(func() error {
		for nl := range lines {
			if err := gctx.Err(); err != nil {
				return err
			}
			line := strings.TrimSpace(nl.text)
			if line == "" {
				continue
			}
			l.progress.Advance(nl.end)
			if err := proc.process(gctx, nl.no, line); err != nil {
				return err
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return FileReport{}, err
	}

	report = FileReport{
		Path:    in.Name,
		Digest:  in.Digest(),
		Bytes:   in.Offset(),
		Columns: header.Width(),
		Ignored: header.Ignored(),
		Lines:   proc.stats.Lines,
		Facts:   proc.stats.Facts,
		Missing: proc.stats.Missing,
		Values:  proc.stats.Values,
	}
	if err := batch.Commit(ctx, report); err != nil {
		return FileReport{}, fmt.Errorf("commit %s: %w", in.Name, err)
	}
	l.progress.Finish()

	l.summary.Files++
	l.summary.Facts += report.Facts
	l.summary.Missing += report.Missing
	l.summary.Ignored += report.Ignored
	metrics.RecordRows("facts", report.Facts)
	metrics.RecordRows("missing", report.Missing)
	metrics.RecordRows("values", report.Values)
	metrics.RecordRows("participants", proc.stats.Participants)

	log.Info("file finalized", "lines", report.Lines, "facts", report.Facts, "missing", report.Missing,
		"new_values", report.Values, "digest", fmt.Sprintf("%016x", report.Digest))
	return report, nil
}

func (l *Loader) scanError(name string, line int64, err error) error {
	if errors.Is(err, bufio.ErrTooLong) {
		return &FormatError{
			Code:    ErrCodeLineTooLong,
			Source:  name,
			Line:    line,
			Column:  -1,
			Message: fmt.Sprintf("line longer than %d bytes", l.maxLine),
		}
	}
	return fmt.Errorf("read %s: %w", name, err)
}
