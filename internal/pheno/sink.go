package pheno

import "context"

// Code is a dictionary-encoded (field, raw text) pair.
type Code int64

// FactRow links a participant to one observed value.
type FactRow struct {
	ParticipantID string
	Code          Code
	Repetition    string
}

// Sink receives normalized rows.
type Sink interface {
	InsertParticipant(ctx context.Context, id string) error
	InsertValue(ctx context.Context, code Code, fieldID, text string) error
	InsertFact(ctx context.Context, row FactRow) error
}

// FileBatch is a Sink scoped to one input file. Commit makes every row of the
// file visible at once; Rollback discards them. Rollback after Commit is a
// no-op.
type FileBatch interface {
	Sink
	Commit(ctx context.Context, report FileReport) error
	Rollback() error
}

// Emitter opens one FileBatch per input file.
type Emitter interface {
	BeginFile(ctx context.Context, name string) (FileBatch, error)
}

// FileReport summarizes one finalized file. It is persisted with the file's
// rows.
type FileReport struct {
	Path    string
	Digest  uint64
	Bytes   int64
	Columns int
	Ignored int
	Lines   int64
	Facts   int64
	Missing int64
	Values  int64
}
