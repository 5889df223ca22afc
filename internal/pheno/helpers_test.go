package pheno

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/roach88/ukbsql/internal/source"
)

type valueRow struct {
	Code    Code
	FieldID string
	Text    string
}

// memEmitter keeps committed rows in memory, in emission order.
type memEmitter struct {
	participants []string
	values       []valueRow
	facts        []FactRow
	reports      []FileReport
	batches      []*memBatch

	failValue string // InsertValue fails for this text
}

type memBatch struct {
	e            *memEmitter
	name         string
	participants []string
	values       []valueRow
	facts        []FactRow
	committed    bool
	rolledBack   bool
}

func (e *memEmitter) BeginFile(ctx context.Context, name string) (FileBatch, error) {
	b := &memBatch{e: e, name: name}
	e.batches = append(e.batches, b)
	return b, nil
}

func (b *memBatch) InsertParticipant(ctx context.Context, id string) error {
	b.participants = append(b.participants, id)
	return nil
}

func (b *memBatch) InsertValue(ctx context.Context, code Code, fieldID, text string) error {
	if b.e.failValue != "" && text == b.e.failValue {
		return errors.New("disk full")
	}
	b.values = append(b.values, valueRow{Code: code, FieldID: fieldID, Text: text})
	return nil
}

func (b *memBatch) InsertFact(ctx context.Context, row FactRow) error {
	b.facts = append(b.facts, row)
	return nil
}

func (b *memBatch) Commit(ctx context.Context, report FileReport) error {
	b.committed = true
	b.e.participants = append(b.e.participants, b.participants...)
	b.e.values = append(b.e.values, b.values...)
	b.e.facts = append(b.e.facts, b.facts...)
	b.e.reports = append(b.e.reports, report)
	return nil
}

func (b *memBatch) Rollback() error {
	if !b.committed {
		b.rolledBack = true
	}
	return nil
}

// memInputs serves named in-memory files.
type memInputs map[string]string

func (m memInputs) Open(ctx context.Context, name string) (*source.Input, error) {
	content, ok := m[name]
	if !ok {
		return nil, errors.New("no such file")
	}
	return source.NewInput(name, io.NopCloser(strings.NewReader(content)), int64(len(content))), nil
}

// newTestLoader returns a loader over files and a buffer capturing its logs.
func newTestLoader(t *testing.T, files memInputs) (*Loader, *memEmitter, *bytes.Buffer) {
	t.Helper()
	logs := &bytes.Buffer{}
	em := &memEmitter{}
	l := NewLoader(em,
		WithOpener(files),
		WithLogger(slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))),
	)
	return l, em, logs
}

func factsForCode(facts []FactRow, code Code) int {
	n := 0
	for _, f := range facts {
		if f.Code == code {
			n++
		}
	}
	return n
}
