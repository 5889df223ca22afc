package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/ukbsql/internal/pheno"
)

// Run statuses recorded in INGEST_RUN.Status.
const (
	RunRunning  = "running"
	RunComplete = "complete"
	RunFailed   = "failed"
)

// Tx is a write transaction with a set of prepared inserters.
type Tx struct {
	s         *Store
	tx        *sql.Tx
	inserters []*Inserter
	done      bool
}

// Begin starts a write transaction.
func (s *Store) Begin(ctx context.Context) (*Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{s: s, tx: tx}, nil
}

// Inserter prepares an INSERT for table with the given columns. The statement
// is closed when the transaction ends.
func (t *Tx) Inserter(ctx context.Context, table string, columns ...string) (*Inserter, error) {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)

	stmt, err := t.tx.PrepareContext(ctx, t.s.rebind(query))
	if err != nil {
		return nil, fmt.Errorf("prepare insert into %s: %w", table, err)
	}
	ins := &Inserter{table: table, stmt: stmt}
	t.inserters = append(t.inserters, ins)
	return ins, nil
}

// Exec runs a statement inside the transaction.
func (t *Tx) Exec(ctx context.Context, query string, args ...any) error {
	if _, err := t.tx.ExecContext(ctx, t.s.rebind(query), args...); err != nil {
		return err
	}
	return nil
}

// Commit commits the transaction.
func (t *Tx) Commit() error {
	t.closeStatements()
	t.done = true
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. It is a no-op after Commit.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.closeStatements()
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback: %w", err)
	}
	return nil
}

func (t *Tx) closeStatements() {
	for _, ins := range t.inserters {
		ins.stmt.Close()
	}
	t.inserters = nil
}

// Inserter is a prepared single-row INSERT.
type Inserter struct {
	table string
	stmt  *sql.Stmt
	rows  int64
}

// Insert writes one row.
func (i *Inserter) Insert(ctx context.Context, args ...any) error {
	if _, err := i.stmt.ExecContext(ctx, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", i.table, err)
	}
	i.rows++
	return nil
}

// Rows reports how many rows this inserter has written.
func (i *Inserter) Rows() int64 {
	return i.rows
}

// fileBatch carries one phenotype file's rows in a single transaction.
type fileBatch struct {
	*Tx
	runID        string
	participants *Inserter
	values       *Inserter
	facts        *Inserter
}

// BeginFile opens the transaction for one phenotype file. A run is started
// implicitly if StartRun has not been called.
func (s *Store) BeginFile(ctx context.Context, name string) (pheno.FileBatch, error) {
	if s.runID == "" {
		if _, err := s.StartRun(ctx, "unknown"); err != nil {
			return nil, err
		}
	}

	tx, err := s.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin file %s: %w", name, err)
	}
	b := &fileBatch{Tx: tx, runID: s.runID}

	if b.participants, err = tx.Inserter(ctx, "PARTICIPANT", "ID"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if b.values, err = tx.Inserter(ctx, "PHENO_META", "ID", "FieldID", "Pheno"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if b.facts, err = tx.Inserter(ctx, "PHENOTYPE", "ID", "Instance", "PhenoID"); err != nil {
		tx.Rollback()
		return nil, err
	}
	return b, nil
}

func (b *fileBatch) InsertParticipant(ctx context.Context, id string) error {
	return b.participants.Insert(ctx, id)
}

func (b *fileBatch) InsertValue(ctx context.Context, code pheno.Code, fieldID, text string) error {
	return b.values.Insert(ctx, int64(code), fieldID, text)
}

func (b *fileBatch) InsertFact(ctx context.Context, row pheno.FactRow) error {
	return b.facts.Insert(ctx, row.ParticipantID, row.Repetition, int64(row.Code))
}

// Commit records the file in INGEST_FILE and commits all of its rows.
func (b *fileBatch) Commit(ctx context.Context, rep pheno.FileReport) error {
	err := b.Exec(ctx, `
		INSERT INTO INGEST_FILE
		(RunID, Path, Digest, Bytes, Columns, Ignored, Lines, Facts, Missing, NewValues)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		b.runID,
		rep.Path,
		fmt.Sprintf("%016x", rep.Digest),
		rep.Bytes,
		rep.Columns,
		rep.Ignored,
		rep.Lines,
		rep.Facts,
		rep.Missing,
		rep.Values,
	)
	if err != nil {
		return fmt.Errorf("write ingest file: %w", err)
	}
	return b.Tx.Commit()
}

// StartRun records a new INGEST_RUN row and makes it the run that subsequent
// file batches are attributed to.
func (s *Store) StartRun(ctx context.Context, version string) (string, error) {
	id := uuid.Must(uuid.NewV7()).String()
	_, err := s.db.ExecContext(ctx, s.rebind(`
		INSERT INTO INGEST_RUN (ID, Version, StartedAt, Status)
		VALUES (?, ?, ?, ?)
	`), id, version, timestamp(), RunRunning)
	if err != nil {
		return "", fmt.Errorf("write ingest run: %w", err)
	}
	s.runID = id
	return id, nil
}

// RunID returns the current run, or "" before StartRun.
func (s *Store) RunID() string {
	return s.runID
}

// FinishRun closes the current run with its totals.
func (s *Store) FinishRun(ctx context.Context, status string, sum pheno.Summary) error {
	if s.runID == "" {
		return errors.New("finish run: no run started")
	}
	_, err := s.db.ExecContext(ctx, s.rebind(`
		UPDATE INGEST_RUN
		SET FinishedAt = ?, Status = ?, Files = ?, Facts = ?, Missing = ?
		WHERE ID = ?
	`), timestamp(), status, sum.Files, sum.Facts, sum.Missing, s.runID)
	if err != nil {
		return fmt.Errorf("finish ingest run: %w", err)
	}
	return nil
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
