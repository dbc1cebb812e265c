// Package sink abstracts where generated statements go: a live
// destination database or a rendered SQL script.
package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/abridge-db/abridge/internal/database"
	"github.com/abridge-db/abridge/internal/generator"
)

var (
	// ErrDialectMismatch is returned when source and destination are of
	// different dialect families.
	ErrDialectMismatch = errors.New("source and destination databases must be of the same dialect")
	// ErrCannotGenerateSQL is returned when the source dialect cannot
	// render a runnable SQL script.
	ErrCannotGenerateSQL = errors.New("dialect cannot generate sql scripts")
)

// Sink receives the generated statement stream.
type Sink interface {
	Begin(ctx context.Context) error
	InsertRow(ctx context.Context, stmt generator.InsertStatement) error
	UpdateRow(ctx context.Context, stmt generator.UpdateStatement) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Finish() error
}

// DBSink executes statements on a live destination database.
type DBSink struct {
	dst *database.DB
	tx  *sql.Tx
}

// NewDBSink builds a live sink, checking that the destination is of the
// same dialect family as the source.
func NewDBSink(src, dst *database.DB) (*DBSink, error) {
	if src.Dialect().Name() != dst.Dialect().Name() {
		return nil, fmt.Errorf("%w: source is %s, destination is %s",
			ErrDialectMismatch, src.Dialect().Name(), dst.Dialect().Name())
	}
	return &DBSink{dst: dst}, nil
}

func (s *DBSink) Begin(ctx context.Context) error {
	tx, err := s.dst.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin destination transaction: %w", err)
	}
	s.tx = tx
	return nil
}

func (s *DBSink) InsertRow(ctx context.Context, stmt generator.InsertStatement) error {
	err := s.dst.InsertRow(ctx, s.tx, stmt.Table, stmt.Row)
	logViolation(err, stmt.Table.Name, "insert")
	return err
}

func (s *DBSink) UpdateRow(ctx context.Context, stmt generator.UpdateStatement) error {
	err := s.dst.UpdateRow(ctx, s.tx, stmt.Table, stmt.KeyCols, stmt.KeyValues, stmt.SetCols, stmt.SetValues)
	logViolation(err, stmt.Table.Name, "update")
	return err
}

// logViolation surfaces the violated constraint behind a failed write;
// the error itself is still returned to abort the run.
func logViolation(err error, table, operation string) {
	violation, constraint := database.ClassifyWriteError(err)
	if violation == database.ViolationNone {
		return
	}
	log.Error().
		Str("table", table).
		Str("operation", operation).
		Str("violation", violation.String()).
		Str("constraint", constraint).
		Msg("Constraint violation on destination write")
}

func (s *DBSink) Commit(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit()
	s.tx = nil
	return err
}

// Rollback aborts the destination transaction. It is safe to call after
// Commit, where it does nothing.
func (s *DBSink) Rollback(ctx context.Context) error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback()
	s.tx = nil
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

func (s *DBSink) Finish() error {
	return nil
}

// ScriptSink renders statements as SQL text. The source connection
// supplies the dialect's literal escaping.
type ScriptSink struct {
	src *database.DB
	w   io.Writer
}

// NewScriptSink builds a script sink, checking that the source dialect
// can render runnable SQL.
func NewScriptSink(src *database.DB, w io.Writer) (*ScriptSink, error) {
	if !src.Dialect().CanGenerateSQL() {
		return nil, fmt.Errorf("%w: %s", ErrCannotGenerateSQL, src.Dialect().Name())
	}
	return &ScriptSink{src: src, w: w}, nil
}

func (s *ScriptSink) Begin(ctx context.Context) error {
	for _, line := range s.src.Dialect().ScriptPrologue() {
		if _, err := fmt.Fprintln(s.w, line); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScriptSink) InsertRow(ctx context.Context, stmt generator.InsertStatement) error {
	_, err := fmt.Fprintln(s.w, s.src.RenderInsert(stmt.Table, stmt.Row))
	return err
}

func (s *ScriptSink) UpdateRow(ctx context.Context, stmt generator.UpdateStatement) error {
	_, err := fmt.Fprintln(s.w, s.src.RenderUpdate(stmt.Table, stmt.KeyCols, stmt.KeyValues, stmt.SetCols, stmt.SetValues))
	return err
}

func (s *ScriptSink) Commit(ctx context.Context) error {
	for _, line := range s.src.Dialect().ScriptEpilogue() {
		if _, err := fmt.Fprintln(s.w, line); err != nil {
			return err
		}
	}
	return nil
}

func (s *ScriptSink) Rollback(ctx context.Context) error {
	return nil
}

func (s *ScriptSink) Finish() error {
	if flusher, ok := s.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}
