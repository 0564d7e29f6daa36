package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"ReviewInsights/internal/config"
	"ReviewInsights/internal/domain"
	"ReviewInsights/internal/ports"
)

const archiveTable = "review_insights"

const schema = `CREATE TABLE IF NOT EXISTS review_insights (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	app_name TEXT NOT NULL,
	platform TEXT NOT NULL,
	review_date TEXT NOT NULL,
	rating INTEGER NOT NULL,
	review_text TEXT NOT NULL,
	emotion_score TEXT,
	category TEXT,
	summary TEXT,
	processed_at TEXT NOT NULL
)`

// Archive is a ResultSink that keeps every run's rows in a SQLite table.
type Archive struct {
	db     *sql.DB
	mode   string
	logger *slog.Logger
}

var _ ports.ResultSink = (*Archive)(nil)

// OpenArchive opens (or creates) the archive database at path.
func OpenArchive(ctx context.Context, path, mode string, logger *slog.Logger) (*Archive, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases alive across calls.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Archive{db: db, mode: mode, logger: logger}, nil
}

// Write inserts the batch in a single transaction. In overwrite mode previous
// rows are removed first.
func (a *Archive) Write(ctx context.Context, batch domain.ResultBatch) error {
	if a.db == nil {
		return nil
	}
	if !slices.Equal(batch.Header, domain.OutputHeader) {
		return fmt.Errorf("archive: header %v does not match table columns", batch.Header)
	}

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if a.mode == config.ModeOverwrite {
		if _, err := sq.Delete(archiveTable).RunWith(tx).ExecContext(ctx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("clear archive: %w", err)
		}
	}

	if len(batch.Rows) > 0 {
		insert := sq.Insert(archiveTable).Columns(append([]string{"run_id"}, batch.Header...)...)
		for _, row := range batch.Rows {
			if len(row) != len(batch.Header) {
				_ = tx.Rollback()
				return fmt.Errorf("archive: row has %d cells, want %d", len(row), len(batch.Header))
			}
			insert = insert.Values(append([]any{batch.RunID}, nullable(batch.Header, row)...)...)
		}
		if _, err := insert.RunWith(tx).ExecContext(ctx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert rows: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	a.debug("archived rows", "run_id", batch.RunID, "rows", len(batch.Rows))
	return nil
}

// Close releases the database handle.
func (a *Archive) Close() error {
	if a.db == nil {
		return nil
	}
	return a.db.Close()
}

var analysisColumns = map[string]bool{"emotion_score": true, "category": true, "summary": true}

// Empty analysis cells are stored as NULL.
func nullable(header []string, row []any) []any {
	out := make([]any, len(row))
	for i, cell := range row {
		if s, ok := cell.(string); ok && s == "" && analysisColumns[header[i]] {
			out[i] = nil
			continue
		}
		out[i] = cell
	}
	return out
}

func (a *Archive) debug(msg string, args ...interface{}) {
	if a.logger != nil {
		a.logger.Debug(msg, args...)
	}
}
