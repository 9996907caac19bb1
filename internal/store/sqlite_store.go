package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/model"
	"github.com/devrev/pairdb/localsync/internal/schema"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database. Each table keeps
// its rows as JSON documents keyed by primary key; filtering happens in process.
type SQLiteStore struct {
	db     *sql.DB
	index  *schema.Index
	hub    *Hub
	logger *zap.Logger
}

// OpenSQLiteStore opens (or creates) the database at path and prepares one
// document table per schema table
func OpenSQLiteStore(ctx context.Context, path string, index *schema.Index, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := openDB(ctx, path)
	if err != nil {
		return nil, err
	}

	for _, table := range index.Tables() {
		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s (pk TEXT PRIMARY KEY, doc TEXT NOT NULL)`,
			quoteIdent(table))
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create table %s: %w", table, err)
		}
	}

	logger.Info("SQLite store opened",
		zap.String("path", path),
		zap.Int("tables", len(index.Tables())))

	return &SQLiteStore{
		db:     db,
		index:  index,
		hub:    NewHub(),
		logger: logger,
	}, nil
}

// openDB opens a SQLite database with WAL journaling and a busy timeout,
// verifying the connection before returning
func openDB(ctx context.Context, path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	return db, nil
}

// Get opens a live selector over table
func (s *SQLiteStore) Get(ctx context.Context, table string, query Query) (*Selector, error) {
	if !s.index.Has(table) {
		return nil, syncerrors.UnknownTable(table)
	}
	return s.hub.Selector(table, query, func(ctx context.Context, q Query) ([]model.Entity, error) {
		rows, err := s.load(ctx, s.db, table)
		if err != nil {
			return nil, err
		}
		return Apply(rows, q), nil
	}), nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLiteStore) load(ctx context.Context, q queryer, table string) ([]model.Entity, error) {
	rows, err := q.QueryContext(ctx,
		fmt.Sprintf(`SELECT doc FROM %s ORDER BY rowid`, quoteIdent(table)))
	if err != nil {
		return nil, syncerrors.StoreFailed("failed to read table", err).WithDetail("table", table)
	}
	defer rows.Close()

	var out []model.Entity
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, syncerrors.StoreFailed("failed to scan row", err).WithDetail("table", table)
		}
		var e model.Entity
		if err := json.Unmarshal([]byte(doc), &e); err != nil {
			return nil, syncerrors.StoreFailed("failed to decode row", err).WithDetail("table", table)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, syncerrors.StoreFailed("failed to iterate rows", err).WithDetail("table", table)
	}
	return out, nil
}

// Upsert merges rows into table by primary key inside one transaction
func (s *SQLiteStore) Upsert(ctx context.Context, table string, rows ...model.Entity) ([]model.Entity, error) {
	pk, ok := s.index.PrimaryKey(table)
	if !ok {
		return nil, syncerrors.UnknownTable(table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, syncerrors.StoreFailed("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	selectStmt := fmt.Sprintf(`SELECT doc FROM %s WHERE pk = ?`, quoteIdent(table))
	upsertStmt := fmt.Sprintf(
		`INSERT INTO %s (pk, doc) VALUES (?, ?) ON CONFLICT(pk) DO UPDATE SET doc = excluded.doc`,
		quoteIdent(table))

	stored := make([]model.Entity, 0, len(rows))
	changed := false
	for _, row := range rows {
		id, ok := row.ID(pk)
		if !ok {
			return nil, syncerrors.InvalidArgument("row has no primary key value", nil).
				WithDetail("table", table).
				WithDetail("primary_key", pk)
		}

		var previous string
		merged := model.Entity{}
		err := tx.QueryRowContext(ctx, selectStmt, id).Scan(&previous)
		switch {
		case err == sql.ErrNoRows:
		case err != nil:
			return nil, syncerrors.StoreFailed("failed to read row", err).WithDetail("table", table)
		default:
			if err := json.Unmarshal([]byte(previous), &merged); err != nil {
				return nil, syncerrors.StoreFailed("failed to decode row", err).WithDetail("table", table)
			}
		}
		merged.Merge(row)

		doc, err := json.Marshal(merged)
		if err != nil {
			return nil, syncerrors.InvalidArgument("row is not JSON encodable", err).WithDetail("table", table)
		}
		if string(doc) != previous {
			if _, err := tx.ExecContext(ctx, upsertStmt, id, string(doc)); err != nil {
				return nil, syncerrors.StoreFailed("failed to write row", err).WithDetail("table", table)
			}
			changed = true
		}
		stored = append(stored, merged)
	}

	if err := tx.Commit(); err != nil {
		return nil, syncerrors.StoreFailed("failed to commit transaction", err)
	}

	if changed {
		s.hub.Notify(table)
	}
	return stored, nil
}

// Delete removes the rows of table matching where
func (s *SQLiteStore) Delete(ctx context.Context, table string, where Predicate) (int, error) {
	pk, ok := s.index.PrimaryKey(table)
	if !ok {
		return 0, syncerrors.UnknownTable(table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, syncerrors.StoreFailed("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := s.load(ctx, tx, table)
	if err != nil {
		return 0, err
	}

	deleteStmt := fmt.Sprintf(`DELETE FROM %s WHERE pk = ?`, quoteIdent(table))
	removed := 0
	for _, row := range rows {
		if !Match(row, where) {
			continue
		}
		id, ok := row.ID(pk)
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, deleteStmt, id); err != nil {
			return 0, syncerrors.StoreFailed("failed to delete row", err).WithDetail("table", table)
		}
		removed++
	}

	if err := tx.Commit(); err != nil {
		return 0, syncerrors.StoreFailed("failed to commit transaction", err)
	}

	if removed > 0 {
		s.logger.Debug("Deleted rows",
			zap.String("table", table),
			zap.Int("count", removed))
		s.hub.Notify(table)
	}
	return removed, nil
}

// Ping checks the database connection
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes open selectors and the database
func (s *SQLiteStore) Close() error {
	s.hub.CloseAll()
	return s.db.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
