package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"expense-agent/internal/domain"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// OpenSQLite opens (or creates) a SQLite database at path, ensuring that the
// parent directory exists. ":memory:" is accepted for tests.
func OpenSQLite(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("repository: create db directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("repository: open db at %s: %w", path, err)
	}
	// One connection keeps an in-memory database alive across calls and
	// serialises writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("repository: ping db at %s: %w", path, err)
	}
	return db, nil
}

// SQLiteStore is a TableStore backed by one SQLite table. Payloads are stored
// as JSON.
type SQLiteStore struct {
	db    *sql.DB
	table string
}

func NewSQLiteStore(db *sql.DB, table string) (*SQLiteStore, error) {
	if db == nil {
		return nil, errors.New("repository: db must not be nil")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("repository: invalid table name %q", table)
	}
	return &SQLiteStore{db: db, table: table}, nil
}

func (s *SQLiteStore) CreateTable(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			partition_key TEXT NOT NULL,
			row_key TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (partition_key, row_key)
		)`, s.table))
	if err != nil {
		return fmt.Errorf("repository: CreateTable: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) iter.Seq2[domain.Record, error] {
	return func(yield func(domain.Record, error) bool) {
		var (
			where []string
			args  []any
		)
		if f.PartitionKey != "" {
			where = append(where, "partition_key = ?")
			args = append(args, f.PartitionKey)
		}
		if f.RowKey != "" {
			where = append(where, "row_key = ?")
			args = append(args, f.RowKey)
		}
		q := fmt.Sprintf("SELECT partition_key, row_key, payload FROM %s", s.table)
		if len(where) > 0 {
			q += " WHERE " + strings.Join(where, " AND ")
		}
		if f.Descending {
			q += " ORDER BY partition_key DESC, row_key DESC"
		} else {
			q += " ORDER BY partition_key, row_key"
		}
		if f.Limit > 0 {
			q += " LIMIT ?"
			args = append(args, f.Limit)
		}

		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			yield(domain.Record{}, fmt.Errorf("repository: List: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var (
				r   domain.Record
				raw string
			)
			if err := rows.Scan(&r.PartitionKey, &r.RowKey, &raw); err != nil {
				yield(domain.Record{}, fmt.Errorf("repository: List scan: %w", err))
				return
			}
			payload, err := decodePayload(raw)
			if err != nil {
				yield(domain.Record{}, fmt.Errorf("repository: List unmarshal: %w", err))
				return
			}
			r.Payload = payload
			if !yield(r, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(domain.Record{}, fmt.Errorf("repository: List: %w", err))
		}
	}
}

func (s *SQLiteStore) Create(ctx context.Context, r domain.Record) error {
	if r.PartitionKey == "" || r.RowKey == "" {
		return errors.New("repository: Create: partition key and row key are required")
	}
	if err := s.exec(ctx, s.db, Action{Op: OpInsert, Record: r}); err != nil {
		return fmt.Errorf("repository: Create: %w", err)
	}
	return nil
}

// SubmitTransaction applies actions inside one SQL transaction and rolls it
// back on the first failure.
func (s *SQLiteStore) SubmitTransaction(ctx context.Context, actions []Action) (err error) {
	if len(actions) == 0 {
		return nil
	}
	if len(actions) > MaxBatchSize {
		return fmt.Errorf("repository: SubmitTransaction: %d actions exceed the limit of %d", len(actions), MaxBatchSize)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: SubmitTransaction begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for i, a := range actions {
		if err = s.exec(ctx, tx, a); err != nil {
			return fmt.Errorf("repository: SubmitTransaction action %d: %w", i, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("repository: SubmitTransaction commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SQLiteStore) exec(ctx context.Context, db execer, a Action) error {
	switch a.Op {
	case OpDelete:
		_, err := db.ExecContext(ctx,
			fmt.Sprintf("DELETE FROM %s WHERE partition_key = ? AND row_key = ?", s.table),
			a.Record.PartitionKey, a.Record.RowKey)
		return err
	case OpInsert, OpUpsert:
		p, err := normalizePayload(a.Record.Payload)
		if err != nil {
			return err
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
		q := fmt.Sprintf("INSERT INTO %s (partition_key, row_key, payload) VALUES (?, ?, ?)", s.table)
		if a.Op == OpUpsert {
			q += " ON CONFLICT (partition_key, row_key) DO UPDATE SET payload = excluded.payload"
		}
		_, err = db.ExecContext(ctx, q, a.Record.PartitionKey, a.Record.RowKey, string(payload))
		return err
	default:
		return fmt.Errorf("unknown op %q", a.Op)
	}
}

// decodePayload keeps integers as int64 rather than letting them widen to
// float64.
func decodePayload(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()
	var p map[string]any
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if _, err := decodeJSONNumbers(p); err != nil {
		return nil, err
	}
	return p, nil
}
