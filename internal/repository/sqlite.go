package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/aristath/taskgraph/internal/dataset"
)

// ErrNoColumns is returned when data saved to a SQLite table has no columns.
var ErrNoColumns = errors.New("no columns")

// SQLiteStore is a SQLite database whose tables serve as repositories.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// Creates parent directories if needed. Enables WAL mode and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return openSQLite(ctx, connStr)
}

// NewMemoryStore creates a private in-memory database, mostly for tests.
// Uses a shared cache so the pool's connections see the same database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	return openSQLite(ctx, connStr)
}

func openSQLite(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(2)
	return &SQLiteStore{db: db}, nil
}

// DB exposes the connection pool for tasks that query directly.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Table returns a repository bound to the named table.
func (s *SQLiteStore) Table(name string) *SQLiteTable {
	return &SQLiteTable{store: s, name: name}
}

// SQLiteTable persists TABLE data by replacing the table and SQL_MODEL data
// by inserting its records. Load exports the table as CSV.
type SQLiteTable struct {
	store *SQLiteStore
	name  string
}

// Name returns the table name.
func (t *SQLiteTable) Name() string { return t.name }

func (t *SQLiteTable) Save(ctx context.Context, d dataset.Data) error {
	switch v := d.(type) {
	case *dataset.TableData:
		return t.replace(ctx, v.Table())
	case *dataset.SQLModelData:
		table := v.TableName()
		if table == "" {
			table = t.name
		}
		return t.insert(ctx, table, v.Records())
	}
	return &dataset.UnsupportedDataTypeError{Repository: "SQLiteTable", Type: d.DataType()}
}

// replace drops and recreates the table with one TEXT column per table column.
func (t *SQLiteTable) replace(ctx context.Context, tbl dataset.Table) error {
	if len(tbl.Columns) == 0 {
		return fmt.Errorf("table %s: %w", t.name, ErrNoColumns)
	}

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(t.name)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", t.name, err)
	}

	cols := make([]string, len(tbl.Columns))
	for i, c := range tbl.Columns {
		cols[i] = quoteIdent(c) + " TEXT"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(t.name), strings.Join(cols, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table %s: %w", t.name, err)
	}

	stmt, err := tx.PrepareContext(ctx, insertSQL(t.name, tbl.Columns))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, row := range tbl.Rows {
		args := make([]any, len(tbl.Columns))
		for j := range args {
			if j < len(row) {
				args[j] = row[j]
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	return tx.Commit()
}

// insert adds records to table, creating it from the records' columns if it
// does not exist yet and adding any column an existing table lacks. Records
// without fields are skipped.
func (t *SQLiteTable) insert(ctx context.Context, table string, records []dataset.Record) error {
	var cols []string
	for _, r := range records {
		for k := range r {
			if !slices.Contains(cols, k) {
				cols = append(cols, k)
			}
		}
	}
	if len(records) == 0 {
		return nil
	}
	if len(cols) == 0 {
		return fmt.Errorf("records for %s: %w", table, ErrNoColumns)
	}
	slices.Sort(cols)

	tx, err := t.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quoteIdent(c)
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("failed to create table %s: %w", table, err)
	}
	if err := addMissingColumns(ctx, tx, table, cols); err != nil {
		return err
	}

	for i, r := range records {
		if len(r) == 0 {
			continue
		}
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		slices.Sort(keys)

		args := make([]any, len(keys))
		for j, k := range keys {
			args[j] = r[k]
		}
		if _, err := tx.ExecContext(ctx, insertSQL(table, keys), args...); err != nil {
			return fmt.Errorf("failed to insert record %d into %s: %w", i, table, err)
		}
	}

	return tx.Commit()
}

// addMissingColumns widens an existing table with every column in cols it
// does not have yet.
func addMissingColumns(ctx context.Context, tx *sql.Tx, table string, cols []string) error {
	rows, err := tx.QueryContext(ctx, "SELECT name FROM pragma_table_info(?)", table)
	if err != nil {
		return fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	var have []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("failed to read columns of %s: %w", table, err)
		}
		have = append(have, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read columns of %s: %w", table, err)
	}

	for _, c := range cols {
		if slices.Contains(have, c) {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), quoteIdent(c))
		if _, err := tx.ExecContext(ctx, alter); err != nil {
			return fmt.Errorf("failed to add column %s to %s: %w", c, table, err)
		}
	}
	return nil
}

// Load exports the table as CSV with a header row and passes it to ctor.
func (t *SQLiteTable) Load(ctx context.Context, ctor dataset.Constructor) (dataset.Data, error) {
	rows, err := t.store.db.QueryContext(ctx, "SELECT * FROM "+quoteIdent(t.name))
	if err != nil {
		return nil, fmt.Errorf("failed to query table %s: %w", t.name, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(cols); err != nil {
		return nil, err
	}

	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			record[i] = cell(v)
		}
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}

	return ctor(t, buf.Bytes())
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	default:
		return fmt.Sprint(x)
	}
}

func insertSQL(table string, cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(quoted, ", "), placeholders)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
