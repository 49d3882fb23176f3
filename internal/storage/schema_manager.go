package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/metrics"
	"github.com/pahproject/catalogdb/pkg/types"
)

// querier is satisfied by *sql.DB, *sql.Conn and *sql.Tx
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateTable creates the table and its indexes unless they already exist.
// Creating the same table twice is not an error.
func (s *Store) CreateTable(ctx context.Context, def TableDefinition) (err error) {
	defer metrics.Observe("create_table", time.Now(), &err)

	if err = def.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer rollbackUnlessCommitted(tx, &committed)

	if _, err = tx.ExecContext(ctx, def.createTableSQL()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", def.Name, err)
	}
	for _, idx := range def.Indexes {
		if _, err = tx.ExecContext(ctx, def.createIndexSQL(idx)); err != nil {
			return fmt.Errorf("failed to create index %s: %w", idx.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	logrus.WithField("table", def.Name).Debug("Ensured table exists")
	return nil
}

// AddColumn appends a column to an existing table
func (s *Store) AddColumn(ctx context.Context, table string, col ColumnDef) (err error) {
	defer metrics.Observe("add_column", time.Now(), &err)

	if err = col.Validate(); err != nil {
		return err
	}
	if col.PrimaryKey {
		return fmt.Errorf("cannot add primary key column %s to existing table %s", col.Name, table)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cols, err := s.liveColumns(ctx, s.db, table)
	if err != nil {
		return err
	}
	if findColumn(cols, col.Name) >= 0 {
		return fmt.Errorf("%w: %s.%s", ErrColumnExists, table, col.Name)
	}

	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), col.sql())
	if _, err = s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to add column %s to %s: %w", col.Name, table, err)
	}

	logrus.WithFields(logrus.Fields{
		"table":  table,
		"column": col.Name,
		"type":   col.Type,
	}).Info("Added column")
	return nil
}

// RemoveColumn drops a column by rebuilding the table without it. The new
// table is declared from the existing schema minus the dropped column, the
// surviving rows are copied across and the old table is discarded. Indexes
// that do not involve the dropped column are recreated. When the column is
// part of the primary key the rebuilt table has no primary key, since the
// remaining key columns need not be unique on their own. The whole rebuild is
// one transaction, so a failure leaves the table as it was.
func (s *Store) RemoveColumn(ctx context.Context, table, column string) (err error) {
	defer metrics.Observe("remove_column", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to release database connection")
		}
	}()

	cols, err := s.liveColumns(ctx, conn, table)
	if err != nil {
		return err
	}
	drop := findColumn(cols, column)
	if drop < 0 {
		return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, column)
	}
	if len(cols) == 1 {
		return fmt.Errorf("%w: %s.%s", ErrLastColumn, table, column)
	}

	surviving := make([]types.ColumnInfo, 0, len(cols)-1)
	surviving = append(surviving, cols[:drop]...)
	surviving = append(surviving, cols[drop+1:]...)
	if cols[drop].PrimaryKey > 0 {
		for i := range surviving {
			surviving[i].PrimaryKey = 0
		}
		logrus.WithFields(logrus.Fields{
			"table":  table,
			"column": column,
		}).Warn("Dropping primary key that contains removed column")
	}

	indexes, err := tableIndexes(ctx, conn, table)
	if err != nil {
		return err
	}

	tempName := "_temp_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	names := make([]string, 0, len(surviving))
	for _, c := range surviving {
		names = append(names, quoteIdent(c.Name))
	}
	columnList := strings.Join(names, ", ")

	var foreignKeys int
	if err = conn.QueryRowContext(ctx, "PRAGMA foreign_keys").Scan(&foreignKeys); err != nil {
		return fmt.Errorf("failed to read foreign_keys pragma: %w", err)
	}

	// legacy_alter_table stops the rename from rewriting references held by
	// other tables, which must keep pointing at the original name.
	if err = setPragmas(ctx, conn, "foreign_keys = OFF", "legacy_alter_table = ON"); err != nil {
		return err
	}
	restored := false
	restore := func() error {
		restored = true
		fk := "OFF"
		if foreignKeys == 1 {
			fk = "ON"
		}
		return setPragmas(ctx, conn, "legacy_alter_table = OFF", "foreign_keys = "+fk)
	}
	defer func() {
		if !restored {
			if restoreErr := restore(); restoreErr != nil {
				logrus.WithError(restoreErr).Warn("Failed to restore connection pragmas")
			}
		}
	}()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer rollbackUnlessCommitted(tx, &committed)

	steps := []struct {
		what string
		stmt string
	}{
		{"rename table", fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteIdent(table), quoteIdent(tempName))},
		{"create table", rebuildTableSQL(table, surviving)},
		{"copy rows", fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
			quoteIdent(table), columnList, columnList, quoteIdent(tempName))},
	}
	for _, step := range steps {
		if _, err = tx.ExecContext(ctx, step.stmt); err != nil {
			return fmt.Errorf("failed to %s while removing %s.%s: %w", step.what, table, column, err)
		}
	}

	// Dropping the renamed table frees the index names for recreation
	if err = dropTable(ctx, tx, tempName); err != nil {
		return err
	}
	for _, idx := range indexes {
		if idx.references(column) {
			logrus.WithFields(logrus.Fields{
				"table": table,
				"index": idx.name,
			}).Warn("Dropped index referencing removed column")
			continue
		}
		if _, err = tx.ExecContext(ctx, idx.sql); err != nil {
			return fmt.Errorf("failed to recreate index %s while removing %s.%s: %w", idx.name, table, column, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	if err = restore(); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"table":  table,
		"column": column,
	}).Info("Removed column")
	return nil
}

// RemoveTable drops a table. Dropping a table that does not exist is not an error.
func (s *Store) RemoveTable(ctx context.Context, table string) (err error) {
	defer metrics.Observe("remove_table", time.Now(), &err)

	if err = validateIdentifier(table); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return dropTable(ctx, s.db, table)
}

// Tables returns the names of all user tables
func (s *Store) Tables(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master
		 WHERE type = 'table' AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}
	defer closeRows(rows)

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return names, nil
}

// TableExists reports whether the named table exists
func (s *Store) TableExists(ctx context.Context, table string) (bool, error) {
	if err := validateIdentifier(table); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return tableExists(ctx, s.db, table)
}

// Columns returns the columns of an existing table in declaration order
func (s *Store) Columns(ctx context.Context, table string) ([]types.ColumnInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.liveColumns(ctx, s.db, table)
}

// CountRows returns the number of rows in an existing table
func (s *Store) CountRows(ctx context.Context, table string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := resolveTable(ctx, s.db, table); err != nil {
		return 0, err
	}

	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count rows in %s: %w", table, err)
	}
	return count, nil
}

// liveColumns validates the table name, checks it exists and returns its columns
func (s *Store) liveColumns(ctx context.Context, q querier, table string) ([]types.ColumnInfo, error) {
	if err := resolveTable(ctx, q, table); err != nil {
		return nil, err
	}
	return tableColumns(ctx, q, table)
}

// resolveTable checks table against the set of tables that actually exist
func resolveTable(ctx context.Context, q querier, table string) error {
	if err := validateIdentifier(table); err != nil {
		return err
	}
	exists, err := tableExists(ctx, q, table)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrTableNotFound, table)
	}
	return nil
}

func tableExists(ctx context.Context, q querier, table string) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		"SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ? COLLATE NOCASE", table).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check table existence: %w", err)
	}
	return true, nil
}

func tableColumns(ctx context.Context, q querier, table string) ([]types.ColumnInfo, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to read columns of %s: %w", table, err)
	}
	defer closeRows(rows)

	var cols []types.ColumnInfo
	for rows.Next() {
		var (
			cid     int
			col     types.ColumnInfo
			notNull int
			dflt    sql.NullString
		)
		if err := rows.Scan(&cid, &col.Name, &col.Type, &notNull, &dflt, &col.PrimaryKey); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		col.NotNull = notNull != 0
		if dflt.Valid {
			v := dflt.String
			col.DefaultValue = &v
		}
		cols = append(cols, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating columns of %s: %w", table, err)
	}
	return cols, nil
}

func findColumn(cols []types.ColumnInfo, name string) int {
	for i, c := range cols {
		if strings.EqualFold(c.Name, name) {
			return i
		}
	}
	return -1
}

func dropTable(ctx context.Context, q querier, table string) error {
	if _, err := q.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(table)); err != nil {
		return fmt.Errorf("failed to drop table %s: %w", table, err)
	}
	logrus.WithField("table", table).Debug("Dropped table")
	return nil
}

func setPragmas(ctx context.Context, q querier, pragmas ...string) error {
	for _, p := range pragmas {
		if _, err := q.ExecContext(ctx, "PRAGMA "+p); err != nil {
			return fmt.Errorf("failed to set PRAGMA %s: %w", p, err)
		}
	}
	return nil
}

// rebuildTableSQL declares a table from introspected column metadata. The
// metadata comes from the database itself, so default expressions are
// carried over verbatim.
func rebuildTableSQL(table string, cols []types.ColumnInfo) string {
	var pk []types.ColumnInfo
	for _, c := range cols {
		if c.PrimaryKey > 0 {
			pk = append(pk, c)
		}
	}

	defs := make([]string, 0, len(cols)+1)
	for _, c := range cols {
		var b strings.Builder
		b.WriteString(quoteIdent(c.Name))
		if c.Type != "" {
			b.WriteString(" ")
			b.WriteString(c.Type)
		}
		if len(pk) == 1 && c.PrimaryKey > 0 {
			b.WriteString(" PRIMARY KEY")
		}
		if c.NotNull {
			b.WriteString(" NOT NULL")
		}
		if c.DefaultValue != nil {
			b.WriteString(" DEFAULT (")
			b.WriteString(*c.DefaultValue)
			b.WriteString(")")
		}
		defs = append(defs, b.String())
	}

	if len(pk) > 1 {
		sort.SliceStable(pk, func(i, j int) bool { return pk[i].PrimaryKey < pk[j].PrimaryKey })
		keys := make([]string, 0, len(pk))
		for _, c := range pk {
			keys = append(keys, quoteIdent(c.Name))
		}
		defs = append(defs, "PRIMARY KEY ("+strings.Join(keys, ", ")+")")
	}

	return fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", quoteIdent(table), strings.Join(defs, ",\n\t"))
}

type storedIndex struct {
	name    string
	sql     string
	columns []string
}

// references reports whether the index depends on column, either as a key
// column or anywhere in its key expressions and WHERE clause
func (i storedIndex) references(column string) bool {
	for _, c := range i.columns {
		if strings.EqualFold(c, column) {
			return true
		}
	}
	body := i.sql
	if open := strings.Index(body, "("); open >= 0 {
		body = body[open:]
	}
	for _, tok := range sqlTokens(body) {
		if strings.EqualFold(tok, column) {
			return true
		}
	}
	return false
}

// sqlTokens splits SQL text into identifier-like words, dropping quotes
func sqlTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !(r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r))
	})
}

// tableIndexes returns the explicitly declared indexes of a table
func tableIndexes(ctx context.Context, q querier, table string) ([]storedIndex, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT name, sql FROM sqlite_master WHERE type = 'index' AND tbl_name = ? COLLATE NOCASE AND sql IS NOT NULL",
		table)
	if err != nil {
		return nil, fmt.Errorf("failed to list indexes of %s: %w", table, err)
	}

	var indexes []storedIndex
	for rows.Next() {
		var idx storedIndex
		if err := rows.Scan(&idx.name, &idx.sql); err != nil {
			closeRows(rows)
			return nil, fmt.Errorf("failed to scan index of %s: %w", table, err)
		}
		indexes = append(indexes, idx)
	}
	iterErr := rows.Err()
	closeRows(rows)
	if iterErr != nil {
		return nil, fmt.Errorf("error iterating indexes of %s: %w", table, iterErr)
	}

	for i := range indexes {
		cols, err := indexColumns(ctx, q, indexes[i].name)
		if err != nil {
			return nil, err
		}
		indexes[i].columns = cols
	}
	return indexes, nil
}

func indexColumns(ctx context.Context, q querier, index string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA index_info(%s)", quoteIdent(index)))
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", index, err)
	}
	defer closeRows(rows)

	var cols []string
	for rows.Next() {
		var (
			seqno, cid int
			name       sql.NullString
		)
		if err := rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, fmt.Errorf("failed to scan index column of %s: %w", index, err)
		}
		if name.Valid {
			cols = append(cols, name.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index %s: %w", index, err)
	}
	return cols, nil
}
