package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/metrics"
	"github.com/pahproject/catalogdb/pkg/types"
)

// CreateOverlapsTable ensures the overlaps table and its pair index exist
func (s *Store) CreateOverlapsTable(ctx context.Context) error {
	return s.CreateTable(ctx, OverlapsTable)
}

// InsertOverlap records an overlap between two files and returns its overlap_id
func (s *Store) InsertOverlap(ctx context.Context, rec types.OverlapRecord) (id int64, err error) {
	defer metrics.Observe("insert_overlap", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO overlaps (file1_id, file2_id, background1, background2)
		 VALUES (?, ?, ?, ?)`,
		rec.File1ID,
		rec.File2ID,
		floatPtrArg(rec.Background1),
		floatPtrArg(rec.Background2),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert overlap: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get inserted id: %w", err)
	}
	return id, nil
}

// ListOverlaps returns every row of an overlaps-shaped table ordered by overlap_id
func (s *Store) ListOverlaps(ctx context.Context, table string) ([]types.OverlapRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireColumns(ctx, table, "overlap_id", "file1_id", "file2_id", "background1", "background2"); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT overlap_id, file1_id, file2_id, background1, background2 FROM %s ORDER BY overlap_id",
		quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("failed to query overlaps: %w", err)
	}
	defer closeRows(rows)

	var records []types.OverlapRecord
	for rows.Next() {
		var (
			r      types.OverlapRecord
			b1, b2 sql.NullFloat64
		)
		if err := rows.Scan(&r.OverlapID, &r.File1ID, &r.File2ID, &b1, &b2); err != nil {
			return nil, fmt.Errorf("failed to scan overlap: %w", err)
		}
		if b1.Valid {
			r.Background1 = &b1.Float64
		}
		if b2.Valid {
			r.Background2 = &b2.Float64
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating overlaps: %w", err)
	}
	return records, nil
}

// RemoveDuplicates deletes every row for which another row with the same
// ordered (file1_id, file2_id) pair and a smaller overlap_id exists, so each
// pair keeps only its lowest overlap_id. It runs as one statement and returns
// the number of rows deleted.
func (s *Store) RemoveDuplicates(ctx context.Context, table string) (deleted int64, err error) {
	defer metrics.Observe("remove_duplicates", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err = s.requireColumns(ctx, table, "overlap_id", "file1_id", "file2_id"); err != nil {
		return 0, err
	}

	t := quoteIdent(table)
	stmt := fmt.Sprintf(`DELETE FROM %[1]s
		WHERE EXISTS (
			SELECT 1
			FROM %[1]s AS t2
			WHERE %[1]s.file1_id = t2.file1_id
				AND %[1]s.file2_id = t2.file2_id
				AND %[1]s.overlap_id > t2.overlap_id
		)`, t)

	res, err := s.db.ExecContext(ctx, stmt)
	if err != nil {
		return 0, fmt.Errorf("failed to remove duplicates from %s: %w", table, err)
	}
	deleted, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	metrics.DuplicatesRemovedTotal.Add(float64(deleted))
	logrus.WithFields(logrus.Fields{
		"table":   table,
		"deleted": deleted,
	}).Info("Removed duplicate overlaps")
	return deleted, nil
}

// ColumnValues returns the non-null values of a numeric column. INTEGER, REAL
// and DECIMAL columns are read as float64; text that does not parse as a
// number is an error.
func (s *Store) ColumnValues(ctx context.Context, table, column string) ([]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireColumns(ctx, table, column); err != nil {
		return nil, err
	}

	col := quoteIdent(column)
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s IS NOT NULL", col, quoteIdent(table), col))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s.%s: %w", table, column, err)
	}
	defer closeRows(rows)

	var values []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("column %s.%s holds non-numeric values: %w", table, column, err)
		}
		values = append(values, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s.%s: %w", table, column, err)
	}
	return values, nil
}

// requireColumns checks that table exists and has every named column.
// Callers must hold s.mu.
func (s *Store) requireColumns(ctx context.Context, table string, columns ...string) error {
	cols, err := s.liveColumns(ctx, s.db, table)
	if err != nil {
		return err
	}
	for _, c := range columns {
		if err := validateIdentifier(c); err != nil {
			return err
		}
		if findColumn(cols, c) < 0 {
			return fmt.Errorf("%w: %s.%s", ErrColumnNotFound, table, c)
		}
	}
	return nil
}

func floatPtrArg(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
