package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/metrics"
	"github.com/pahproject/catalogdb/pkg/types"
)

// CreateFilesTable ensures the files catalog table exists
func (s *Store) CreateFilesTable(ctx context.Context) error {
	return s.CreateTable(ctx, FilesTable)
}

// InsertFiles inserts records into the files table in one transaction. The
// assigned ids are written back into records, and onInsert (if not nil) is
// called with the running count after every row.
func (s *Store) InsertFiles(ctx context.Context, records []types.FileRecord, onInsert func(done int)) (err error) {
	defer metrics.Observe("insert_files", time.Now(), &err)

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer rollbackUnlessCommitted(tx, &committed)

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO files (prefix, band) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() {
		if closeErr := stmt.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close prepared statement")
		}
	}()

	for i := range records {
		res, err := stmt.ExecContext(ctx, records[i].Prefix, records[i].Band)
		if err != nil {
			return fmt.Errorf("failed to insert file %s: %w", records[i].Prefix, err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get inserted id: %w", err)
		}
		records[i].ID = id
		if onInsert != nil {
			onInsert(i + 1)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true

	metrics.IngestedRowsTotal.Add(float64(len(records)))
	return nil
}

// ListFiles returns catalogued files ordered by id
func (s *Store) ListFiles(ctx context.Context, limit, offset int) ([]types.FileRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 10000 {
		limit = 10000
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, prefix, band FROM files ORDER BY id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query files: %w", err)
	}
	defer closeRows(rows)

	var records []types.FileRecord
	for rows.Next() {
		var r types.FileRecord
		if err := rows.Scan(&r.ID, &r.Prefix, &r.Band); err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating files: %w", err)
	}
	return records, nil
}
