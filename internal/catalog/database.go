package catalog

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/config"
	"github.com/pahproject/catalogdb/internal/objstore"
	"github.com/pahproject/catalogdb/internal/progress"
	"github.com/pahproject/catalogdb/internal/storage"
	"github.com/pahproject/catalogdb/pkg/types"
)

// OpenDatabase resolves name against the configured storage directory and opens it
func OpenDatabase(ctx context.Context, cfg *config.Config, name string) (*storage.Store, error) {
	path, err := cfg.ResolveDatabase(name)
	if err != nil {
		return nil, err
	}
	if path != config.MemoryDatabase {
		if err := cfg.EnsureStorageDir(); err != nil {
			return nil, err
		}
	}
	return storage.OpenWithRetry(ctx, path, cfg.RetryPolicy())
}

// Progress receives updates from the stages of CreateFileDatabase. Nil
// reporters discard updates.
type Progress struct {
	// Download is reported in bytes while an s3:// listing is fetched
	Download progress.Reporter
	// Ingest is reported in rows while the files table is filled
	Ingest progress.Reporter
}

// CreateFileDatabase ingests a listing into the files table of the named
// database. listing is a local path or an s3:// object reference.
func CreateFileDatabase(ctx context.Context, cfg *config.Config, dbName, listing string, reporters Progress) (*types.IngestReport, error) {
	src, cleanup, err := openListing(ctx, cfg, listing, reporters.Download)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	store, err := OpenDatabase(ctx, cfg, dbName)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close catalog database")
		}
	}()

	ingester := NewIngester(Options{
		Filter:        cfg.Ingest.Filter,
		SkipMalformed: cfg.Ingest.SkipMalformed,
	}, reporters.Ingest)
	return ingester.Ingest(ctx, store, src)
}

// CreateOverlapsDatabase ensures the overlaps table exists in the named database
func CreateOverlapsDatabase(ctx context.Context, cfg *config.Config, dbName string) error {
	store, err := OpenDatabase(ctx, cfg, dbName)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			logrus.WithError(closeErr).Warn("Failed to close catalog database")
		}
	}()

	return store.CreateOverlapsTable(ctx)
}

// openListing returns a reader over a local or remote listing and a function
// that releases it
func openListing(ctx context.Context, cfg *config.Config, listing string, reporter progress.Reporter) (io.Reader, func(), error) {
	path := listing
	release := func() {}

	if objstore.IsObjectURL(listing) {
		client, err := objstore.NewClient(cfg.ObjectStore, cfg.RetryPolicy())
		if err != nil {
			return nil, nil, err
		}
		tempPath, err := client.FetchListing(ctx, listing, reporter)
		if err != nil {
			return nil, nil, err
		}
		path = tempPath
		release = func() {
			if err := client.Cleanup(tempPath); err != nil {
				logrus.WithError(err).Warn("Failed to remove downloaded listing")
			}
		}
	}

	f, err := os.Open(path)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("failed to open listing: %w", err)
	}
	return f, func() {
		if err := f.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close listing")
		}
		release()
	}, nil
}
