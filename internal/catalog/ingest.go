// Package catalog builds the files catalog from listings of image frame paths.
package catalog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/metrics"
	"github.com/pahproject/catalogdb/internal/progress"
	"github.com/pahproject/catalogdb/pkg/types"
)

// ErrMalformedEntry is returned for listing entries too short to hold a prefix and band
var ErrMalformedEntry = errors.New("malformed listing entry")

// Frame names are fixed width: the first nine characters identify the scan
// frame and the twelfth holds the band number, e.g. 01234a123-w1-int-1b.fits.
const (
	prefixLen = 9
	bandIndex = 11
)

// DefaultFilter selects intensity frames
const DefaultFilter = "int"

// FileStore is the part of the catalog database that ingest writes to
type FileStore interface {
	CreateFilesTable(ctx context.Context) error
	InsertFiles(ctx context.Context, records []types.FileRecord, onInsert func(done int)) error
}

// Options controls which listing lines are ingested
type Options struct {
	// Filter is the substring a line must contain to be ingested
	Filter string
	// SkipMalformed logs and skips short entries instead of aborting the ingest
	SkipMalformed bool
}

// Ingester loads listings into the files table
type Ingester struct {
	opts     Options
	progress progress.Reporter
}

// NewIngester creates an ingester. A nil reporter discards progress.
func NewIngester(opts Options, reporter progress.Reporter) *Ingester {
	if opts.Filter == "" {
		opts.Filter = DefaultFilter
	}
	if reporter == nil {
		reporter = progress.Nop{}
	}
	return &Ingester{opts: opts, progress: reporter}
}

// FrameName returns the final path segment of a listing line
func FrameName(line string) string {
	line = strings.TrimSpace(line)
	return line[strings.LastIndex(line, "/")+1:]
}

// ParseFrameName extracts the prefix and band from the final path segment of line
func ParseFrameName(line string) (types.FileRecord, error) {
	name := FrameName(line)
	if len(name) <= bandIndex {
		return types.FileRecord{}, fmt.Errorf("%w: %q has fewer than %d characters", ErrMalformedEntry, name, bandIndex+1)
	}
	return types.FileRecord{
		Prefix: name[:prefixLen],
		Band:   name[bandIndex : bandIndex+1],
	}, nil
}

// Ingest reads a newline separated listing and inserts one files row per
// matching line. The whole listing is parsed before anything is written, so
// an aborted ingest leaves the table untouched.
func (in *Ingester) Ingest(ctx context.Context, store FileStore, r io.Reader) (*types.IngestReport, error) {
	start := time.Now()
	report := &types.IngestReport{}

	var records []types.FileRecord
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		report.Lines++
		if report.Lines%10000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("ingest cancelled: %w", err)
			}
		}

		line := scanner.Text()
		if !strings.Contains(line, in.opts.Filter) {
			continue
		}
		report.Matched++

		rec, err := ParseFrameName(line)
		if err != nil {
			if !in.opts.SkipMalformed {
				return nil, fmt.Errorf("line %d: %w", report.Lines, err)
			}
			logrus.WithError(err).WithField("line", report.Lines).Warn("Skipping malformed listing entry")
			metrics.SkippedRowsTotal.Inc()
			report.Skipped++
			continue
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read listing: %w", err)
	}

	if err := store.CreateFilesTable(ctx); err != nil {
		return nil, err
	}

	total := int64(len(records))
	err := store.InsertFiles(ctx, records, func(done int) {
		in.progress.Report(int64(done), total)
	})
	if err != nil {
		return nil, err
	}

	report.Inserted = len(records)
	report.Duration = time.Since(start)

	logrus.WithFields(logrus.Fields{
		"lines":    report.Lines,
		"matched":  report.Matched,
		"inserted": report.Inserted,
		"skipped":  report.Skipped,
		"duration": report.Duration,
	}).Info("Ingested file listing")
	return report, nil
}
