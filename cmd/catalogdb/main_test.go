package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alecthomas/kong"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pahproject/catalogdb/internal/config"
)

// run parses args against the CLI and executes the selected command with
// databases stored under dir
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()

	parser, err := kong.New(&CLI, kong.Name("catalogdb"), kong.Exit(func(int) { t.Fatalf("exit while parsing %v", args) }))
	require.NoError(t, err)
	kctx, err := parser.Parse(args)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.StorageDir = dir
	var out bytes.Buffer
	app := &App{ctx: context.Background(), cfg: cfg, out: &out}

	err = kctx.Run(app)
	return out.String(), err
}

func TestCLI_MigrationWorkflow(t *testing.T) {
	dir := t.TempDir()

	out, err := run(t, dir, "overlaps", "init", "wise.db")
	require.NoError(t, err)
	assert.Contains(t, out, "Table overlaps ready")

	_, err = run(t, dir, "column", "add", "wise.db", "overlaps", "weight", "DECIMAL", "--not-null", "--default", "1.5")
	require.NoError(t, err)

	out, err = run(t, dir, "column", "list", "wise.db", "overlaps")
	require.NoError(t, err)
	assert.Contains(t, out, "weight")
	assert.Contains(t, out, "1.5")

	_, err = run(t, dir, "column", "drop", "wise.db", "overlaps", "weight")
	require.NoError(t, err)

	out, err = run(t, dir, "column", "list", "wise.db", "overlaps")
	require.NoError(t, err)
	assert.NotContains(t, out, "weight")

	out, err = run(t, dir, "table", "list", "wise.db")
	require.NoError(t, err)
	assert.Contains(t, out, "overlaps")

	_, err = run(t, dir, "table", "drop", "wise.db", "overlaps")
	require.NoError(t, err)

	out, err = run(t, dir, "table", "list", "wise.db")
	require.NoError(t, err)
	assert.NotContains(t, out, "overlaps")
}

func TestCLI_IngestUpdateHistogram(t *testing.T) {
	dir := t.TempDir()
	listing := filepath.Join(t.TempDir(), "listing.txt")
	require.NoError(t, os.WriteFile(listing, []byte(strings.Join([]string{
		"/wise/01234a123-w1-int-1b.fits",
		"/wise/01234a123-w1-msk-1b.fits",
		"/wise/01234a124-w2-int-1b.fits",
	}, "\n")), 0o600))

	out, err := run(t, dir, "files", "ingest", "wise.db", listing, "-q")
	require.NoError(t, err)
	assert.Contains(t, out, "Inserted 2 of 2 matching lines")

	out, err = run(t, dir, "files", "count", "wise.db")
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)

	out, err = run(t, dir, "update", "wise.db", "files", "--set", "band=4", "--where", "prefix='01234a124'")
	require.NoError(t, err)
	assert.Contains(t, out, "Updated 1 rows")

	out, err = run(t, dir, "histogram", "wise.db", "files", "--column", "band", "--bins", "3", "--format", "csv")
	require.NoError(t, err)
	assert.Equal(t, "lower,upper,count\n1,2,1\n2,3,0\n3,4,1\n", out)
}

func TestCLI_OverlapsAddListDedup(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "overlaps", "init", "wise.db")
	require.NoError(t, err)

	out, err := run(t, dir, "overlaps", "add", "wise.db", "1", "2", "--background1", "0.75")
	require.NoError(t, err)
	assert.Equal(t, "Inserted overlap 1\n", out)

	out, err = run(t, dir, "overlaps", "add", "wise.db", "1", "2")
	require.NoError(t, err)
	assert.Equal(t, "Inserted overlap 2\n", out)

	out, err = run(t, dir, "overlaps", "list", "wise.db")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, []string{"1", "1", "2", "0.75", "-"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"2", "1", "2", "-", "-"}, strings.Fields(lines[2]))

	out, err = run(t, dir, "overlaps", "dedup", "wise.db")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 duplicate rows")

	out, err = run(t, dir, "histogram", "wise.db", "overlaps", "--column", "background1", "--bins", "1", "--format", "csv")
	require.NoError(t, err)
	assert.Equal(t, "lower,upper,count\n0.25,1.25,1\n", out)
}

func TestCLI_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := run(t, dir, "files", "count", "wise.db")
	assert.Error(t, err)

	_, err = run(t, dir, "overlaps", "dedup", "wise.db")
	assert.Error(t, err)

	_, err = run(t, dir, "histogram", "wise.db", "overlaps", "--bins", "0")
	assert.Error(t, err)

	_, err = run(t, dir, "overlaps", "add", "wise.db", "1", "2")
	assert.Error(t, err)
}

func TestCLI_Version(t *testing.T) {
	out, err := run(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, "catalogdb "+version+"\n", out)
}

func TestConfigureLogging(t *testing.T) {
	assert.NoError(t, configureLogging(config.LogConfig{Level: "debug", Format: "json"}))
	assert.NoError(t, configureLogging(config.LogConfig{Level: "info", Format: "text"}))
	assert.Error(t, configureLogging(config.LogConfig{Level: "loud"}))
}
