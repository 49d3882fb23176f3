// Command catalogdb builds and maintains the SQLite catalogs of image frames
// and their overlaps.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/sirupsen/logrus"

	"github.com/pahproject/catalogdb/internal/config"
	"github.com/pahproject/catalogdb/internal/metrics"
)

const version = "0.4.0"

// Globals are flags accepted by every command
type Globals struct {
	Config      string `name:"config" short:"c" help:"Path to a TOML configuration file" type:"path" env:"CATALOGDB_CONFIG"`
	StorageDir  string `name:"storage-dir" help:"Directory holding the catalog databases" type:"path"`
	LogLevel    string `name:"log-level" help:"Log level (debug, info, warn, error)"`
	MetricsFile string `name:"metrics-file" help:"Write Prometheus metrics to this file on exit" type:"path"`
}

// CLI defines the command-line interface for catalogdb.
var CLI struct {
	Globals

	Files     FilesGroup    `cmd:"" help:"Files catalog operations"`
	Overlaps  OverlapsGroup `cmd:"" help:"Overlaps table operations"`
	Table     TableGroup    `cmd:"" help:"Create, drop and list tables"`
	Column    ColumnGroup   `cmd:"" help:"Add, drop and list columns"`
	Update    UpdateCmd     `cmd:"" help:"Update rows matching conditions"`
	Histogram HistogramCmd  `cmd:"" help:"Histogram a numeric column"`
	Serve     ServeCmd      `cmd:"" help:"Serve a read-only HTTP view of a database"`
	Version   VersionCmd    `cmd:"" help:"Print version information"`
}

// App carries the loaded configuration into command Run methods
type App struct {
	ctx context.Context
	cfg *config.Config
	out io.Writer
}

func newApp(ctx context.Context, g *Globals) (*App, error) {
	cfg, err := config.Load(g.Config, g.Config == "")
	if err != nil {
		return nil, err
	}
	if g.StorageDir != "" {
		cfg.StorageDir = g.StorageDir
	}
	if g.LogLevel != "" {
		cfg.Log.Level = g.LogLevel
	}
	if g.MetricsFile != "" {
		cfg.MetricsFile = g.MetricsFile
	}
	if err := configureLogging(cfg.Log); err != nil {
		return nil, err
	}

	return &App{ctx: ctx, cfg: cfg, out: os.Stdout}, nil
}

func configureLogging(cfg config.LogConfig) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stderr)

	if strings.EqualFold(cfg.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// finish flushes metrics to the configured textfile
func (a *App) finish() {
	if a.cfg.MetricsFile == "" {
		return
	}
	if err := metrics.WriteTextfile(a.cfg.MetricsFile); err != nil {
		logrus.WithError(err).Warn("Failed to write metrics")
	}
}

func main() {
	kctx := kong.Parse(&CLI,
		kong.Name("catalogdb"),
		kong.Description("Catalog and overlap database tools for survey image frames"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, &CLI.Globals)
	kctx.FatalIfErrorf(err)

	err = kctx.Run(app)
	app.finish()
	kctx.FatalIfErrorf(err)
}
