// Command reladiff compares two relational tables, possibly on different
// database servers of different vendors, and prints the row-level
// differences without transferring either table in full.
//
//	reladiff -left 'postgres://u:p@host/db' -right 'mysql://u:p@tcp(host:3306)/db' \
//	    -table public.ratings -key id -columns rating,comment
//
// Exit code is 0 when the tables match, 2 when differences were found,
// and 1 on error.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/alex-mirkin/reladiff/pkg/dbconn"
	"github.com/alex-mirkin/reladiff/pkg/diff"
)

func main() {
	var (
		leftDSN   = flag.String("left", "", "left database DSN (postgres:// or mysql://)")
		rightDSN  = flag.String("right", "", "right database DSN (postgres:// or mysql://)")
		table     = flag.String("table", "", "table to compare, optionally schema-qualified")
		key       = flag.String("key", "id", "primary ordering column (integral)")
		update    = flag.String("update", "", "timestamp column for time bounds")
		columns   = flag.String("columns", "", "comma-separated extra columns to compare, or * for all")
		minTime   = flag.String("min-time", "", "lower time bound, RFC 3339 (requires -update)")
		maxTime   = flag.String("max-time", "", "upper time bound, RFC 3339 (requires -update)")
		factor    = flag.Int("bisection-factor", diff.DefaultBisectionFactor, "segments per iteration")
		threshold = flag.Int64("bisection-threshold", diff.DefaultBisectionThreshold, "row count under which segments are compared locally")
		threads   = flag.Bool("threads", true, "diff the segments of each bisection level concurrently")
		maxPool   = flag.Int("max-pool", 0, "segments diffed at once per bisection level (0 = unbounded)")
		debug     = flag.Bool("debug", false, "verbose diagnostics")
	)
	flag.Parse()

	logger := newLogger(*debug)
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if *leftDSN == "" || *rightDSN == "" || *table == "" {
		fmt.Fprintln(os.Stderr, "reladiff: -left, -right and -table are required")
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	found, err := runDiff(ctx, config{
		leftDSN:   *leftDSN,
		rightDSN:  *rightDSN,
		table:     *table,
		key:       *key,
		update:    *update,
		columns:   *columns,
		minTime:   *minTime,
		maxTime:   *maxTime,
		factor:    *factor,
		threshold: *threshold,
		threads:   *threads,
		maxPool:   *maxPool,
		debug:     *debug,
	}, logger)
	if err != nil {
		logger.Fatal("diff failed", zap.Error(err))
	}
	if found {
		os.Exit(2)
	}
}

type config struct {
	leftDSN, rightDSN         string
	table, key, update        string
	columns, minTime, maxTime string
	factor                    int
	threshold                 int64
	threads                   bool
	maxPool                   int
	debug                     bool
}

func runDiff(ctx context.Context, cfg config, logger *zap.Logger) (bool, error) {
	left, err := open(cfg.leftDSN)
	if err != nil {
		return false, err
	}
	defer left.Close()
	right, err := open(cfg.rightDSN)
	if err != nil {
		return false, err
	}
	defer right.Close()

	path := strings.Split(cfg.table, ".")

	var opts []diff.SegmentOption
	if cfg.update != "" {
		opts = append(opts, diff.WithUpdateColumn(cfg.update))
	}
	switch cfg.columns {
	case "":
	case "*":
		all, err := left.Columns(ctx, path)
		if err != nil {
			return false, err
		}
		var extras []string
		for _, c := range all {
			if c != cfg.key && c != cfg.update {
				extras = append(extras, c)
			}
		}
		opts = append(opts, diff.WithExtraColumns(extras...))
	default:
		opts = append(opts, diff.WithExtraColumns(strings.Split(cfg.columns, ",")...))
	}
	if cfg.minTime != "" {
		t, err := time.Parse(time.RFC3339, cfg.minTime)
		if err != nil {
			return false, fmt.Errorf("parse -min-time: %w", err)
		}
		opts = append(opts, diff.WithMinTime(t))
	}
	if cfg.maxTime != "" {
		t, err := time.Parse(time.RFC3339, cfg.maxTime)
		if err != nil {
			return false, fmt.Errorf("parse -max-time: %w", err)
		}
		opts = append(opts, diff.WithMaxTime(t))
	}

	leftSeg, err := diff.NewTableSegment(left, path, cfg.key, opts...)
	if err != nil {
		return false, err
	}
	rightSeg, err := diff.NewTableSegment(right, path, cfg.key, opts...)
	if err != nil {
		return false, err
	}

	differ := &diff.Differ{
		BisectionFactor:    cfg.factor,
		BisectionThreshold: cfg.threshold,
		Threaded:           cfg.threads,
		MaxPoolSize:        cfg.maxPool,
		Debug:              cfg.debug,
		Logger:             logger,
	}

	start := time.Now()
	d, err := differ.Diff(ctx, leftSeg, rightSeg)
	if err != nil {
		return false, err
	}
	defer d.Close()

	var events int
	for d.Next() {
		ev := d.Event()
		fmt.Printf("%s\t%s\n", ev.Sign, formatRow(ev.Row))
		events++
	}
	if err := d.Err(); err != nil {
		return events > 0, err
	}

	stats := d.Stats()
	logger.Info("diff finished",
		zap.Int("differences", events),
		zap.Int64("left_row_count", stats.LeftRowCount),
		zap.Int64("queries", stats.Queries),
		zap.Duration("elapsed", time.Since(start)))
	return events > 0, nil
}

func open(dsn string) (*dbconn.Conn, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return dbconn.OpenPostgres(dsn)
	case strings.HasPrefix(dsn, "mysql://"):
		return dbconn.OpenMySQL(strings.TrimPrefix(dsn, "mysql://"))
	default:
		return nil, fmt.Errorf("unsupported DSN %q: expected a postgres:// or mysql:// prefix", dsn)
	}
}

func formatRow(row dbconn.Row) string {
	parts := make([]string, len(row))
	for i, v := range row {
		if v.Null {
			parts[i] = "NULL"
		} else {
			parts[i] = v.Str
		}
	}
	return strings.Join(parts, "\t")
}

func newLogger(debug bool) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
