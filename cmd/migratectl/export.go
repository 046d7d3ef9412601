package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"lendmigrate/services/migrated/storage"
)

func runExport(args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("export", stderr)
	driver := fs.String("driver", "sqlite", "audit store driver: sqlite or postgres")
	dsn := fs.String("dsn", "", "audit store DSN")
	dir := fs.String("dir", ".", "output directory")
	since := fs.String("since", "24h", "lookback duration or RFC3339 timestamp")
	if !parseFlags(fs, args, stderr) {
		return 1
	}
	if strings.TrimSpace(*dsn) == "" {
		fmt.Fprintln(stderr, "Error: --dsn is required")
		return 1
	}
	from, err := parseSince(*since, time.Now())
	if err != nil {
		return fail(stderr, err)
	}
	store, err := storage.Open(*driver, *dsn)
	if err != nil {
		return fail(stderr, err)
	}
	defer store.Close()

	path, count, err := store.Export(context.Background(), *dir, from)
	if err != nil {
		return fail(stderr, err)
	}
	fmt.Fprintf(stdout, "wrote %d records to %s\n", count, path)
	return 0
}

func parseSince(raw string, now time.Time) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return now.Add(-d), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since %q: expected a duration or RFC3339 timestamp", raw)
	}
	return ts, nil
}
