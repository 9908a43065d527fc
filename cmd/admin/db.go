package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Arnav-102/UrbanPulse/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (optional; defaults to <data>/index/history.sqlite)")
	tick := fs.Uint64("tick", 0, "snapshot tick (snapshot query; defaults to latest)")
	limit := fs.Int("limit", 20, "result limit")
	district := fs.String("district", "", "district filter (controls query)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "history.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := runQuery(ctx, os.Stdout, idx, q, *tick, *limit, *district); err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprintln(os.Stderr, "usage: admin db [-data ./data|-db PATH] [-tick T] [-district D] snapshots|snapshot|controls")
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, out io.Writer, idx *indexdb.SQLiteIndex, q string, tick uint64, limit int, district string) error {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)

	switch q {
	case "snapshots":
		rows, err := idx.Recent(ctx, limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	case "snapshot":
		if tick == 0 {
			rows, err := idx.Recent(ctx, 1)
			if err != nil {
				return fmt.Errorf("latest tick: %w", err)
			}
			if len(rows) == 0 {
				return fmt.Errorf("no snapshots found")
			}
			tick = uint64(rows[0].Tick)
		}
		row, err := idx.SnapshotAt(ctx, tick)
		if err != nil {
			return fmt.Errorf("tick %d: %w", tick, err)
		}
		snap, err := row.Snapshot()
		if err != nil {
			return fmt.Errorf("decode tick %d: %w", tick, err)
		}
		_ = enc.Encode(snap)
	case "controls":
		rows, err := idx.Controls(ctx, strings.TrimSpace(district), limit)
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		for _, r := range rows {
			_ = enc.Encode(r)
		}
	default:
		return fmt.Errorf("unknown query: %s", q)
	}
	return nil
}
