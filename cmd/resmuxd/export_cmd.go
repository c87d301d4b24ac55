package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"

	"github.com/robofleet/resmux/internal/broker/store"
	"github.com/robofleet/resmux/internal/config"
)

// runExportCLI dumps every catalog record as JSON, either to stdout or
// atomically to a file. It opens the configured store directly, so it works
// without a running daemon.
func runExportCLI(args []string) int {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("out", "", "output file (default: stdout)")
	timeout := fs.Duration("timeout", 10*time.Second, "store access timeout")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing export flags: %v\n", err)
		return 1
	}

	cfg, err := config.ParseAppConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed (config): %v\n", err)
		return 1
	}

	st, err := store.Open(cfg.StoreBackend, store.Options{
		Path: cfg.StorePath,
		Redis: store.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed (store): %v\n", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	records, err := st.ListAll(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed (list): %v\n", err)
		return 1
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Export failed (encode): %v\n", err)
		return 1
	}
	data = append(data, '\n')

	if *out == "" {
		_, _ = os.Stdout.Write(data)
		return 0
	}

	// Atomic write: dashboards polling the file never see a partial dump.
	if err := renameio.WriteFile(*out, data, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "Export failed (write): %v\n", err)
		return 1
	}

	fmt.Printf("Exported %d records to %s\n", len(records), *out)
	return 0
}
