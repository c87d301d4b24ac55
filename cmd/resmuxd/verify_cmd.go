package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/robofleet/resmux/internal/config"
	"github.com/robofleet/resmux/internal/persistence/sqlite"
)

// runVerifyCLI checks the sqlite store file for corruption. Useful before
// restoring a backup or after an unclean shutdown on flaky storage.
func runVerifyCLI(args []string) int {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	mode := fs.String("mode", "quick", "verification mode: quick (default) or full")
	path := fs.String("path", "", "sqlite database file (default: configured store path)")

	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing verify flags: %v\n", err)
		return 1
	}

	dbPath := *path
	if dbPath == "" {
		cfg, err := config.ParseAppConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Verify failed (config): %v\n", err)
			return 1
		}
		if cfg.StoreBackend != "sqlite" {
			fmt.Fprintf(os.Stderr, "Verify supports the sqlite backend only (configured: %s)\n", cfg.StoreBackend)
			return 1
		}
		dbPath = cfg.StorePath
	}

	issues, err := sqlite.VerifyIntegrity(dbPath, *mode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verify failed: %v\n", err)
		return 1
	}
	if len(issues) > 0 {
		fmt.Fprintf(os.Stderr, "Database %s is corrupted:\n", dbPath)
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "  %s\n", issue)
		}
		return 1
	}

	fmt.Printf("Database %s passed %s integrity check\n", dbPath, *mode)
	return 0
}
