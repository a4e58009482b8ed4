package cli

import (
	"bufio"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/config"
)

type flushOptions struct {
	yes        bool
	beforeDate string
	truncate   bool
	archive    string
	table      string
}

// newFlushCommand creates a new flush command
func newFlushCommand() *Command {
	fs := flag.NewFlagSet("flush", flag.ExitOnError)

	opts := flushOptions{}
	fs.BoolVar(&opts.yes, "y", false, "Continue without asking confirmation.")
	fs.BoolVar(&opts.yes, "yes", false, "Continue without asking confirmation.")
	fs.StringVar(&opts.beforeDate, "before-date", "", "Flush only entries older than this date (YYYY-MM-DD).")
	fs.BoolVar(&opts.truncate, "truncate", false, "Truncate the table instead of deleting rows. Ignored with -before-date.")
	fs.StringVar(&opts.archive, "archive", "", "Write flushed entries to this NDJSON file before deleting.")
	fs.StringVar(&opts.table, "table", "", "Log entry table name. Defaults to the configured table.")

	return &Command{
		Name:        "flush",
		Description: "Delete log entries from the database",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}

			cfg, err := config.LoadConfig()
			if err != nil {
				return err
			}
			db, err := cfg.Database.Open()
			if err != nil {
				return err
			}
			defer db.Close()

			if opts.table == "" {
				opts.table = cfg.Audit.Table
			}
			return runFlush(db, opts, os.Stdin, os.Stdout)
		},
	}
}

func runFlush(db *sql.DB, opts flushOptions, in io.Reader, out io.Writer) error {
	var before *time.Time
	if opts.beforeDate != "" {
		parsed, err := time.Parse("2006-01-02", opts.beforeDate)
		if err != nil {
			return fmt.Errorf("invalid -before-date value %q, expected YYYY-MM-DD", opts.beforeDate)
		}
		before = &parsed
	}

	if !opts.yes {
		if before != nil {
			fmt.Fprintf(out, "This action will clear all log entries older than %s from the database.\n", opts.beforeDate)
		} else {
			fmt.Fprintln(out, "This action will clear all log entries from the database.")
		}
		fmt.Fprint(out, "Are you sure you want to continue? [y/N]: ")
		response, _ := bufio.NewReader(in).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(response)) != "y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	ctx := context.Background()
	store, err := audit.NewDBStore(db, opts.table)
	if err != nil {
		return err
	}

	if opts.archive != "" {
		if err := archiveEntries(ctx, store, before, opts.archive); err != nil {
			return fmt.Errorf("archiving entries: %w", err)
		}
		fmt.Fprintf(out, "Archived entries to %s.\n", opts.archive)
	}

	count, err := store.Flush(ctx, before, opts.truncate)
	if err != nil {
		return err
	}
	if count < 0 {
		fmt.Fprintln(out, "Truncated table.")
		return nil
	}
	fmt.Fprintf(out, "Deleted %d objects.\n", count)
	return nil
}

func archiveEntries(ctx context.Context, store audit.Store, before *time.Time, path string) error {
	filter := audit.SearchFilter{EndTime: before}
	entries, err := store.Search(ctx, filter)
	if err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := audit.Export(file, entries, audit.FormatNDJSON); err != nil {
		return err
	}
	return file.Close()
}
