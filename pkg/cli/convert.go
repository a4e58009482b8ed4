package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/platinummonkey/chronicle/pkg/audit"
	"github.com/platinummonkey/chronicle/pkg/config"
)

// newConvertChangesCommand creates a new convert-changes command
func newConvertChangesCommand() *Command {
	fs := flag.NewFlagSet("convert-changes", flag.ExitOnError)
	batchSize := fs.Int("batch-size", 500, "Number of rows to rewrite per batch.")

	return &Command{
		Name:        "convert-changes",
		Description: "Rewrite legacy double-encoded changes columns to JSON documents",
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

			store, err := audit.NewDBStore(db, cfg.Audit.Table)
			if err != nil {
				return err
			}
			converted, err := store.ConvertLegacyChanges(context.Background(), *batchSize)
			if err != nil {
				return err
			}
			fmt.Printf("Converted %d entries.\n", converted)
			return nil
		},
	}
}
