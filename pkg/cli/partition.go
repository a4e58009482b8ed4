package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/platinummonkey/chronicle/pkg/config"
	"github.com/platinummonkey/chronicle/pkg/partition"
)

// newPartitionCommand creates a new partition command
func newPartitionCommand() *Command {
	cmd := &Command{
		Name:        "partition",
		Description: "Manage PostgreSQL range partitions for the log entry table",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("partition", flag.ExitOnError),
	}
	cmd.Subcommands["init"] = newPartitionInitCommand()
	cmd.Subcommands["create"] = newPartitionCreateCommand()
	cmd.Subcommands["prune"] = newPartitionPruneCommand()
	cmd.Subcommands["status"] = newPartitionStatusCommand()

	cmd.Run = func(args []string) error {
		if len(args) == 0 {
			return cmd.usage()
		}
		if sub, ok := cmd.Subcommands[args[0]]; ok {
			return sub.Run(args[1:])
		}
		return fmt.Errorf("unknown partition subcommand: %s", args[0])
	}
	return cmd
}

// connectFlags are the connection overrides every partition subcommand
// accepts on top of the environment configuration.
type connectFlags struct {
	databaseURL *string
	table       *string
}

func addConnectFlags(fs *flag.FlagSet) connectFlags {
	return connectFlags{
		databaseURL: fs.String("database-url", "", "Database connection string. Defaults to CHRONICLE_DATABASE_URL."),
		table:       fs.String("table", "", "Log entry table name. Defaults to CHRONICLE_AUDIT_TABLE."),
	}
}

// resolvePartitionTarget applies the command-line overrides onto the loaded
// configuration and returns the table the manager operates on.
func resolvePartitionTarget(cfg *config.Config, databaseURL, table string) string {
	if databaseURL != "" {
		cfg.Database.URL = databaseURL
	}
	if table == "" {
		table = cfg.Audit.Table
	}
	return table
}

func newPartitionManager(conn connectFlags) (*partition.Manager, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, err
	}
	table := resolvePartitionTarget(cfg, *conn.databaseURL, *conn.table)
	db, err := cfg.Database.Open()
	if err != nil {
		return nil, nil, err
	}
	manager, err := partition.NewManager(db, cfg.Database.Driver, table,
		partition.WithAheadMonths(cfg.Partition.AheadMonths),
		partition.WithRetentionMonths(cfg.Partition.RetentionMonths))
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return manager, func() { db.Close() }, nil
}

func newPartitionInitCommand() *Command {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	ahead := fs.Int("ahead", -1, "Number of future months to create partitions for.")
	retention := fs.Int("retention-months", -1, "Retention window in months used to pre-create partitions.")
	convert := fs.Bool("convert", false, "Best-effort conversion when the table already contains rows.")
	conn := addConnectFlags(fs)

	return &Command{
		Name:        "init",
		Description: "Create the partitioned parent table (empty or populated via -convert)",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			manager, closeDB, err := newPartitionManager(conn)
			if err != nil {
				return err
			}
			defer closeDB()

			result, err := manager.Init(context.Background(), partition.InitOptions{
				Ahead:           *ahead,
				RetentionMonths: *retention,
				Convert:         *convert,
			})
			if err != nil {
				return err
			}
			if result.AlreadyPartitioned {
				fmt.Println("Table is already partitioned; no action taken.")
				return nil
			}
			fmt.Println("Partitioning initialized successfully.")
			return nil
		},
	}
}

func newPartitionCreateCommand() *Command {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	start := fs.String("start", "", "Start month inclusive (YYYY-MM). Defaults to current month.")
	end := fs.String("end", "", "End month exclusive (YYYY-MM). Defaults to start + ahead months.")
	ahead := fs.Int("ahead", -1, "If start/end omitted, create this many months ahead of the current month.")
	conn := addConnectFlags(fs)

	return &Command{
		Name:        "create",
		Description: "Create monthly partitions for the configured interval",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			manager, closeDB, err := newPartitionManager(conn)
			if err != nil {
				return err
			}
			defer closeDB()

			ctx := context.Background()
			var created int
			switch {
			case *start == "" && *end == "":
				created, err = manager.CreateAhead(ctx, *ahead)
			default:
				var startMonth, endMonth time.Time
				if *start != "" {
					if startMonth, err = partition.ParseYearMonth(*start); err != nil {
						return err
					}
				} else {
					startMonth, err = partition.ParseYearMonth(time.Now().UTC().Format("2006-01"))
					if err != nil {
						return err
					}
				}
				if *end != "" {
					if endMonth, err = partition.ParseYearMonth(*end); err != nil {
						return err
					}
				} else {
					aheadValue := *ahead
					if aheadValue < 0 {
						aheadValue = 0
					}
					endMonth = startMonth.AddDate(0, aheadValue+1, 0)
				}
				created, err = manager.Create(ctx, startMonth, endMonth)
			}
			if err != nil {
				return err
			}
			if created > 0 {
				fmt.Printf("Created %d partition(s).\n", created)
			} else {
				fmt.Println("No new partitions were created.")
			}
			return nil
		},
	}
}

func newPartitionPruneCommand() *Command {
	fs := flag.NewFlagSet("prune", flag.ExitOnError)
	retention := fs.Int("retention-months", -1, "Retention window in months.")
	dryRun := fs.Bool("dry-run", false, "Show partitions that would be dropped without executing.")
	conn := addConnectFlags(fs)

	return &Command{
		Name:        "prune",
		Description: "Drop partitions older than the retention window",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			manager, closeDB, err := newPartitionManager(conn)
			if err != nil {
				return err
			}
			defer closeDB()

			dropped, err := manager.Prune(context.Background(), *retention, *dryRun)
			if err != nil {
				return err
			}
			return printPruneResult(os.Stdout, dropped, *dryRun)
		},
	}
}

func printPruneResult(out io.Writer, dropped []partition.Partition, dryRun bool) error {
	if len(dropped) == 0 {
		fmt.Fprintln(out, "No partitions eligible for pruning.")
		return nil
	}
	if dryRun {
		fmt.Fprintln(out, "Partitions that would be dropped:")
		for _, part := range dropped {
			fmt.Fprintf(out, "  - %s [%s -> %s)\n", part.Name,
				part.Lower.Format(time.RFC3339), part.Upper.Format(time.RFC3339))
		}
		return nil
	}
	fmt.Fprintf(out, "Dropped %d partition(s).\n", len(dropped))
	return nil
}

func newPartitionStatusCommand() *Command {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	conn := addConnectFlags(fs)

	return &Command{
		Name:        "status",
		Description: "Display partitioning status and existing partitions",
		Flags:       fs,
		Run: func(args []string) error {
			if err := fs.Parse(args); err != nil {
				return err
			}
			manager, closeDB, err := newPartitionManager(conn)
			if err != nil {
				return err
			}
			defer closeDB()

			status, err := manager.Status(context.Background())
			if err != nil {
				return err
			}
			return printStatus(os.Stdout, status)
		},
	}
}

func printStatus(out io.Writer, status *partition.Status) error {
	if !status.Partitioned {
		fmt.Fprintln(out, "Partitioned: no")
		return nil
	}
	fmt.Fprintln(out, "Partitioned: yes")
	if len(status.Partitions) == 0 {
		fmt.Fprintln(out, "No partitions found.")
		return nil
	}
	fmt.Fprintln(out, "Partitions:")
	for _, part := range status.Partitions {
		fmt.Fprintf(out, "  - %s [%s -> %s)\n", part.Name,
			part.Lower.Format(time.RFC3339), part.Upper.Format(time.RFC3339))
	}
	return nil
}
