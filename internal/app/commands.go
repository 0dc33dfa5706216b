package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"usageexport/internal/config"
	"usageexport/internal/domain"
	applog "usageexport/internal/log"
)

// cli holds flag values and the state loaded before a command runs.
type cli struct {
	v *viper.Viper

	configFile string
	input      string
	columns    string
	dataPath   string
	verbose    bool

	cfg    *config.Cfg
	logger *logrus.Logger
}

// NewRootCommand builds the usage-export command tree. Running the root
// command without a subcommand performs an export.
func NewRootCommand() *cobra.Command {
	c := &cli{v: config.New()}

	root := &cobra.Command{
		Use:               "usage-export",
		Short:             "Export usage records from JSON to CSV",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.load,
		RunE:              c.runExport,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&c.configFile, "config", "", "config file (default: usage-export.yaml in . or ~/.config/usage-export)")
	flags.StringVar(&c.input, "input", "", "input JSON file or http(s) URL")
	flags.String("output", "usage_export.csv", "output CSV file")
	flags.StringVar(&c.columns, "columns", "", "comma-separated columns to export")
	flags.String("strategy", "auto", "serialization strategy: auto, frame or stream")
	flags.StringVar(&c.dataPath, "data-path", "", "path to the records array inside the JSON document, e.g. data.items")
	flags.BoolVar(&c.verbose, "verbose", false, "enable debug logging")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (watch and serve-mcp)")

	c.v.BindPFlag("output", flags.Lookup("output"))
	c.v.BindPFlag("strategy", flags.Lookup("strategy"))
	c.v.BindPFlag("metrics.addr", flags.Lookup("metrics-addr"))

	root.AddCommand(
		&cobra.Command{
			Use:   "export",
			Short: "Export usage records to CSV (default command)",
			Args:  cobra.NoArgs,
			RunE:  c.runExport,
		},
		c.watchCommand(),
		c.historyCommand(),
		&cobra.Command{
			Use:   "sources",
			Short: "List available source types",
			Args:  cobra.NoArgs,
			RunE:  c.runSources,
		},
		&cobra.Command{
			Use:   "serve-mcp",
			Short: "Serve export tools over MCP on stdin/stdout",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return c.withApp(func(a *App) error { return a.ServeMCP() })
			},
		},
	)
	return root
}

// Execute runs the root command against os.Args. SIGINT and SIGTERM
// cancel the command context.
func Execute() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	return NewRootCommand().ExecuteContext(ctx)
}

// load reads the configuration and builds the logger.
func (c *cli) load(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.v, c.configFile)
	if err != nil {
		return err
	}
	if c.columns != "" {
		// "a,,b" keeps an empty middle column
		cfg.Columns = domain.ParseColumns(c.columns)
	}
	level := cfg.Log.Level
	if c.verbose {
		level = "debug"
	}
	c.cfg = cfg
	c.logger = applog.NewLogger(cmd.ErrOrStderr(), level, cfg.Log.Format)
	return nil
}

func (c *cli) withApp(fn func(*App) error) error {
	a, err := New(c.cfg, c.logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// ── export ─────────────────────────────────────────────────

func (c *cli) runExport(cmd *cobra.Command, _ []string) error {
	return c.withApp(func(a *App) error {
		job, err := a.Job(c.input, c.dataPath)
		if err != nil {
			return err
		}
		res, err := a.export.RunExport(cmd.Context(), job)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Successfully exported %d records to %s\n", res.RowsWritten, res.Output)
		return nil
	})
}

// ── watch ──────────────────────────────────────────────────

func (c *cli) watchCommand() *cobra.Command {
	var schedule string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-export whenever the input file changes or on a cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(func(a *App) error {
				job, err := a.Job(c.input, c.dataPath)
				if err != nil {
					return err
				}
				a.serveMetrics()
				return a.export.Watch(cmd.Context(), job, schedule)
			})
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", `cron expression, e.g. "*/15 * * * *" or "@hourly"`)
	return cmd
}

// ── history ────────────────────────────────────────────────

func (c *cli) historyCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent export runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(func(a *App) error {
				runs, err := a.export.ListRuns(limit)
				if err != nil {
					return err
				}
				printRuns(cmd.OutOrStdout(), runs)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show")
	return cmd
}

func printRuns(out io.Writer, runs []domain.ExportRun) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No export runs recorded yet")
		return
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STARTED\tSTATUS\tROWS\tSTRATEGY\tDURATION\tOUTPUT\tERROR")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.Status, r.RowsWritten, r.Strategy,
			r.Duration().Round(time.Millisecond), r.Output, r.Error)
	}
	tw.Flush()
}

// ── sources ────────────────────────────────────────────────

func (c *cli) runSources(cmd *cobra.Command, _ []string) error {
	return c.withApp(func(a *App) error {
		out := cmd.OutOrStdout()
		for _, spec := range a.export.ListSources() {
			fmt.Fprintf(out, "%s\t%s\n", spec.Type, spec.Label)
			for _, f := range spec.ConfigFields {
				req := ""
				if f.Required {
					req = " (required)"
				}
				fmt.Fprintf(out, "  %-10s %s%s\n", f.Key, strings.TrimSpace(f.Label), req)
			}
		}
		return nil
	})
}
