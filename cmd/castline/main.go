package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"castline/internal/app"
	"castline/internal/config"
	"castline/internal/db"
	"castline/internal/engine"
)

var rootCmd = &cobra.Command{
	Use:   "castline",
	Short: "Castline casting workflow CLI",
	Long: `Castline keeps casting data consistent: projects own roles, roles collect
submissions, and booked submissions become bookings.
- Archiving a project cascades to its roles, bookings and submissions.
- A role can be archived on its own when it has no active bookings, and restored later.
- The integrity audit finds submissions pointing at missing roles and proposes fixes.
- Every change is recorded as an audit event, view with 'castline log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := db.EnsureWorkspace(viper.GetString("workspace"))
		return err
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signalContext()
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CASTLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.String("config", "", "config file (default <workspace>/castline.yml)")
	flags.String("store-driver", "", "store driver: sqlite, postgres, mongo, memory")
	flags.String("dsn", "", "store connection string")
	flags.String("actor-id", "", "acting staff member id")
	flags.String("log-level", "", "log level override")
	flags.Bool("json", false, "output JSON")
	for _, name := range []string{"workspace", "config", "store-driver", "dsn", "actor-id", "log-level", "json"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(roleCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(bookingCmd())
	rootCmd.AddCommand(integrityCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
}

// loadConfig reads the config file and applies flag and env overrides.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if p := viper.GetString("config"); p != "" {
		cfg, err = config.FromFile(p)
	} else {
		cfg, err = config.LoadOptional(viper.GetString("workspace"))
	}
	if err != nil {
		return nil, err
	}
	if v := viper.GetString("store-driver"); v != "" {
		cfg.Store.Driver = v
	}
	if v := viper.GetString("dsn"); v != "" {
		cfg.Store.DSN = v
	}
	if v := viper.GetString("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func withRuntime(ctx context.Context, fn func(context.Context, *app.Runtime) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := app.NewLogger(os.Stderr, cfg.Log)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	rt, err := app.Open(ctx, viper.GetString("workspace"), cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())
	return fn(ctx, rt)
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRuntime(ctx, func(ctx context.Context, rt *app.Runtime) error {
		return fn(ctx, rt.Engine)
	})
}

func actorID() (string, error) {
	actor := strings.TrimSpace(viper.GetString("actor-id"))
	if actor == "" {
		return "", errors.New("--actor-id (or CASTLINE_ACTOR_ID) is required for writes")
	}
	return actor, nil
}

// printJSONOrTable renders v as a field/value table, or as JSON with --json.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	rows, err := fieldRows(v)
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

// fieldRows flattens the top level of v's JSON form into sorted rows. Nested
// values are shown as compact JSON and null values as "-".
func fieldRows(v any) ([]table.Row, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %w", err)
	}
	fields := map[string]json.RawMessage{}
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("render %T as table: %w", v, err)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		raw := fields[k]
		var val any = string(raw)
		var s string
		switch {
		case string(raw) == "null":
			val = "-"
		case json.Unmarshal(raw, &s) == nil:
			val = s
		}
		rows = append(rows, table.Row{k, val})
	}
	return rows, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderClasses(classes []engine.ClassResult) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Class", "Matched", "Succeeded", "Failed", "Batches", "Error"})
	for _, c := range classes {
		tw.AppendRow(table.Row{c.Class, c.Matched, c.Succeeded, c.Failed, c.Batches, c.Error})
	}
	tw.Render()
}
