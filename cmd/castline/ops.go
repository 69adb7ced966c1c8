package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"castline/internal/app"
	"castline/internal/engine"
	"castline/internal/report"
)

func integrityCmd() *cobra.Command {
	ic := &cobra.Command{
		Use:   "integrity",
		Short: "Audit and repair submission to role references",
	}
	ic.AddCommand(integrityAuditCmd())
	ic.AddCommand(integrityRepairCmd())
	return ic
}

func integrityAuditCmd() *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Classify submissions as valid, fixable or unresolved (read-only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				rep, err := rt.Engine.AuditSubmissionIntegrity(ctx)
				if err != nil {
					return err
				}
				loc := ""
				if export {
					sink, err := app.OpenReports(ctx, viper.GetString("workspace"), rt.Config.Reports)
					if err != nil {
						return err
					}
					if loc, err = report.Export(ctx, sink, "integrity", time.Now(), rep); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"report": rep, "location": loc})
				}
				fmt.Printf("scanned %d submission(s) against %d role(s): %d valid, %d fixable, %d unresolved\n",
					rep.SubmissionsScanned, rep.RolesScanned, rep.Counts.Valid, rep.Counts.OrphanedFixable, rep.Counts.OrphanedUnresolved)
				if len(rep.Fixes) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.SetTitle("Proposed fixes")
					tw.AppendHeader(table.Row{"Submission", "Project", "Role Name", "From", "To"})
					for _, f := range rep.Fixes {
						tw.AppendRow(table.Row{f.SubmissionID, f.ProjectID, f.RoleName, f.FromRoleID, f.ToRoleID})
					}
					tw.Render()
				}
				if len(rep.Unresolved) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.SetTitle("Needs review")
					tw.AppendHeader(table.Row{"Submission", "Project", "Role ID", "Role Name", "Reason"})
					for _, u := range rep.Unresolved {
						tw.AppendRow(table.Row{u.SubmissionID, u.ProjectID, u.RoleID, u.RoleName, u.Reason})
					}
					tw.Render()
				}
				if loc != "" {
					fmt.Println("exported to", loc)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "export the report to the report sink")
	return cmd
}

func integrityRepairCmd() *cobra.Command {
	var file, fromSink string
	var audit bool
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Apply proposed fixes from an audit report",
		Long: `Applies the fixes of an exported audit report (--report or --from-sink), or of a
fresh audit (--audit). Fixes whose submission changed since the audit are skipped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			sources := 0
			for _, set := range []bool{file != "", fromSink != "", audit} {
				if set {
					sources++
				}
			}
			if sources != 1 {
				return errors.New("exactly one of --report, --from-sink or --audit is required")
			}
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var rep engine.IntegrityReport
				switch {
				case file != "":
					f, err := os.Open(file)
					if err != nil {
						return err
					}
					defer f.Close()
					if rep, err = report.DecodeIntegrity(f); err != nil {
						return err
					}
				case fromSink != "":
					sink, err := app.OpenReports(ctx, viper.GetString("workspace"), rt.Config.Reports)
					if err != nil {
						return err
					}
					if rep, err = report.LoadIntegrity(ctx, sink, fromSink); err != nil {
						return err
					}
				default:
					if rep, err = rt.Engine.AuditSubmissionIntegrity(ctx); err != nil {
						return err
					}
				}
				res, err := rt.Engine.RepairSubmissions(ctx, rep.Fixes, actor)
				if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
					return err
				}
				if viper.GetBool("json") {
					if perr := printJSON(res); perr != nil {
						return perr
					}
					return err
				}
				fmt.Printf("applied %d of %d fix(es)\n", res.Applied, res.Requested)
				if len(res.Skipped) > 0 {
					tw := table.NewWriter()
					tw.SetOutputMirror(os.Stdout)
					tw.SetTitle("Skipped")
					tw.AppendHeader(table.Row{"Submission", "From", "To", "Reason"})
					for _, s := range res.Skipped {
						tw.AppendRow(table.Row{s.Fix.SubmissionID, s.Fix.FromRoleID, s.Fix.ToRoleID, s.Reason})
					}
					tw.Render()
				}
				renderClasses([]engine.ClassResult{res.Writes})
				return err
			})
		},
	}
	cmd.Flags().StringVar(&file, "report", "", "exported integrity report file")
	cmd.Flags().StringVar(&fromSink, "from-sink", "", "report name in the configured report sink")
	cmd.Flags().BoolVar(&audit, "audit", false, "run a fresh audit and apply its fixes")
	return cmd
}

func migrateCmd() *cobra.Command {
	mc := &cobra.Command{Use: "migrate", Short: "Data migrations"}
	var dryRun bool
	legacy := &cobra.Command{
		Use:   "legacy-statuses",
		Short: "Rewrite retired submission statuses and drop the pinned flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sum, err := e.MigrateLegacySubmissionStatuses(ctx, actor, dryRun)
				if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
					return err
				}
				if viper.GetBool("json") {
					if perr := printJSON(sum); perr != nil {
						return perr
					}
					return err
				}
				verb := "migrated"
				if sum.DryRun {
					verb = "would migrate"
				}
				fmt.Printf("scanned %d, %s %d, unchanged %d, pinned overrides %d, flags dropped %d\n",
					sum.Scanned, verb, sum.Migrated, sum.Unchanged, sum.PinnedOverrides, sum.FlagsDropped)
				keys := make([]string, 0, len(sum.Mapped))
				for k := range sum.Mapped {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Mapping", "Count"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k, sum.Mapped[k]})
				}
				tw.Render()
				if len(sum.Unmapped) > 0 {
					fmt.Println("unmapped statuses kept:", sum.Unmapped)
				}
				return err
			})
		},
	}
	legacy.Flags().BoolVar(&dryRun, "dry-run", false, "report without writing")
	mc.AddCommand(legacy)
	return mc
}

func importCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load projects, roles, submissions and bookings from a JSON fixtures file",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			var f engine.Fixtures
			if err := json.Unmarshal(data, &f); err != nil {
				return fmt.Errorf("parse %s: %w", file, err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Import(ctx, f)
				if viper.GetBool("json") {
					if perr := printJSON(res); perr != nil {
						return perr
					}
					return err
				}
				renderClasses(res.Classes)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "fixtures JSON file")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func logCmd() *cobra.Command {
	lc := &cobra.Command{Use: "log", Short: "Audit event log"}
	lc.AddCommand(logTailCmd())
	return lc
}

func logTailCmd() *cobra.Command {
	var n int
	var projectID, evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Time", "Type", "Project", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.TS, evt.Type, evt.ProjectID, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&projectID, "project", "", "project filter")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}
