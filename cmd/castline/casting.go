package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"castline/internal/app"
	"castline/internal/config"
	"castline/internal/domain"
	"castline/internal/engine"
	"castline/internal/report"
)

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage castline.yml",
		Long:  "Config selects the store backend, batch and retry limits, booking-count failure policy, report sink and RBAC roles.",
	}
	cfg.AddCommand(configInitCmd())
	cfg.AddCommand(configShowCmd())
	cfg.AddCommand(configValidateCmd())
	return cfg
}

func configInitCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default castline.yml into the workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show effective config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate config",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := loadConfig()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Inspect, advance and archive projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectAdvanceCmd())
	prj.AddCommand(projectArchiveCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Archived At"})
				for _, p := range items {
					archivedAt := ""
					if p.ArchivedAt != nil {
						archivedAt = *p.ArchivedAt
					}
					tw.AppendRow(table.Row{p.ID, p.Title, p.Status, archivedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project and its roles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.Repo.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				roles, err := e.Repo.ListRolesByProject(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"project": p, "roles": roles})
				}
				fmt.Printf("%s  %s  [%s]\n", p.ID, p.Title, p.Status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Role", "Name", "Archived", "Active Bookings"})
				for _, r := range roles {
					state := ""
					switch {
					case r.ArchivedWithProject:
						state = "with project"
					case r.ArchivedIndividually:
						state = "individually"
					}
					count, _ := e.GetActiveBookingCount(ctx, r.ID)
					tw.AppendRow(table.Row{r.ID, r.Name, state, count})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectAdvanceCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "advance <project-id>",
		Short: "Move a project forward (booking -> booked -> archived)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.AdvanceProject(ctx, args[0], domain.ProjectStatus(to), actor)
				if res.Cascade != nil {
					printCascade(*res.Cascade, "")
				} else if err == nil {
					if perr := printJSONOrTable(res.Project); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "target status (booked, archived)")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func projectArchiveCmd() *cobra.Command {
	var export bool
	cmd := &cobra.Command{
		Use:   "archive <project-id>...",
		Short: "Archive projects and cascade to roles, bookings and submissions",
		Long: `Archives each project, then its roles, bookings and submissions in batches.
Re-running on an archived project completes any cascade that stopped part way.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *app.Runtime) error {
				var sink report.Sink
				if export {
					if sink, err = app.OpenReports(ctx, viper.GetString("workspace"), rt.Config.Reports); err != nil {
						return err
					}
				}
				var failed []error
				for _, id := range args {
					res, err := rt.Engine.CascadeArchiveProject(ctx, id, actor)
					if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
						failed = append(failed, fmt.Errorf("%s: %w", id, err))
						continue
					}
					loc := ""
					if sink != nil {
						if loc, err = report.Export(ctx, sink, "cascade-"+id, time.Now(), res); err != nil {
							return err
						}
					}
					printCascade(res, loc)
					if res.Incomplete {
						failed = append(failed, fmt.Errorf("%s: %s", id, res.Error))
					}
				}
				return errors.Join(failed...)
			})
		},
	}
	cmd.Flags().BoolVar(&export, "export", false, "export each cascade result to the report sink")
	return cmd
}

func printCascade(res engine.CascadeResult, location string) {
	if viper.GetBool("json") {
		_ = printJSON(map[string]any{"result": res, "location": location})
		return
	}
	state := "archived"
	if res.AlreadyArchived {
		state = "already archived"
	}
	if res.Incomplete {
		state += ", INCOMPLETE"
	}
	fmt.Printf("project %s %s at %s by %s\n", res.ProjectID, state, res.ArchivedAt, res.ActorID)
	renderClasses(res.Classes)
	if location != "" {
		fmt.Println("exported to", location)
	}
}

func roleCmd() *cobra.Command {
	role := &cobra.Command{Use: "role", Short: "Archive and restore individual roles"}
	role.AddCommand(roleShowCmd())
	role.AddCommand(roleBookingsCmd())
	role.AddCommand(roleArchiveCmd())
	role.AddCommand(roleRestoreCmd())
	return role
}

func roleShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <role-id>",
		Short: "Show a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				r, err := e.Repo.GetRole(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(r)
			})
		},
	}
}

func roleBookingsCmd() *cobra.Command {
	var strict bool
	cmd := &cobra.Command{
		Use:   "bookings <role-id>",
		Short: "Count active bookings on a role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				count := e.GetActiveBookingCount
				if strict {
					count = e.ActiveBookingCount
				}
				n, err := count(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"roleId": args[0], "count": n})
				}
				fmt.Println(n)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on read errors instead of reporting 0")
	return cmd
}

func roleArchiveCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "archive <role-id>",
		Short: "Archive a role that has no active bookings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.ArchiveRole(ctx, args[0], actor, reason)
				var hab *engine.HasActiveBookingsError
				if errors.As(err, &hab) {
					return fmt.Errorf("role %s has %d active booking(s); cancel or complete them first", hab.RoleID, hab.Count)
				}
				if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
					return err
				}
				state := "archived"
				if res.AlreadyArchived {
					state = "was already archived;"
				}
				printRoleResult(state, res)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "archive reason")
	return cmd
}

func roleRestoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "restore <role-id>",
		Short: "Restore an individually archived role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RestoreRole(ctx, args[0], actor)
				if err != nil && !errors.Is(err, engine.ErrCascadeIncomplete) {
					return err
				}
				state := "restored"
				if res.AlreadyRestored {
					state = "was not archived;"
				}
				printRoleResult(state, res)
				return err
			})
		},
	}
}

func printRoleResult(state string, res engine.RoleArchiveResult) {
	if viper.GetBool("json") {
		_ = printJSON(res)
		return
	}
	fmt.Printf("role %s %s %d submission(s) updated\n", res.RoleID, state, res.Submissions.Succeeded)
	if res.Submissions.Error != "" {
		fmt.Println("submission writes incomplete:", res.Submissions.Error)
	}
}

func submissionCmd() *cobra.Command {
	sub := &cobra.Command{Use: "submission", Short: "Change submission status and book talent"}
	sub.AddCommand(&cobra.Command{
		Use:   "status <submission-id> <new|pinned|rejected|archived>",
		Short: "Change a submission's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			to, err := domain.ParseSubmissionStatus(args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.SetSubmissionStatus(ctx, args[0], to, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	})
	sub.AddCommand(&cobra.Command{
		Use:   "book <submission-id>",
		Short: "Book a submission, creating a pending booking",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.BookSubmission(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	})
	return sub
}

func bookingCmd() *cobra.Command {
	bk := &cobra.Command{Use: "booking", Short: "Manage bookings"}
	bk.AddCommand(&cobra.Command{
		Use:   "status <booking-id> <confirmed|completed|cancelled>",
		Short: "Change a booking's status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			actor, err := actorID()
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				b, err := e.SetBookingStatus(ctx, args[0], domain.BookingStatus(args[1]), actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(b)
			})
		},
	})
	return bk
}
