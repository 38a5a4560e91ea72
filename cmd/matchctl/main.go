// Package main provides matchctl, the administrative CLI of the organ match server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/organ-match-server/internal/app"
	"github.com/organ-match-server/internal/config"
	"github.com/organ-match-server/internal/database"
	"github.com/organ-match-server/internal/domain"
	"github.com/organ-match-server/internal/inbox"
)

// cli carries the state shared by every subcommand.
type cli struct {
	configPath string
	out        io.Writer
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(os.Stdout).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &cli{out: out}

	rootCmd := &cobra.Command{
		Use:          "matchctl",
		Short:        "Administer the organ match server",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&c.configPath, "config", "", "directory holding config.yaml")
	rootCmd.SetOut(out)

	rootCmd.AddCommand(c.migrateCmd())
	rootCmd.AddCommand(c.autoMatchCmd())
	rootCmd.AddCommand(c.priorityCmd())
	rootCmd.AddCommand(c.notificationsCmd())
	return rootCmd
}

// load reads and validates the configuration and builds the logger.
func (c *cli) load() (*config.Manager, *logrus.Logger, error) {
	var paths []string
	if c.configPath != "" {
		paths = append(paths, c.configPath)
	}
	manager, err := config.NewManager(paths...)
	if err != nil {
		return nil, nil, err
	}
	if err := manager.Validate(); err != nil {
		return nil, nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	logging := manager.GetConfig().Logging
	logging.Output = "stderr"
	return manager, config.NewLogger(logging), nil
}

// withRuntime opens the runtime, runs fn and closes it again.
func (c *cli) withRuntime(ctx context.Context, fn func(rt *app.Runtime) error) error {
	manager, logger, err := c.load()
	if err != nil {
		return err
	}
	rt, err := app.Open(ctx, manager, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(rt)
}

func (c *cli) printJSON(v interface{}) error {
	encoder := json.NewEncoder(c.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	withRunner := func(fn func(ctx context.Context, runner *database.MigrationRunner) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			manager, logger, err := c.load()
			if err != nil {
				return err
			}
			url := database.ConfigFromDomain(manager.GetDatabaseConfig()).URL()
			runner, err := database.NewMigrationRunner(url, logger)
			if err != nil {
				return err
			}
			defer runner.Close()
			return fn(cmd.Context(), runner)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, runner *database.MigrationRunner) error {
			return runner.Up(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the latest migration",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(ctx context.Context, runner *database.MigrationRunner) error {
			return runner.Down(ctx)
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the current schema version",
		Args:  cobra.NoArgs,
		RunE: withRunner(func(_ context.Context, runner *database.MigrationRunner) error {
			version, dirty, err := runner.Version()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "version %d (dirty: %t)\n", version, dirty)
			return nil
		}),
	})
	return cmd
}

func (c *cli) autoMatchCmd() *cobra.Command {
	var req domain.AutoMatchRequest

	cmd := &cobra.Command{
		Use:   "automatch",
		Short: "Score recipients against donors and record match candidates",
		Long: "Without --recipient and --donor every eligible profile is scored. " +
			"The report is printed as JSON.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRuntime(cmd.Context(), func(rt *app.Runtime) error {
				var (
					report *domain.AutoMatchReport
					err    error
				)
				if len(req.RecipientIDs) == 0 && len(req.DonorIDs) == 0 {
					report, err = rt.Services.AutoMatch.RunEligible(cmd.Context(), req.IncludeFinalized)
				} else {
					report, err = rt.Services.AutoMatch.RunAutoMatch(cmd.Context(), req)
				}
				if err != nil {
					return err
				}
				return c.printJSON(report)
			})
		},
	}
	cmd.Flags().StringSliceVar(&req.RecipientIDs, "recipient", nil, "recipient profile id (repeatable)")
	cmd.Flags().StringSliceVar(&req.DonorIDs, "donor", nil, "donor profile id (repeatable)")
	cmd.Flags().BoolVar(&req.IncludeFinalized, "include-finalized", false, "rescore confirmed and cancelled matches")
	return cmd
}

func (c *cli) priorityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "priority",
		Short: "Inspect and recompute recipient priorities",
	}

	var all bool
	recompute := &cobra.Command{
		Use:   "recompute [recipient-id]",
		Short: "Recompute the priority baseline of one recipient, or of all with --all",
		Args: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) > 0:
				return fmt.Errorf("pass either a recipient id or --all, not both")
			case !all && len(args) != 1:
				return fmt.Errorf("a recipient id or --all is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), func(rt *app.Runtime) error {
				if all {
					n, err := rt.Services.Registry.RecomputeAll(cmd.Context())
					if err != nil {
						return err
					}
					fmt.Fprintf(c.out, "recomputed %d recipients\n", n)
					return nil
				}
				rec, err := rt.Services.Priority.RecomputePriority(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printJSON(rec)
			})
		},
	}
	recompute.Flags().BoolVar(&all, "all", false, "recompute every recipient")

	show := &cobra.Command{
		Use:   "show <recipient-id>",
		Short: "Print a recipient's current priority record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withRuntime(cmd.Context(), func(rt *app.Runtime) error {
				rec, err := rt.Services.Priority.Priority(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return c.printJSON(rec)
			})
		},
	}

	cmd.AddCommand(recompute, show)
	return cmd
}

func (c *cli) notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notifications",
		Short: "Work with delivered notifications",
	}

	var target, output string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export one party's inbox as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := inbox.ParseTarget(target)
			if err != nil {
				return err
			}
			return c.withRuntime(cmd.Context(), func(rt *app.Runtime) error {
				writer := c.out
				if output != "" {
					f, err := os.Create(output)
					if err != nil {
						return fmt.Errorf("failed to create %s: %w", output, err)
					}
					defer f.Close()
					writer = f
				}
				return inbox.ExportJSON(cmd.Context(), rt.Inbox, parsed, writer)
			})
		},
	}
	export.Flags().StringVar(&target, "target", "", "addressed party as kind:id")
	export.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	_ = export.MarkFlagRequired("target")

	cmd.AddCommand(export)
	return cmd
}
