package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"eadash.io/internal/audit"
	"eadash.io/internal/auth"
	"eadash.io/internal/config"
	"eadash.io/internal/migrate"
	"eadash.io/internal/obs"
	"eadash.io/internal/records"
	"eadash.io/internal/store/pg"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

type options struct {
	configPath string
	dsn        string
	logLevel   string
}

func rootCmd() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{
		Use:           "eactl",
		Short:         "Operate the EA dashboard database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file (overrides EA_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (overrides EA_DB_DSN and DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(
		migrateCmd(opts),
		seedCmd(opts),
		exportCmd(opts),
		bootstrapAdminCmd(opts),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "eactl %s (%s)\n", version, commit)
			},
		},
	)
	return cmd
}

// load resolves configuration with flag overrides. The operator tool always
// talks to PostgreSQL.
func (o *options) load() (config.Config, error) {
	overrides := map[string]string{
		"EA_CONFIG":    o.configPath,
		"EA_DB_DSN":    o.dsn,
		"EA_LOG_LEVEL": o.logLevel,
		"EA_DB_DRIVER": config.DriverPostgres,
	}
	cfg, err := config.LoadFrom(func(key string) string {
		if v := overrides[key]; v != "" {
			return v
		}
		return os.Getenv(key)
	})
	if err != nil {
		return config.Config{}, err
	}
	logger, err := obs.NewLogger(cfg.Log.Level)
	if err != nil {
		return config.Config{}, err
	}
	obs.SetLogger(logger)
	return cfg, nil
}

func (o *options) open(ctx context.Context) (*pg.Store, config.Config, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, config.Config{}, err
	}
	st, err := pg.Open(cfg.Database.DSN)
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("open database: %w", err)
	}
	if err := st.Ping(ctx); err != nil {
		_ = st.Close()
		return nil, config.Config{}, fmt.Errorf("ping database: %w", err)
	}
	return st, cfg, nil
}

func migrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	run := func(apply func(ctx context.Context, m *migrate.Manager, out io.Writer) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			return apply(ctx, migrate.NewManager(st.DB()), cmd.OutOrStdout())
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Manager, out io.Writer) error {
				if err := m.Up(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Manager, out io.Writer) error {
				if err := m.Down(ctx); err != nil {
					return err
				}
				fmt.Fprintln(out, "rolled back one migration")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List migrations and whether they are applied",
			Args:  cobra.NoArgs,
			RunE: run(func(ctx context.Context, m *migrate.Manager, out io.Writer) error {
				lines, err := m.Status(ctx)
				if err != nil {
					return err
				}
				for _, l := range lines {
					fmt.Fprintln(out, l)
				}
				return nil
			}),
		},
	)
	return cmd
}

func seedCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "seed <file>",
		Short: "Replace all entity data with the contents of a seed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			ctx := cmd.Context()
			st, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := migrate.Up(ctx, st.DB()); err != nil {
				return err
			}

			svc := records.NewService(st, audit.NewRecorder(st))
			counts, err := svc.Seed(ctx, nil, data)
			if err != nil {
				return err
			}
			obs.Logger().Info("database_seeded", zap.String("file", args[0]), zap.Any("counts", counts))
			writeCounts(cmd.OutOrStdout(), counts)
			return nil
		},
	}
}

func exportCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write every entity family as a JSON document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			ds, err := records.NewService(st, audit.NewRecorder(st)).Export(ctx)
			if err != nil {
				return err
			}
			body, err := json.MarshalIndent(ds, "", "  ")
			if err != nil {
				return err
			}
			body = append(body, '\n')
			if len(args) == 0 || args[0] == "-" {
				_, err = cmd.OutOrStdout().Write(body)
				return err
			}
			return os.WriteFile(args[0], body, 0o644)
		},
	}
}

func bootstrapAdminCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "bootstrap-admin",
		Short: "Create the configured administrator if no admin exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, cfg, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer st.Close()
			if err := migrate.Up(ctx, st.DB()); err != nil {
				return err
			}

			tokens, err := auth.NewTokenService(cfg.Auth)
			if err != nil {
				return err
			}
			created, err := auth.NewAccounts(st, tokens, audit.NewRecorder(st)).EnsureAdmin(ctx, cfg.Bootstrap)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "created admin %s\n", cfg.Bootstrap.AdminEmail)
			} else {
				fmt.Fprintln(cmd.OutOrStdout(), "an admin already exists")
			}
			return nil
		},
	}
}

func writeCounts(w io.Writer, counts map[string]int) {
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%-24s %d\n", name, counts[name])
	}
}
