package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/marketsim/tradesim/internal/catalog"
	"github.com/marketsim/tradesim/internal/config"
	"github.com/marketsim/tradesim/internal/model"
	"github.com/marketsim/tradesim/internal/store"
)

func main() {
	var (
		configPath string
		cfg        *config.Config
	)

	root := &cobra.Command{
		Use:          "tradectl",
		Short:        "Operate a tradesim deployment",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = os.Getenv("CONFIG_PATH")
			}
			loaded, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if loaded.DatabaseURL == "" {
				return errors.New("DATABASE_URL is required")
			}
			cfg = loaded
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	cfgFn := func() *config.Config { return cfg }
	root.AddCommand(
		newMigrateCmd(cfgFn),
		newAdminCmd(cfgFn),
		newMarketCmd(cfgFn),
		newSeedCmd(cfgFn),
	)

	if err := root.Execute(); err != nil {
		printError(fmt.Sprintf("error: %v", err))
		os.Exit(1)
	}
}

// withStore opens the PostgreSQL store for the duration of fn. When the
// server runs with a Redis cache, writes go through the same cache wrapper so
// the server never serves a snapshot from before them.
func withStore(ctx context.Context, cfg *config.Config, fn func(store.Store) error) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := store.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	var st store.Store = store.NewPostgresStore(pool)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opt)
		defer rdb.Close()
		st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
	}
	return fn(st)
}

func newMigrateCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}

	run := func(apply func(*migrate.Migrate) error, done string) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			m, err := migrate.New("file://"+cfg().MigrationsPath, cfg().DatabaseURL)
			if err != nil {
				return err
			}
			defer m.Close()

			if err := apply(m); err != nil {
				if errors.Is(err, migrate.ErrNoChange) {
					printWarn("no migrations to apply")
					return nil
				}
				return err
			}
			version, dirty, _ := m.Version()
			printSuccess(fmt.Sprintf("%s (version %d, dirty=%t)", done, version, dirty))
			return nil
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE:  run(func(m *migrate.Migrate) error { return m.Up() }, "migrations applied"),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the most recent migration",
			RunE:  run(func(m *migrate.Migrate) error { return m.Steps(-1) }, "migration rolled back"),
		},
	)
	return cmd
}

func newAdminCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Grant or revoke the admin flag",
	}

	set := func(admin bool) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			username := args[0]
			return withStore(cmd.Context(), cfg(), func(st store.Store) error {
				if err := st.SetAdmin(cmd.Context(), username, admin); err != nil {
					if errors.Is(err, store.ErrNotFound) {
						return fmt.Errorf("no account named %q", username)
					}
					return err
				}
				if admin {
					printSuccess(username + " is now an admin")
				} else {
					printSuccess(username + " is no longer an admin")
				}
				return nil
			})
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "grant <username>",
			Short: "Make an account admin",
			Args:  cobra.ExactArgs(1),
			RunE:  set(true),
		},
		&cobra.Command{
			Use:   "revoke <username>",
			Short: "Remove admin from an account",
			Args:  cobra.ExactArgs(1),
			RunE:  set(false),
		},
	)
	return cmd
}

func newMarketCmd(cfg func() *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "market",
		Short: "Inspect or move simulated prices",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "Show current prices",
			RunE: func(cmd *cobra.Command, args []string) error {
				return withStore(cmd.Context(), cfg(), func(st store.Store) error {
					return printCatalog(cmd.Context(), st)
				})
			},
		},
		&cobra.Command{
			Use:   "tick",
			Short: "Apply one round of price jitter now",
			RunE: func(cmd *cobra.Command, args []string) error {
				c := cfg()
				return withStore(cmd.Context(), c, func(st store.Store) error {
					j, err := catalog.NewJitterer(st, catalog.Bounds{
						model.ClassStock:  c.Market.StockJitter,
						model.ClassCrypto: c.Market.CryptoJitter,
					}, nil, nil)
					if err != nil {
						return err
					}
					if err := j.Tick(cmd.Context()); err != nil {
						return err
					}
					printSuccess("prices updated")
					return printCatalog(cmd.Context(), st)
				})
			},
		},
	)
	return cmd
}

func newSeedCmd(cfg func() *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "List the default assets in empty catalogs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), cfg(), func(st store.Store) error {
				n, err := catalog.Seed(cmd.Context(), st, catalog.Defaults())
				if err != nil {
					return err
				}
				if n == 0 {
					printWarn("catalog already populated")
					return nil
				}
				printSuccess(fmt.Sprintf("seeded %d assets", n))
				return nil
			})
		},
	}
}
