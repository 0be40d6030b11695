// Command ordersctl is the operator tool for the marketplace core: schema
// migrations, catalog seeding, stock levels and order statistics.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/app"
	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/config"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
	"github.com/ariefcatur/go-marketplace-core/internal/postgres"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:           "ordersctl",
		Short:         "Operate the marketplace order core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfg.PostgresDSN, "dsn", cfg.PostgresDSN, "Postgres connection string")

	rootCmd.AddCommand(migrateCmd(&cfg))
	rootCmd.AddCommand(seedCmd(&cfg))
	rootCmd.AddCommand(stockCmd(&cfg))
	rootCmd.AddCommand(statsCmd(&cfg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrateCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back schema migrations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply every pending migration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := postgres.MigrateUp(cfg.PostgresDSN); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if steps <= 0 {
				return fmt.Errorf("--steps must be positive")
			}
			if err := postgres.MigrateDown(cfg.PostgresDSN, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rolled back %d migration(s)\n", steps)
			return nil
		},
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.AddCommand(down)
	return cmd
}

// withLedger opens the stock ledger and catalog on Postgres for one command.
func withLedger(ctx context.Context, cfg *config.Config, fn func(cat *catalog.Repo, ledger *inventory.Ledger) error) error {
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer db.Close()
	return fn(&catalog.Repo{DB: db}, inventory.NewLedger(inventory.NewPostgresStore(db), nil, nil))
}

func seedCmd(cfg *config.Config) *cobra.Command {
	var currency string
	cmd := &cobra.Command{
		Use:   "seed [file.yaml]",
		Short: "Load products and stock levels from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			products, err := app.LoadSeed(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			return withLedger(ctx, cfg, func(cat *catalog.Repo, ledger *inventory.Ledger) error {
				if err := app.ApplySeed(ctx, products, currency, cat, ledger); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d product(s)\n", len(products))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&currency, "currency", "USD", "currency for products that do not name one")
	return cmd
}

func stockCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Inspect or set inventory levels",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show [productID]",
		Short: "Print the stock record of a product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return withLedger(ctx, cfg, func(_ *catalog.Repo, ledger *inventory.Ledger) error {
				st, err := ledger.Availability(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, st)
			})
		},
	})

	var (
		maxQty    int
		backorder bool
	)
	set := &cobra.Command{
		Use:   "set [productID] [available]",
		Short: "Set the available quantity of a product",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil || qty < 0 {
				return fmt.Errorf("available must be a non-negative integer, got %q", args[1])
			}
			ctx := cmd.Context()
			return withLedger(ctx, cfg, func(_ *catalog.Repo, ledger *inventory.Ledger) error {
				st := inventory.Stock{ProductID: args[0], Available: qty, MaxOrderQuantity: maxQty, AllowBackorder: backorder}
				if err := ledger.SetStock(ctx, st); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "stock for %s set to %d\n", args[0], qty)
				return nil
			})
		},
	}
	set.Flags().IntVar(&maxQty, "max-order", 0, "per-order quantity cap, 0 for none")
	set.Flags().BoolVar(&backorder, "backorder", false, "allow reservations beyond available stock")
	cmd.AddCommand(set)
	return cmd
}

func statsCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print order totals by status and revenue",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c := *cfg
			c.Storage = config.StoragePostgres
			a, err := app.New(ctx, c, zap.NewNop(), prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Close()
			st, err := a.Orders.Stats(ctx, auth.Identity{UserID: "ordersctl", Role: auth.RoleAdmin})
			if err != nil {
				return err
			}
			return printJSON(cmd, st)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
