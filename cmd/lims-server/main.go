package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/labflow/lims/internal/config"
	"github.com/labflow/lims/internal/domain/labrequest"
	"github.com/labflow/lims/internal/platform/db"
	"github.com/labflow/lims/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "lims-server",
		Short:        "Lab request lifecycle API server",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(siteCmd())
	rootCmd.AddCommand(catalogCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func withPool(ctx context.Context, fn func(cfg *config.Config, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2, MinConns: 1})
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(cfg, db.NewMigrator(pool, migrations.FS))
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations for a lab site",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, _ := cmd.Flags().GetString("site")
			if !db.ValidSiteID(site) {
				return fmt.Errorf("invalid lab site identifier: %s", site)
			}
			ctx := cmd.Context()
			return withPool(ctx, func(_ *config.Config, m *db.Migrator) error {
				schema := db.SiteSchema(site)
				fmt.Printf("Running migrations on schema: %s\n", schema)
				count, err := m.Up(ctx, schema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	}
	upCmd.Flags().String("site", "default", "Lab site whose schema is migrated")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			site, _ := cmd.Flags().GetString("site")
			if !db.ValidSiteID(site) {
				return fmt.Errorf("invalid lab site identifier: %s", site)
			}
			ctx := cmd.Context()
			return withPool(ctx, func(_ *config.Config, m *db.Migrator) error {
				schema := db.SiteSchema(site)
				statuses, err := m.Status(ctx, schema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}

				fmt.Printf("Migration status for schema: %s\n", schema)
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				for _, s := range statuses {
					status, appliedAt := "pending", ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	}
	statusCmd.Flags().String("site", "default", "Lab site whose schema is inspected")
	cmd.AddCommand(statusCmd)

	return cmd
}

func siteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "site",
		Short: "Manage lab sites",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <id>",
		Short: "Create a lab site schema and apply all migrations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			site := args[0]
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := db.NewPool(ctx, db.PoolConfig{URL: cfg.DatabaseURL, MaxConns: 2, MinConns: 1})
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating lab site schema: %s\n", db.SiteSchema(site))
			if err := db.CreateSiteSchema(ctx, pool, site, migrations.FS); err != nil {
				return err
			}
			fmt.Println("Lab site created.")
			return nil
		},
	})
	return cmd
}

func catalogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Print the test catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")
			c, err := labrequest.LoadCatalog(file)
			if err != nil {
				return err
			}
			printCatalog(cmd.OutOrStdout(), c)
			return nil
		},
	}
	cmd.Flags().String("file", os.Getenv("TEST_CATALOG_PATH"), "Catalog YAML file (built-in catalog when empty)")
	return cmd
}
