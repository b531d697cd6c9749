// Command opsctl runs maintenance tasks against the branch-ops database:
// migrations, demo seeding, session generation and account creation.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"branch-ops/internal/access"
	"branch-ops/internal/app"
	"branch-ops/internal/config"
	"branch-ops/internal/db"
	"branch-ops/internal/identity"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Maintenance commands for the branch-ops back office",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(sessionsCmd())
	rootCmd.AddCommand(userCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// systemActor performs CLI writes with full rights.
var systemActor = access.NewActor(uuid.Nil, "opsctl", access.RoleAdmin, true, nil, nil)

// withApp loads config, builds the app and runs fn. Migrations run on connect
// only when autoMigrate is set.
func withApp(cmd *cobra.Command, autoMigrate bool, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	app.InitLogging(cfg)
	cfg.Database.AutoMigrate = autoMigrate

	a, err := app.New(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(cmd.Context(), a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				if err := db.RunMigrations(ctx, a.Gateway.DB); err != nil {
					return err
				}
				fmt.Println("Migrations applied")
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var branch string
	var confirm bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert the admin user and demo curriculum (development only)",
		Long: `Seed creates the configured admin account, a demo branch, an English
curriculum with three levels, a standard package and a welcome promotion.

It only runs when environment is development and --confirm is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return errors.New("--confirm is required to run the seeder")
			}
			return withApp(cmd, true, func(ctx context.Context, a *app.App) error {
				if a.Config.Environment != "development" {
					return fmt.Errorf("seeder only runs in development, environment is %q", a.Config.Environment)
				}
				if err := a.SeedAdmin(ctx); err != nil {
					return err
				}
				demo, err := a.SeedDemo(ctx, branch)
				if err != nil {
					return err
				}
				fmt.Printf("Seeded branch %s (%s), package %s, %d levels\n",
					branch, demo.BranchID, demo.PackageID, len(demo.LevelIDs))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&branch, "branch", "DEMO", "code of the demo branch")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm seeding (required)")
	return cmd
}

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Class session maintenance",
	}
	var classID string
	gen := &cobra.Command{
		Use:   "generate",
		Short: "Create missing sessions for one class or every active class",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				if classID == "" {
					n, err := a.Classes.GenerateAll(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("Created %d sessions across active classes\n", n)
					return nil
				}
				id, err := uuid.Parse(classID)
				if err != nil {
					return fmt.Errorf("invalid --class: %w", err)
				}
				n, err := a.Classes.GenerateSessions(ctx, systemActor, id)
				if err != nil {
					return err
				}
				fmt.Printf("Created %d sessions\n", n)
				return nil
			})
		},
	}
	gen.Flags().StringVar(&classID, "class", "", "class id (default: all active classes)")
	cmd.AddCommand(gen)
	return cmd
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Staff account maintenance",
	}

	var in identity.NewUser
	var branches []string
	var primary string
	var systemWide bool
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(in.Password) < 8 {
				return errors.New("password must be at least 8 characters")
			}
			for _, b := range branches {
				id, err := uuid.Parse(b)
				if err != nil {
					return fmt.Errorf("invalid --branch %q: %w", b, err)
				}
				in.BranchIDs = append(in.BranchIDs, id)
			}
			if primary != "" {
				id, err := uuid.Parse(primary)
				if err != nil {
					return fmt.Errorf("invalid --primary-branch: %w", err)
				}
				in.PrimaryBranchID = &id
			}
			if cmd.Flags().Changed("system-wide") {
				in.SystemWide = &systemWide
			}
			return withApp(cmd, false, func(ctx context.Context, a *app.App) error {
				u, err := a.Identity.CreateUser(ctx, systemActor, in)
				if err != nil {
					return err
				}
				fmt.Printf("Created user %s (%s) with role %s\n", u.Username, u.ID, u.Role)
				return nil
			})
		},
	}
	create.Flags().StringVar(&in.Username, "username", "", "login name")
	create.Flags().StringVar(&in.Password, "password", "", "initial password")
	create.Flags().StringVar(&in.FullName, "full-name", "", "display name")
	create.Flags().StringVar(&in.Role, "role", "", "ADMIN, GDV, OM, CM, HOEC, EC, SALE, TEACHER or ACCOUNTANT")
	create.Flags().StringSliceVar(&branches, "branch", nil, "assigned branch ids")
	create.Flags().StringVar(&primary, "primary-branch", "", "primary branch id")
	create.Flags().BoolVar(&systemWide, "system-wide", false, "see every branch")
	for _, f := range []string{"username", "password", "full-name", "role"} {
		_ = create.MarkFlagRequired(f)
	}
	cmd.AddCommand(create)
	return cmd
}
