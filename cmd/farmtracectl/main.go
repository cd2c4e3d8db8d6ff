package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/javajoker/farmtrace-backend/internal/app"
	"github.com/javajoker/farmtrace-backend/internal/config"
	"github.com/javajoker/farmtrace-backend/internal/database"
	"github.com/javajoker/farmtrace-backend/internal/repository"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "farmtracectl",
		Short:         "Operator tooling for the FarmTrace backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().Bool("verbose", false, "Log at debug level")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	}

	// Add subcommands
	rootCmd.AddCommand(settleCmd())
	rootCmd.AddCommand(settlePendingCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(releaseStaleCmd())
	rootCmd.AddCommand(verifyCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(tokenCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp connects to the database and wires the services for one command.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	db, err := database.Initialize(cfg.Database)
	if err != nil {
		return err
	}
	defer database.Close(db)

	a, err := app.New(cfg, repository.NewGormRepository(db))
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
