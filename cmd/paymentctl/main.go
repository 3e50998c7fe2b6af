package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"konsul_app_echo/internal/config"
	"konsul_app_echo/internal/logger"
	"konsul_app_echo/internal/services"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Operator tooling for the consulting payment core",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(scheduleTaskCmd())
	rootCmd.AddCommand(runTasksCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(signCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env bundles what most subcommands need
type env struct {
	cfg *config.Config
	log *zap.SugaredLogger
	db  *gorm.DB
}

func loadEnv(withDB bool) (*env, error) {
	cfg := config.Load()
	log, err := logger.New(cfg.LogLevel, "console")
	if err != nil {
		return nil, err
	}
	e := &env{cfg: cfg, log: log}
	if !withDB {
		return e, nil
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	e.db, err = services.InitDB(cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect DB: %w", err)
	}
	return e, nil
}

func (e *env) close() {
	if e.db != nil {
		services.CloseDB(e.db)
	}
	e.log.Sync()
}
