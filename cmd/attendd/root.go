package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/observability"
)

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "attendd",
	Short: "Camera-driven face check-in and authorization",
	Long: `attendd watches a camera, matches faces against enrolled identities and
records one check-in per identity per day part. It also runs gated
authorization sessions that end with a single grant or denial.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file with ATTEND_* overrides")
}

func initEnv() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load(envFile)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	observability.SetupLogger(cfg.Logging.Level, cfg.Logging.Format)
	return cfg, nil
}
