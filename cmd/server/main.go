package main

import (
	"chat-runner/internal/config"
	"chat-runner/internal/logger"
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

// loaded by the root command before any subcommand runs
var appConfig *config.AppConfig

var rootCmd = &cobra.Command{
	Use:   "chat-runner",
	Short: "Multi-provider chat backend with tools and streaming generation",
	Long: `chat-runner serves a chat API over HTTP: per-user sessions, assistants,
preferences and provider credentials, and a generation pipeline that streams
model output (with web search, image generation and memory tools) as SSE.

Configuration is read from the environment and an optional .env file.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		appConfig = cfg
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, modelsCmd)
}

func main() {
	// a missing .env is fine, the environment may already be set
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Log.WithError(err).Warn("Failed to read .env file")
	}

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		logger.Log.WithError(err).Error("Command failed")
		os.Exit(1)
	}
}
