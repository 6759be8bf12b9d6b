package main

import (
	"chat-runner/internal/api/handlers"
	"chat-runner/internal/app"
	"chat-runner/internal/auth"
	"chat-runner/internal/logger"
	"chat-runner/internal/repository/postgres"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API (default)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		database, err := app.OpenDatabase(cmd.Context(), appConfig.Database)
		if err != nil {
			return err
		}
		defer database.Close()

		if pg, ok := database.(*postgres.PostgresDB); ok {
			version, dirty, err := pg.MigrationVersion()
			if err != nil {
				return fmt.Errorf("read migration version: %w", err)
			}
			logger.Log.WithFields(logrus.Fields{"version": version, "dirty": dirty}).Info("Schema is up to date")
			return nil
		}

		logger.Log.WithField("driver", appConfig.Database.Driver).Info("Schema is up to date")
		return nil
	},
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tPROVIDER\tTOOLS\tVISION")
		for _, m := range appConfig.Models.GetAvailableModels() {
			fmt.Fprintf(w, "%s\t%s\t%v\t%t\n", m.ID, m.Provider, m.Plugins, m.Vision)
		}
		return w.Flush()
	},
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("Initializing database...")
	cfg, err := app.Open(ctx, appConfig)
	if err != nil {
		return err
	}
	defer cfg.Close()

	router := handlers.NewRouter(handlers.NewHandlers(cfg), auth.NewHandlers(cfg.DB, appConfig.Auth))

	server := &http.Server{
		Addr:              ":" + appConfig.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.WithFields(logrus.Fields{
			"port":   appConfig.Server.Port,
			"driver": appConfig.Database.Driver,
		}).Info("Server starting")

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), appConfig.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Log.Info("Server stopped")
	return nil
}
