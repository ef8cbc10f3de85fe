package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tomlord1122/todo-service/internal/config"
	"github.com/Tomlord1122/todo-service/internal/database"
	"github.com/Tomlord1122/todo-service/internal/logging"
	"github.com/Tomlord1122/todo-service/internal/repository"
	"github.com/Tomlord1122/todo-service/internal/server"
	"github.com/Tomlord1122/todo-service/internal/service"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "api",
	Short:         "Todo service HTTP API",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API (default)",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// setup loads the configuration and the logger every command needs.
func setup() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return config.Config{}, nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return config.Config{}, nil, err
	}
	return cfg, log, nil
}

func gracefulShutdown(apiServer *http.Server, dbService database.Service, log logrus.FieldLogger, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	log.Info("Shutting down gracefully, press Ctrl+C again to force")
	stop()

	// The server has 5 seconds to finish the requests it is currently handling.
	ctxTimeout, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctxTimeout); err != nil {
		log.WithError(err).Error("Server forced to shutdown")
	}

	if dbService != nil {
		if err := dbService.Close(); err != nil {
			log.WithError(err).Error("Error closing database connection pool")
		}
	}

	log.Info("Server exiting")
	done <- true
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}

	var (
		dbService  database.Service
		transactor repository.Transactor
	)
	switch cfg.DB.Driver {
	case config.DriverMemory:
		log.Warn("Using the in-memory store; data is lost on exit")
		transactor = repository.NewMemoryTransactor()
	default:
		if cfg.DB.AutoMigrate {
			if err := database.Migrate(cfg.DB.DSN(), database.Up, log); err != nil {
				log.WithError(err).Error("Failed to migrate database")
				return err
			}
		}
		dbService, err = database.New(cfg.DB, log)
		if err != nil {
			log.WithError(err).WithField("dsn", cfg.DB.Redacted()).Error("Failed to connect to database")
			return err
		}
		transactor = repository.NewGormTransactor(dbService.GetDB())
	}

	todoService := service.NewTodoService(transactor, log)
	apiServer := server.NewServer(cfg, todoService, dbService, log)

	done := make(chan bool, 1)
	go gracefulShutdown(apiServer, dbService, log, done)

	log.WithFields(logrus.Fields{
		"addr":        apiServer.Addr,
		"app":         cfg.App.Name,
		"environment": cfg.App.Environment,
		"driver":      cfg.DB.Driver,
	}).Info("Starting server")
	if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithError(err).Error("HTTP server ListenAndServe error")
		return err
	}

	<-done
	log.Info("Graceful shutdown complete.")
	return nil
}
