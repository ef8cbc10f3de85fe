package server

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/Tomlord1122/todo-service/internal/config"
	"github.com/Tomlord1122/todo-service/internal/database"
	"github.com/Tomlord1122/todo-service/internal/service"
)

type Server struct {
	port        int
	apiPrefix   string
	todoService service.TodoService
	// db is nil when the service runs on the in-memory store.
	db       database.Service
	log      logrus.FieldLogger
	metrics  *metrics
	validate *validator.Validate
}

// NewServer wires the HTTP handlers. dbService may be nil.
func NewServer(cfg config.Config, todoService service.TodoService, dbService database.Service, log logrus.FieldLogger) *http.Server {
	appServer := &Server{
		port:        cfg.HTTP.Port,
		apiPrefix:   cfg.App.APIPrefix,
		todoService: todoService,
		db:          dbService,
		log:         log,
		metrics:     newMetrics(),
		validate:    newValidator(),
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", appServer.port),
		Handler:      appServer.RegisterRoutes(),
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return server
}
