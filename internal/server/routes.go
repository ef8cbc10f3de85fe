package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/Tomlord1122/todo-service/internal/domain"
	"github.com/Tomlord1122/todo-service/internal/logging"
)

const codeRequestValidation = "REQUEST_VALIDATION_ERROR"

func (s *Server) RegisterRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(traceID)
	r.Use(requestLogger(s.log, s.metrics))
	r.Use(recoverer(s.log))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token", TraceIDHeader},
		ExposedHeaders:   []string{"Link", TraceIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", s.healthHandler)
	if s.db != nil {
		r.Get("/health/db", s.dbHealthHandler)
	}
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	r.Route(s.apiPrefix, func(r chi.Router) {
		r.Route("/todos", func(r chi.Router) {
			r.Post("/", s.createTodoHandler)
			r.Get("/", s.listTodosHandler)
			r.Get("/{id}", s.getTodoHandler)
			r.Patch("/{id}", s.updateTodoHandler)
			r.Delete("/{id}", s.deleteTodoHandler)
		})
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) dbHealthHandler(w http.ResponseWriter, r *http.Request) {
	healthStats := s.db.Health()
	if status, ok := healthStats["status"]; ok && status == "down" {
		respondWithJSON(w, http.StatusServiceUnavailable, healthStats)
		return
	}
	respondWithJSON(w, http.StatusOK, healthStats)
}

func (s *Server) createTodoHandler(w http.ResponseWriter, r *http.Request) {
	var payload createTodoPayload
	if !s.decodeAndValidate(w, r, &payload) {
		return
	}

	todo, err := s.todoService.CreateTodo(r.Context(), payload.toRequest())
	if err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusCreated, newTodoResponse(todo))
}

func (s *Server) listTodosHandler(w http.ResponseWriter, r *http.Request) {
	todos, err := s.todoService.ListTodos(r.Context())
	if err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, newTodoResponses(todos))
}

func (s *Server) getTodoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.todoID(w, r)
	if !ok {
		return
	}

	todo, err := s.todoService.GetTodo(r.Context(), id)
	if err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, newTodoResponse(todo))
}

func (s *Server) updateTodoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.todoID(w, r)
	if !ok {
		return
	}

	var payload updateTodoPayload
	if !s.decodeAndValidate(w, r, &payload) {
		return
	}

	updatedTodo, err := s.todoService.UpdateTodo(r.Context(), id, payload.toRequest())
	if err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}

	respondWithJSON(w, http.StatusOK, newTodoResponse(updatedTodo))
}

func (s *Server) deleteTodoHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := s.todoID(w, r)
	if !ok {
		return
	}

	if err := s.todoService.DeleteTodo(r.Context(), id); err != nil {
		s.respondWithServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// todoID parses the {id} path parameter, answering 422 when it is not a positive integer.
func (s *Server) todoID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(idStr, 10, 63)
	if err != nil || id == 0 {
		respondWithError(w, r, http.StatusUnprocessableEntity, codeRequestValidation, "Invalid todo ID provided",
			[]fieldProblem{{Field: "id", Message: "must be a positive integer"}})
		return 0, false
	}
	return uint(id), true
}

// decodeAndValidate reads a JSON body into dst and checks its validate tags.
// On failure it writes a 422 response and returns false.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		msg, problem := describeDecodeError(err)
		respondWithError(w, r, http.StatusUnprocessableEntity, codeRequestValidation, msg, []fieldProblem{problem})
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		respondWithError(w, r, http.StatusUnprocessableEntity, codeRequestValidation, "Validation failed", validationProblems(err))
		return false
	}
	return true
}

func describeDecodeError(err error) (string, fieldProblem) {
	var syntaxError *json.SyntaxError
	var unmarshalTypeError *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxError):
		msg := fmt.Sprintf("Request body contains badly-formed JSON (at position %d)", syntaxError.Offset)
		return msg, fieldProblem{Message: msg}
	case errors.Is(err, io.ErrUnexpectedEOF):
		msg := "Request body contains badly-formed JSON"
		return msg, fieldProblem{Message: msg}
	case errors.As(err, &unmarshalTypeError):
		msg := fmt.Sprintf("Request body contains an invalid value for the %q field", unmarshalTypeError.Field)
		return msg, fieldProblem{Field: unmarshalTypeError.Field, Message: "must be " + describeType(unmarshalTypeError.Type.String())}
	case strings.HasPrefix(err.Error(), "json: unknown field "):
		fieldName := strings.Trim(strings.TrimPrefix(err.Error(), "json: unknown field "), `"`)
		msg := fmt.Sprintf("Request body contains unknown field %q", fieldName)
		return msg, fieldProblem{Field: fieldName, Message: "unknown field"}
	case errors.Is(err, io.EOF):
		msg := "Request body must not be empty"
		return msg, fieldProblem{Message: msg}
	default:
		msg := "Request body is invalid"
		return msg, fieldProblem{Message: err.Error()}
	}
}

func describeType(goType string) string {
	switch goType {
	case "string":
		return "a string"
	case "bool":
		return "a boolean"
	}
	return "a " + goType
}

// respondWithServiceError maps the service's error kinds to status codes.
// Anything unrecognized becomes a 500 without internals.
func (s *Server) respondWithServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		validationErr *domain.ValidationError
		notFoundErr   *domain.NotFoundError
		duplicateErr  *domain.DuplicateError
	)
	switch {
	case errors.As(err, &validationErr):
		respondWithError(w, r, http.StatusUnprocessableEntity, validationErr.Code(), validationErr.Message, validationErr.Details())
	case errors.As(err, &notFoundErr):
		respondWithError(w, r, http.StatusNotFound, notFoundErr.Code(), "Todo not found", notFoundErr.Details())
	case errors.As(err, &duplicateErr):
		respondWithError(w, r, http.StatusConflict, duplicateErr.Code(), "Todo with the same title and category already exists", duplicateErr.Details())
	default:
		logging.FromContext(r.Context(), s.log).WithError(err).Error("unhandled service error")
		respondWithError(w, r, http.StatusInternalServerError, domain.CodeInternal, "Unexpected server error", nil)
	}
}

func respondWithError(w http.ResponseWriter, r *http.Request, code int, errCode, message string, details any) {
	respondWithJSON(w, code, ErrorResponse{Error: ErrorBody{
		Code:    errCode,
		Message: message,
		Details: details,
		TraceID: logging.TraceID(r.Context()),
	}})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error":{"code":"INTERNAL_SERVER_ERROR","message":"Internal server error preparing response","details":null,"trace_id":""}}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(response)
}
