package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tomlord1122/todo-service/internal/config"
	"github.com/Tomlord1122/todo-service/internal/logging"
	"github.com/Tomlord1122/todo-service/internal/repository"
	"github.com/Tomlord1122/todo-service/internal/service"
)

func newTestHandler(t *testing.T) (http.Handler, *repository.MemoryTransactor) {
	t.Helper()
	store := repository.NewMemoryTransactor()
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	})

	log := logging.Discard()
	cfg := config.Config{
		App:  config.AppConfig{APIPrefix: "/api/v1"},
		HTTP: config.HTTPConfig{Port: 8080},
	}
	srv := NewServer(cfg, service.NewTodoService(store, log), nil, log)
	return srv.Handler, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeTodo(t *testing.T, rec *httptest.ResponseRecorder) TodoResponse {
	t.Helper()
	var todo TodoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &todo))
	return todo
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

// problemFields returns the field names listed in a REQUEST_VALIDATION_ERROR body.
func problemFields(t *testing.T, body ErrorBody) []string {
	t.Helper()
	problems, ok := body.Details.([]any)
	require.True(t, ok, "details should be a list, got %T", body.Details)
	fields := make([]string, 0, len(problems))
	for _, p := range problems {
		problem, ok := p.(map[string]any)
		require.True(t, ok, "problem should be an object, got %T", p)
		assert.NotEmpty(t, problem["message"])
		field, _ := problem["field"].(string)
		fields = append(fields, field)
	}
	return fields
}

func TestCreateTodo(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/v1/todos", `{"title":"  Buy   milk "}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json; charset=utf-8", rec.Header().Get("Content-Type"))
	todo := decodeTodo(t, rec)
	assert.NotZero(t, todo.ID)
	assert.Equal(t, "Buy milk", todo.Title)
	assert.Equal(t, "general", todo.Category)
	assert.False(t, todo.IsCompleted)
	assert.Equal(t, todo.CreatedAt, todo.UpdatedAt)
	assert.True(t, strings.HasSuffix(todo.CreatedAt, "Z"))
}

func TestCreateTodoRejectsInvalidBodies(t *testing.T) {
	h, store := newTestHandler(t)

	tests := []struct {
		name  string
		body  string
		code  string
		field string
	}{
		{"whitespace title", `{"title":"   "}`, "TODO_VALIDATION_ERROR", ""},
		{"title too long", `{"title":"` + strings.Repeat("a", 201) + `"}`, "TODO_VALIDATION_ERROR", ""},
		{"category too long", `{"title":"a","category":"` + strings.Repeat("c", 51) + `"}`, "TODO_VALIDATION_ERROR", ""},
		{"numeric category", `{"title":"a","category":7}`, "TODO_VALIDATION_ERROR", ""},
		{"missing title", `{"category":"work"}`, codeRequestValidation, "title"},
		{"null title", `{"title":null}`, codeRequestValidation, "title"},
		{"numeric title", `{"title":12}`, codeRequestValidation, "title"},
		{"boolean category", `{"title":"a","category":true}`, codeRequestValidation, "category"},
		{"unknown field", `{"title":"a","owner":"bob"}`, codeRequestValidation, "owner"},
		{"malformed json", `{"title":`, codeRequestValidation, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/api/v1/todos", tt.body)

			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, tt.code, body.Code)
			if tt.code == codeRequestValidation {
				assert.Equal(t, []string{tt.field}, problemFields(t, body))
			}
		})
	}
	assert.Zero(t, store.Stats().Commits)
}

func TestCreateTodoEmptyBody(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodPost, "/api/v1/todos", "")

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "Request body must not be empty", body.Message)
	assert.Equal(t, []string{""}, problemFields(t, body))
}

func TestCreateTodoDuplicate(t *testing.T) {
	h, _ := newTestHandler(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/todos", `{"title":"Buy milk","category":"Home"}`).Code)

	rec := do(t, h, http.MethodPost, "/api/v1/todos", `{"title":"  buy  MILK","category":"home "}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "TODO_DUPLICATE", body.Code)
	assert.Equal(t, map[string]any{"title": "buy MILK", "category": "home"}, body.Details)
}

func TestListTodosNewestFirst(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/api/v1/todos", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	for _, title := range []string{"first", "second", "third"} {
		require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/todos", `{"title":"`+title+`"}`).Code)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/todos", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var todos []TodoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &todos))
	require.Len(t, todos, 3)
	assert.Equal(t, "third", todos[0].Title)
	assert.Equal(t, "second", todos[1].Title)
	assert.Equal(t, "first", todos[2].Title)
}

func TestGetTodo(t *testing.T) {
	h, _ := newTestHandler(t)
	created := decodeTodo(t, do(t, h, http.MethodPost, "/api/v1/todos", `{"title":"read"}`))

	rec := do(t, h, http.MethodGet, "/api/v1/todos/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, created, decodeTodo(t, rec))

	for _, id := range []string{"abc", "0", "-1", "9223372036854775808"} {
		rec = do(t, h, http.MethodGet, "/api/v1/todos/"+id, "")
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code, id)
		body := decodeError(t, rec)
		assert.Equal(t, codeRequestValidation, body.Code, id)
		assert.Equal(t, []string{"id"}, problemFields(t, body), id)
	}

	rec = do(t, h, http.MethodGet, "/api/v1/todos/9223372036854775807", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateTodo(t *testing.T) {
	h, store := newTestHandler(t)
	created := decodeTodo(t, do(t, h, http.MethodPost, "/api/v1/todos", `{"title":"Buy milk"}`))

	t.Run("partial", func(t *testing.T) {
		rec := do(t, h, http.MethodPatch, "/api/v1/todos/1", `{"is_completed":true}`)
		require.Equal(t, http.StatusOK, rec.Code)
		todo := decodeTodo(t, rec)
		assert.True(t, todo.IsCompleted)
		assert.Equal(t, "Buy milk", todo.Title)
		assert.Equal(t, created.CreatedAt, todo.CreatedAt)
		assert.NotEqual(t, created.UpdatedAt, todo.UpdatedAt)
	})

	t.Run("numeric category is coerced", func(t *testing.T) {
		rec := do(t, h, http.MethodPatch, "/api/v1/todos/1", `{"category":42}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "42", decodeTodo(t, rec).Category)
	})

	t.Run("canonically equal title is a no-op", func(t *testing.T) {
		before := store.Stats().Commits
		rec := do(t, h, http.MethodPatch, "/api/v1/todos/1", `{"title":" BUY  milk"}`)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Buy milk", decodeTodo(t, rec).Title)
		assert.Equal(t, before, store.Stats().Commits)
	})

	t.Run("empty category", func(t *testing.T) {
		rec := do(t, h, http.MethodPatch, "/api/v1/todos/1", `{"category":"  "}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "TODO_VALIDATION_ERROR", decodeError(t, rec).Code)
	})

	t.Run("no fields", func(t *testing.T) {
		for _, body := range []string{`{}`, `{"title":null,"category":null,"is_completed":null}`} {
			rec := do(t, h, http.MethodPatch, "/api/v1/todos/1", body)
			assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
			errBody := decodeError(t, rec)
			assert.Equal(t, codeRequestValidation, errBody.Code)
			assert.Equal(t, []string{"title"}, problemFields(t, errBody))
		}
	})

	t.Run("wrong type", func(t *testing.T) {
		rec := do(t, h, http.MethodPatch, "/api/v1/todos/1", `{"is_completed":"yes"}`)
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		body := decodeError(t, rec)
		assert.Equal(t, codeRequestValidation, body.Code)
		assert.Equal(t, []string{"is_completed"}, problemFields(t, body))
	})
}

func TestUpdateTodoIntoExistingKey(t *testing.T) {
	h, _ := newTestHandler(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/todos", `{"title":"a","category":"x"}`).Code)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/todos", `{"title":"b","category":"x"}`).Code)

	rec := do(t, h, http.MethodPatch, "/api/v1/todos/2", `{"title":"A"}`)

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "TODO_DUPLICATE", decodeError(t, rec).Code)
}

func TestDeleteTodo(t *testing.T) {
	h, _ := newTestHandler(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/v1/todos", `{"title":"gone soon"}`).Code)

	rec := do(t, h, http.MethodDelete, "/api/v1/todos/1", "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())

	rec = do(t, h, http.MethodDelete, "/api/v1/todos/1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodPatch, "/api/v1/todos/1", `{"is_completed":true}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "TODO_NOT_FOUND", body.Code)
	assert.Equal(t, "Todo not found", body.Message)
	assert.Equal(t, map[string]any{"todo_id": float64(1)}, body.Details)
}

func TestTraceID(t *testing.T) {
	h, _ := newTestHandler(t)

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPatch, "/api/v1/todos/5", strings.NewReader(`{"title":"x"}`))
		req.Header.Set(TraceIDHeader, "trace-abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "trace-abc", rec.Header().Get(TraceIDHeader))
		assert.Equal(t, "trace-abc", decodeError(t, rec).TraceID)
	})

	t.Run("replaced when unusable", func(t *testing.T) {
		for _, inbound := range []string{strings.Repeat("a", 129), "has space", "tab\there", "caf\u00e9"} {
			req := httptest.NewRequest(http.MethodGet, "/health", nil)
			req.Header.Set(TraceIDHeader, inbound)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			id := rec.Header().Get(TraceIDHeader)
			assert.NotEqual(t, inbound, id)
			assert.Len(t, id, 36)
		}
	})

	t.Run("longest accepted", func(t *testing.T) {
		inbound := strings.Repeat("z", 128)
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set(TraceIDHeader, inbound)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, inbound, rec.Header().Get(TraceIDHeader))
	})

	t.Run("generated", func(t *testing.T) {
		rec := do(t, h, http.MethodGet, "/api/v1/todos/5", "")

		id := rec.Header().Get(TraceIDHeader)
		assert.Len(t, id, 36)
		assert.Equal(t, id, decodeError(t, rec).TraceID)
	})
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := do(t, h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/health/db", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, h, http.MethodGet, "/api/v1/todos/7", "")
	rec = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `todo_http_requests_total{method="GET",route="/api/v1/todos/{id}",status="404"} 1`)
}

func TestRecovererKeepsErrorEnvelope(t *testing.T) {
	h := traceID(recoverer(logging.Discard())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	})))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/todos", nil)
	req.Header.Set(TraceIDHeader, "trace-panic")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "INTERNAL_SERVER_ERROR", body.Code)
	assert.Equal(t, "Unexpected server error", body.Message)
	assert.Nil(t, body.Details)
	assert.Equal(t, "trace-panic", body.TraceID)
}
