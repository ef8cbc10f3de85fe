package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Tomlord1122/todo-service/internal/domain"
	"github.com/Tomlord1122/todo-service/internal/normalize"
	"github.com/Tomlord1122/todo-service/internal/service"
)

// createTodoPayload is the JSON body of POST /todos.
type createTodoPayload struct {
	Title    *string    `json:"title" validate:"required"`
	Category *textValue `json:"category"`
}

func (p createTodoPayload) toRequest() service.CreateTodoRequest {
	return service.CreateTodoRequest{
		Title:    *p.Title,
		Category: p.Category.text(),
	}
}

// updateTodoPayload is the JSON body of PATCH /todos/{id}. At least one field
// must be present; null counts as absent.
type updateTodoPayload struct {
	Title       *string    `json:"title" validate:"required_without_all=Category IsCompleted"`
	Category    *textValue `json:"category"`
	IsCompleted *bool      `json:"is_completed"`
}

func (p updateTodoPayload) toRequest() service.UpdateTodoRequest {
	return service.UpdateTodoRequest{
		Title:       p.Title,
		Category:    p.Category.text(),
		IsCompleted: p.IsCompleted,
	}
}

// textValue accepts a JSON string or number. Numbers keep their literal form
// so the service can decide whether to coerce them.
type textValue normalize.Text

func (v *textValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = textValue{Value: s}
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return &json.UnmarshalTypeError{Value: jsonKind(data), Type: reflect.TypeOf("")}
	}
	*v = textValue{Value: n.String(), Numeric: true}
	return nil
}

func (v *textValue) text() *normalize.Text {
	if v == nil {
		return nil
	}
	t := normalize.Text(*v)
	return &t
}

func jsonKind(data []byte) string {
	if len(data) == 0 {
		return "empty"
	}
	switch data[0] {
	case 't', 'f':
		return "bool"
	case '{':
		return "object"
	case '[':
		return "array"
	}
	return "value"
}

// TodoResponse is the JSON representation of a todo.
type TodoResponse struct {
	ID          uint   `json:"id"`
	Title       string `json:"title"`
	Category    string `json:"category"`
	IsCompleted bool   `json:"is_completed"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

func newTodoResponse(todo *domain.Todo) TodoResponse {
	return TodoResponse{
		ID:          todo.ID,
		Title:       todo.Title,
		Category:    todo.Category,
		IsCompleted: todo.IsCompleted,
		CreatedAt:   todo.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:   todo.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func newTodoResponses(todos []domain.Todo) []TodoResponse {
	responses := make([]TodoResponse, 0, len(todos))
	for i := range todos {
		responses = append(responses, newTodoResponse(&todos[i]))
	}
	return responses
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details"`
	TraceID string `json:"trace_id"`
}

// fieldProblem describes one rejected field of a request.
type fieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationProblems(err error) []fieldProblem {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []fieldProblem{{Message: err.Error()}}
	}
	problems := make([]fieldProblem, 0, len(verrs))
	for _, fe := range verrs {
		msg := "Field is required"
		if fe.Tag() == "required_without_all" {
			msg = "At least one of title, category, is_completed is required"
		}
		problems = append(problems, fieldProblem{Field: fe.Field(), Message: msg})
	}
	return problems
}
