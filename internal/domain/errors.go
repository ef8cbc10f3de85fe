package domain

import "fmt"

// Error codes surfaced in API error bodies.
const (
	CodeValidation = "TODO_VALIDATION_ERROR"
	CodeNotFound   = "TODO_NOT_FOUND"
	CodeDuplicate  = "TODO_DUPLICATE"
	CodeInternal   = "INTERNAL_SERVER_ERROR"
)

// AppError is implemented by every error kind the service returns on purpose.
// The boundary maps each kind to a fixed status code.
type AppError interface {
	error
	Code() string
	Details() map[string]any
}

// ValidationError reports input that fails normalization rules or a store constraint.
type ValidationError struct {
	Message string
	Fields  map[string]any
}

func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message}
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Code() string { return CodeValidation }

func (e *ValidationError) Details() map[string]any { return e.Fields }

// NotFoundError reports a todo id with no matching row.
type NotFoundError struct {
	ID uint
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("todo with ID %d not found", e.ID)
}

func (e *NotFoundError) Code() string { return CodeNotFound }

func (e *NotFoundError) Details() map[string]any {
	return map[string]any{"todo_id": e.ID}
}

// DuplicateError reports a create whose canonical (title, category) pair is taken.
type DuplicateError struct {
	Title    string
	Category string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("todo %q in category %q already exists", e.Title, e.Category)
}

func (e *DuplicateError) Code() string { return CodeDuplicate }

func (e *DuplicateError) Details() map[string]any {
	return map[string]any{"title": e.Title, "category": e.Category}
}

// UnexpectedError wraps any uncategorized failure, e.g. lost store connectivity.
// Its message never reaches API clients.
type UnexpectedError struct {
	Op  string
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }

func (e *UnexpectedError) Code() string { return CodeInternal }

func (e *UnexpectedError) Details() map[string]any { return nil }
