package service

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/Tomlord1122/todo-service/internal/domain"
	"github.com/Tomlord1122/todo-service/internal/logging"
	"github.com/Tomlord1122/todo-service/internal/normalize"
	"github.com/Tomlord1122/todo-service/internal/repository"
)

// CreateTodoRequest holds the data needed to create a new todo.
// A nil Category means the client did not send one.
type CreateTodoRequest struct {
	Title    string
	Category *normalize.Text
}

// UpdateTodoRequest holds a partial update. Pointers distinguish an omitted
// field from one set to its zero value (e.g. IsCompleted set to false).
type UpdateTodoRequest struct {
	Title       *string
	Category    *normalize.Text
	IsCompleted *bool
}

// Empty reports whether no field is present.
func (r UpdateTodoRequest) Empty() bool {
	return r.Title == nil && r.Category == nil && r.IsCompleted == nil
}

// --- Service Interface ---

// TodoService defines the operations for managing todos.
// Failures are *domain.ValidationError, *domain.NotFoundError,
// *domain.DuplicateError or *domain.UnexpectedError.
type TodoService interface {
	// CreateTodo normalizes the input, rejects canonical duplicates and stores a new todo.
	CreateTodo(ctx context.Context, req CreateTodoRequest) (*domain.Todo, error)

	// GetTodo retrieves a single todo by its ID.
	GetTodo(ctx context.Context, id uint) (*domain.Todo, error)

	// ListTodos returns all todos, newest first.
	ListTodos(ctx context.Context) ([]domain.Todo, error)

	// UpdateTodo applies the fields of req that actually change the todo.
	// When nothing changes, nothing is written and the stored todo is returned.
	UpdateTodo(ctx context.Context, id uint, req UpdateTodoRequest) (*domain.Todo, error)

	// DeleteTodo removes a todo by its ID.
	DeleteTodo(ctx context.Context, id uint) error
}

// --- Service Implementation ---

// todoService implements TodoService. Each call runs in exactly one
// transaction obtained from tx.
type todoService struct {
	tx  repository.Transactor
	log logrus.FieldLogger
}

// NewTodoService creates a new instance of todoService.
func NewTodoService(tx repository.Transactor, log logrus.FieldLogger) TodoService {
	return &todoService{
		tx:  tx,
		log: log,
	}
}

func (s *todoService) CreateTodo(ctx context.Context, req CreateTodoRequest) (*domain.Todo, error) {
	title, err := normalize.Title(req.Title)
	if err != nil {
		return nil, err
	}
	category, err := normalize.Category(req.Category, normalize.CategoryOptions{
		DefaultIfEmpty: true,
		CoerceNumeric:  false,
	})
	if err != nil {
		return nil, err
	}

	tx, err := s.begin(ctx, "create todo")
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, tx)
	repo := tx.Todos()

	duplicate, err := repo.FindByCanonicalKey(ctx, normalize.Canonical(title), normalize.Canonical(category))
	if err != nil {
		return nil, s.unexpected(ctx, "find duplicate todo", err)
	}
	if duplicate != nil {
		return nil, &domain.DuplicateError{Title: title, Category: category}
	}

	todo, err := repo.Insert(ctx, title, category)
	if err != nil {
		return nil, s.classify(ctx, "insert todo", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.classify(ctx, "commit todo creation", err)
	}

	logging.FromContext(ctx, s.log).WithField("todo_id", todo.ID).Info("todo created")
	return todo, nil
}

func (s *todoService) GetTodo(ctx context.Context, id uint) (*domain.Todo, error) {
	tx, err := s.begin(ctx, "get todo")
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, tx)

	todo, err := tx.Todos().FindByID(ctx, id)
	if err != nil {
		return nil, s.unexpected(ctx, "find todo", err)
	}
	if todo == nil {
		return nil, &domain.NotFoundError{ID: id}
	}
	return todo, nil
}

func (s *todoService) ListTodos(ctx context.Context) ([]domain.Todo, error) {
	tx, err := s.begin(ctx, "list todos")
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, tx)

	todos, err := tx.Todos().ListAll(ctx)
	if err != nil {
		return nil, s.unexpected(ctx, "list todos", err)
	}
	return todos, nil
}

func (s *todoService) UpdateTodo(ctx context.Context, id uint, req UpdateTodoRequest) (*domain.Todo, error) {
	tx, err := s.begin(ctx, "update todo")
	if err != nil {
		return nil, err
	}
	defer s.release(ctx, tx)
	repo := tx.Todos()

	// 1. Fetch the existing todo to ensure it exists
	todo, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, s.unexpected(ctx, "find todo for update", err)
	}
	if todo == nil {
		return nil, &domain.NotFoundError{ID: id}
	}

	// 2. Apply only the fields that differ canonically from what is stored
	changed := false
	if req.Title != nil {
		title, err := normalize.Title(*req.Title)
		if err != nil {
			return nil, err
		}
		if normalize.Canonical(title) != normalize.Canonical(todo.Title) {
			todo.Title = title
			changed = true
		}
	}
	if req.Category != nil {
		category, err := normalize.Category(req.Category, normalize.CategoryOptions{
			DefaultIfEmpty: false,
			CoerceNumeric:  true,
		})
		if err != nil {
			return nil, err
		}
		if normalize.Canonical(category) != normalize.Canonical(todo.Category) {
			todo.Category = category
			changed = true
		}
	}
	if req.IsCompleted != nil && *req.IsCompleted != todo.IsCompleted {
		todo.IsCompleted = *req.IsCompleted
		changed = true
	}

	// 3. Nothing to write: the deferred release rolls back the read-only transaction
	if !changed {
		return todo, nil
	}

	if err := repo.Save(ctx, todo); err != nil {
		return nil, s.classify(ctx, "save todo", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, s.classify(ctx, "commit todo update", err)
	}

	logging.FromContext(ctx, s.log).WithField("todo_id", todo.ID).Info("todo updated")
	return todo, nil
}

func (s *todoService) DeleteTodo(ctx context.Context, id uint) error {
	tx, err := s.begin(ctx, "delete todo")
	if err != nil {
		return err
	}
	defer s.release(ctx, tx)
	repo := tx.Todos()

	todo, err := repo.FindByID(ctx, id)
	if err != nil {
		return s.unexpected(ctx, "find todo for delete", err)
	}
	if todo == nil {
		return &domain.NotFoundError{ID: id}
	}

	if err := repo.Delete(ctx, todo); err != nil {
		return s.unexpected(ctx, "delete todo", err)
	}
	if err := tx.Commit(); err != nil {
		return s.unexpected(ctx, "commit todo deletion", err)
	}

	logging.FromContext(ctx, s.log).WithField("todo_id", id).Info("todo deleted")
	return nil
}

func (s *todoService) begin(ctx context.Context, op string) (repository.Tx, error) {
	tx, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, s.unexpected(ctx, op, err)
	}
	return tx, nil
}

// release rolls back tx unless it was committed.
func (s *todoService) release(ctx context.Context, tx repository.Tx) {
	if err := tx.Rollback(); err != nil {
		logging.FromContext(ctx, s.log).WithError(err).Warn("rollback failed")
	}
}

// classify passes store-level constraint violations and vanished rows
// through and wraps everything else.
func (s *todoService) classify(ctx context.Context, op string, err error) error {
	var dup *domain.DuplicateError
	var verr *domain.ValidationError
	var notFound *domain.NotFoundError
	if errors.As(err, &dup) || errors.As(err, &verr) || errors.As(err, &notFound) {
		return err
	}
	return s.unexpected(ctx, op, err)
}

func (s *todoService) unexpected(ctx context.Context, op string, err error) error {
	logging.FromContext(ctx, s.log).WithError(err).WithField("op", op).Error("todo store failure")
	return &domain.UnexpectedError{Op: op, Err: err}
}
