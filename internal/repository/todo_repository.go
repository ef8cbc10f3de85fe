package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/Tomlord1122/todo-service/internal/domain"
)

// Constraint names declared by the migrations.
const (
	CanonicalKeyConstraint = "uq_todos_canonical_key"
	CategoryLenConstraint  = "ck_todos_category_len"
	TitleLenConstraint     = "ck_todos_title_len"
)

// PostgreSQL SQLSTATE codes translated into domain errors.
const (
	pgUniqueViolation = "23505"
	pgCheckViolation  = "23514"
	pgValueTooLong    = "22001"
)

// TodoRepository defines the data operations on todos. None of them commit;
// the commit boundary belongs to the caller's Tx.
type TodoRepository interface {
	Insert(ctx context.Context, title, category string) (*domain.Todo, error)
	ListAll(ctx context.Context) ([]domain.Todo, error)
	// FindByID returns nil when no todo has the given id.
	FindByID(ctx context.Context, id uint) (*domain.Todo, error)
	// FindByCanonicalKey matches both fields case-insensitively and returns nil when nothing matches.
	FindByCanonicalKey(ctx context.Context, canonicalTitle, canonicalCategory string) (*domain.Todo, error)
	Save(ctx context.Context, todo *domain.Todo) error
	Delete(ctx context.Context, todo *domain.Todo) error
}

// Transactor opens units of work.
type Transactor interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is a single unit of work. Rollback after Commit is a no-op, so callers
// can always defer Rollback.
type Tx interface {
	Todos() TodoRepository
	Commit() error
	Rollback() error
}

// gormTransactor implements Transactor on top of a *gorm.DB.
type gormTransactor struct {
	db *gorm.DB
}

// NewGormTransactor creates a Transactor backed by GORM.
func NewGormTransactor(db *gorm.DB) Transactor {
	return &gormTransactor{db: db}
}

func (t *gormTransactor) Begin(ctx context.Context) (Tx, error) {
	tx := t.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &gormTx{db: tx}, nil
}

type gormTx struct {
	db   *gorm.DB
	done bool
}

func (t *gormTx) Todos() TodoRepository {
	return NewGormTodoRepository(t.db)
}

func (t *gormTx) Commit() error {
	t.done = true
	return t.db.Commit().Error
}

func (t *gormTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	return t.db.Rollback().Error
}

// gormTodoRepository implements TodoRepository using GORM
type gormTodoRepository struct {
	db *gorm.DB
}

// NewGormTodoRepository creates a new GORM todo repository. db may be a
// transaction handle.
func NewGormTodoRepository(db *gorm.DB) TodoRepository {
	return &gormTodoRepository{db: db}
}

// Insert adds a new, not yet completed todo. GORM fills in the id and timestamps.
func (r *gormTodoRepository) Insert(ctx context.Context, title, category string) (*domain.Todo, error) {
	todo := &domain.Todo{
		Title:       title,
		Category:    category,
		IsCompleted: false,
	}
	if err := r.db.WithContext(ctx).Create(todo).Error; err != nil {
		return nil, translateError(err, todo)
	}
	return todo, nil
}

// ListAll returns every todo, newest first. Rows created in the same instant
// are ordered by id so the result is deterministic.
func (r *gormTodoRepository) ListAll(ctx context.Context) ([]domain.Todo, error) {
	todos := make([]domain.Todo, 0)
	result := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Find(&todos)
	if result.Error != nil {
		return nil, result.Error
	}
	return todos, nil
}

func (r *gormTodoRepository) FindByID(ctx context.Context, id uint) (*domain.Todo, error) {
	var todo domain.Todo
	// Find instead of First: a missing row is not an error here.
	result := r.db.WithContext(ctx).Where("id = ?", id).Limit(1).Find(&todo)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &todo, nil
}

func (r *gormTodoRepository) FindByCanonicalKey(ctx context.Context, canonicalTitle, canonicalCategory string) (*domain.Todo, error) {
	var todo domain.Todo
	result := r.db.WithContext(ctx).
		Where("lower(title) = lower(?) AND lower(category) = lower(?)", canonicalTitle, canonicalCategory).
		Limit(1).
		Find(&todo)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}
	return &todo, nil
}

// Save writes the mutable fields of an already fetched todo. GORM bumps
// UpdatedAt on the struct as part of the update. A row deleted since it was
// fetched yields *domain.NotFoundError.
func (r *gormTodoRepository) Save(ctx context.Context, todo *domain.Todo) error {
	result := r.db.WithContext(ctx).
		Model(todo).
		Select("Title", "Category", "IsCompleted", "UpdatedAt").
		Updates(todo)
	if result.Error != nil {
		return translateError(result.Error, todo)
	}
	if result.RowsAffected == 0 {
		return &domain.NotFoundError{ID: todo.ID}
	}
	return nil
}

// Delete removes the todo permanently; the model has no soft-delete column.
func (r *gormTodoRepository) Delete(ctx context.Context, todo *domain.Todo) error {
	return r.db.WithContext(ctx).Delete(todo).Error
}

// translateError maps constraint violations reported by PostgreSQL while
// writing todo to domain errors. Anything else is returned as is.
func translateError(err error, todo *domain.Todo) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	switch pgErr.Code {
	case pgUniqueViolation:
		if pgErr.ConstraintName == CanonicalKeyConstraint {
			return &domain.DuplicateError{Title: todo.Title, Category: todo.Category}
		}
	case pgCheckViolation:
		return &domain.ValidationError{
			Message: "Todo violates a store constraint",
			Fields:  map[string]any{"constraint": pgErr.ConstraintName},
		}
	case pgValueTooLong:
		return &domain.ValidationError{
			Message: "Value exceeds the column length",
			Fields:  map[string]any{"detail": pgErr.Message},
		}
	}
	return err
}
