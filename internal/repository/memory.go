package repository

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/Tomlord1122/todo-service/internal/domain"
	"github.com/Tomlord1122/todo-service/internal/normalize"
)

// MemoryStats counts what reached a MemoryTransactor.
type MemoryStats struct {
	// Writes counts Insert, Save and Delete calls inside committed transactions.
	Writes    int
	Commits   int
	Rollbacks int
}

// MemoryTransactor is an in-process store with the same constraints as the
// PostgreSQL schema. Transactions run one at a time against a snapshot that
// replaces the committed state on Commit.
type MemoryTransactor struct {
	sem chan struct{}
	now func() time.Time

	// guarded by sem
	rows   map[uint]domain.Todo
	nextID uint

	statsMu sync.Mutex
	stats   MemoryStats
}

// NewMemoryTransactor returns an empty store.
func NewMemoryTransactor() *MemoryTransactor {
	return &MemoryTransactor{
		sem:    make(chan struct{}, 1),
		now:    func() time.Time { return time.Now().UTC() },
		rows:   make(map[uint]domain.Todo),
		nextID: 1,
	}
}

// SetClock replaces the time source used for created_at and updated_at.
func (m *MemoryTransactor) SetClock(now func() time.Time) {
	m.now = now
}

// Stats returns a copy of the counters.
func (m *MemoryTransactor) Stats() MemoryStats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Begin waits for any running transaction to finish, or for ctx to be done.
func (m *MemoryTransactor) Begin(ctx context.Context) (Tx, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memoryTx{
		parent: m,
		rows:   maps.Clone(m.rows),
		nextID: m.nextID,
	}, nil
}

type memoryTx struct {
	parent *MemoryTransactor
	rows   map[uint]domain.Todo
	nextID uint
	writes int
	done   bool
}

func (t *memoryTx) Todos() TodoRepository {
	return t
}

func (t *memoryTx) Commit() error {
	if t.done {
		return nil
	}
	t.done = true
	t.parent.rows = t.rows
	t.parent.nextID = t.nextID
	t.parent.statsMu.Lock()
	t.parent.stats.Commits++
	t.parent.stats.Writes += t.writes
	t.parent.statsMu.Unlock()
	<-t.parent.sem
	return nil
}

func (t *memoryTx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	t.parent.statsMu.Lock()
	t.parent.stats.Rollbacks++
	t.parent.statsMu.Unlock()
	<-t.parent.sem
	return nil
}

func (t *memoryTx) Insert(_ context.Context, title, category string) (*domain.Todo, error) {
	now := t.parent.now()
	todo := domain.Todo{
		ID:          t.nextID,
		Title:       title,
		Category:    category,
		IsCompleted: false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := t.check(todo); err != nil {
		return nil, err
	}
	t.nextID++
	t.rows[todo.ID] = todo
	t.writes++
	return &todo, nil
}

func (t *memoryTx) ListAll(_ context.Context) ([]domain.Todo, error) {
	todos := slices.Collect(maps.Values(t.rows))
	slices.SortFunc(todos, func(a, b domain.Todo) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})
	if todos == nil {
		todos = []domain.Todo{}
	}
	return todos, nil
}

func (t *memoryTx) FindByID(_ context.Context, id uint) (*domain.Todo, error) {
	todo, ok := t.rows[id]
	if !ok {
		return nil, nil
	}
	return &todo, nil
}

func (t *memoryTx) FindByCanonicalKey(_ context.Context, canonicalTitle, canonicalCategory string) (*domain.Todo, error) {
	for _, todo := range t.rows {
		if normalize.Canonical(todo.Title) == canonicalTitle && normalize.Canonical(todo.Category) == canonicalCategory {
			return &todo, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) Save(_ context.Context, todo *domain.Todo) error {
	stored, ok := t.rows[todo.ID]
	if !ok {
		return &domain.NotFoundError{ID: todo.ID}
	}
	updated := stored
	updated.Title = todo.Title
	updated.Category = todo.Category
	updated.IsCompleted = todo.IsCompleted
	updated.UpdatedAt = t.parent.now()
	if updated.UpdatedAt.Before(updated.CreatedAt) {
		updated.UpdatedAt = updated.CreatedAt
	}
	if err := t.check(updated); err != nil {
		return err
	}
	t.rows[todo.ID] = updated
	todo.UpdatedAt = updated.UpdatedAt
	t.writes++
	return nil
}

func (t *memoryTx) Delete(_ context.Context, todo *domain.Todo) error {
	delete(t.rows, todo.ID)
	t.writes++
	return nil
}

// check enforces the schema's length and uniqueness constraints on a row about to be written.
func (t *memoryTx) check(todo domain.Todo) error {
	if utf8.RuneCountInString(todo.Title) > normalize.MaxTitleLength {
		return &domain.ValidationError{
			Message: "Todo violates a store constraint",
			Fields:  map[string]any{"constraint": TitleLenConstraint},
		}
	}
	if utf8.RuneCountInString(todo.Category) > normalize.MaxCategoryLength {
		return &domain.ValidationError{
			Message: "Todo violates a store constraint",
			Fields:  map[string]any{"constraint": CategoryLenConstraint},
		}
	}

	title, category := normalize.Canonical(todo.Title), normalize.Canonical(todo.Category)
	for id, other := range t.rows {
		if id == todo.ID {
			continue
		}
		if normalize.Canonical(other.Title) == title && normalize.Canonical(other.Category) == category {
			return &domain.DuplicateError{Title: todo.Title, Category: todo.Category}
		}
	}
	return nil
}
