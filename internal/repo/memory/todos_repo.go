package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/taskhubdev/taskhub/internal/domain/todo"
)

type TodosRepo struct {
	mu    sync.RWMutex
	items map[string]todo.Todo
}

func NewTodosRepo() *TodosRepo {
	return &TodosRepo{
		items: make(map[string]todo.Todo),
	}
}

func (r *TodosRepo) Create(ctx context.Context, t todo.Todo) (todo.Todo, error) {
	r.mu.Lock()
	r.items[t.ID] = t
	r.mu.Unlock()

	return t, nil
}

func (r *TodosRepo) ListByOwner(ctx context.Context, ownerID string) ([]todo.Todo, error) {
	r.mu.RLock()

	out := make([]todo.Todo, 0, len(r.items))

	for _, t := range r.items {
		if t.OwnerID == ownerID {
			out = append(out, t)
		}
	}

	r.mu.RUnlock()

	// newest first, id as tiebreak, matching the postgres ordering
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})

	return out, nil
}

func (r *TodosRepo) ListCompletedIDs(ctx context.Context, ownerID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []string

	for _, t := range r.items {
		if t.OwnerID == ownerID && t.Completed {
			ids = append(ids, t.ID)
		}
	}

	return ids, nil
}

func (r *TodosRepo) Toggle(ctx context.Context, ownerID, todoID string) (todo.Todo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.items[todoID]

	if !ok || t.OwnerID != ownerID {
		return todo.Todo{}, todo.ErrNotFound
	}

	t.Completed = !t.Completed
	r.items[todoID] = t

	return t, nil
}

func (r *TodosRepo) Delete(ctx context.Context, ownerID, todoID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.items[todoID]

	if !ok || t.OwnerID != ownerID {
		return todo.ErrNotFound
	}

	delete(r.items, t.ID)

	return nil
}
