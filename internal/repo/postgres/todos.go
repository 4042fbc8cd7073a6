package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskhubdev/taskhub/internal/domain/todo"
	"github.com/taskhubdev/taskhub/internal/observability"
)

type TodosRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewTodosRepo(pool *pgxpool.Pool, prom *observability.Prom) *TodosRepo {
	return &TodosRepo{pool: pool, prom: prom}
}

func (r *TodosRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func (r *TodosRepo) Create(ctx context.Context, t todo.Todo) (todo.Todo, error) {
	err := r.observe("todos.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO todos (id, owner_id, text, completed, created_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			t.ID, t.OwnerID, t.Text, t.Completed, t.CreatedAt,
		)
		return err
	})

	if err != nil {
		return todo.Todo{}, err
	}

	return t, nil
}

// ListByOwner returns every todo owned by ownerID, newest first.
func (r *TodosRepo) ListByOwner(ctx context.Context, ownerID string) ([]todo.Todo, error) {
	var out []todo.Todo

	err := r.observe("todos.list_by_owner", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id, owner_id, text, completed, created_at
			 FROM todos
			 WHERE owner_id = $1
			 ORDER BY created_at DESC, id DESC`,
			ownerID,
		)

		if err != nil {
			return err
		}

		defer rows.Close()

		out = make([]todo.Todo, 0, 16)

		for rows.Next() {
			var t todo.Todo

			err = rows.Scan(&t.ID, &t.OwnerID, &t.Text, &t.Completed, &t.CreatedAt)

			if err != nil {
				return err
			}

			out = append(out, t)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return out, nil
}

// ListCompletedIDs returns the ids of ownerID's completed todos. Used by
// clear-completed, which deletes each one independently.
func (r *TodosRepo) ListCompletedIDs(ctx context.Context, ownerID string) ([]string, error) {
	var ids []string

	err := r.observe("todos.list_completed_ids", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT id FROM todos WHERE owner_id = $1 AND completed`,
			ownerID,
		)

		if err != nil {
			return err
		}

		defer rows.Close()

		for rows.Next() {
			var id string

			err = rows.Scan(&id)

			if err != nil {
				return err
			}

			ids = append(ids, id)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, err
	}

	return ids, nil
}

// Toggle flips completed in a single UPDATE so concurrent toggles resolve as
// a sequence of atomic read-modify-writes. Scoped by owner: a non-owner sees
// todo.ErrNotFound, never the row.
func (r *TodosRepo) Toggle(ctx context.Context, ownerID, todoID string) (todo.Todo, error) {
	var t todo.Todo

	err := r.observe("todos.toggle", func() error {
		return r.pool.QueryRow(ctx,
			`UPDATE todos
			 SET completed = NOT completed
			 WHERE id = $1 AND owner_id = $2
			 RETURNING id, owner_id, text, completed, created_at`,
			todoID, ownerID,
		).Scan(&t.ID, &t.OwnerID, &t.Text, &t.Completed, &t.CreatedAt)
	})

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return todo.Todo{}, todo.ErrNotFound
		}

		return todo.Todo{}, err
	}

	return t, nil
}

func (r *TodosRepo) Delete(ctx context.Context, ownerID, todoID string) error {
	var tagRows int64

	err := r.observe("todos.delete", func() error {
		tag, err := r.pool.Exec(ctx,
			`DELETE FROM todos WHERE id = $1 AND owner_id = $2`,
			todoID, ownerID,
		)

		if err != nil {
			return err
		}

		tagRows = tag.RowsAffected()

		return nil
	})

	if err != nil {
		return err
	}

	// if no rows were deleted as a result return a not found error
	if tagRows == 0 {
		return todo.ErrNotFound
	}

	return nil
}
