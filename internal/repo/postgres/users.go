package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/taskhubdev/taskhub/internal/domain/user"
	"github.com/taskhubdev/taskhub/internal/observability"
)

type UsersRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewUsersRepo(pool *pgxpool.Pool, prom *observability.Prom) *UsersRepo {
	return &UsersRepo{pool: pool, prom: prom}
}

func (r *UsersRepo) observe(op string, fn func() error) error {
	if r.prom != nil {
		return r.prom.ObserveDB(op, fn)
	}
	return fn()
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

func (r *UsersRepo) Create(ctx context.Context, email, passwordHash, name, role string) (user.User, error) {
	now := time.Now().UTC()

	u := user.User{
		ID:           uuid.NewString(),
		Email:        strings.ToLower(strings.TrimSpace(email)),
		PasswordHash: passwordHash,
		Name:         name,
		Role:         role,
		IsBlocked:    false,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err := r.observe("users.create", func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO users (id, email, password_hash, name, role, is_blocked, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
			u.ID, u.Email, u.PasswordHash, u.Name, u.Role, u.IsBlocked, u.CreatedAt, u.UpdatedAt,
		)
		return err
	})

	if err != nil {
		if IsUniqueViolation(err) {
			return user.User{}, user.ErrEmailTaken
		}

		return user.User{}, err
	}

	return u, nil
}

const userColumns = `id, email, password_hash, name, role, is_blocked, created_at, updated_at`

func scanUser(row pgx.Row) (user.User, error) {
	var u user.User

	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.Name,
		&u.Role,
		&u.IsBlocked,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return user.User{}, user.ErrNotFound
		}

		return user.User{}, err
	}

	return u, nil
}

func (r *UsersRepo) GetByEmail(ctx context.Context, email string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_email", func() error {
		u, err = scanUser(r.pool.QueryRow(
			ctx,
			`SELECT `+userColumns+` FROM users WHERE email = lower($1)`,
			strings.TrimSpace(email),
		))
		return err
	})

	return u, err
}

func (r *UsersRepo) GetByID(ctx context.Context, id string) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.get_by_id", func() error {
		u, err = scanUser(r.pool.QueryRow(
			ctx,
			`SELECT `+userColumns+` FROM users WHERE id = $1`,
			id,
		))
		return err
	})

	return u, err
}

// ListCursor pages through all users in creation order (createdAt ASC, id ASC).
func (r *UsersRepo) ListCursor(ctx context.Context, limit int, afterCreatedAt time.Time, afterID string) ([]user.User, bool, error) {
	// first page: the id column is a uuid, so an empty cursor needs the
	// zero uuid sentinel for the tuple comparison
	if afterID == "" {
		afterID = "00000000-0000-0000-0000-000000000000"
	}

	var out []user.User

	err := r.observe("users.list_cursor", func() error {
		rows, err := r.pool.Query(ctx,
			`SELECT `+userColumns+`
			 FROM users
			 WHERE (created_at, id) > ($1, $2)
			 ORDER BY created_at ASC, id ASC
			 LIMIT $3`,
			afterCreatedAt, afterID, limit+1,
		)

		if err != nil {
			return err
		}

		defer rows.Close()

		out = make([]user.User, 0, limit+1)

		for rows.Next() {
			var u user.User

			err = rows.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.Role, &u.IsBlocked, &u.CreatedAt, &u.UpdatedAt)

			if err != nil {
				return err
			}

			out = append(out, u)
		}

		return rows.Err()
	})

	if err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit

	if hasMore {
		out = out[:limit]
	}

	return out, hasMore, nil
}

// SetBlocked flips is_blocked for a non-admin target. The role guard lives in
// the statement itself so a concurrent role read cannot race past it.
func (r *UsersRepo) SetBlocked(ctx context.Context, id string, blocked bool) (user.User, error) {
	var u user.User
	var err error

	err = r.observe("users.set_blocked", func() error {
		u, err = scanUser(r.pool.QueryRow(ctx,
			`UPDATE users
			 SET is_blocked = $2, updated_at = NOW()
			 WHERE id = $1 AND role <> 'admin'
			 RETURNING `+userColumns,
			id, blocked,
		))
		return err
	})

	if err == nil {
		return u, nil
	}

	if !errors.Is(err, user.ErrNotFound) {
		return user.User{}, err
	}

	// no row updated: either the user does not exist or the target is an admin
	target, getErr := r.GetByID(ctx, id)

	if getErr != nil {
		return user.User{}, getErr
	}

	if target.Role == user.RoleAdmin {
		return user.User{}, user.ErrAdminTarget
	}

	return user.User{}, user.ErrNotFound
}
