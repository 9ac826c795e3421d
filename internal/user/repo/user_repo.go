package repo

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-taskboard-go/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-taskboard-go/pkg/database"
)

// UserRepo provides data access for users table using sqlx.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

// EnsureTable creates the users table if not exists (idempotent).
// This is a convenience for early development; prefer migrations in production.
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS users (
  id %s,
  username TEXT NOT NULL UNIQUE,
  email TEXT NOT NULL DEFAULT '',
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL DEFAULT '',
  is_active BOOLEAN NOT NULL DEFAULT TRUE,
  date_joined %s NOT NULL
)`, database.SerialPK(r.db), database.Timestamp(r.db))
	_, err := r.db.ExecContext(ctx, ddl)
	return err
}

// Create inserts a new user row. Returns new ID.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) (int64, error) {
	q := r.db.Rebind(`INSERT INTO users (username, email, first_name, last_name, password_hash, is_active, date_joined)
		VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING id`)
	if err := r.db.GetContext(ctx, &u.ID, q, u.Username, u.Email, u.FirstName, u.LastName, u.PasswordHash, u.IsActive, u.DateJoined); err != nil {
		return 0, err
	}
	return u.ID, nil
}

const userColumns = `id, username, email, first_name, last_name, password_hash, is_active, date_joined`

const summaryColumns = `id, username, email, first_name, last_name`

// GetByUsername fetches by username or returns sql.ErrNoRows.
func (r *UserRepo) GetByUsername(ctx context.Context, username string) (*entity.User, error) {
	var u entity.User
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE username = ?`)
	if err := r.db.GetContext(ctx, &u, q, username); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetByID fetches a full user row or returns sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	var u entity.User
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &u, q, id); err != nil {
		return nil, err
	}
	return &u, nil
}

// Exists reports whether a user row with id exists.
func (r *UserRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var n int
	q := r.db.Rebind(`SELECT COUNT(*) FROM users WHERE id = ?`)
	if err := r.db.GetContext(ctx, &n, q, id); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MissingIDs returns the ids from the given set that have no user row.
func (r *UserRepo) MissingIDs(ctx context.Context, ids []int64) ([]int64, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q, args, err := sqlx.In(`SELECT id FROM users WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	var found []int64
	if err := r.db.SelectContext(ctx, &found, r.db.Rebind(q), args...); err != nil {
		return nil, err
	}
	seen := make(map[int64]struct{}, len(found))
	for _, id := range found {
		seen[id] = struct{}{}
	}
	var missing []int64
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

// ListActiveExcept returns active users other than the given one, ordered by username.
func (r *UserRepo) ListActiveExcept(ctx context.Context, id int64) ([]entity.Summary, error) {
	q := r.db.Rebind(`SELECT ` + summaryColumns + ` FROM users WHERE is_active = ? AND id <> ? ORDER BY username`)
	out := []entity.Summary{}
	if err := r.db.SelectContext(ctx, &out, q, true, id); err != nil {
		return nil, err
	}
	return out, nil
}

// Deactivate marks a user as inactive.
func (r *UserRepo) Deactivate(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE users SET is_active = ? WHERE id = ?`), false, id)
	return err
}
