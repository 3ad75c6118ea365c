package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/leadray/backoffice/internal/utils"
)

// Principal roles.  Percent is present if and only if the role is investor.
const (
	RoleAdmin    = "admin"
	RoleInvestor = "investor"
)

// User mirrors the 'users' table.
type User struct {
	ID           uint64
	Login        string
	PasswordHash string
	Name         string
	Role         string
	Percent      *float64 // investor profit share, nil for admins
	IsActive     bool
	CreatedAt    time.Time
}

// UserChanges describes a partial update.  Nil fields are left untouched.
// ClearPercent forces percent to NULL, used when a user becomes an admin.
type UserChanges struct {
	Login        *string
	PasswordHash *string
	Name         *string
	Role         *string
	Percent      *float64
	ClearPercent bool
}

type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

const userColumns = "id, login, password_hash, name, role, percent, is_active, created_at"

func scanUser(row *sql.Row) (User, error) {
	var (
		u       User
		percent sql.NullFloat64
	)
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Name, &u.Role, &percent, &u.IsActive, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	if percent.Valid {
		v := percent.Float64
		u.Percent = &v
	}
	return u, nil
}

// Create inserts a user and returns its ID.  The plain password is hashed
// here so callers never handle the hash directly.
func (r *UserRepo) Create(ctx context.Context, login, password, name, role string, percent *float64, cost int) (uint64, error) {
	login = strings.TrimSpace(login)
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	var p interface{}
	if role == RoleInvestor && percent != nil {
		p = *percent
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (login, password_hash, name, role, percent) VALUES (?,?,?,?,?)",
		login, hash, name, role, p)
	if err != nil {
		if isDuplicateKey(err) {
			return 0, ErrLoginExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByLogin fetches a user by its trimmed login.
func (r *UserRepo) GetByLogin(ctx context.Context, login string) (User, error) {
	login = strings.TrimSpace(login)
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE login=? LIMIT 1", login))
}

// GetByID fetches a user by id.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (User, error) {
	return scanUser(r.DB.QueryRowContext(ctx,
		"SELECT "+userColumns+" FROM users WHERE id=? LIMIT 1", id))
}

// List returns all users ordered by id.
func (r *UserRepo) List(ctx context.Context) ([]User, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+userColumns+" FROM users ORDER BY id ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var (
			u       User
			percent sql.NullFloat64
		)
		if err := rows.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.Name, &u.Role, &percent, &u.IsActive, &u.CreatedAt); err != nil {
			return nil, err
		}
		if percent.Valid {
			v := percent.Float64
			u.Percent = &v
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Update applies a partial update.  It returns ErrNotFound when the user
// does not exist and ErrLoginExists on a login collision.
func (r *UserRepo) Update(ctx context.Context, id uint64, ch UserChanges) error {
	var (
		sets []string
		args []interface{}
	)
	if ch.Login != nil {
		sets = append(sets, "login=?")
		args = append(args, strings.TrimSpace(*ch.Login))
	}
	if ch.PasswordHash != nil {
		sets = append(sets, "password_hash=?")
		args = append(args, *ch.PasswordHash)
	}
	if ch.Name != nil {
		sets = append(sets, "name=?")
		args = append(args, *ch.Name)
	}
	if ch.Role != nil {
		sets = append(sets, "role=?")
		args = append(args, *ch.Role)
	}
	if ch.ClearPercent {
		sets = append(sets, "percent=NULL")
	} else if ch.Percent != nil {
		sets = append(sets, "percent=?")
		args = append(args, *ch.Percent)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET "+strings.Join(sets, ", ")+" WHERE id=?", args...)
	if err != nil {
		if isDuplicateKey(err) {
			return ErrLoginExists
		}
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		// MySQL reports 0 affected rows for no-op updates too; verify the
		// row exists before reporting not found.
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
	}
	return nil
}

// SetActive flips a user's active flag.
func (r *UserRepo) SetActive(ctx context.Context, id uint64, active bool) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE users SET is_active=? WHERE id=?", active, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		if _, gerr := r.GetByID(ctx, id); gerr != nil {
			return gerr
		}
	}
	return nil
}

// ExistsByLogin reports whether any user carries the login.  Used by the
// bootstrap admin seeding at startup.
func (r *UserRepo) ExistsByLogin(ctx context.Context, login string) (bool, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM users WHERE login=?", strings.TrimSpace(login)).Scan(&n)
	return n > 0, err
}

// isDuplicateKey detects MySQL error 1062 without importing driver types.
func isDuplicateKey(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "1062")
}
