package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// RefreshToken mirrors a 'refresh_tokens' row.  Rows are append-only: a
// token is revoked by stamping revoked_at, never by deletion, so the table
// doubles as an audit trail.
type RefreshToken struct {
	ID        uint64
	UserID    uint64
	TokenHash string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt sql.NullTime
	IP        string
	UserAgent string
}

// TokenRepo persists refresh token records keyed by their SHA-256 hash.
type TokenRepo struct{ DB *sql.DB }

func NewTokenRepo(db *sql.DB) *TokenRepo { return &TokenRepo{DB: db} }

// Store inserts a refresh token hash row with its issuance metadata.
func (r *TokenRepo) Store(ctx context.Context, userID uint64, tokenHash string, exp time.Time, ip, userAgent string) error {
	if len(userAgent) > 255 {
		userAgent = userAgent[:255]
	}
	_, err := r.DB.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at, ip, user_agent) VALUES (?,?,?,?,?)",
		userID, tokenHash, exp, ip, userAgent)
	return err
}

// Get returns the record matching a token hash, revoked or not.  The
// caller decides what liveness means; collapsing the checks in one place
// keeps the "invalid refresh" error indistinguishable across causes.
func (r *TokenRepo) Get(ctx context.Context, tokenHash string) (RefreshToken, error) {
	var t RefreshToken
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, created_at, revoked_at, ip, user_agent
		 FROM refresh_tokens WHERE token_hash=? LIMIT 1`,
		tokenHash).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt, &t.RevokedAt, &t.IP, &t.UserAgent)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RefreshToken{}, ErrNotFound
		}
		return RefreshToken{}, err
	}
	return t, nil
}

// RevokeByHash marks a live token revoked and reports how many rows were
// affected (0 when the token was unknown or already revoked).
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE token_hash=? AND revoked_at IS NULL",
		tokenHash)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// RevokeAllForUser revokes every live token owned by a user and reports
// the revoked count.  Used by the "log out everywhere" path.
func (r *TokenRepo) RevokeAllForUser(ctx context.Context, userID uint64) (int64, error) {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE user_id=? AND revoked_at IS NULL",
		userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Rotate revokes the presented token and persists its replacement as one
// transaction.  The UPDATE requires the old row to still be live; when a
// concurrent rotation already consumed it, zero rows are affected and the
// transaction aborts with ErrNotFound, so a replayed refresh token can win
// at most once.
func (r *TokenRepo) Rotate(ctx context.Context, oldHash string, userID uint64, newHash string, exp time.Time, ip, userAgent string) error {
	if len(userAgent) > 255 {
		userAgent = userAgent[:255]
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"UPDATE refresh_tokens SET revoked_at=UTC_TIMESTAMP() WHERE token_hash=? AND revoked_at IS NULL",
		oldHash)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		err = ErrNotFound
		return err
	}

	if _, err = tx.ExecContext(ctx,
		"INSERT INTO refresh_tokens (user_id, token_hash, expires_at, ip, user_agent) VALUES (?,?,?,?,?)",
		userID, newHash, exp, ip, userAgent); err != nil {
		return err
	}

	err = tx.Commit()
	return err
}
