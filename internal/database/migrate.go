package database

// Schema bookkeeping.  Each revision is a numbered list of statements
// applied exactly once; the schema_migrations table records what already
// ran.  Migrate returns the revisions applied during this call so startup
// logs can show what changed.

import (
	"context"
	"database/sql"
	"fmt"
)

type revision struct {
	id    string
	stmts []string
}

var revisions = []revision{
	{
		id: "0001_users_and_tokens",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS users (
				id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
				login         VARCHAR(64)  NOT NULL UNIQUE,
				password_hash VARCHAR(255) NOT NULL,
				name          VARCHAR(120) NOT NULL,
				role          ENUM('admin','investor') NOT NULL,
				percent       DECIMAL(5,2) NULL,
				is_active     TINYINT(1)   NOT NULL DEFAULT 1,
				created_at    DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE TABLE IF NOT EXISTS refresh_tokens (
				id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
				user_id    BIGINT UNSIGNED NOT NULL,
				token_hash CHAR(64)     NOT NULL UNIQUE,
				expires_at DATETIME     NOT NULL,
				created_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
				revoked_at DATETIME     NULL,
				ip         VARCHAR(64)  NOT NULL DEFAULT '',
				user_agent VARCHAR(255) NOT NULL DEFAULT '',
				KEY idx_refresh_user (user_id),
				CONSTRAINT fk_refresh_user FOREIGN KEY (user_id) REFERENCES users(id)
			)`,
		},
	},
	{
		id: "0002_campaigns",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS campaigns (
				id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
				investor_id BIGINT UNSIGNED NOT NULL,
				name        VARCHAR(200)   NOT NULL,
				budget      DECIMAL(12,2)  NOT NULL DEFAULT 0,
				status      ENUM('active','paused') NOT NULL DEFAULT 'active',
				created_at  DATETIME       NOT NULL DEFAULT CURRENT_TIMESTAMP,
				KEY idx_campaign_investor (investor_id),
				CONSTRAINT fk_campaign_investor FOREIGN KEY (investor_id) REFERENCES users(id)
			)`,
		},
	},
	{
		id: "0003_applications",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS applications (
				id           BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
				telegram_id  BIGINT       NOT NULL,
				username     VARCHAR(64)  NULL,
				first_name   VARCHAR(120) NULL,
				phone        VARCHAR(32)  NOT NULL,
				age          INT          NOT NULL,
				citizenship  VARCHAR(64)  NOT NULL,
				source       VARCHAR(64)  NULL,
				contacted    TINYINT(1)   NOT NULL DEFAULT 0,
				submitted_at DATETIME     NOT NULL DEFAULT CURRENT_TIMESTAMP,
				campaign_id  BIGINT UNSIGNED NULL,
				status       VARCHAR(20)  NULL,
				revenue      DECIMAL(12,2) NULL,
				KEY idx_application_campaign (campaign_id),
				CONSTRAINT fk_application_campaign FOREIGN KEY (campaign_id) REFERENCES campaigns(id)
			)`,
		},
	},
}

// Migrate applies pending revisions in order and returns the ids applied
// during this call.  Already-recorded revisions are skipped.
func Migrate(ctx context.Context, db *sql.DB) ([]string, error) {
	if _, err := db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS schema_migrations (
			id         VARCHAR(120) PRIMARY KEY,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []string
	for _, rev := range revisions {
		var exists int
		err := db.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM schema_migrations WHERE id = ?", rev.id).Scan(&exists)
		if err != nil {
			return applied, err
		}
		if exists > 0 {
			continue
		}
		for _, stmt := range rev.stmts {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return applied, fmt.Errorf("migration %s: %w", rev.id, err)
			}
		}
		if _, err := db.ExecContext(ctx,
			"INSERT INTO schema_migrations (id) VALUES (?)", rev.id); err != nil {
			return applied, fmt.Errorf("record migration %s: %w", rev.id, err)
		}
		applied = append(applied, rev.id)
	}
	return applied, nil
}
