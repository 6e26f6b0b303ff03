// Package store owns Pierre's relational schema: the numbered migration
// set every other package's repository queries against, plus the
// append-only, hash-chained audit log.
package store

import (
	"database/sql"
	"fmt"
)

type migration struct {
	stmt string
}

// migrations runs in order, exactly once each, tracked in the
// migrations table. Every later migration assumes every earlier one has
// already applied — do not reorder existing entries, only append.
var migrations = []migration{
	{stmt: `
		CREATE TABLE IF NOT EXISTS tenants (
			id           TEXT PRIMARY KEY,
			name         TEXT NOT NULL,
			status       TEXT NOT NULL,
			created_at   TIMESTAMPTZ NOT NULL,
			suspended_at TIMESTAMPTZ,
			deleted_at   TIMESTAMPTZ,
			metadata     JSONB
		)
	`},
	{stmt: `
		CREATE TABLE IF NOT EXISTS users (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL REFERENCES tenants(id),
			email      TEXT NOT NULL,
			role       TEXT NOT NULL DEFAULT 'user',
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (tenant_id, email)
		)
	`},
	{stmt: `
		CREATE TABLE IF NOT EXISTS oauth_clients (
			client_id     TEXT PRIMARY KEY,
			tenant_id     TEXT NOT NULL REFERENCES tenants(id),
			client_secret TEXT,
			redirect_uris JSONB NOT NULL,
			scopes        JSONB NOT NULL,
			grant_types   JSONB NOT NULL,
			client_name   TEXT,
			created_at    TIMESTAMPTZ NOT NULL
		)
	`},
	{stmt: `
		ALTER TABLE oauth_clients ADD COLUMN IF NOT EXISTS first_party BOOLEAN NOT NULL DEFAULT false
	`},
	{stmt: `
		CREATE TABLE IF NOT EXISTS authorization_codes (
			code                  TEXT PRIMARY KEY,
			tenant_id             TEXT NOT NULL REFERENCES tenants(id),
			client_id             TEXT NOT NULL,
			user_id               TEXT NOT NULL,
			redirect_uri          TEXT NOT NULL,
			scopes                JSONB NOT NULL,
			code_challenge        TEXT NOT NULL,
			code_challenge_method TEXT NOT NULL,
			expires_at            TIMESTAMPTZ NOT NULL,
			consumed_at           TIMESTAMPTZ,
			created_at            TIMESTAMPTZ NOT NULL
		)
	`},
	{stmt: `
		CREATE TABLE IF NOT EXISTS refresh_tokens (
			token         TEXT PRIMARY KEY,
			tenant_id     TEXT NOT NULL REFERENCES tenants(id),
			client_id     TEXT NOT NULL,
			user_id       TEXT NOT NULL,
			scopes        JSONB NOT NULL,
			chain_id      TEXT NOT NULL,
			rotated_from  TEXT,
			expires_at    TIMESTAMPTZ NOT NULL,
			revoked_at    TIMESTAMPTZ,
			created_at    TIMESTAMPTZ NOT NULL
		)
	`},
	{stmt: `
		CREATE TABLE IF NOT EXISTS revoked_tokens (
			jti        TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL REFERENCES tenants(id),
			expires_at TIMESTAMPTZ NOT NULL,
			revoked_at TIMESTAMPTZ NOT NULL
		)
	`},
	{stmt: `
		CREATE TABLE IF NOT EXISTS provider_credentials (
			tenant_id     TEXT NOT NULL REFERENCES tenants(id),
			user_id       TEXT NOT NULL,
			provider      TEXT NOT NULL,
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			scopes        JSONB NOT NULL,
			expires_at    TIMESTAMPTZ NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (tenant_id, user_id, provider)
		)
	`},
	{stmt: `
		ALTER TABLE refresh_tokens ADD COLUMN IF NOT EXISTS access_jti TEXT
	`},
	{stmt: `
		CREATE TABLE IF NOT EXISTS audit_log (
			entry_id      TEXT PRIMARY KEY,
			sequence      BIGINT NOT NULL,
			tenant_id     TEXT NOT NULL REFERENCES tenants(id),
			entry_type    TEXT NOT NULL,
			subject       TEXT NOT NULL,
			action        TEXT NOT NULL,
			payload       JSONB NOT NULL,
			payload_hash  TEXT NOT NULL,
			previous_hash TEXT NOT NULL,
			entry_hash    TEXT NOT NULL,
			metadata      JSONB,
			created_at    TIMESTAMPTZ NOT NULL
		)
	`},
	{stmt: `
		CREATE TABLE IF NOT EXISTS idempotency_keys (
			key         TEXT PRIMARY KEY,
			status_code INT NOT NULL,
			headers     JSONB,
			body        BYTEA,
			cached_at   TIMESTAMPTZ NOT NULL
		)
	`},
	{stmt: `
		ALTER TABLE users ADD COLUMN IF NOT EXISTS password_hash TEXT NOT NULL DEFAULT ''
	`},
	{stmt: `
		ALTER TABLE users ADD COLUMN IF NOT EXISTS approval_status TEXT NOT NULL DEFAULT 'pending'
	`},
	{stmt: `
		ALTER TABLE users ADD COLUMN IF NOT EXISTS approved_at TIMESTAMPTZ
	`},
	{stmt: `
		ALTER TABLE users ADD COLUMN IF NOT EXISTS revoked_at TIMESTAMPTZ
	`},
}

// Migrate applies every migration that hasn't yet run, tracked in a
// migrations table, and returns how many newly applied.
func Migrate(db *sql.DB) (int, error) {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			num integer NOT NULL,
			at  timestamptz NOT NULL
		)
	`); err != nil {
		return 0, fmt.Errorf("store: create migrations table: %w", err)
	}

	var applied int
	if err := db.QueryRow(`SELECT COUNT(*) FROM migrations`).Scan(&applied); err != nil {
		return 0, fmt.Errorf("store: count migrations: %w", err)
	}

	n := 0
	for i := applied; i < len(migrations); i++ {
		tx, err := db.Begin()
		if err != nil {
			return n, fmt.Errorf("store: begin migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(migrations[i].stmt); err != nil {
			tx.Rollback()
			return n, fmt.Errorf("store: migration %d failed: %w", i+1, err)
		}
		if _, err := tx.Exec(`INSERT INTO migrations (num, at) VALUES ($1, now())`, i+1); err != nil {
			tx.Rollback()
			return n, fmt.Errorf("store: record migration %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return n, fmt.Errorf("store: commit migration %d: %w", i+1, err)
		}
		n++
	}
	return n, nil
}
