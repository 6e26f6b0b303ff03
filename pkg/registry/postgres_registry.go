package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresCatalog persists descriptor metadata (never handlers, which
// aren't serializable) for introspection and admin tooling: "what tools
// does this deployment currently expose, and since when". It is not
// consulted by the dispatcher at call time — InMemoryCatalog is.
type PostgresCatalog struct {
	db *sql.DB
}

func NewPostgresCatalog(db *sql.DB) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

const pgCatalogSchema = `
CREATE TABLE IF NOT EXISTS tool_catalog (
	name TEXT PRIMARY KEY,
	descriptor_json JSONB NOT NULL,
	registered_at TIMESTAMPTZ NOT NULL
);
`

func (c *PostgresCatalog) Init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, pgCatalogSchema)
	return err
}

// Record upserts the descriptor metadata for name. Called alongside
// InMemoryCatalog.Register so the durable record tracks the live catalog.
func (c *PostgresCatalog) Record(ctx context.Context, entry Entry) error {
	descJSON, err := json.Marshal(entry.Descriptor)
	if err != nil {
		return fmt.Errorf("registry: marshal descriptor: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO tool_catalog (name, descriptor_json, registered_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET descriptor_json = $2, registered_at = $3
	`, entry.Descriptor.Name, descJSON, time.Now().UTC())
	return err
}

// ListDescriptors returns every descriptor currently on record, ordered
// by name.
func (c *PostgresCatalog) ListDescriptors(ctx context.Context) ([]json.RawMessage, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT descriptor_json FROM tool_catalog ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []json.RawMessage
	for rows.Next() {
		var raw json.RawMessage
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return out, rows.Err()
}
