package store

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the idempotent schema. Every statement uses IF NOT EXISTS
// so it is safe to run on each start. Concurrent starts are serialized on an
// advisory lock because IF NOT EXISTS does not guard against racing creators.
func (d *DB) Migrate(ctx context.Context) error {
	return d.WithinTx(ctx, func(ctx context.Context) error {
		if err := d.LockKeys(ctx, "schema:migrate"); err != nil {
			return err
		}
		if _, err := d.Conn(ctx).ExecContext(ctx, schemaSQL); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		return nil
	})
}
