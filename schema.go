package provision

import (
	"context"

	"github.com/uptrace/bun"
)

// CreateSchema creates the provisioning tables if they do not exist.
// Production deployments run real migrations; this covers development
// bootstrap and tests.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	models := []any{
		(*Profile)(nil),
		(*VerificationChallenge)(nil),
		(*PasswordReset)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx); err != nil {
			return wrapStoreError(err, "failed to create schema")
		}
	}
	return nil
}
