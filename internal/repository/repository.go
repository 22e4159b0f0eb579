// Package repository provides run persistence for the recommendation service.
//
// PgRunRepository is the source of truth for runs and their event log. It
// also implements workflow.EventSink so the executor's instrumentation can
// write progress straight into Postgres.
//
// All methods return domain errors (domain.ErrNotFound, domain.ErrConflict,
// domain.ErrAlreadyExists, domain.ErrInvalidInput) wrapped with context.
//
// Repositories accept a DBTX so the same code runs against the pool or a
// transaction:
//
//	err := db.WithTransaction(ctx, func(tx pgx.Tx) error {
//	    return repository.NewPgRunRepository(tx).Create(ctx, run)
//	})
package repository

import (
	"github.com/spoton/recommendation-service/internal/database"
)

// DBTX is the database interface supporting both pool and transaction contexts.
type DBTX = database.DBTX

// Filter pagination defaults and limits.
const (
	defaultFilterLimit = 100
	maxFilterLimit     = 1000
)

// applyPaginationDefaults normalizes limit and offset values for filter queries.
// It clamps limit to [1, maxFilterLimit] and ensures offset >= 0.
func applyPaginationDefaults(limit, offset *int) {
	if *limit <= 0 {
		*limit = defaultFilterLimit
	}
	if *limit > maxFilterLimit {
		*limit = maxFilterLimit
	}
	if *offset < 0 {
		*offset = 0
	}
}
