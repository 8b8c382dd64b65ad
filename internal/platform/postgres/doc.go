// Package postgres implements the task and result stores on PostgreSQL via
// the pgx stdlib driver. Each task transition is one conditional UPDATE; a
// unique index keeps a single result per fingerprint. Migrations are embedded
// and applied with goose.
package postgres
