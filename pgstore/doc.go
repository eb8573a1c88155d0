// Package pgstore provides PostgreSQL adapters for the credential stores:
// refresh tokens, API keys, password records and lockout state.
//
// Connections go through the pgx database/sql driver. The schema ships as
// embedded migrations applied by [RunMigrations]; it is one possible layout,
// not a contract the other packages depend on.
package pgstore
