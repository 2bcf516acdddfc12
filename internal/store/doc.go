// Package store provides the persistence implementations behind the server:
// Postgres for deployments and an in-memory variant for tests and dev mode.
package store
