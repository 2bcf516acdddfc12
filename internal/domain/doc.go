// Package domain holds the core types, the failure taxonomy, and the
// interfaces the server services are wired through.
package domain
