// Package commands implements the pigeon CLI: account commands plus the
// interactive chat shell.
package commands
