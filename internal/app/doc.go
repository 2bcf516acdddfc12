// Package app wires the client-side dependency graph for the CLI.
package app
