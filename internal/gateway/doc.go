// Package gateway exposes the central service over HTTP: REST routes for the
// account and friendship operations, and one websocket per client for status
// pushes and relayed chat requests.
package gateway
