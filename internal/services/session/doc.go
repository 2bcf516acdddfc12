// Package session manages the per-login secrets and signed tokens that
// authenticate every server operation.
package session
