// Package client provides common types and utilities for headless AI
// process management.
//
// The package separates provider-neutral mechanics (spawning, stdout
// stream-json parsing, stderr capture, lifecycle status) from the
// provider-specific details (argument building, event formats), which live
// in subpackages such as client/claude. Providers register themselves via
// RegisterClient in their init() functions and are instantiated through
// NewClient.
//
// A spawned process exposes two channels: Events() yields parsed
// OutputEvents until the process exits, and Errors() yields lifecycle
// errors (spawn failures, timeouts, non-zero exits). Both channels are
// closed when the process completes.
package client
