// Package store defines the durable session-log contract and its backends:
// a JSONL file-per-session store (the reference behavior) and a Postgres
// store for shared deployments.
package store

import (
	"errors"

	"github.com/osahq/osa/internal/providers"
)

// ErrNotFound marks a session id the store has never seen.
var ErrNotFound = errors.New("session not found")

// SessionStore is the append-only per-session message log. Appends must
// survive a host restart when durability is configured. Rewrite exists
// solely for the compactor, which replaces a prefix with a summary message.
type SessionStore interface {
	// Append adds one message to the session log.
	Append(sessionID string, msg providers.Message) error

	// Recall returns the full log in insertion order. An unknown session
	// yields an empty log, not an error.
	Recall(sessionID string) ([]providers.Message, error)

	// Rewrite atomically replaces the log (compaction only).
	Rewrite(sessionID string, msgs []providers.Message) error

	// Close releases backend resources.
	Close() error
}
