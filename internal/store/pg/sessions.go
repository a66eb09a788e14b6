// Package pg implements store.SessionStore backed by Postgres. Each message
// is one row; Rewrite (compaction) swaps the log inside a transaction.
package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/osahq/osa/internal/providers"
	"github.com/osahq/osa/internal/upgrade"
)

// SessionStore persists session logs in the session_messages table.
type SessionStore struct {
	db *sql.DB
}

// Open connects to Postgres with the pgx stdlib driver.
func Open(dsn string) (*SessionStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	status, err := upgrade.CheckSchema(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("check schema: %w", err)
	}
	if !status.Compatible {
		db.Close()
		return nil, fmt.Errorf("postgres schema: %s", upgrade.Describe(status))
	}
	return &SessionStore{db: db}, nil
}

// NewWithDB wraps an existing handle (tests use sqlmock here).
func NewWithDB(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

func (s *SessionStore) Append(sessionID string, msg providers.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT INTO session_messages (id, session_id, payload, created_at)
		 VALUES ($1, $2, $3, $4)`,
		uuid.Must(uuid.NewV7()), sessionID, payload, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	return nil
}

func (s *SessionStore) Recall(sessionID string) ([]providers.Message, error) {
	rows, err := s.db.Query(
		`SELECT payload FROM session_messages WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("recall session: %w", err)
	}
	defer rows.Close()

	var msgs []providers.Message
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		var msg providers.Message
		if err := json.Unmarshal(payload, &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}

func (s *SessionStore) Rewrite(sessionID string, msgs []providers.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rewrite: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM session_messages WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	now := time.Now().UTC()
	for i, msg := range msgs {
		payload, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		// Preserve insertion order with a monotonic timestamp tiebreak.
		if _, err := tx.Exec(
			`INSERT INTO session_messages (id, session_id, payload, created_at)
			 VALUES ($1, $2, $3, $4)`,
			uuid.Must(uuid.NewV7()), sessionID, payload, now.Add(time.Duration(i)*time.Microsecond),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return tx.Commit()
}

func (s *SessionStore) Close() error { return s.db.Close() }
