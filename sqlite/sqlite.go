// Package sqlite implements chatrelay.Store as a document store: each session
// is one row holding the JSON record {sessionId, messages}.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/meikuraledutech/chatrelay"
	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS chat_sessions (
	id         TEXT PRIMARY KEY,
	turns      INTEGER NOT NULL,
	document   TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);`

// DocStore persists sessions as JSON documents in SQLite.
type DocStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path, creating its parent
// directory, and ensures the schema exists.
func Open(path string) (*DocStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("chatrelay: create db directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("chatrelay: open sqlite %s: %w", path, err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatrelay: ping sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("chatrelay: init sqlite schema: %w", err)
	}

	return &DocStore{db: db}, nil
}

// Load decodes the stored document for id.
func (s *DocStore) Load(ctx context.Context, id string) (*chatrelay.Session, error) {
	var (
		doc       string
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT document, created_at FROM chat_sessions WHERE id = ?`, id,
	).Scan(&doc, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, chatrelay.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatrelay: get session: %w", err)
	}

	session := &chatrelay.Session{}
	if err := json.Unmarshal([]byte(doc), session); err != nil {
		return nil, fmt.Errorf("chatrelay: decode session %s: %w", id, err)
	}
	if session.Turns == nil {
		session.Turns = []chatrelay.Turn{}
	}
	session.CreatedAt = time.UnixMilli(createdAt).UTC()
	session.Base = len(session.Turns)
	return session, nil
}

// Create returns an empty session. No row is written until Save.
func (s *DocStore) Create(ctx context.Context, id string) (*chatrelay.Session, error) {
	return chatrelay.NewSession(id), nil
}

// Save replaces the stored document if it still holds session.Base turns.
// Resaving a document with exactly the stored turns is a no-op.
func (s *DocStore) Save(ctx context.Context, session *chatrelay.Session) error {
	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("chatrelay: encode session: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("chatrelay: begin save: %w", err)
	}
	defer tx.Rollback()

	var (
		stored    int
		storedDoc string
	)
	err = tx.QueryRowContext(ctx,
		`SELECT turns, document FROM chat_sessions WHERE id = ?`, session.ID,
	).Scan(&stored, &storedDoc)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("chatrelay: read session: %w", err)
	}
	if stored != session.Base {
		if stored == len(session.Turns) && sameDocument(storedDoc, session) {
			session.Base = stored
			return nil
		}
		return fmt.Errorf("chatrelay: save session %s (%d stored, base %d): %w",
			session.ID, stored, session.Base, chatrelay.ErrStaleSession)
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	now := time.Now().UnixMilli()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO chat_sessions (id, turns, document, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			turns = excluded.turns,
			document = excluded.document,
			updated_at = excluded.updated_at
		WHERE chat_sessions.turns = ?`,
		session.ID, len(session.Turns), string(doc), createdAt.UnixMilli(), now, session.Base,
	)
	if err != nil {
		return fmt.Errorf("chatrelay: write session: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("chatrelay: write session: %w", err)
	} else if n == 0 {
		return fmt.Errorf("chatrelay: save session %s: %w", session.ID, chatrelay.ErrStaleSession)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("chatrelay: commit save: %w", err)
	}
	session.Base = len(session.Turns)
	return nil
}

func sameDocument(doc string, session *chatrelay.Session) bool {
	var stored chatrelay.Session
	if err := json.Unmarshal([]byte(doc), &stored); err != nil {
		return false
	}
	return chatrelay.SameTurns(stored.Turns, session.Turns)
}

// IDs returns stored session identifiers, most recently updated first.
func (s *DocStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM chat_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: list sessions: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("chatrelay: scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Ping checks the database connection.
func (s *DocStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *DocStore) Close() error {
	return s.db.Close()
}

var _ chatrelay.Store = (*DocStore)(nil)
