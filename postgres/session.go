package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/meikuraledutech/chatrelay"
)

// Load retrieves a session and its turns ordered by seq.
func (s *PGStore) Load(ctx context.Context, id string) (*chatrelay.Session, error) {
	session := &chatrelay.Session{ID: id, Turns: []chatrelay.Turn{}}

	err := s.db.QueryRow(ctx,
		`SELECT created_at FROM chat_sessions WHERE id = $1`,
		id,
	).Scan(&session.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chatrelay.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("chatrelay: get session: %w", err)
	}

	rows, err := s.db.Query(ctx,
		`SELECT role, content, created_at
		 FROM chat_messages WHERE session_id = $1 ORDER BY seq ASC`,
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: list messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var turn chatrelay.Turn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.Timestamp); err != nil {
			return nil, fmt.Errorf("chatrelay: scan message: %w", err)
		}
		session.Turns = append(session.Turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chatrelay: list messages: %w", err)
	}

	session.Base = len(session.Turns)
	return session, nil
}

// Create returns an unsaved empty session.
func (s *PGStore) Create(ctx context.Context, id string) (*chatrelay.Session, error) {
	return chatrelay.NewSession(id), nil
}

// Save inserts the turns after session.Base, in one transaction. Writers for the
// same session are serialized by a transaction-scoped advisory lock.
func (s *PGStore) Save(ctx context.Context, session *chatrelay.Session) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("chatrelay: begin save: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, session.ID); err != nil {
		return fmt.Errorf("chatrelay: lock session: %w", err)
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO chat_sessions (id, created_at, updated_at) VALUES ($1, $2, $2)
		 ON CONFLICT (id) DO NOTHING`,
		session.ID, createdAt,
	); err != nil {
		return fmt.Errorf("chatrelay: upsert session: %w", err)
	}

	var stored int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM chat_messages WHERE session_id = $1`,
		session.ID,
	).Scan(&stored); err != nil {
		return fmt.Errorf("chatrelay: count messages: %w", err)
	}
	if stored != session.Base {
		same, err := s.sameTurns(ctx, tx, session)
		if err != nil {
			return err
		}
		if !same {
			return fmt.Errorf("chatrelay: save session %s (%d stored, base %d): %w",
				session.ID, stored, session.Base, chatrelay.ErrStaleSession)
		}
		session.Base = stored
		return tx.Commit(ctx)
	}
	if stored == len(session.Turns) {
		return tx.Commit(ctx)
	}

	batch := &pgx.Batch{}
	for i := stored; i < len(session.Turns); i++ {
		turn := session.Turns[i]
		batch.Queue(
			`INSERT INTO chat_messages (id, session_id, seq, role, content, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New().String(), session.ID, i+1, string(turn.Role), turn.Content, turn.Timestamp,
		)
	}
	batch.Queue(`UPDATE chat_sessions SET updated_at = NOW() WHERE id = $1`, session.ID)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("chatrelay: insert messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("chatrelay: commit save: %w", err)
	}
	session.Base = len(session.Turns)
	return nil
}

// sameTurns reports whether the stored turns match session.Turns exactly.
func (s *PGStore) sameTurns(ctx context.Context, tx pgx.Tx, session *chatrelay.Session) (bool, error) {
	rows, err := tx.Query(ctx,
		`SELECT role, content FROM chat_messages WHERE session_id = $1 ORDER BY seq ASC`,
		session.ID,
	)
	if err != nil {
		return false, fmt.Errorf("chatrelay: list messages: %w", err)
	}
	stored, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chatrelay.Turn, error) {
		var turn chatrelay.Turn
		err := row.Scan(&turn.Role, &turn.Content)
		return turn, err
	})
	if err != nil {
		return false, fmt.Errorf("chatrelay: list messages: %w", err)
	}
	return chatrelay.SameTurns(stored, session.Turns), nil
}

// IDs lists stored session IDs, most recently updated first.
func (s *PGStore) IDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT id FROM chat_sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: list sessions: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("chatrelay: list sessions: %w", err)
	}
	return ids, nil
}
