package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/meikuraledutech/chatrelay"
)

// AddRequestLog inserts a new request log with pending status.
func (s *PGStore) AddRequestLog(ctx context.Context, log chatrelay.RequestLog) (*chatrelay.RequestLog, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	err := s.db.QueryRow(ctx, `
		INSERT INTO chat_request_logs (
			id, session_id, prompt, response, attempts,
			final_status, fail_reason, error_message,
			prompt_tokens, response_tokens, total_tokens,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, '', 0, $4, '', '', 0, 0, 0, $5, $5)
		RETURNING created_at, updated_at
	`,
		id, log.SessionID, log.Prompt, chatrelay.StatusPending, now,
	).Scan(&log.CreatedAt, &log.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: add request log: %w", err)
	}

	log.ID = id
	log.FinalStatus = chatrelay.StatusPending
	return &log, nil
}

// UpdateRequestLog updates an existing request log with completion details.
func (s *PGStore) UpdateRequestLog(ctx context.Context, log chatrelay.RequestLog) error {
	_, err := s.db.Exec(ctx, `
		UPDATE chat_request_logs
		SET
			response = $1,
			final_status = $2,
			fail_reason = $3,
			error_message = $4,
			attempts = $5,
			prompt_tokens = $6,
			response_tokens = $7,
			total_tokens = $8,
			updated_at = NOW()
		WHERE id = $9
	`,
		log.Response, log.FinalStatus, log.FailReason, log.ErrorMessage, log.Attempts,
		log.Usage.PromptTokens, log.Usage.ResponseTokens, log.Usage.TotalTokens,
		log.ID,
	)
	if err != nil {
		return fmt.Errorf("chatrelay: update request log: %w", err)
	}
	return nil
}

// RequestLogs returns the request logs of a session, oldest first.
func (s *PGStore) RequestLogs(ctx context.Context, sessionID string) ([]chatrelay.RequestLog, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, prompt, response, attempts, final_status, fail_reason,
		       error_message, prompt_tokens, response_tokens, total_tokens, created_at, updated_at
		FROM chat_request_logs WHERE session_id = $1 ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("chatrelay: list request logs: %w", err)
	}
	defer rows.Close()

	var logs []chatrelay.RequestLog
	for rows.Next() {
		var l chatrelay.RequestLog
		if err := rows.Scan(&l.ID, &l.SessionID, &l.Prompt, &l.Response, &l.Attempts, &l.FinalStatus,
			&l.FailReason, &l.ErrorMessage, &l.Usage.PromptTokens, &l.Usage.ResponseTokens,
			&l.Usage.TotalTokens, &l.CreatedAt, &l.UpdatedAt); err != nil {
			return nil, fmt.Errorf("chatrelay: scan request log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
