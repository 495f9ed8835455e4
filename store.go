package chatrelay

import (
	"context"
	"errors"
)

var (
	ErrSessionNotFound = errors.New("chatrelay: session not found")
	ErrStaleSession    = errors.New("chatrelay: stored session changed since it was loaded")
)

// Store defines the contract for persisting session histories.
type Store interface {
	// Load returns ErrSessionNotFound when no session is stored under id.
	Load(ctx context.Context, id string) (*Session, error)
	// Create returns a new empty session. It is not durable until Save.
	Create(ctx context.Context, id string) (*Session, error)
	// Save appends the turns after session.Base and advances Base. It returns
	// ErrStaleSession when the stored history no longer has Base turns,
	// unless it already holds exactly the same turns.
	Save(ctx context.Context, session *Session) error

	Ping(ctx context.Context) error
	Close() error
}

// RequestLogStore records outbound completion calls.
type RequestLogStore interface {
	AddRequestLog(ctx context.Context, log RequestLog) (*RequestLog, error)
	UpdateRequestLog(ctx context.Context, log RequestLog) error
}
