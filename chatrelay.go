// Package chatrelay defines the domain types and contracts shared by the
// conversation service, the session stores and the completion providers.
package chatrelay

import "time"

// Role tags a turn or an outbound message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is a single immutable entry in a session's history.
// Position in Session.Turns is authoritative; Timestamp is informational.
type Turn struct {
	Role      Role      `json:"role" yaml:"role"`
	Content   string    `json:"content" yaml:"content"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// Session is a conversation history keyed by an opaque caller-supplied ID.
type Session struct {
	ID        string    `json:"sessionId" yaml:"sessionId"`
	Turns     []Turn    `json:"messages" yaml:"messages"`
	CreatedAt time.Time `json:"-" yaml:"-"`

	// Base is the number of turns that were durable when this copy was
	// loaded. Load sets it, Create leaves it at 0, and a successful Save
	// advances it. Stores reject a Save whose Base no longer matches.
	Base int `json:"-" yaml:"-"`
}

// NewSession returns an empty session. It is not durable until saved.
func NewSession(id string) *Session {
	return &Session{ID: id, Turns: []Turn{}, CreatedAt: time.Now().UTC()}
}

// Append adds a turn stamped with the current time.
func (s *Session) Append(role Role, content string) {
	s.Turns = append(s.Turns, Turn{Role: role, Content: content, Timestamp: time.Now().UTC()})
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	c := *s
	c.Turns = make([]Turn, len(s.Turns))
	copy(c.Turns, s.Turns)
	return &c
}

// SameTurns reports whether a and b hold the same roles and contents in the
// same order. Timestamps are ignored since stores may round them.
func SameTurns(a, b []Turn) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].Role != b[i].Role || a[i].Content != b[i].Content {
			return false
		}
	}
	return true
}

// Message is the bare (role, content) pair sent to a completion provider.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Usage holds token counts reported by the provider.
type Usage struct {
	PromptTokens   int `json:"prompt_tokens"`
	ResponseTokens int `json:"response_tokens"`
	TotalTokens    int `json:"total_tokens"`
}

// CompletionRequest is the outbound request: ordered messages plus sampling settings.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float32
}

// Completion is what the provider returns: the first candidate's content and usage.
type Completion struct {
	Role    Role
	Content string
	Usage   Usage
}

// Request log statuses.
const (
	StatusPending = "pending"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Request log fail reasons.
const (
	FailReasonTimeout       = "timeout"
	FailReasonNetworkError  = "network_error"
	FailReasonUpstream      = "upstream_error"
	FailReasonEmptyResponse = "empty_response"
	FailReasonCanceled      = "canceled"
	FailReasonUnknown       = "unknown_error"
)

// RequestLog records one outbound completion call.
type RequestLog struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	Prompt       string    `json:"prompt"`
	Response     string    `json:"response"`
	Attempts     int       `json:"attempts"`
	FinalStatus  string    `json:"final_status"`
	FailReason   string    `json:"fail_reason"`
	ErrorMessage string    `json:"error_message"`
	Usage        Usage     `json:"usage"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// MigrationRecord tracks a single applied migration.
type MigrationRecord struct {
	Name      string
	Applied   bool
	AppliedAt *time.Time
	Checksum  string
}
