// Package conversation orchestrates chat turns: it loads the session history,
// calls the completion provider with the system prompt and the history, and
// persists the user and assistant turns together.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/meikuraledutech/chatrelay"
	"github.com/sirupsen/logrus"
)

// Options are the per-deployment inputs of a turn.
type Options struct {
	SystemPrompt       string
	Model              string
	MaxTokens          int
	Temperature        float32
	CompletionTimeout  time.Duration
	StoreTimeout       time.Duration
	CompletionAttempts int
	HistoryLimit       int
}

// OptionsFromConfig maps the service-relevant parts of cfg.
func OptionsFromConfig(cfg chatrelay.Config) Options {
	return Options{
		SystemPrompt:       cfg.SystemPrompt,
		Model:              cfg.Model,
		MaxTokens:          cfg.MaxTokens,
		Temperature:        cfg.Temperature,
		CompletionTimeout:  cfg.CompletionTimeout,
		StoreTimeout:       cfg.StoreTimeout,
		CompletionAttempts: cfg.CompletionAttempts,
		HistoryLimit:       cfg.HistoryLimit,
	}
}

// Reply is the result of a successful turn.
type Reply struct {
	SessionID string
	Content   string
	Usage     chatrelay.Usage
}

// Service runs chat turns. Turns for the same session are serialized; turns
// for different sessions run in parallel.
type Service struct {
	store     chatrelay.Store
	completer chatrelay.Completer
	logs      chatrelay.RequestLogStore
	locks     *KeyedMutex
	opts      Options
	log       logrus.FieldLogger
}

// New creates a Service. A nil logger discards output.
func New(store chatrelay.Store, completer chatrelay.Completer, opts Options, logger logrus.FieldLogger) *Service {
	if opts.CompletionTimeout <= 0 {
		opts.CompletionTimeout = 30 * time.Second
	}
	if opts.CompletionAttempts < 1 {
		opts.CompletionAttempts = 1
	}
	if logger == nil {
		l := logrus.New()
		l.Out = io.Discard
		logger = l
	}
	return &Service{
		store:     store,
		completer: completer,
		locks:     NewKeyedMutex(),
		opts:      opts,
		log:       logger,
	}
}

// WithRequestLog records every completion call in logs.
func (s *Service) WithRequestLog(logs chatrelay.RequestLogStore) *Service {
	s.logs = logs
	return s
}

// HandleTurn appends message to the session's history, asks the provider for
// a reply and persists both turns. On any failure the stored session is left
// exactly as it was.
func (s *Service) HandleTurn(ctx context.Context, sessionID, message string) (*Reply, error) {
	var missing []string
	if message == "" {
		missing = append(missing, "message")
	}
	if sessionID == "" {
		missing = append(missing, "sessionId")
	}
	if len(missing) > 0 {
		return nil, &chatrelay.ValidationError{Fields: missing}
	}

	log := s.log.WithField("session_id", sessionID)

	unlock, err := s.locks.Lock(ctx, sessionID)
	if err != nil {
		log.WithField("error_kind", chatrelay.KindStorage).WithError(err).Warn("gave up waiting for session")
		return nil, &chatrelay.StorageError{Op: "lock", SessionID: sessionID, Err: err}
	}
	defer unlock()

	session, err := s.resolve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	session.Append(chatrelay.RoleUser, message)

	req := s.request(assemble(s.opts.SystemPrompt, session.Turns, s.opts.HistoryLimit))
	start := time.Now()
	completion, err := s.complete(ctx, sessionID, message, req)
	if err != nil {
		log.WithFields(logrus.Fields{
			"error_kind": chatrelay.KindCompletion,
			"latency":    time.Since(start),
		}).WithError(err).Error("completion failed")
		return nil, &chatrelay.CompletionError{SessionID: sessionID, Err: err}
	}

	session.Append(chatrelay.RoleAssistant, completion.Content)

	// The reply is already paid for: persist both turns even if the caller
	// has gone away.
	saveCtx, cancel := s.storeContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := s.store.Save(saveCtx, session); err != nil {
		log.WithField("error_kind", chatrelay.KindStorage).WithError(err).Error("save session failed")
		return nil, &chatrelay.StorageError{Op: "save", SessionID: sessionID, Err: err}
	}

	log.WithFields(logrus.Fields{
		"turns":   len(session.Turns),
		"latency": time.Since(start),
		"tokens":  completion.Usage.TotalTokens,
	}).Info("turn completed")

	return &Reply{SessionID: sessionID, Content: completion.Content, Usage: completion.Usage}, nil
}

// Ask sends a single message with the system prompt and no history. Nothing
// is read from or written to the store.
func (s *Service) Ask(ctx context.Context, message string) (*Reply, error) {
	if message == "" {
		return nil, &chatrelay.ValidationError{Fields: []string{"message"}}
	}

	req := s.request(assemble(s.opts.SystemPrompt, []chatrelay.Turn{{Role: chatrelay.RoleUser, Content: message}}, 0))
	completion, err := s.complete(ctx, "", message, req)
	if err != nil {
		s.log.WithField("error_kind", chatrelay.KindCompletion).WithError(err).Error("completion failed")
		return nil, &chatrelay.CompletionError{Err: err}
	}
	return &Reply{Content: completion.Content, Usage: completion.Usage}, nil
}

// resolve loads the session or creates it when none is stored.
func (s *Service) resolve(ctx context.Context, sessionID string) (*chatrelay.Session, error) {
	loadCtx, cancel := s.storeContext(ctx)
	defer cancel()

	session, err := s.store.Load(loadCtx, sessionID)
	if err == nil {
		return session, nil
	}
	if !errors.Is(err, chatrelay.ErrSessionNotFound) {
		s.log.WithField("session_id", sessionID).WithError(err).Error("load session failed")
		return nil, &chatrelay.StorageError{Op: "load", SessionID: sessionID, Err: err}
	}

	session, err = s.store.Create(loadCtx, sessionID)
	if err != nil {
		return nil, &chatrelay.StorageError{Op: "create", SessionID: sessionID, Err: err}
	}
	s.log.WithField("session_id", sessionID).Debug("session created")
	return session, nil
}

func (s *Service) request(messages []chatrelay.Message) chatrelay.CompletionRequest {
	return chatrelay.CompletionRequest{
		Model:       s.opts.Model,
		Messages:    messages,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	}
}

// complete calls the provider under the completion timeout, retrying
// transient failures up to CompletionAttempts times in total.
func (s *Service) complete(ctx context.Context, sessionID, prompt string, req chatrelay.CompletionRequest) (*chatrelay.Completion, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.CompletionTimeout)
	defer cancel()

	entry := s.startRequestLog(ctx, sessionID, prompt)

	var lastErr error
	attempt := 0
	for attempt < s.opts.CompletionAttempts {
		attempt++

		completion, err := s.completer.Complete(callCtx, req)
		if err == nil {
			if entry != nil {
				entry.Response = completion.Content
				entry.Attempts = attempt
				entry.FinalStatus = chatrelay.StatusSuccess
				entry.Usage = completion.Usage
				s.finishRequestLog(ctx, entry)
			}
			return completion, nil
		}

		lastErr = err
		if callCtx.Err() != nil || !transient(err) {
			break
		}
		if attempt < s.opts.CompletionAttempts {
			s.log.WithFields(logrus.Fields{
				"session_id": sessionID,
				"attempt":    attempt,
			}).WithError(err).Warn("completion failed, retrying")
		}
	}

	// Providers may surface the deadline as a transport error.
	if !errors.Is(lastErr, context.DeadlineExceeded) && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		lastErr = fmt.Errorf("%w: %w", context.DeadlineExceeded, lastErr)
	}

	if entry != nil {
		entry.Attempts = attempt
		entry.FinalStatus = chatrelay.StatusFailed
		entry.FailReason = FailReason(lastErr)
		entry.ErrorMessage = chatrelay.Truncate(lastErr.Error(), 400)
		s.finishRequestLog(ctx, entry)
	}
	return nil, lastErr
}

func (s *Service) startRequestLog(ctx context.Context, sessionID, prompt string) *chatrelay.RequestLog {
	if s.logs == nil {
		return nil
	}
	logCtx, cancel := s.storeContext(context.WithoutCancel(ctx))
	defer cancel()

	entry, err := s.logs.AddRequestLog(logCtx, chatrelay.RequestLog{SessionID: sessionID, Prompt: prompt})
	if err != nil {
		s.log.WithField("session_id", sessionID).WithError(err).Warn("add request log failed")
		return nil
	}
	return entry
}

func (s *Service) finishRequestLog(ctx context.Context, entry *chatrelay.RequestLog) {
	logCtx, cancel := s.storeContext(context.WithoutCancel(ctx))
	defer cancel()

	if err := s.logs.UpdateRequestLog(logCtx, *entry); err != nil {
		s.log.WithField("session_id", entry.SessionID).WithError(err).Warn("update request log failed")
	}
}

func (s *Service) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opts.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.opts.StoreTimeout)
}

// transient reports whether err is worth another attempt.
func transient(err error) bool {
	var t interface{ Transient() bool }
	if errors.As(err, &t) {
		return t.Transient()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// FailReason categorizes a completion error for the request log.
func FailReason(err error) string {
	var (
		upstream *chatrelay.UpstreamError
		netErr   net.Error
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return chatrelay.FailReasonTimeout
	case errors.Is(err, context.Canceled):
		return chatrelay.FailReasonCanceled
	case errors.Is(err, chatrelay.ErrEmptyCompletion):
		return chatrelay.FailReasonEmptyResponse
	case errors.As(err, &upstream):
		return chatrelay.FailReasonUpstream
	case errors.As(err, &netErr):
		if netErr.Timeout() {
			return chatrelay.FailReasonTimeout
		}
		return chatrelay.FailReasonNetworkError
	case errors.Is(err, chatrelay.ErrProviderFailed):
		return chatrelay.FailReasonUpstream
	}
	return chatrelay.FailReasonUnknown
}
