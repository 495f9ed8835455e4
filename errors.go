package chatrelay

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or empty required input.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("chatrelay: validation failed: missing %v", e.Fields)
}

// CompletionError reports a failed or unusable completion call.
type CompletionError struct {
	SessionID string
	Err       error
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("chatrelay: completion failed [%s]: %v", e.SessionID, e.Err)
}

func (e *CompletionError) Unwrap() error {
	return e.Err
}

// StorageError reports a failed read or write of the session store.
type StorageError struct {
	Op        string // "lock", "load", "create", "save"
	SessionID string
	Err       error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("chatrelay: storage error: %s %s: %v", e.Op, e.SessionID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Error kinds used in logs.
const (
	KindValidation = "validation"
	KindCompletion = "completion"
	KindStorage    = "storage"
	KindUnknown    = "unknown"
)

// Kind classifies err into one of the tagged variants.
func Kind(err error) string {
	var (
		ve *ValidationError
		ce *CompletionError
		se *StorageError
	)
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &ce):
		return KindCompletion
	case errors.As(err, &se):
		return KindStorage
	}
	return KindUnknown
}
