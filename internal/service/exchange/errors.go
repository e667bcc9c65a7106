package exchange

import (
	"errors"
	"fmt"

	"github.com/zhouzirui/persona-relay/backend/internal/service/ai"
)

// Code is a stable, client-visible error identifier.
type Code string

const (
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeInvalidPersona       Code = "INVALID_PERSONA"
	CodeMissingSessionName   Code = "MISSING_SESSION_NAME"
	CodeMissingAPIKey        Code = "MISSING_API_KEY"
	CodeStartException       Code = "START_EXCEPTION"
	CodeMissingMessage       Code = "MISSING_MESSAGE"
	CodeUnknownSession       Code = "UNKNOWN_SESSION"
	CodeNoActiveChat         Code = "NO_ACTIVE_CHAT"
	CodeNothingToSave        Code = "NOTHING_TO_SAVE"
	CodeSaveException        Code = "SAVE_EXCEPTION"
	CodeConversationNotFound Code = "CONVERSATION_NOT_FOUND"
	CodeStorageException     Code = "STORAGE_EXCEPTION"

	// Outcome codes. These describe a completed send, not an engine error.
	CodeSafetyBlock         Code = "SAFETY_BLOCK"
	CodeRecitationBlock     Code = "RECITATION_BLOCK"
	CodeUnknownFinishReason Code = "UNKNOWN_FINISH_REASON"
	CodeSendException       Code = "SEND_EXCEPTION"
)

// Error is returned by Engine for validation, lookup and rate-limit failures.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf extracts the Code from err, or "" when err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// OutcomeCode names a non-accepted outcome; accepted outcomes have no code.
func OutcomeCode(o ai.Outcome) Code {
	switch o.Kind {
	case ai.OutcomeBlockedSafety:
		return CodeSafetyBlock
	case ai.OutcomeBlockedRecitation:
		return CodeRecitationBlock
	case ai.OutcomeUnknown:
		return CodeUnknownFinishReason
	case ai.OutcomeProviderError:
		return CodeSendException
	default:
		return ""
	}
}
