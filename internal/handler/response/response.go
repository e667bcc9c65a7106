// Package response maps engine results onto HTTP statuses and JSON bodies.
package response

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/zhouzirui/persona-relay/backend/internal/service/ai"
	"github.com/zhouzirui/persona-relay/backend/internal/service/exchange"
	"github.com/zhouzirui/persona-relay/backend/pkg/utils"
)

var statusByCode = map[exchange.Code]int{
	exchange.CodeInvalidPersona:       http.StatusBadRequest,
	exchange.CodeMissingSessionName:   http.StatusBadRequest,
	exchange.CodeMissingMessage:       http.StatusBadRequest,
	exchange.CodeNoActiveChat:         http.StatusBadRequest,
	exchange.CodeNothingToSave:        http.StatusBadRequest,
	exchange.CodeUnknownSession:       http.StatusNotFound,
	exchange.CodeConversationNotFound: http.StatusNotFound,
	exchange.CodeRateLimited:          http.StatusTooManyRequests,
	exchange.CodeMissingAPIKey:        http.StatusServiceUnavailable,
	exchange.CodeStartException:       http.StatusInternalServerError,
	exchange.CodeSaveException:        http.StatusInternalServerError,
	exchange.CodeStorageException:     http.StatusInternalServerError,
	exchange.CodeSafetyBlock:          http.StatusOK,
	exchange.CodeRecitationBlock:      http.StatusOK,
	exchange.CodeUnknownFinishReason:  http.StatusBadGateway,
	exchange.CodeSendException:        http.StatusBadGateway,
}

// Status returns the HTTP status for code; unknown codes are server errors.
func Status(code exchange.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Error writes err as {error, code}.
func Error(w http.ResponseWriter, err error) {
	var xerr *exchange.Error
	if !errors.As(err, &xerr) {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	utils.RespondErrorCode(w, Status(xerr.Code), string(xerr.Code), xerr.Message)
}

// ExchangeBody is the wire shape of one send, shared by HTTP and WebSocket.
type ExchangeBody struct {
	SessionID string         `json:"sessionId"`
	Outcome   ai.OutcomeKind `json:"outcome"`
	Text      string         `json:"text,omitempty"`
	Warning   string         `json:"warning,omitempty"`
	Code      string         `json:"code,omitempty"`
	RawCode   *int           `json:"rawCode,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Exchange converts a classified result into its status and body. Blocked
// outcomes are a successful request with an unfavourable result.
func Exchange(res exchange.ExchangeResult) (int, ExchangeBody) {
	o := res.Outcome
	body := ExchangeBody{
		SessionID: res.SessionID,
		Outcome:   o.Kind,
		Text:      o.Text,
		Warning:   o.Warning,
	}

	code := exchange.OutcomeCode(o)
	if code == "" {
		return http.StatusOK, body
	}
	body.Code = string(code)

	switch o.Kind {
	case ai.OutcomeBlockedSafety:
		body.Error = "response blocked by safety filters"
	case ai.OutcomeBlockedRecitation:
		body.Error = "response blocked due to recitation"
	case ai.OutcomeUnknown:
		raw := o.RawCode
		body.RawCode = &raw
		body.Error = fmt.Sprintf("unknown finish reason %d", raw)
	case ai.OutcomeProviderError:
		body.Error = o.Message
	}
	return Status(code), body
}
