package ai

import (
	"context"
	"errors"
	"fmt"
)

// TruncatedWarning accompanies replies cut off by the output-length cap.
const TruncatedWarning = "response was truncated"

// OutcomeKind enumerates the classified results of one exchange.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTruncated
	OutcomeBlockedSafety
	OutcomeBlockedRecitation
	OutcomeUnknown
	OutcomeProviderError
)

var outcomeNames = map[OutcomeKind]string{
	OutcomeSuccess:           "success",
	OutcomeTruncated:         "truncated",
	OutcomeBlockedSafety:     "blocked_safety",
	OutcomeBlockedRecitation: "blocked_recitation",
	OutcomeUnknown:           "unknown",
	OutcomeProviderError:     "provider_error",
}

func (k OutcomeKind) String() string {
	if name, ok := outcomeNames[k]; ok {
		return name
	}
	return fmt.Sprintf("outcome(%d)", int(k))
}

// MarshalText renders the kind with its wire name.
func (k OutcomeKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses a wire name produced by MarshalText.
func (k *OutcomeKind) UnmarshalText(b []byte) error {
	for kind, name := range outcomeNames {
		if name == string(b) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown outcome %q", b)
}

// Outcome is the tagged result of classifying a provider completion.
// Text and Warning are set for Success/Truncated, RawCode for Unknown and
// Message for ProviderError.
type Outcome struct {
	Kind    OutcomeKind
	Text    string
	Warning string
	RawCode int
	Message string
}

// Accepted reports whether the outcome produced an assistant reply.
func (o Outcome) Accepted() bool {
	return o.Kind == OutcomeSuccess || o.Kind == OutcomeTruncated
}

// Classify maps a gateway result onto an Outcome. A non-nil err always wins.
func Classify(c Completion, err error) Outcome {
	if err != nil {
		return providerError(err)
	}

	switch c.Code {
	case CodeStop:
		return Outcome{Kind: OutcomeSuccess, Text: c.Content}
	case CodeMaxTokens:
		if c.Content == "" {
			return Outcome{Kind: OutcomeProviderError, Message: "response truncated before any content was produced"}
		}
		return Outcome{Kind: OutcomeTruncated, Text: c.Content, Warning: TruncatedWarning}
	case CodeSafety:
		return Outcome{Kind: OutcomeBlockedSafety}
	case CodeRecitation:
		return Outcome{Kind: OutcomeBlockedRecitation}
	default:
		return Outcome{Kind: OutcomeUnknown, RawCode: c.Code}
	}
}

func providerError(err error) Outcome {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Outcome{Kind: OutcomeProviderError, Message: "provider timed out: " + err.Error()}
	case errors.Is(err, context.Canceled):
		return Outcome{Kind: OutcomeProviderError, Message: "request canceled: " + err.Error()}
	default:
		return Outcome{Kind: OutcomeProviderError, Message: err.Error()}
	}
}
