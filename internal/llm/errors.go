package llm

import (
	"errors"
	"fmt"
)

// ErrIntentResolutionFailed means every provider attempt was exhausted
// without a tool call that validates. The user is asked to rephrase.
var ErrIntentResolutionFailed = errors.New("intent resolution failed")

// ErrMalformedToolCall marks a provider response that carried no usable
// tool call. Malformed payloads are retryable, unlike validation
// failures.
var ErrMalformedToolCall = errors.New("malformed tool call payload")

// ValidationError reports a well-formed tool call whose arguments do
// not match the intent schema. Never retried; surfaced to the user as a
// clarification request.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid intent arguments: " + e.Reason
}

// TransientProviderError wraps network faults, timeouts, provider-side
// overload and malformed payloads. Retried once against the same
// provider, then the resolver fails over.
type TransientProviderError struct {
	Provider string
	Err      error
}

func (e *TransientProviderError) Error() string {
	return fmt.Sprintf("%s provider error: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error {
	return e.Err
}
