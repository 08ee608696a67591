package ai

import "fmt"

// ErrorKind classifies a failed estimate call. The worker decides retry
// behavior off the kind alone; this package never retries.
type ErrorKind string

// KindRateLimited means the provider asked us to back off (429). Retryable
// with backoff.
const KindRateLimited = ErrorKind("rate_limited")

// KindInvalidInput means the input is malformed or unsupported and will
// never succeed. Not retryable.
const KindInvalidInput = ErrorKind("invalid_input")

// KindTransient covers network failures and timeouts. Retryable.
const KindTransient = ErrorKind("transient")

// KindProviderFault covers 5xx-class provider responses and unusable
// completions. Retryable with backoff.
const KindProviderFault = ErrorKind("provider_fault")

// Error is a typed failure from an estimate call.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ai: %s: %s", e.Kind, e.Message)
}

// Retryable reports whether a later attempt could succeed.
func (e *Error) Retryable() bool {
	return e.Kind != KindInvalidInput
}

// Classify returns the kind of an estimate error. Errors that did not come
// out of this package are treated as transient, since we can't prove
// otherwise.
func Classify(err error) ErrorKind {
	if aerr, ok := err.(*Error); ok {
		return aerr.Kind
	}
	return KindTransient
}
