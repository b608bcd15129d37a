package usecase

import "fmt"

type ErrorCode string

const (
	ErrorInvalidInput      ErrorCode = "INVALID_INPUT"
	ErrorModelUnavailable  ErrorCode = "MODEL_UNAVAILABLE"
	ErrorMalformedResponse ErrorCode = "MALFORMED_RESPONSE"
	ErrorBatchSubmission   ErrorCode = "BATCH_SUBMISSION_FAILURE"
	ErrorInternal          ErrorCode = "INTERNAL_ERROR"
)

type Error struct {
	Code   ErrorCode
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("usecase: %s (%s)", e.Code, e.Reason)
	}
	return fmt.Sprintf("usecase: %s (%s): %v", e.Code, e.Reason, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Upstream reports whether the error came from the model boundary. Both
// unavailable and malformed responses are shown to users the same way.
func (e *Error) Upstream() bool {
	return e != nil && (e.Code == ErrorModelUnavailable || e.Code == ErrorMalformedResponse)
}

func newError(code ErrorCode, reason string, err error) *Error {
	return &Error{Code: code, Reason: reason, Err: err}
}
