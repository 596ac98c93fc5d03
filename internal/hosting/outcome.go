package hosting

import (
	"errors"
	"fmt"
	"net/http"
)

// Outcome classifies an API call result into the categories the workflow
// branches on. Conflict polarity depends on the operation: an existing fork
// is the desired state, a stale write SHA or duplicate pull request is not.
type Outcome string

const (
	OutcomeSuccess     Outcome = "success"
	OutcomeConflict    Outcome = "conflict"
	OutcomeNotFound    Outcome = "not_found"
	OutcomeAuthFailure Outcome = "auth_failure"
	OutcomeTransient   Outcome = "transient_failure"
)

// Error represents a failed hosting API call, classified by Outcome.
type Error struct {
	Op         string
	StatusCode int
	Outcome    Outcome
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("hosting %s failed (status %d, %s): %s", e.Op, e.StatusCode, e.Outcome, e.Message)
	}
	return fmt.Sprintf("hosting %s failed (%s): %s", e.Op, e.Outcome, e.Message)
}

// OutcomeOf returns the outcome classification for an error returned by this
// package. A nil error is Success; an unrecognized error (including transport
// failures wrapped elsewhere) is a transient failure.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Outcome
	}
	return OutcomeTransient
}

// classifyStatus maps an HTTP status code to an outcome. 409 and 422 both
// signal "the resource already exists / precondition failed" on this API.
func classifyStatus(status int) Outcome {
	switch {
	case status >= 200 && status < 300:
		return OutcomeSuccess
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return OutcomeAuthFailure
	case status == http.StatusNotFound:
		return OutcomeNotFound
	case status == http.StatusConflict || status == http.StatusUnprocessableEntity:
		return OutcomeConflict
	default:
		return OutcomeTransient
	}
}
