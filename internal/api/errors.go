package api

import (
	"errors"
	"net/http"

	"intake/internal/lease"
	"intake/internal/submission"
)

// Error codes carried in ErrorResponse.Code.
const (
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeValidation   = "validation"
	CodeUnauthorized = "unauthorized"
	CodeBadRequest   = "bad_request"
	CodeInternal     = "internal"
)

// ErrorClassifier is implemented by errors that know their transport class.
type ErrorClassifier interface {
	ErrorKind() string
}

// StatusFor maps err to an HTTP status and error code.
func StatusFor(err error) (int, string) {
	if err == nil {
		return http.StatusOK, ""
	}
	var classified ErrorClassifier
	if errors.As(err, &classified) {
		switch classified.ErrorKind() {
		case CodeNotFound:
			return http.StatusNotFound, CodeNotFound
		case CodeConflict:
			return http.StatusConflict, CodeConflict
		case CodeValidation:
			return http.StatusUnprocessableEntity, CodeValidation
		case CodeBadRequest:
			return http.StatusBadRequest, CodeBadRequest
		case CodeUnauthorized:
			return http.StatusUnauthorized, CodeUnauthorized
		}
	}
	return http.StatusInternalServerError, CodeInternal
}

// NewErrorResponse builds the body for err, including per-field detail for
// submission validation failures.
func NewErrorResponse(err error) ErrorResponse {
	_, code := StatusFor(err)
	resp := ErrorResponse{Error: err.Error(), Code: code}
	var verr *submission.ValidationError
	if errors.As(err, &verr) {
		for _, f := range verr.Fields {
			resp.Fields = append(resp.Fields, FieldError{Field: f.Field, Message: f.Message})
		}
	}
	var exhausted *Exhausted
	if errors.As(err, &exhausted) {
		resp.Suggestions = exhausted.Suggestions
	}
	return resp
}

// Exhausted is an acquire that found nothing claimable. Suggestions names
// other sessions that still have unlocked work.
type Exhausted struct {
	Session     string
	Suggestions []string
	Err         error
}

func (e *Exhausted) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "session " + e.Session + ": nothing claimable"
}

func (e *Exhausted) Unwrap() error { return e.Err }

// Is matches lease.ErrNotFound even when Err is unset.
func (e *Exhausted) Is(target error) bool { return target == lease.ErrNotFound }

// ErrorKind implements ErrorClassifier.
func (e *Exhausted) ErrorKind() string { return CodeNotFound }

// SuggestedSessions returns the suggested sessions.
func (e *Exhausted) SuggestedSessions() []string { return e.Suggestions }

// BadRequest marks a malformed request such as an unparseable id.
type BadRequest struct {
	Message string
}

func (e *BadRequest) Error() string { return e.Message }

// ErrorKind implements ErrorClassifier.
func (e *BadRequest) ErrorKind() string { return CodeBadRequest }
