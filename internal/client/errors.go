package client

import (
	"errors"
	"fmt"
	"net/http"

	"intake/internal/api"
	"intake/internal/lease"
	"intake/internal/submission"
)

// RemoteError is a non-2xx answer from the lease API.
type RemoteError struct {
	Method  string
	Path    string
	Status  int
	Code    string
	Message string
	// Suggestions lists other sessions with work on an exhausted next.
	Suggestions []string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

// ErrorKind implements api.ErrorClassifier.
func (e *RemoteError) ErrorKind() string {
	if e.Code != "" {
		return e.Code
	}
	switch e.Status {
	case http.StatusNotFound:
		return api.CodeNotFound
	case http.StatusConflict:
		return api.CodeConflict
	case http.StatusUnprocessableEntity:
		return api.CodeValidation
	case http.StatusUnauthorized:
		return api.CodeUnauthorized
	case http.StatusBadRequest:
		return api.CodeBadRequest
	default:
		return api.CodeInternal
	}
}

// SuggestedSessions returns the sessions the server suggested trying.
func (e *RemoteError) SuggestedSessions() []string { return e.Suggestions }

// Is lets errors.Is match the lease sentinels.
func (e *RemoteError) Is(target error) bool {
	switch target {
	case lease.ErrNotFound:
		return e.ErrorKind() == api.CodeNotFound
	case lease.ErrConflict:
		return e.ErrorKind() == api.CodeConflict
	case lease.ErrInvalid:
		return e.ErrorKind() == api.CodeValidation || e.ErrorKind() == api.CodeBadRequest
	}
	return false
}

func remoteError(method, path string, status int, body api.ErrorResponse) error {
	remote := &RemoteError{
		Method:      method,
		Path:        path,
		Status:      status,
		Code:        body.Code,
		Message:     body.Error,
		Suggestions: body.Suggestions,
	}
	if remote.ErrorKind() == api.CodeValidation && len(body.Fields) > 0 {
		verr := &submission.ValidationError{}
		for _, f := range body.Fields {
			verr.Fields = append(verr.Fields, submission.FieldError{Field: f.Field, Message: f.Message})
		}
		return errors.Join(verr, remote)
	}
	return remote
}
