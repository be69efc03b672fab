package apiclient

import (
	"fmt"
	"net/http"
	"strings"
)

// ValidationError is bad caller input. It is raised before anything is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// AuthError is a 401 that a token refresh could not resolve, or a failed refresh.
type AuthError struct {
	Code    string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Code != "" {
		return fmt.Sprintf("auth error (%s): %s", e.Code, msg)
	}
	return fmt.Sprintf("auth error: %s", msg)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// NotFoundError is the backend reporting an unknown id.
type NotFoundError struct {
	Code    string
	Message string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("not found (%s): %s", e.Code, e.Message)
}

// ServerError is any other success:false envelope or non-2xx response.
type ServerError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
}

func classify(statusCode int, body *ErrorBody) error {
	var code, message string
	if body != nil {
		code, message = body.Code, body.Message
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}
	switch {
	case statusCode == http.StatusUnauthorized:
		return &AuthError{Code: code, Message: message}
	case statusCode == http.StatusNotFound || strings.Contains(strings.ToUpper(code), "NOT_FOUND"):
		return &NotFoundError{Code: code, Message: message}
	}
	return &ServerError{StatusCode: statusCode, Code: code, Message: message}
}
