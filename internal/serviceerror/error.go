package serviceerror

import "fmt"

// ServiceErrorType classifies an error as caller-remediable or internal
type ServiceErrorType string

const (
	ClientErrorType ServiceErrorType = "client_error"
	ServerErrorType ServiceErrorType = "server_error"
)

// ServiceError is a coded error returned by the core services. Codes are
// stable across releases; presentation layers key their behavior off the
// code, never the description.
type ServiceError struct {
	Code        string           `json:"code"`
	Type        ServiceErrorType `json:"type"`
	Message     string           `json:"error"`
	Description string           `json:"error_description,omitempty"`
	// Permanent marks errors that must never be retried (e.g. RecordErased).
	Permanent bool `json:"-"`
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Description)
	}
	return e.Message
}

// Is matches service errors by code so errors.Is works against the
// taxonomy vars even when a copy carries a custom description.
func (e *ServiceError) Is(target error) bool {
	t, ok := target.(*ServiceError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithDescription returns a copy of the error carrying a specific description
func (e *ServiceError) WithDescription(format string, args ...interface{}) *ServiceError {
	clone := *e
	clone.Description = fmt.Sprintf(format, args...)
	return &clone
}
