package netservice

import (
	"errors"
	"fmt"
	"time"
)

// Error types reported in ServiceError.Type
const (
	ErrorTypeInvalidEndpoint = "InvalidEndpoint"
	ErrorTypePlugin          = "Plugin"
	ErrorTypeNetwork         = "Network"
	ErrorTypeStatus          = "Status"
	ErrorTypeBodyTooLarge    = "BodyTooLarge"
	ErrorTypeCanceled        = "Canceled"
	ErrorTypeValidation      = "Validation"
)

// Sentinel errors for common failure scenarios
var (
	// ErrInvalidEndpoint is the cause of every malformed endpoint failure
	ErrInvalidEndpoint = errors.New("netservice: invalid endpoint")

	// ErrPluginFailed is returned when a plugin aborts the chain
	ErrPluginFailed = errors.New("netservice: plugin failed")

	// ErrNilRequest is returned when a plugin yields a nil request, or one without a URL, and no error
	ErrNilRequest = errors.New("netservice: plugin returned nil request")

	// ErrFetchFailed is the cause of non-2xx and oversized responses
	ErrFetchFailed = errors.New("netservice: fetch failed")
)

// ServiceError carries the failure type plus request context. All failures
// delivered by Service are *ServiceError.
type ServiceError struct {
	Type       string
	Message    string
	Cause      error
	Endpoint   string
	URL        string
	StatusCode int
	Timestamp  time.Time
	Duration   time.Duration
}

// Error implements error interface.
func (e *ServiceError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	if e.Endpoint != "" {
		msg = fmt.Sprintf("[%s] %s", e.Endpoint, msg)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *ServiceError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *ServiceError) Is(target error) bool {
	if e == nil {
		return false
	}
	if targetErr, ok := target.(*ServiceError); ok {
		return e.Type == targetErr.Type
	}
	return false
}

// DebugInfo renders a multi-line string with diagnostic context.
func (e *ServiceError) DebugInfo() string {
	if e == nil {
		return "Error: <nil>"
	}
	info := fmt.Sprintf("Error Type: %s\n", e.Type)
	info += fmt.Sprintf("Message: %s\n", e.Message)
	if e.Endpoint != "" {
		info += fmt.Sprintf("Endpoint: %s\n", e.Endpoint)
	}
	if e.URL != "" {
		info += fmt.Sprintf("URL: %s\n", e.URL)
	}
	if e.StatusCode > 0 {
		info += fmt.Sprintf("Status Code: %d\n", e.StatusCode)
	}
	if !e.Timestamp.IsZero() {
		info += fmt.Sprintf("Timestamp: %s\n", e.Timestamp.Format(time.RFC3339))
	}
	if e.Duration > 0 {
		info += fmt.Sprintf("Duration: %v\n", e.Duration)
	}
	if e.Cause != nil {
		info += fmt.Sprintf("Cause: %v\n", e.Cause)
	}
	return info
}

// ErrorType returns the ServiceError type of err, or "" if err is not one.
func ErrorType(err error) string {
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return serviceErr.Type
	}
	return ""
}

func newServiceError(errorType, message string, cause error) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}
