// Package apierr classifies backend failures into user-facing categories and
// offers opt-in retry and rollback helpers.
package apierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/lib/pq"
)

// Type is the category of a classified error.
type Type string

const (
	Network        Type = "NETWORK_ERROR"
	Validation     Type = "VALIDATION_ERROR"
	Authentication Type = "AUTHENTICATION_ERROR"
	Authorization  Type = "AUTHORIZATION_ERROR"
	NotFound       Type = "NOT_FOUND_ERROR"
	RateLimit      Type = "RATE_LIMIT_ERROR"
	Server         Type = "SERVER_ERROR"
	Unknown        Type = "UNKNOWN_ERROR"
)

// Error is a classified failure. It wraps the original error.
type Error struct {
	Type      Type      `json:"type"`
	Message   string    `json:"message"`
	Code      string    `json:"code,omitempty"`
	Details   string    `json:"details,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Operation, e.Type, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// StatusError carries an HTTP status from a remote call.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	if e.Status != "" {
		return e.Status
	}
	return fmt.Sprintf("%d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// Classify maps err to a category. Already classified errors are returned
// as is, with operation filled in when missing.
func Classify(err error, operation string) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		if ae.Operation == "" {
			ae.Operation = operation
		}
		return ae
	}
	out := &Error{Operation: operation, Timestamp: time.Now(), Err: err}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		out.Code = string(pqErr.Code)
		out.Details = pqErr.Detail
		if out.Details == "" {
			out.Details = pqErr.Message
		}
		switch pqErr.Code {
		case "23505":
			out.Type, out.Message = Validation, "This data already exists."
		case "23503":
			out.Type, out.Message = Validation, "Referenced data does not exist."
		case "23514":
			out.Type, out.Message = Validation, "A data constraint was violated."
		default:
			out.Type, out.Message = Server, pqErr.Message
			if out.Message == "" {
				out.Message = "A database error occurred."
			}
		}
		return out
	}

	var se *StatusError
	if errors.As(err, &se) {
		out.Code = fmt.Sprint(se.StatusCode)
		out.Type = typeForStatus(se.StatusCode)
		out.Message = defaultMessage(out.Type, err)
		return out
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		out.Type = Network
		out.Message = defaultMessage(Network, err)
		return out
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "network") || strings.Contains(msg, "fetch") || strings.Contains(msg, "connection refused"):
		out.Type = Network
	case strings.Contains(msg, "auth") || strings.Contains(msg, "unauthorized"):
		out.Type = Authentication
	case strings.Contains(msg, "forbidden") || strings.Contains(msg, "permission"):
		out.Type = Authorization
	case strings.Contains(msg, "not found") || strings.Contains(msg, "404"):
		out.Type = NotFound
	case strings.Contains(msg, "rate limit"):
		out.Type = RateLimit
	case strings.Contains(msg, "500") || strings.Contains(msg, "server"):
		out.Type = Server
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "validation"):
		out.Type = Validation
	default:
		out.Type = Unknown
		out.Details = err.Error()
	}
	out.Message = defaultMessage(out.Type, err)
	return out
}

func typeForStatus(code int) Type {
	switch {
	case code == http.StatusUnauthorized:
		return Authentication
	case code == http.StatusForbidden:
		return Authorization
	case code == http.StatusNotFound:
		return NotFound
	case code == http.StatusTooManyRequests:
		return RateLimit
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity || code == http.StatusConflict:
		return Validation
	case code >= 500:
		return Server
	default:
		return Unknown
	}
}

func defaultMessage(t Type, err error) string {
	switch t {
	case Network:
		return "There is a problem with the network connection. Check your connection."
	case Authentication:
		return "Authentication is required. Please sign in again."
	case Authorization:
		return "You do not have permission to perform this action."
	case NotFound:
		return "The requested data could not be found."
	case RateLimit:
		return "Too many requests. Please try again shortly."
	case Server:
		return "The server ran into a problem. Please try again shortly."
	case Validation:
		return err.Error()
	default:
		return "An unknown error occurred."
	}
}

// UserMessage is the short text shown in the error banner.
func UserMessage(e *Error) string {
	if e == nil {
		return ""
	}
	switch e.Type {
	case Network:
		return "Check your network connection."
	case Authentication:
		return "Sign in required."
	case Authorization:
		return "Permission denied."
	case NotFound:
		return "Data not found."
	case RateLimit:
		return "Please try again shortly."
	case Server:
		return "A server error occurred."
	case Validation:
		return e.Message
	default:
		return "Something went wrong."
	}
}

// RecoveryHint suggests what happens next, "" when nothing applies.
func RecoveryHint(e *Error) string {
	switch e.Type {
	case Network:
		return "Check the network connection and try again."
	case Authentication:
		return "Go to the sign-in page?"
	case RateLimit:
		return "The request will be retried automatically."
	case Server:
		return "The request will be retried once the server recovers."
	default:
		return ""
	}
}

// Recoverable reports whether retrying can help.
func Recoverable(e *Error) bool {
	if e == nil {
		return false
	}
	switch e.Type {
	case Network, RateLimit, Server, Unknown:
		return true
	default:
		return false
	}
}
