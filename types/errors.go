package types

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration"
	KindAuthentication ErrorKind = "authentication"
	KindAPI            ErrorKind = "api"
	KindDataAnomaly    ErrorKind = "data_anomaly"
	KindUnexpected     ErrorKind = "unexpected"
)

// Error is a categorized failure. Status and RetryAfter are set for errors
// that come from an HTTP response.
type Error struct {
	Kind       ErrorKind
	Op         string
	Status     int
	RetryAfter time.Duration
	Msg        string
	Err        error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether the failure is transient: 429, 5xx, or a
// transport error with no response at all.
func (e *Error) Retryable() bool {
	if e.Kind != KindAPI {
		return false
	}
	if e.Status == 0 {
		return e.Err != nil
	}
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func ConfigurationError(format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Msg: fmt.Sprintf(format, args...)}
}

func AuthenticationError(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Msg: fmt.Sprintf(format, args...)}
}

func DataAnomaly(format string, args ...any) *Error {
	return &Error{Kind: KindDataAnomaly, Msg: fmt.Sprintf(format, args...)}
}

// StatusError classifies an unsuccessful HTTP response.
func StatusError(op string, status int, body string) *Error {
	kind := KindAPI
	if status == http.StatusUnauthorized || status == http.StatusForbidden {
		kind = KindAuthentication
	}
	return &Error{Kind: kind, Op: op, Status: status, Msg: body}
}

// KindOf returns the category of err. Uncategorized errors are unexpected.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// IssueFrom converts err into an Issue for the given pull request.
func IssueFrom(prID int, err error) Issue {
	return Issue{PullRequestID: prID, Kind: KindOf(err), Message: err.Error()}
}
