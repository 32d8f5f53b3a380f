package couch

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failure reported by the document store or the transport.
type Kind int

const (
	KindUnknown Kind = iota
	// KindNotFound means no document (or database) exists at the identity.
	KindNotFound
	// KindConflict means a revision mismatch on write, or a duplicate id/database on create.
	KindConflict
	// KindTransport means the request never produced a store response (network, timeout).
	KindTransport
	// KindStore means the store returned a structured error not otherwise classified.
	KindStore
)

// String returns a human-readable representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindTransport:
		return "transport"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Sentinel errors for use with errors.Is. They match any *Error of the same kind.
var (
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrConflict  = &Error{Kind: KindConflict}
	ErrTransport = &Error{Kind: KindTransport}
	ErrStore     = &Error{Kind: KindStore}
)

// ErrMissingID is returned when a document-level operation has no _id to address.
var ErrMissingID = errors.New("couch: document _id is required")

// Error is the single error shape surfaced by the client. Store responses like
// {"error":"not_found","reason":"missing"} are normalized into Code and Reason.
type Error struct {
	Kind   Kind
	Op     string // client operation, e.g. "get", "put", "head"
	ID     string // document id or path the operation addressed
	Status int    // HTTP status code, 0 when no response was received
	Code   string // store error code, e.g. "conflict"
	Reason string // store reason, e.g. "Document update conflict."
	Err    error  // underlying transport error
}

func (e *Error) Error() string {
	msg := "couch"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Kind == KindTransport && e.Err != nil {
		return fmt.Sprintf("%s: transport: %v", msg, e.Err)
	}
	code := e.Code
	if code == "" {
		code = e.Kind.String()
	}
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s (%s)", msg, code, e.Reason)
	}
	return fmt.Sprintf("%s: %s", msg, code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a bare kind sentinel matching e.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.ID == "" && t.Status == 0 && t.Code == "" && t.Kind == e.Kind
}

// KindOf returns the kind of err if it is (or wraps) an *Error, KindUnknown otherwise.
func KindOf(err error) Kind {
	var cErr *Error
	if errors.As(err, &cErr) {
		return cErr.Kind
	}
	return KindUnknown
}

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict reports whether err is a Conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// classify maps a store status code and error code onto a Kind.
func classify(status int, code string) Kind {
	switch {
	case code == "not_found" || status == http.StatusNotFound:
		return KindNotFound
	case code == "conflict" || code == "file_exists" ||
		status == http.StatusConflict || status == http.StatusPreconditionFailed:
		return KindConflict
	default:
		return KindStore
	}
}

// statusCode derives a store-like error code for responses without a body (HEAD).
func statusCode(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusPreconditionFailed:
		return "file_exists"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusBadRequest:
		return "bad_request"
	default:
		return "unknown_error"
	}
}
