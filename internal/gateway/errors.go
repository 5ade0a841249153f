package gateway

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failed gateway call.
type Kind int

const (
	KindUnknown Kind = iota
	// KindAuthentication: bad credentials on login.
	KindAuthentication
	// KindRegistrationConflict: the admin or the email already exists.
	KindRegistrationConflict
	// KindValidation: rejected input, either client-side before any request
	// or a 400 from the server.
	KindValidation
	// KindNetwork: no response at all.
	KindNetwork
	// KindAuthorization: token missing, expired or not allowed.
	KindAuthorization
	KindNotFound
	KindServer
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindRegistrationConflict:
		return "registration_conflict"
	case KindValidation:
		return "validation"
	case KindNetwork:
		return "network"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindServer:
		return "server"
	default:
		return "unknown"
	}
}

// Conflict tells the two registration conflicts apart.
type Conflict int

const (
	ConflictNone Conflict = iota
	ConflictAdminExists
	ConflictUserExists
)

// Error is returned by every Client operation. Message holds the raw
// response body for 4xx/5xx; it is never parsed as JSON.
type Error struct {
	Op       string
	Kind     Kind
	Status   int
	Message  string
	Conflict Conflict
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.String())
	if e.Status != 0 {
		fmt.Fprintf(&b, " (%d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or KindUnknown when err is not a gateway
// error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return KindUnknown
}

func IsKind(err error, k Kind) bool { return err != nil && KindOf(err) == k }

// ConflictOf returns the registration conflict carried by err.
func ConflictOf(err error) Conflict {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Conflict
	}
	return ConflictNone
}

// ValidationError builds a client-side validation failure.
func ValidationError(op, msg string) *Error {
	return &Error{Op: op, Kind: KindValidation, Message: msg}
}

// classifyConflict is the only place that inspects error bodies for known
// substrings. Replace it once the backend sends a structured error kind.
func classifyConflict(body string) Conflict {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "admin already exists"):
		return ConflictAdminExists
	case strings.Contains(lower, "user already exists"):
		return ConflictUserExists
	default:
		return ConflictNone
	}
}

// kindForProtected maps a status on a bearer-authenticated call.
func kindForProtected(status int) Kind {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindAuthorization
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnprocessableEntity:
		return KindValidation
	default:
		return KindServer
	}
}

// kindForLogin: any 4xx on login means the credentials were refused.
func kindForLogin(status int) Kind {
	if status >= 400 && status < 500 {
		return KindAuthentication
	}
	return KindServer
}
