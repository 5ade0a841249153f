package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// Messages clients match on when classifying registration conflicts.
const (
	msgUserExists  = "User already exists with this email"
	msgAdminExists = "Admin already exists. Only one admin is allowed."
)

// StatusError carries the HTTP status and the plain-text body for a failed
// request.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("Code: %d, Message: %s", e.Code, e.Message)
}

func errBadRequest(msg string) error   { return &StatusError{Code: http.StatusBadRequest, Message: msg} }
func errUnauthorized(msg string) error { return &StatusError{Code: http.StatusUnauthorized, Message: msg} }
func errForbidden(msg string) error    { return &StatusError{Code: http.StatusForbidden, Message: msg} }
func errNotFound(msg string) error     { return &StatusError{Code: http.StatusNotFound, Message: msg} }
func errInternal(msg string) error     { return &StatusError{Code: http.StatusInternalServerError, Message: msg} }

// writeError sends err as a text/plain body. Errors without a status are 500.
func writeError(w http.ResponseWriter, err error) {
	var se *StatusError
	if !errors.As(err, &se) {
		se = &StatusError{Code: http.StatusInternalServerError, Message: err.Error()}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(se.Code)
	_, _ = w.Write([]byte(se.Message))
}

func itoa(n int64) string { return strconv.FormatInt(n, 10) }
