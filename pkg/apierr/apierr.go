// Package apierr defines the error taxonomy surfaced by the resource API and its
// JSON:API error document rendering.
package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
)

// MediaType is the JSON:API media type used for both documents and error documents.
const MediaType = "application/vnd.api+json"

// Error is a client-visible API error. Status selects the HTTP status class:
// 4xx for client, not-found and authorization errors, 5xx for store failures.
type Error struct {
	Status    int
	Code      string
	Title     string
	Detail    string
	Parameter string // offending query parameter, if any
	Pointer   string // JSON pointer into the request document, if any
	Err       error  // wrapped cause, never rendered
}

func (e *Error) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("%s: %s", e.Parameter, e.Detail)
	}
	return e.Detail
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadParameter reports a malformed or unknown query parameter.
func BadParameter(param, format string, args ...any) *Error {
	return &Error{
		Status:    http.StatusBadRequest,
		Code:      "invalid_parameter",
		Title:     "Invalid Query Parameter",
		Detail:    fmt.Sprintf(format, args...),
		Parameter: param,
	}
}

// BadRequest reports an invalid request document.
func BadRequest(pointer, format string, args ...any) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    "bad_request",
		Title:   "Bad Request",
		Detail:  fmt.Sprintf(format, args...),
		Pointer: pointer,
	}
}

// NotFound reports an id that does not resolve to an existing entity.
func NotFound(typ, id string) *Error {
	return &Error{
		Status: http.StatusNotFound,
		Code:   "not_found",
		Title:  "Not Found",
		Detail: fmt.Sprintf("no %s with id %q", typ, id),
	}
}

// UnknownPath reports a resource type or relationship the model does not define.
func UnknownPath(format string, args ...any) *Error {
	return &Error{
		Status: http.StatusNotFound,
		Code:   "not_found",
		Title:  "Not Found",
		Detail: fmt.Sprintf(format, args...),
	}
}

// Forbidden reports a hook denial on a single-resource or mutating path.
func Forbidden(detail string, cause error) *Error {
	return &Error{
		Status: http.StatusForbidden,
		Code:   "forbidden",
		Title:  "Forbidden",
		Detail: detail,
		Err:    cause,
	}
}

// Conflict reports a request document whose type or id disagrees with the endpoint.
func Conflict(format string, args ...any) *Error {
	return &Error{
		Status: http.StatusConflict,
		Code:   "conflict",
		Title:  "Conflict",
		Detail: fmt.Sprintf(format, args...),
	}
}

// Internal wraps a store or execution failure. The cause is kept for logging only.
func Internal(cause error) *Error {
	return &Error{
		Status: http.StatusInternalServerError,
		Code:   "internal_error",
		Title:  "Internal Server Error",
		Detail: "the request could not be completed",
		Err:    cause,
	}
}

// From converts any error into an *Error, treating unknown errors as internal.
func From(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal(err)
}

// StatusOf returns the HTTP status for err.
func StatusOf(err error) int {
	return From(err).Status
}

type errorSource struct {
	Parameter string `json:"parameter,omitempty"`
	Pointer   string `json:"pointer,omitempty"`
}

type errorObject struct {
	Status string       `json:"status"`
	Code   string       `json:"code"`
	Title  string       `json:"title"`
	Detail string       `json:"detail,omitempty"`
	Source *errorSource `json:"source,omitempty"`
}

// MarshalJSON renders the error as a single JSON:API error object.
func (e *Error) MarshalJSON() ([]byte, error) {
	obj := errorObject{
		Status: strconv.Itoa(e.Status),
		Code:   e.Code,
		Title:  e.Title,
		Detail: e.Detail,
	}
	if e.Parameter != "" || e.Pointer != "" {
		obj.Source = &errorSource{Parameter: e.Parameter, Pointer: e.Pointer}
	}
	return json.Marshal(obj)
}

// Write renders err as a JSON:API error document.
func Write(w http.ResponseWriter, err error) {
	apiErr := From(err)
	data, mErr := json.Marshal(map[string][]*Error{"errors": {apiErr}})
	if mErr != nil {
		w.Header().Set("Content-Type", MediaType)
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errors":[{"status":"500","code":"internal_error","title":"Internal Server Error"}]}`))
		return
	}

	w.Header().Set("Content-Type", MediaType)
	w.WriteHeader(apiErr.Status)
	w.Write(data)
}
