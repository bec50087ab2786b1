package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// RestError is the wire shape for every error the master emits:
// a PascalCase code plus a human message, carried with an HTTP status.
type RestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (e *RestError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewMissingParameter reports a required field that was absent.
func NewMissingParameter(field string) *RestError {
	return &RestError{
		Code:    "MissingParameter",
		Message: fmt.Sprintf("%q is a required parameter", field),
		Status:  http.StatusConflict,
	}
}

// NewInvalidArgument reports a malformed field, unknown probe type, or an
// authorization denial.
func NewInvalidArgument(format string, args ...any) *RestError {
	return &RestError{
		Code:    "InvalidArgument",
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusConflict,
	}
}

// NewResourceNotFound reports an absent entity.
func NewResourceNotFound(format string, args ...any) *RestError {
	return &RestError{
		Code:    "ResourceNotFound",
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusNotFound,
	}
}

// NewGone reports an id that was previously issued but is now absent.
func NewGone(format string, args ...any) *RestError {
	return &RestError{
		Code:    "Gone",
		Message: fmt.Sprintf(format, args...),
		Status:  http.StatusGone,
	}
}

// NewInternalError reports an unexpected downstream failure. The cause is
// logged at the call site; the wire message is deliberately generic.
func NewInternalError() *RestError {
	return &RestError{
		Code:    "InternalError",
		Message: "an unexpected error occurred",
		Status:  http.StatusInternalServerError,
	}
}

// MultiError wraps N independent errors from the event endpoint.
type MultiError struct {
	Errs []error
}

func (e *MultiError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap supports errors.Is/As over the wrapped errors.
func (e *MultiError) Unwrap() []error {
	return e.Errs
}

// multiErrorBody is the wire shape for MultiError responses.
type multiErrorBody struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Errors  []RestError `json:"errors"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes err as a {code, message} JSON body. Unrecognized error
// types are surfaced as InternalError; a MultiError with a single element
// collapses to that element.
func WriteError(w http.ResponseWriter, err error) {
	var multi *MultiError
	if errors.As(err, &multi) {
		if len(multi.Errs) == 1 {
			WriteError(w, multi.Errs[0])
			return
		}
		status := http.StatusConflict
		body := multiErrorBody{
			Code:    "MultiError",
			Message: fmt.Sprintf("%d errors occurred", len(multi.Errs)),
		}
		for _, e := range multi.Errs {
			re := asRestError(e)
			if re.Status == http.StatusInternalServerError {
				status = http.StatusInternalServerError
			}
			body.Errors = append(body.Errors, *re)
		}
		WriteJSON(w, status, body)
		return
	}

	re := asRestError(err)
	WriteJSON(w, re.Status, re)
}

func asRestError(err error) *RestError {
	var re *RestError
	if errors.As(err, &re) {
		return re
	}
	return NewInternalError()
}
