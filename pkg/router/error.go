package router

import (
	"encoding/json"
	"io"
)

// JsonError is the body of every error response. Code repeats the HTTP
// status; Kind, when set, names the error class in the API's own taxonomy so
// clients need not guess it from the status.
type JsonError struct {
	Code int    `json:"code"`
	Kind string `json:"kind,omitempty"`
	Err  string `json:"error"`
}

func NewJsonError(code int, err string) JsonError {
	return JsonError{
		Code: code,
		Err:  err,
	}
}

// WithKind returns a copy of e classified as kind.
func (e JsonError) WithKind(kind string) JsonError {
	e.Kind = kind
	return e
}

func (e JsonError) StatusCode() int {
	return e.Code
}

func (e JsonError) Error() string {
	return e.Err
}

func (e JsonError) Encode(w io.Writer) error {
	return json.NewEncoder(w).Encode(e)
}
