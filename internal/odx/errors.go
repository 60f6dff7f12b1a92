// Package odx reads and writes ISO 22901 (ODX 2.2) diagnostic documents.
package odx

import (
	"errors"
	"fmt"
)

// ErrSchemaViolation is wrapped by every parse failure.
var ErrSchemaViolation = errors.New("odx: schema violation")

// ParseError locates a parse failure inside a document.
type ParseError struct {
	Path string // element path, e.g. "BASE-VARIANT[BV_ECM]/DIAG-SERVICE[DS_1003]"
	Msg  string
	Err  error // underlying decoder error, if any
}

func (e *ParseError) Error() string {
	msg := e.Msg
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Path == "" {
		return "odx: " + msg
	}
	return fmt.Sprintf("odx: %s: %s", e.Path, msg)
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrSchemaViolation}
	}
	return []error{ErrSchemaViolation, e.Err}
}

func violation(path, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Msg: fmt.Sprintf(format, args...)}
}
