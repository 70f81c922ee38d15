package main

import (
	"encoding/json"
	"io"

	"github.com/go-faster/errors"
)

// exitStatus is the process exit code a command failure maps to.
type exitStatus int

const (
	exitOK exitStatus = iota
	exitFailure
	exitValidation
	exitUsage
	exitDB
	exitDBWrite
)

func (s exitStatus) String() string {
	switch s {
	case exitOK:
		return "ok"
	case exitValidation:
		return "validation"
	case exitUsage:
		return "usage"
	case exitDB:
		return "db"
	case exitDBWrite:
		return "db_write"
	default:
		return "failure"
	}
}

type statusError struct {
	status exitStatus
	err    error
}

func (e *statusError) Error() string { return e.err.Error() }
func (e *statusError) Unwrap() error { return e.err }

// withCode tags err with the exit status main should report for it.
func withCode(status exitStatus, err error) error {
	if err == nil {
		return nil
	}
	return &statusError{status: status, err: err}
}

func exitCode(err error) exitStatus {
	if err == nil {
		return exitOK
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status
	}
	return exitFailure
}

// writeJSONLine encodes v as one line; HTML characters in course titles stay literal.
func writeJSONLine(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return errors.Wrap(err, "encode json line")
	}
	return nil
}
