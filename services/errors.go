package services

import (
	"errors"
	"strings"
)

// Sentinel error classes. Handlers map these to HTTP statuses with
// errors.Is; everything untagged is treated as a server error.
var (
	// ErrNotFound indicates an unknown case, session or queue session.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates missing or malformed request fields.
	ErrValidation = errors.New("validation")
	// ErrSessionEnded indicates an action on an already-ended session.
	ErrSessionEnded = errors.New("session ended")
	// ErrUpstream indicates a completion-service failure.
	ErrUpstream = errors.New("upstream service")
	// ErrPrecondition indicates case data missing the rubric or diagnosis
	// required for evaluation.
	ErrPrecondition = errors.New("precondition")
)

func NotFoundError(msg string) error {
	return errors.Join(ErrNotFound, errors.New(strings.TrimSpace(msg)))
}

func ValidationError(msg string) error {
	return errors.Join(ErrValidation, errors.New(strings.TrimSpace(msg)))
}

func SessionEndedError(msg string) error {
	return errors.Join(ErrSessionEnded, errors.New(strings.TrimSpace(msg)))
}

func UpstreamError(err error) error {
	return errors.Join(ErrUpstream, err)
}

func PreconditionError(msg string) error {
	return errors.Join(ErrPrecondition, errors.New(strings.TrimSpace(msg)))
}

// Message returns the human-readable part of a tagged error, leaving the
// sentinel out of client-facing responses.
func Message(err error) string {
	if u, ok := err.(interface{ Unwrap() []error }); ok {
		if errs := u.Unwrap(); len(errs) == 2 {
			return errs[1].Error()
		}
	}
	return err.Error()
}
