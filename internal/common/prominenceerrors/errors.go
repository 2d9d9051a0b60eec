// Package prominenceerrors contains generic errors returned by the scheduling services.
// Message consumers use IsPermanent to decide whether a failed message should be redelivered:
// permanent errors can never succeed on retry, so the message is acknowledged and dropped.
//
// If multiple errors occur in some function (e.g., if several jobs could not be dispatched), that
// function should return an error of type multierror.Error from package
// github.com/hashicorp/go-multierror that encapsulates those individual errors.
package prominenceerrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrAlreadyExists is a generic error to be returned whenever some resource already exists.
// Type and Message are optional and are omitted from the error message if not provided.
type ErrAlreadyExists struct {
	Type    string // Resource type, e.g., "job" or "worker"
	Value   string // Resource name, e.g., "GK7YqxeCg2Z3TjkgDzPbJn"
	Message string // An optional message to include in the error message
}

func (err *ErrAlreadyExists) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q already exists", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q already exists", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrNotFound is a generic error to be returned whenever some resource isn't found.
// Type and Message are optional and are omitted from the error message if not provided.
//
// See ErrAlreadyExists for more info.
type ErrNotFound struct {
	Type    string
	Value   string
	Message string
}

func (err *ErrNotFound) Error() (s string) {
	if err.Type != "" {
		s = fmt.Sprintf("resource %q of type %q does not exist", err.Value, err.Type)
	} else {
		s = fmt.Sprintf("resource %q does not exist", err.Value)
	}
	if err.Message != "" {
		return s + fmt.Sprintf("; %s", err.Message)
	} else {
		return s
	}
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "resources.cpus"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %q is invalid for field %q", err.Value, err.Name)
	} else {
		return fmt.Sprintf("value %q is invalid for field %q; %s", err.Value, err.Name, err.Message)
	}
}

// ErrMalformedMessage is returned when a message payload received from the transport cannot be decoded.
type ErrMalformedMessage struct {
	Subject string
	Message string
	Err     error
}

func (err *ErrMalformedMessage) Error() string {
	s := fmt.Sprintf("malformed message on subject %q", err.Subject)
	if err.Message != "" {
		s = s + fmt.Sprintf(": %s", err.Message)
	}
	if err.Err != nil {
		s = s + fmt.Sprintf(": %s", err.Err)
	}
	return s
}

func (err *ErrMalformedMessage) Unwrap() error {
	return err.Err
}

// IsNotFound returns true if any error in the chain is an ErrNotFound.
func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

// IsPermanent returns true if retrying the operation that produced err can't succeed.
// Uses errors.As to look through the chain of errors, as opposed to just considering the topmost error in the chain.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	{
		var e *ErrNotFound
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrInvalidArgument
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrMalformedMessage
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrAlreadyExists
		if errors.As(err, &e) {
			return true
		}
	}
	return false
}
