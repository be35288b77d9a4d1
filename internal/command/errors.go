package command

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrInvalidArgument = errors.New("invalid argument")
)

// UnknownCommandError reports a submission for a name not in the registry.
type UnknownCommandError struct {
	Name string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Name)
}

func (e *UnknownCommandError) Unwrap() error { return ErrUnknownCommand }

// InvalidArgumentError reports a value that is missing, unexpected or
// outside what the command accepts.
type InvalidArgumentError struct {
	Command string
	Value   string
	Reason  string
}

func (e *InvalidArgumentError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("command %s: %s", e.Command, e.Reason)
	}
	return fmt.Sprintf("command %s: value %q: %s", e.Command, e.Value, e.Reason)
}

func (e *InvalidArgumentError) Unwrap() error { return ErrInvalidArgument }
