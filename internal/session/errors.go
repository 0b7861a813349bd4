package session

import (
	"errors"
	"fmt"

	"credsweep/internal/model"
)

var (
	ErrConnect        = errors.New("connection failed")
	ErrAuth           = errors.New("authentication rejected")
	ErrProtocol       = errors.New("ssh protocol failure")
	ErrCommandTimeout = errors.New("command timed out")
	ErrPromptTimeout  = errors.New("timed out waiting for prompt")
)

// ExitError is a command that ran and exited non-zero.
type ExitError struct {
	Command string
	Status  int
	Output  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%q exited with status %d", e.Command, e.Status)
}

// Status maps a Dial error onto the session outcome reported for the host.
func Status(err error) model.SessionStatus {
	switch {
	case err == nil:
		return model.SessionConnected
	case errors.Is(err, ErrAuth):
		return model.SessionAuthFailed
	case errors.Is(err, ErrConnect):
		return model.SessionConnectFailed
	default:
		return model.SessionProtocolError
	}
}
