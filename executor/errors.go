package executor

import (
	"errors"
	"fmt"
)

// Success is the legacy status code that indicates the command succeeded.
const Success = 0

// Legacy status codes of the JSON wire protocol.
var remoteErrors = map[int]string{
	6:  "invalid session id",
	7:  "no such element",
	8:  "no such frame",
	9:  "unknown command",
	10: "stale element reference",
	11: "element not visible",
	12: "invalid element state",
	13: "unknown error",
	15: "element is not selectable",
	17: "javascript error",
	19: "xpath lookup error",
	21: "timeout",
	23: "no such window",
	24: "invalid cookie domain",
	25: "unable to set cookie",
	26: "unexpected alert open",
	27: "no alert open",
	28: "script timeout",
	29: "invalid element coordinates",
	32: "invalid selector",
	33: "session not created",
	34: "move target out of bounds",
}

var (
	// ErrNoSession is returned when a command that requires a session is
	// executed without one.
	ErrNoSession = errors.New("session ID is null. Using WebDriver after calling quit()?")

	// ErrTooManyRedirects is returned when the remote end redirects more than
	// MaxRedirects times in a row.
	ErrTooManyRedirects = fmt.Errorf("maximum number of redirects (%d) exceeded", MaxRedirects)
)

// Error contains information about a failure of a command. See the error
// codes defined in https://www.w3.org/TR/webdriver/#handling-errors and the
// legacy status codes of the JSON wire protocol.
type Error struct {
	// Err contains a general error string provided by the server.
	Err string `json:"error"`
	// Message is a detailed, human-readable message specific to the failure.
	Message string `json:"message"`
	// Stacktrace may contain the server-side stacktrace where the error
	// occurred.
	Stacktrace string `json:"stacktrace"`
	// HTTPCode is the HTTP status code returned by the server.
	HTTPCode int `json:"-"`
	// LegacyCode is the status field of a JSON wire protocol reply, if any.
	LegacyCode int `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message == "" {
		return e.Err
	}
	return fmt.Sprintf("%s: %s", e.Err, e.Message)
}

func (e *Error) unsupported() bool {
	switch e.Err {
	case "unknown command", "unknown method", "unsupported operation":
		return true
	}
	return false
}

// UnsupportedCommandError is returned for commands the executor does not
// know how to encode, and for commands the remote end rejected as unknown
// without further explanation.
type UnsupportedCommandError struct {
	Command string
	// Message is the server's message, if there was one.
	Message string
}

func (e *UnsupportedCommandError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("unrecognized command: %s", e.Command)
}
