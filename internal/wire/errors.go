package wire

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	CodeNotConnected   = "NOT_CONNECTED"
	CodeTimeout        = "TIMEOUT"
	CodeRemote         = "REMOTE"
	CodeNoActiveTarget = "NO_ACTIVE_TARGET"
	CodeTargetNotFound = "TARGET_NOT_FOUND"
	CodeDuplicateLabel = "DUPLICATE_LABEL"
	CodeValidation     = "VALIDATION"
	CodeClosed         = "CLOSED"
)

// CodedError is a typed error used for stable mapping at call sites.
// Command, Target and Elapsed are optional diagnostic context.
type CodedError struct {
	Code       string
	Message    string
	Command    string
	Target     string
	Elapsed    time.Duration
	RemoteCode string
	Cause      error
}

func (e *CodedError) Error() string {
	var b strings.Builder
	b.WriteString(e.Code)
	b.WriteString(": ")
	b.WriteString(e.Message)
	if e.Command != "" {
		fmt.Fprintf(&b, " (command=%s", e.Command)
		if e.Target != "" {
			fmt.Fprintf(&b, " target=%s", e.Target)
		}
		if e.Elapsed > 0 {
			fmt.Fprintf(&b, " elapsed=%dms", e.Elapsed.Milliseconds())
		}
		b.WriteString(")")
	} else if e.Target != "" {
		fmt.Fprintf(&b, " (target=%s)", e.Target)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *CodedError) Unwrap() error { return e.Cause }

// NewError builds a CodedError with no extra context.
func NewError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// CodeOf returns the code of the first CodedError in err's chain. For remote
// errors the far side's own code wins when it sent one.
func CodeOf(err error) string {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return ""
	}
	if coded.Code == CodeRemote && coded.RemoteCode != "" {
		return coded.RemoteCode
	}
	return coded.Code
}

// IsCode reports whether err carries code, either locally or as the remote
// code of a REMOTE error.
func IsCode(err error, code string) bool {
	var coded *CodedError
	if !errors.As(err, &coded) {
		return false
	}
	return coded.Code == code || coded.RemoteCode == code
}
