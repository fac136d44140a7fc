package acquire

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindTerminal
	KindConfiguration
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindTerminal:
		return "terminal"
	case KindConfiguration:
		return "configuration"
	case KindUnexpected:
		return "unexpected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func ParseKind(raw string) (ErrorKind, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "transient", "retry", "retryable":
		return KindTransient, nil
	case "terminal", "":
		return KindTerminal, nil
	default:
		return 0, fmt.Errorf("unknown error kind %q", raw)
	}
}

var (
	// ErrNotFound is returned when a manual acquisition names an item the
	// detection engine has never seen.
	ErrNotFound = errors.New("item not found in catalog cache")
	ErrNoItems  = errors.New("no item ids given")
)

// Error is a classified acquisition failure.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind carried by a classified error, or KindUnexpected.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnexpected
}
