package chatclient

import (
	"errors"
	"fmt"
)

// Sentinel errors matched by DispatchError.Is.
var (
	ErrConnectivity = errors.New("server unreachable")
	ErrBackend      = errors.New("server reported an error")
	ErrMalformed    = errors.New("malformed server response")
)

type ErrorKind int

const (
	KindConnectivity ErrorKind = iota + 1
	KindBackend
	KindMalformed
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnectivity:
		return "connectivity"
	case KindBackend:
		return "backend"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// DispatchError is a failed request to the concierge API.
type DispatchError struct {
	Kind     ErrorKind
	Status   int
	Endpoint string
	Message  string
	Err      error
}

func (e *DispatchError) Error() string {
	switch e.Kind {
	case KindConnectivity:
		return fmt.Sprintf("could not reach %s: %s", e.Endpoint, e.Message)
	case KindBackend:
		if e.Status > 0 {
			return fmt.Sprintf("server error [%d]: %s", e.Status, e.Message)
		}
		return fmt.Sprintf("server error: %s", e.Message)
	default:
		return fmt.Sprintf("unexpected response from %s: %s", e.Endpoint, e.Message)
	}
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Is allows comparison with the sentinel of its kind.
func (e *DispatchError) Is(target error) bool {
	switch target {
	case ErrConnectivity:
		return e.Kind == KindConnectivity
	case ErrBackend:
		return e.Kind == KindBackend
	case ErrMalformed:
		return e.Kind == KindMalformed
	}
	_, ok := target.(*DispatchError)
	return ok
}

func connectivityError(endpoint string, err error) *DispatchError {
	return &DispatchError{Kind: KindConnectivity, Endpoint: endpoint, Message: err.Error(), Err: err}
}

func backendError(endpoint string, status int, message string) *DispatchError {
	return &DispatchError{Kind: KindBackend, Endpoint: endpoint, Status: status, Message: message}
}

func malformedError(endpoint, message string) *DispatchError {
	return &DispatchError{Kind: KindMalformed, Endpoint: endpoint, Message: message}
}

// UserMessage is the banner text shown for a failed chat turn.
func UserMessage(err error) string {
	return "Sorry, something went wrong: " + err.Error()
}
