package manager

import (
	"errors"
)

// ErrStopped is returned once the manager has been stopped
var ErrStopped = errors.New("manager stopped")

// State is the manager lifecycle state
type State int32

const (
	StateUninitialized State = iota
	StateRunning
	StateReconfiguring
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRunning:
		return "running"
	case StateReconfiguring:
		return "reconfiguring"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
