package cluster

import (
	"errors"
	"fmt"
)

// ErrNotLeader is returned by the relation store when an application scoped
// write is attempted by a unit that does not hold leadership.
var ErrNotLeader = errors.New("unit is not the leader")

// ErrNodeNotFound is returned by remove-node when the node is already gone.
var ErrNodeNotFound = errors.New("node not found")

// ConfigurationError blocks the unit until an operator fixes the config.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return "invalid configuration: " + e.Reason }

// BootstrapError is a failed install, wait-ready or join. The event must be
// redelivered for the unit to make progress.
type BootstrapError struct {
	Op  string
	Err error
}

func (e *BootstrapError) Error() string { return fmt.Sprintf("failed to %s: %v", e.Op, e.Err) }
func (e *BootstrapError) Unwrap() error { return e.Err }

// ReconciliationError is a failed best-effort step for a single item. It is
// retried on the next event.
type ReconciliationError struct {
	Op   string
	Item string
	Err  error
}

func (e *ReconciliationError) Error() string {
	if e.Item == "" {
		return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.Item, e.Err)
}
func (e *ReconciliationError) Unwrap() error { return e.Err }

// TransientQueryError is a failed status lookup.
type TransientQueryError struct {
	Hostname string
	Err      error
}

func (e *TransientQueryError) Error() string {
	return fmt.Sprintf("could not retrieve status of node %s: %v", e.Hostname, e.Err)
}
func (e *TransientQueryError) Unwrap() error { return e.Err }
