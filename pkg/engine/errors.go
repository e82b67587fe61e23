package engine

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// ErrNoMatchingService is returned when an explicit, non-empty target list
// prunes down to zero actions. It exists to catch typos: an explicit request
// that does nothing must not look like success.
var ErrNoMatchingService = errors.New("no matching service to act on")

// DanglingReferenceError reports a depends_on entry that names no known
// service.
type DanglingReferenceError struct {
	Service    string
	Dependency string
}

func (e *DanglingReferenceError) Error() string {
	return fmt.Sprintf("service %q depends on unknown service %q", e.Service, e.Dependency)
}

// CycleError reports a circular dependency among the selected services.
// Members holds every service that could not be placed into a wave; at least
// one of them is part of a cycle.
type CycleError struct {
	Members []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("circular dependency involving %s", strings.Join(e.Members, ", "))
}

// UnknownTargetError reports an explicitly requested name with no spec.
type UnknownTargetError struct {
	Name string
}

func (e *UnknownTargetError) Error() string {
	return fmt.Sprintf("unknown service %q", e.Name)
}

// ActionError wraps a backend failure with enough context to diagnose and
// retry: the failing service, the wave it belonged to, and the cause.
type ActionError struct {
	Service string
	Wave    int
	Op      Operation
	Err     error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s (wave %d): %v", e.Op, e.Service, e.Wave, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }
