package kcfg

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNodeNotFound is returned when an operation references a node id that was never allocated by the graph.
var ErrNodeNotFound = errors.New("node not found")

// GraphIntegrityError is returned when an operation would break a structural invariant of the graph, such as
// adding a relation to a missing node, giving a node a second outgoing relation or removing a protected node.
type GraphIntegrityError struct {
	// Op is the name of the graph operation that was refused.
	Op string
	// Node is the node the operation was applied to.
	Node NodeID
	// Reason describes the violated invariant.
	Reason string
}

// Error implements the error interface.
func (e *GraphIntegrityError) Error() string {
	return fmt.Sprintf("graph integrity error: %s(%d): %s", e.Op, e.Node, e.Reason)
}

// integrityError creates a GraphIntegrityError with a stack trace attached.
func integrityError(op string, node NodeID, format string, args ...any) error {
	return errors.WithStack(&GraphIntegrityError{Op: op, Node: node, Reason: fmt.Sprintf(format, args...)})
}
