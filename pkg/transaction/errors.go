package transaction

import (
	"fmt"
	"strings"

	"stratum/pkg/node"
)

// StuckTuple describes one unit of work that could not make progress when a
// deadlock was detected.
type StuckTuple struct {
	Role      string
	Task      Task
	Status    TupleStatus
	Relations []string
}

// DeadlockError is raised when tuples exhaust their status progression
// without resolving: a true circular dependency between entities that the
// bounded walk turned into a terminal, diagnosable state.
type DeadlockError struct {
	Tuples []StuckTuple
}

// Error implements error.
func (e *DeadlockError) Error() string {
	parts := make([]string, 0, len(e.Tuples))
	for _, t := range e.Tuples {
		if len(t.Relations) > 0 {
			parts = append(parts, fmt.Sprintf("%s (%s, %s: %s)", t.Role, t.Task, t.Status, strings.Join(t.Relations, ", ")))
		} else {
			parts = append(parts, fmt.Sprintf("%s (%s, %s)", t.Role, t.Task, t.Status))
		}
	}
	return "transaction: relation resolution deadlock: " + strings.Join(parts, "; ")
}

func newDeadlockError(pool *Pool) *DeadlockError {
	err := &DeadlockError{}
	for i := 0; i < pool.Len(); i++ {
		t := pool.At(i)
		if t.Status == StatusProcessed {
			continue
		}
		stuck := StuckTuple{Task: t.Task, Status: t.Status}
		if t.Node != nil {
			stuck.Role = t.Node.Role()
			stuck.Relations = unresolvedRelations(t.Node)
		}
		err.Tuples = append(err.Tuples, stuck)
	}
	return err
}

func unresolvedRelations(n *node.Node) []string {
	var out []string
	for _, name := range n.Relations() {
		if st := n.RelationStatus(name); st != node.RelationResolved {
			out = append(out, name)
		}
	}
	return out
}

// WaitingCommandError is raised when a parked command never received the
// values it was waiting for by the end of the walk.
type WaitingCommandError struct {
	Count int
}

// Error implements error.
func (e *WaitingCommandError) Error() string {
	return fmt.Sprintf("transaction: %d command(s) still waiting on unsupplied values", e.Count)
}
