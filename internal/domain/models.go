// Package domain provides the domain models of the recommendation service:
// runs and their lifecycle, progress events, trip constraints, and the
// recommendation items produced by the pipeline.
package domain

// RunStatus represents the lifecycle states of a recommendation run.
// These values must match the database enum run_status.
type RunStatus string

const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusDone      RunStatus = "done"
	RunStatusError     RunStatus = "error"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the status represents a final state that will not change.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusDone, RunStatusError, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case RunStatusQueued, RunStatusRunning, RunStatusDone, RunStatusError, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// NodePhase is the phase reported by a NodeEvent.
type NodePhase string

const (
	NodePhaseStart NodePhase = "start"
	NodePhaseEnd   NodePhase = "end"
	NodePhaseError NodePhase = "error"
)

// NodeStatus is the terminal status a pipeline step reports for itself.
type NodeStatus string

const (
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusPartial   NodeStatus = "partial"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// Valid reports whether s is one of the four terminal node statuses.
func (s NodeStatus) Valid() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusPartial, NodeStatusFailed, NodeStatusSkipped:
		return true
	default:
		return false
	}
}

// RunEventKind classifies the entries of a run's event log.
type RunEventKind string

const (
	RunEventNode     RunEventKind = "node"
	RunEventLog      RunEventKind = "log"
	RunEventArtifact RunEventKind = "artifact"
)

// BudgetLevel is the traveller's spending preference.
type BudgetLevel string

const (
	BudgetLevelBudget   BudgetLevel = "budget"
	BudgetLevelModerate BudgetLevel = "moderate"
	BudgetLevelLuxury   BudgetLevel = "luxury"
)
