package pipeline

import (
	"fmt"
	"strings"
	"time"
)

// State is the lifecycle of one (tenant, entity) run. Runs move strictly
// forward; Failed is reachable from any in-progress state and is terminal.
type State string

const (
	StatePending      State = "pending"
	StateExtracting   State = "extracting"
	StateTransforming State = "transforming"
	StateLoading      State = "loading"
	StateCompleted    State = "completed"
	StateFailed       State = "failed"
)

var nextState = map[State]State{
	StatePending:      StateExtracting,
	StateExtracting:   StateTransforming,
	StateTransforming: StateLoading,
	StateLoading:      StateCompleted,
}

// Run tracks one (tenant, entity) unit of work and its counts. Entity is the
// source entity name, or the report name for report runs.
type Run struct {
	ClientID   string
	Entity     string
	State      State
	FailReason string

	Extracted int
	Mapped    int
	Loaded    int
	Skipped   int

	Started  time.Time
	Finished time.Time

	// authError marks a failure the tenant cannot recover from without a new
	// consent flow.
	authError bool
}

func newRun(clientID, entity string) *Run {
	return &Run{ClientID: clientID, Entity: entity, State: StatePending, Started: time.Now()}
}

// advance moves the run to the next state, rejecting out-of-order jumps.
func (r *Run) advance(to State) error {
	if nextState[r.State] != to {
		return fmt.Errorf("run %s/%s: invalid transition %s -> %s", r.ClientID, r.Entity, r.State, to)
	}
	r.State = to
	if to == StateCompleted {
		r.Finished = time.Now()
	}
	return nil
}

// fail terminates the run. Terminal states are left untouched.
func (r *Run) fail(reason string) {
	if r.State == StateCompleted || r.State == StateFailed {
		return
	}
	r.State = StateFailed
	r.FailReason = reason
	r.Finished = time.Now()
}

// Summary is the result of one pipeline invocation.
type Summary struct {
	Runs           []*Run
	NeedsReconsent []string
	Started        time.Time
	Finished       time.Time
}

// Failed lists the runs that did not complete.
func (s *Summary) Failed() []*Run {
	var failed []*Run
	for _, r := range s.Runs {
		if r.State == StateFailed {
			failed = append(failed, r)
		}
	}
	return failed
}

// PartialTenantFailure aggregates failed runs while the rest of the pipeline
// completed. Callers inspect Failed for per-run reasons.
type PartialTenantFailure struct {
	Failed []*Run
}

func (e *PartialTenantFailure) Error() string {
	parts := make([]string, 0, len(e.Failed))
	for _, r := range e.Failed {
		parts = append(parts, fmt.Sprintf("%s/%s: %s", r.ClientID, r.Entity, r.FailReason))
	}
	return fmt.Sprintf("%d run(s) failed: %s", len(e.Failed), strings.Join(parts, "; "))
}
