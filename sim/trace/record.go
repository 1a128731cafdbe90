// Package trace provides decision-trace recording for workflow scheduling analysis.
// This package has no dependencies on sim/ or sim/cluster/ — it stores pure data types.
package trace

// EligibilityRecord captures a single task eligibility decision.
type EligibilityRecord struct {
	TaskID   string
	JobID    string
	Clock    int64
	Admitted bool
	Reason   string
}

// CandidateHost captures a host considered by the placement policy together
// with the load it had at decision time.
type CandidateHost struct {
	HostID string
	Demand float64
	Usage  float64
	Tasks  int
}

// PlacementRecord captures a single placement decision. ChosenHost is empty
// when no host could fit the task.
type PlacementRecord struct {
	TaskID     string
	Clock      int64
	ChosenHost string
	Reason     string
	Candidates []CandidateHost // hosts that passed the fit check, in cluster order
}
