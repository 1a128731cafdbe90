package cluster

import (
	"fmt"

	"github.com/dcsim/dcsim/sim"
)

// HostSnapshot is a lightweight view of host state for placement decisions.
// Populated by Service from its hosts at the start of a decision.
type HostSnapshot struct {
	ID       string
	Capacity float64
	Demand   float64
	Usage    float64
	Tasks    int // includes tasks attached at the current instant, before convergence
	Fits     bool
}

// PlacementDecision encapsulates the placement decision for a task.
// Index is -1 and Target empty when no host fits the task.
type PlacementDecision struct {
	Target string
	Index  int
	Reason string
}

// PlacementPolicy decides which host runs a task. Snapshots are in cluster
// order; only snapshots with Fits set may be chosen.
type PlacementPolicy interface {
	Place(task *sim.Task, snapshots []HostSnapshot) PlacementDecision
}

func unplaced(reason string) PlacementDecision {
	return PlacementDecision{Index: -1, Reason: reason}
}

// FirstFit places tasks on the first host that fits.
type FirstFit struct{}

// Place implements PlacementPolicy for FirstFit.
func (FirstFit) Place(_ *sim.Task, snapshots []HostSnapshot) PlacementDecision {
	for i, snap := range snapshots {
		if snap.Fits {
			return PlacementDecision{Target: snap.ID, Index: i, Reason: "first-fit"}
		}
	}
	return unplaced("first-fit (no host fits)")
}

// RoundRobin places tasks on hosts in round-robin order, skipping hosts that
// do not fit.
type RoundRobin struct {
	counter int
}

// Place implements PlacementPolicy for RoundRobin.
func (rr *RoundRobin) Place(_ *sim.Task, snapshots []HostSnapshot) PlacementDecision {
	n := len(snapshots)
	for k := 0; k < n; k++ {
		i := (rr.counter + k) % n
		if snapshots[i].Fits {
			rr.counter = i + 1
			return PlacementDecision{
				Target: snapshots[i].ID,
				Index:  i,
				Reason: fmt.Sprintf("round-robin[%d]", i),
			}
		}
	}
	return unplaced("round-robin (no host fits)")
}

// LeastLoaded places tasks on the fitting host with the minimum CPU demand.
// Tasks attached at the current instant have not converged into the demand
// yet, so ties are broken by task count, then by first occurrence in
// snapshot order (lowest index).
type LeastLoaded struct{}

// Place implements PlacementPolicy for LeastLoaded.
func (LeastLoaded) Place(_ *sim.Task, snapshots []HostSnapshot) PlacementDecision {
	best := -1
	for i, snap := range snapshots {
		if !snap.Fits {
			continue
		}
		if best < 0 || snap.Demand < snapshots[best].Demand ||
			(snap.Demand == snapshots[best].Demand && snap.Tasks < snapshots[best].Tasks) {
			best = i
		}
	}
	if best < 0 {
		return unplaced("least-loaded (no host fits)")
	}
	return PlacementDecision{
		Target: snapshots[best].ID,
		Index:  best,
		Reason: fmt.Sprintf("least-loaded (demand=%g, tasks=%d)", snapshots[best].Demand, snapshots[best].Tasks),
	}
}

// NewPlacementPolicy creates a placement policy by name.
// Valid names are defined in sim.ValidPlacementPolicies. An empty name
// defaults to FirstFit. Panics on unrecognized names.
func NewPlacementPolicy(name string) PlacementPolicy {
	if !sim.ValidPlacementPolicies[name] {
		panic(fmt.Sprintf("unknown placement policy %q", name))
	}
	switch name {
	case "", "first-fit":
		return FirstFit{}
	case "round-robin":
		return &RoundRobin{}
	case "least-loaded":
		return LeastLoaded{}
	default:
		panic(fmt.Sprintf("unhandled placement policy %q", name))
	}
}
