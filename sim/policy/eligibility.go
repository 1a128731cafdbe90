// Package policy holds the task eligibility policies consulted by the
// workflow scheduler before a ready task may contend for a host.
package policy

import (
	"fmt"
	"math/rand"

	"github.com/dcsim/dcsim/sim"
)

// DefaultTaskLimit is the per-job limit used when none is configured.
const DefaultTaskLimit = 1

// AlwaysAdmit admits every task unconditionally.
type AlwaysAdmit struct {
	sim.BaseWorkflowListener
}

func (*AlwaysAdmit) Evaluate(*sim.Task) (sim.Advice, error) {
	return sim.AdviceAdmit, nil
}

func (*AlwaysAdmit) String() string { return "Always-Admit" }

// LimitPerJob bounds the number of concurrently active tasks of a job.
// A task is admitted while its job has fewer than limit active tasks, so the
// count after admission never exceeds limit.
type LimitPerJob struct {
	limit  int
	active map[*sim.Job]int
}

// NewLimitPerJob creates the policy. Panics if limit < 1.
func NewLimitPerJob(limit int) *LimitPerJob {
	if limit < 1 {
		panic(fmt.Sprintf("NewLimitPerJob: limit must be >= 1, got %d", limit))
	}
	return &LimitPerJob{limit: limit, active: make(map[*sim.Job]int)}
}

func (p *LimitPerJob) JobStarted(job *sim.Job)  { p.active[job] = 0 }
func (p *LimitPerJob) JobFinished(job *sim.Job) { delete(p.active, job) }
func (p *LimitPerJob) TaskAssigned(t *sim.Task) { p.active[t.Job]++ }
func (p *LimitPerJob) TaskFinished(t *sim.Task) { p.active[t.Job]-- }

// Evaluate admits while the job has fewer than limit active tasks: the bound
// applies to the count after admission. It returns ErrUnknownJob for a task
// whose job was never started: the scheduler must deliver JobStarted before
// evaluating any of its tasks.
func (p *LimitPerJob) Evaluate(t *sim.Task) (sim.Advice, error) {
	n, ok := p.active[t.Job]
	if !ok {
		return sim.AdviceDeny, fmt.Errorf("evaluating task %q of job %q: %w", t.ID, jobID(t), sim.ErrUnknownJob)
	}
	if n < p.limit {
		return sim.AdviceAdmit, nil
	}
	return sim.AdviceDeny, nil
}

// Active returns the number of active tasks tracked for job.
func (p *LimitPerJob) Active(job *sim.Job) (int, bool) {
	n, ok := p.active[job]
	return n, ok
}

func (p *LimitPerJob) String() string { return fmt.Sprintf("Limit-Active-Job(%d)", p.limit) }

// Random admits each evaluated task with a fixed probability.
type Random struct {
	sim.BaseWorkflowListener
	probability float64
	rng         *rand.Rand
}

// NewRandom creates the policy. Panics if probability is outside [0, 1] or
// rng is nil.
func NewRandom(probability float64, rng *rand.Rand) *Random {
	if probability < 0 || probability > 1 {
		panic(fmt.Sprintf("NewRandom: probability must be in [0, 1], got %f", probability))
	}
	if rng == nil {
		panic("NewRandom: rng must not be nil")
	}
	return &Random{probability: probability, rng: rng}
}

func (p *Random) Evaluate(*sim.Task) (sim.Advice, error) {
	if p.rng.Float64() < p.probability {
		return sim.AdviceAdmit, nil
	}
	return sim.AdviceDeny, nil
}

func (p *Random) String() string { return fmt.Sprintf("Random(%.2f)", p.probability) }

// NewEligibilityPolicy creates a task eligibility policy by name.
// Valid names are defined in sim.ValidEligibilityPolicies. An empty name
// defaults to AlwaysAdmit. Panics on unrecognized names.
func NewEligibilityPolicy(name string, limit int, probability float64, rng *rand.Rand) sim.TaskEligibilityPolicy {
	if !sim.ValidEligibilityPolicies[name] {
		panic(fmt.Sprintf("unknown eligibility policy %q", name))
	}
	switch name {
	case "", "always-admit":
		return &AlwaysAdmit{}
	case "limit-per-job":
		if limit == 0 {
			limit = DefaultTaskLimit
		}
		return NewLimitPerJob(limit)
	case "random":
		return NewRandom(probability, rng)
	default:
		panic(fmt.Sprintf("unhandled eligibility policy %q", name))
	}
}

func jobID(t *sim.Task) string {
	if t.Job == nil {
		return ""
	}
	return t.Job.ID
}
