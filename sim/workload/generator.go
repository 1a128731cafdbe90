package workload

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/dcsim/dcsim/sim"
)

// BuildJobs creates the jobs of a workload: the listed jobs followed by the
// synthetic ones. Deterministic given the same spec and rng.
// Returns jobs sorted by SubmitTime; ties keep declaration order.
func BuildJobs(spec *WorkloadSpec, rng *rand.Rand) ([]*sim.Job, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workload spec: %w", err)
	}
	jobs := make([]*sim.Job, 0, len(spec.Jobs))
	for _, js := range spec.Jobs {
		jobs = append(jobs, buildJob(js))
	}
	if spec.Synthetic != nil {
		generated, err := GenerateJobs(spec.Synthetic, rng)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, generated...)
	}
	sort.SliceStable(jobs, func(i, j int) bool {
		return jobs[i].SubmitTime < jobs[j].SubmitTime
	})
	return jobs, nil
}

func buildJob(js JobSpec) *sim.Job {
	tasks := make([]*sim.Task, len(js.Tasks))
	for i, ts := range js.Tasks {
		var w sim.TaskWorkload = Work{Amount: ts.Work, Limit: ts.Limit, Timeout: ts.Timeout}
		if len(ts.Trace) > 0 {
			w = Trace(ts.Trace)
		}
		tasks[i] = &sim.Task{
			ID:        ts.ID,
			DependsOn: append([]string(nil), ts.DependsOn...),
			Workload:  w,
		}
	}
	return sim.NewJob(js.ID, js.SubmitTime, tasks...)
}

// GenerateJobs creates spec.Jobs synthetic jobs. Submit times follow the
// arrival process starting at spec.Start; the first job is submitted at
// spec.Start.
func GenerateJobs(spec *SyntheticSpec, rng *rand.Rand) ([]*sim.Job, error) {
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid synthetic spec: %w", err)
	}
	arrival := NewArrivalSampler(spec.Arrival, spec.Rate/1000)
	taskCount, err := NewSampler(spec.Tasks, 1)
	if err != nil {
		return nil, fmt.Errorf("tasks distribution: %w", err)
	}
	work, err := NewSampler(spec.Work, math.SmallestNonzeroFloat64)
	if err != nil {
		return nil, fmt.Errorf("work distribution: %w", err)
	}
	var limit Sampler
	if spec.Limit != nil {
		if limit, err = NewSampler(*spec.Limit, 0); err != nil {
			return nil, fmt.Errorf("limit distribution: %w", err)
		}
	}

	jobs := make([]*sim.Job, 0, spec.Jobs)
	submit := spec.Start
	for i := 0; i < spec.Jobs; i++ {
		if i > 0 {
			submit += arrival.SampleIAT(rng)
		}
		n := int(math.Round(taskCount.Sample(rng)))
		tasks := make([]*sim.Task, max(1, n))
		for k := range tasks {
			w := Work{Amount: work.Sample(rng)}
			if limit != nil {
				w.Limit = limit.Sample(rng)
			}
			tasks[k] = &sim.Task{ID: fmt.Sprintf("job_%d/task_%d", i, k), Workload: w}
			if spec.Chain && k > 0 {
				tasks[k].DependsOn = []string{tasks[k-1].ID}
			}
		}
		jobs = append(jobs, sim.NewJob(fmt.Sprintf("job_%d", i), submit, tasks...))
	}
	return jobs, nil
}
