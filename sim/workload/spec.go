package workload

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// WorkloadSpec is the top-level workload configuration.
// Loaded from YAML via LoadWorkloadSpec(path).
type WorkloadSpec struct {
	Version   string         `yaml:"version"`
	Seed      int64          `yaml:"seed"`
	Jobs      []JobSpec      `yaml:"jobs"`
	Synthetic *SyntheticSpec `yaml:"synthetic,omitempty"`
}

// JobSpec is an explicitly listed job.
type JobSpec struct {
	ID         string     `yaml:"id"`
	SubmitTime int64      `yaml:"submit_time"` // ms
	Tasks      []TaskSpec `yaml:"tasks"`
}

// TaskSpec is one task of a job: either a fixed amount of work or a usage
// trace.
type TaskSpec struct {
	ID        string     `yaml:"id"`
	Work      float64    `yaml:"work,omitempty"`
	Limit     float64    `yaml:"limit,omitempty"`
	Timeout   int64      `yaml:"timeout,omitempty"` // ms
	Trace     []Fragment `yaml:"trace,omitempty"`
	DependsOn []string   `yaml:"depends_on,omitempty"`
}

// SyntheticSpec configures seeded job generation.
type SyntheticSpec struct {
	Jobs    int         `yaml:"jobs"`
	Start   int64       `yaml:"start"` // ms, submit time floor
	Rate    float64     `yaml:"rate"`  // jobs per second
	Arrival ArrivalSpec `yaml:"arrival"`
	Tasks   DistSpec    `yaml:"tasks"` // tasks per job
	Work    DistSpec    `yaml:"work"`  // work per task
	Limit   *DistSpec   `yaml:"limit,omitempty"`
	// Chain makes every task depend on its predecessor in the job.
	Chain bool `yaml:"chain"`
}

// ArrivalSpec configures the inter-arrival time process.
type ArrivalSpec struct {
	Process string   `yaml:"process"`
	CV      *float64 `yaml:"cv,omitempty"`
}

// DistSpec parameterizes a distribution.
type DistSpec struct {
	Type   string             `yaml:"type"`
	Params map[string]float64 `yaml:"params,omitempty"`
}

// Valid value registries.
var (
	validArrivalProcesses = map[string]bool{
		"": true, "poisson": true, "gamma": true, "constant": true,
	}
	validVersions = map[string]bool{"": true, "1": true}
)

// LoadWorkloadSpec reads and parses a YAML workload specification file.
// Uses strict parsing: unrecognized keys (typos) are rejected.
func LoadWorkloadSpec(path string) (*WorkloadSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workload spec: %w", err)
	}
	var spec WorkloadSpec
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&spec); err != nil {
		return nil, fmt.Errorf("parsing workload spec: %w", err)
	}
	return &spec, nil
}

// Validate checks that all fields in the spec are valid.
func (s *WorkloadSpec) Validate() error {
	if !validVersions[s.Version] {
		return fmt.Errorf("unsupported version %q", s.Version)
	}
	if len(s.Jobs) == 0 && s.Synthetic == nil {
		return fmt.Errorf("at least one job or a synthetic section required")
	}
	seen := make(map[string]bool, len(s.Jobs))
	for i := range s.Jobs {
		j := &s.Jobs[i]
		if j.ID == "" {
			return fmt.Errorf("jobs[%d]: id required", i)
		}
		if seen[j.ID] {
			return fmt.Errorf("jobs[%d]: duplicate job id %q", i, j.ID)
		}
		seen[j.ID] = true
		if err := validateJob(j); err != nil {
			return err
		}
	}
	if s.Synthetic != nil {
		if err := s.Synthetic.validate(); err != nil {
			return fmt.Errorf("synthetic: %w", err)
		}
	}
	return nil
}

func validateJob(j *JobSpec) error {
	prefix := fmt.Sprintf("job %q", j.ID)
	if j.SubmitTime < 0 {
		return fmt.Errorf("%s: submit_time must be non-negative, got %d", prefix, j.SubmitTime)
	}
	if len(j.Tasks) == 0 {
		return fmt.Errorf("%s: no tasks", prefix)
	}
	deps := make(map[string][]string, len(j.Tasks))
	for i, t := range j.Tasks {
		if t.ID == "" {
			return fmt.Errorf("%s: tasks[%d]: id required", prefix, i)
		}
		if _, dup := deps[t.ID]; dup {
			return fmt.Errorf("%s: duplicate task id %q", prefix, t.ID)
		}
		deps[t.ID] = t.DependsOn
		if err := validateTask(prefix+fmt.Sprintf(": task %q", t.ID), t); err != nil {
			return err
		}
	}
	for _, t := range j.Tasks {
		for _, d := range t.DependsOn {
			if _, ok := deps[d]; !ok {
				return fmt.Errorf("%s: task %q depends on unknown task %q", prefix, t.ID, d)
			}
		}
	}
	if cyc := findCycle(j.Tasks, deps); cyc != "" {
		return fmt.Errorf("%s: dependency cycle through task %q", prefix, cyc)
	}
	return nil
}

func validateTask(prefix string, t TaskSpec) error {
	hasTrace := len(t.Trace) > 0
	if hasTrace == (t.Work > 0) {
		return fmt.Errorf("%s: exactly one of work or trace required", prefix)
	}
	if err := validateFiniteNonNegative(prefix+".work", t.Work); err != nil {
		return err
	}
	if err := validateFiniteNonNegative(prefix+".limit", t.Limit); err != nil {
		return err
	}
	if t.Timeout < 0 {
		return fmt.Errorf("%s: timeout must be non-negative, got %d", prefix, t.Timeout)
	}
	for i, f := range t.Trace {
		if f.Duration < 0 {
			return fmt.Errorf("%s: trace[%d]: duration must be non-negative, got %d", prefix, i, f.Duration)
		}
		if err := validateFiniteNonNegative(fmt.Sprintf("%s: trace[%d].usage", prefix, i), f.Usage); err != nil {
			return err
		}
	}
	return nil
}

// findCycle returns a task on a dependency cycle, or "" when there is none.
// Tasks are visited in declaration order so the reported task is stable.
func findCycle(tasks []TaskSpec, deps map[string][]string) string {
	const (
		unvisited = iota
		visiting
		visited
	)
	state := make(map[string]int, len(deps))
	var visit func(id string) string
	visit = func(id string) string {
		switch state[id] {
		case visiting:
			return id
		case visited:
			return ""
		}
		state[id] = visiting
		for _, d := range deps[id] {
			if cyc := visit(d); cyc != "" {
				return cyc
			}
		}
		state[id] = visited
		return ""
	}
	for _, t := range tasks {
		if cyc := visit(t.ID); cyc != "" {
			return cyc
		}
	}
	return ""
}

func (s *SyntheticSpec) validate() error {
	if s.Jobs < 1 {
		return fmt.Errorf("jobs must be >= 1, got %d", s.Jobs)
	}
	if s.Start < 0 {
		return fmt.Errorf("start must be non-negative, got %d", s.Start)
	}
	if err := validateFinitePositive("rate", s.Rate); err != nil {
		return err
	}
	if !validArrivalProcesses[s.Arrival.Process] {
		return fmt.Errorf("unknown arrival process %q; valid: poisson, gamma, constant", s.Arrival.Process)
	}
	if s.Arrival.CV != nil {
		if err := validateFinitePositive("arrival.cv", *s.Arrival.CV); err != nil {
			return err
		}
	}
	dists := []struct {
		name string
		d    *DistSpec
	}{{"tasks", &s.Tasks}, {"work", &s.Work}, {"limit", s.Limit}}
	for _, nd := range dists {
		name, d := nd.name, nd.d
		if d == nil {
			continue
		}
		for k, v := range d.Params {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%s.params.%s must be a finite number, got %f", name, k, v)
			}
		}
		if _, err := NewSampler(*d, 0); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func validateFinitePositive(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val <= 0 {
		return fmt.Errorf("%s must be positive, got %f", name, val)
	}
	return nil
}

func validateFiniteNonNegative(name string, val float64) error {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return fmt.Errorf("%s must be a finite number, got %f", name, val)
	}
	if val < 0 {
		return fmt.Errorf("%s must be non-negative, got %f", name, val)
	}
	return nil
}
