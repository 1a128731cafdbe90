package cluster

import (
	"math"
	"sort"
)

// Distribution captures statistical summary of a metric.
type Distribution struct {
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// NewDistribution computes a Distribution from raw values.
// Returns zero-value Distribution for empty input.
func NewDistribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	return Distribution{
		Mean:  sum / float64(len(sorted)),
		P50:   percentile(sorted, 50),
		P95:   percentile(sorted, 95),
		P99:   percentile(sorted, 99),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}

// percentile computes the p-th percentile using linear interpolation.
// Input must be sorted.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100.0 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// Metrics summarizes the workflows a Service ran. Durations are in ms of
// virtual time.
type Metrics struct {
	// JobResponse is the time from submission to the end of the last task.
	JobResponse Distribution `json:"job_response_ms"`
	// TaskWait is the time a task spent ready before it was assigned.
	TaskWait Distribution `json:"task_wait_ms"`
	// TaskRuntime is the time from assignment to the end of a task.
	TaskRuntime Distribution `json:"task_runtime_ms"`

	JobsPerSec float64 `json:"jobs_per_sec"`
}

// metricsCollector accumulates raw samples until Metrics are requested.
type metricsCollector struct {
	jobResponse []float64
	taskWait    []float64
	taskRuntime []float64
}

func (m *metricsCollector) jobFinished(response int64) {
	m.jobResponse = append(m.jobResponse, float64(response))
}

func (m *metricsCollector) taskStarted(wait int64) {
	m.taskWait = append(m.taskWait, float64(wait))
}

func (m *metricsCollector) taskRan(runtime int64) {
	m.taskRuntime = append(m.taskRuntime, float64(runtime))
}

func (m *metricsCollector) collect(now int64) *Metrics {
	out := &Metrics{
		JobResponse: NewDistribution(m.jobResponse),
		TaskWait:    NewDistribution(m.taskWait),
		TaskRuntime: NewDistribution(m.taskRuntime),
	}
	if now > 0 && len(m.jobResponse) > 0 {
		out.JobsPerSec = float64(len(m.jobResponse)) / (float64(now) / 1000)
	}
	return out
}
