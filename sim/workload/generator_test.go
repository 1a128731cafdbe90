package workload

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsim/dcsim/sim"
)

func TestBuildJobs_ListedAndSynthetic_SortedBySubmitTime(t *testing.T) {
	// GIVEN the sample spec with one listed job at 1000 ms and ten synthetic jobs
	spec, err := LoadWorkloadSpec(writeSpec(t, sampleSpec))
	require.NoError(t, err)

	// WHEN jobs are built
	jobs, err := BuildJobs(spec, rand.New(rand.NewSource(spec.Seed)))
	require.NoError(t, err)

	// THEN all eleven jobs exist in submit order with tasks linked back
	require.Len(t, jobs, 11)
	for i := 1; i < len(jobs); i++ {
		assert.LessOrEqual(t, jobs[i-1].SubmitTime, jobs[i].SubmitTime)
	}
	var etl *sim.Job
	for _, j := range jobs {
		for _, task := range j.Tasks {
			assert.Same(t, j, task.Job)
		}
		if j.ID == "etl" {
			etl = j
		}
	}
	require.NotNil(t, etl)
	assert.Equal(t, int64(1000), etl.SubmitTime)
	assert.Equal(t, Work{Amount: 8000, Timeout: 60000}, etl.Tasks[1].Workload)
	assert.IsType(t, Trace{}, etl.Tasks[2].Workload)
}

func TestBuildJobs_InvalidSpec_ReturnsError(t *testing.T) {
	_, err := BuildJobs(&WorkloadSpec{}, rand.New(rand.NewSource(1)))
	assert.Error(t, err)
}

func TestGenerateJobs_Deterministic_SameSeedSameOutput(t *testing.T) {
	spec := &SyntheticSpec{
		Jobs:  20,
		Rate:  5,
		Tasks: DistSpec{Type: "uniform", Params: map[string]float64{"min": 1, "max": 5}},
		Work:  DistSpec{Type: "exponential", Params: map[string]float64{"mean": 1000}},
	}

	a, err := GenerateJobs(spec, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	b, err := GenerateJobs(spec, rand.New(rand.NewSource(99)))
	require.NoError(t, err)

	require.Len(t, a, 20)
	for i := range a {
		assert.Equal(t, a[i].SubmitTime, b[i].SubmitTime)
		require.Len(t, b[i].Tasks, len(a[i].Tasks))
		for k := range a[i].Tasks {
			assert.Equal(t, a[i].Tasks[k].Workload, b[i].Tasks[k].Workload)
		}
	}
}

func TestGenerateJobs_ConstantArrival_ChainedTasks(t *testing.T) {
	// GIVEN two jobs per second at constant spacing, three chained tasks each
	spec := &SyntheticSpec{
		Jobs:    3,
		Start:   500,
		Rate:    2,
		Arrival: ArrivalSpec{Process: "constant"},
		Tasks:   DistSpec{Type: "constant", Params: map[string]float64{"value": 3}},
		Work:    DistSpec{Type: "constant", Params: map[string]float64{"value": 100}},
		Limit:   &DistSpec{Type: "constant", Params: map[string]float64{"value": 10}},
		Chain:   true,
	}

	jobs, err := GenerateJobs(spec, rand.New(rand.NewSource(1)))
	require.NoError(t, err)

	// THEN jobs are 500 ms apart starting at Start
	require.Len(t, jobs, 3)
	assert.Equal(t, []int64{500, 1000, 1500}, []int64{jobs[0].SubmitTime, jobs[1].SubmitTime, jobs[2].SubmitTime})
	tasks := jobs[1].Tasks
	require.Len(t, tasks, 3)
	assert.Equal(t, "job_1/task_0", tasks[0].ID)
	assert.Empty(t, tasks[0].DependsOn)
	assert.Equal(t, []string{"job_1/task_1"}, tasks[2].DependsOn)
	assert.Equal(t, Work{Amount: 100, Limit: 10}, tasks[2].Workload)
}
