package policy

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsim/dcsim/sim"
)

func newJob(id string, n int) *sim.Job {
	tasks := make([]*sim.Task, n)
	for i := range tasks {
		tasks[i] = &sim.Task{ID: id + "-t" + string(rune('0'+i))}
	}
	return sim.NewJob(id, 0, tasks...)
}

func TestAlwaysAdmit_AdmitsAll(t *testing.T) {
	p := &AlwaysAdmit{}
	job := newJob("j", 3)
	for _, task := range job.Tasks {
		advice, err := p.Evaluate(task)
		require.NoError(t, err)
		assert.Equal(t, sim.AdviceAdmit, advice)
	}
}

func TestLimitPerJob_AdmitsUpToLimit(t *testing.T) {
	// GIVEN limit 2 and a started job with three ready tasks
	p := NewLimitPerJob(2)
	job := newJob("j", 3)
	p.JobStarted(job)

	// WHEN tasks are evaluated and assigned in order
	var advice []sim.Advice
	for _, task := range job.Tasks {
		a, err := p.Evaluate(task)
		require.NoError(t, err)
		advice = append(advice, a)
		if a == sim.AdviceAdmit {
			p.TaskAssigned(task)
		}
	}

	// THEN tasks 1 and 2 are admitted, task 3 denied
	assert.Equal(t, []sim.Advice{sim.AdviceAdmit, sim.AdviceAdmit, sim.AdviceDeny}, advice)

	// WHEN one task finishes
	p.TaskFinished(job.Tasks[0])

	// THEN the third task is admitted
	a, err := p.Evaluate(job.Tasks[2])
	require.NoError(t, err)
	assert.Equal(t, sim.AdviceAdmit, a)
	n, ok := p.Active(job)
	assert.True(t, ok)
	assert.Equal(t, 1, n)
}

func TestLimitPerJob_JobsAreIndependent(t *testing.T) {
	p := NewLimitPerJob(1)
	a, b := newJob("a", 2), newJob("b", 1)
	p.JobStarted(a)
	p.JobStarted(b)
	p.TaskAssigned(a.Tasks[0])

	adv, err := p.Evaluate(a.Tasks[1])
	require.NoError(t, err)
	assert.Equal(t, sim.AdviceDeny, adv)

	adv, err = p.Evaluate(b.Tasks[0])
	require.NoError(t, err)
	assert.Equal(t, sim.AdviceAdmit, adv)
}

func TestLimitPerJob_UnknownJobIsAnError(t *testing.T) {
	// GIVEN a job that was never started
	p := NewLimitPerJob(2)
	job := newJob("ghost", 1)

	// WHEN one of its tasks is evaluated
	_, err := p.Evaluate(job.Tasks[0])

	// THEN the contract violation surfaces
	assert.ErrorIs(t, err, sim.ErrUnknownJob)
}

func TestLimitPerJob_FinishedJobIsForgotten(t *testing.T) {
	p := NewLimitPerJob(2)
	job := newJob("j", 1)
	p.JobStarted(job)
	p.JobFinished(job)

	_, ok := p.Active(job)
	assert.False(t, ok)
	_, err := p.Evaluate(job.Tasks[0])
	assert.ErrorIs(t, err, sim.ErrUnknownJob)
}

func TestRandom_RespectsProbabilityBounds(t *testing.T) {
	task := newJob("j", 1).Tasks[0]
	never := NewRandom(0, rand.New(rand.NewSource(1)))
	always := NewRandom(1, rand.New(rand.NewSource(1)))
	for i := 0; i < 100; i++ {
		a, _ := never.Evaluate(task)
		assert.Equal(t, sim.AdviceDeny, a)
		a, _ = always.Evaluate(task)
		assert.Equal(t, sim.AdviceAdmit, a)
	}
}

func TestRandom_DeterministicForSeed(t *testing.T) {
	task := newJob("j", 1).Tasks[0]
	p1 := NewRandom(0.5, rand.New(rand.NewSource(42)))
	p2 := NewRandom(0.5, rand.New(rand.NewSource(42)))
	for i := 0; i < 50; i++ {
		a1, _ := p1.Evaluate(task)
		a2, _ := p2.Evaluate(task)
		assert.Equal(t, a1, a2)
	}
}

func TestNewEligibilityPolicy(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	assert.IsType(t, &AlwaysAdmit{}, NewEligibilityPolicy("", 0, 0, rng))
	assert.IsType(t, &AlwaysAdmit{}, NewEligibilityPolicy("always-admit", 0, 0, rng))
	assert.IsType(t, &Random{}, NewEligibilityPolicy("random", 0, 0.3, rng))

	p := NewEligibilityPolicy("limit-per-job", 0, 0, rng)
	require.IsType(t, &LimitPerJob{}, p)
	assert.Equal(t, "Limit-Active-Job(1)", p.(*LimitPerJob).String())

	assert.Panics(t, func() { NewEligibilityPolicy("lottery", 0, 0, rng) })
	assert.Panics(t, func() { NewLimitPerJob(0) })
	assert.Panics(t, func() { NewRandom(2, rng) })
}
