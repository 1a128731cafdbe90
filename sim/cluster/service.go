package cluster

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/trace"
)

// ErrDependencyFailed is the cause recorded on tasks that can never run
// because a task they depend on failed.
var ErrDependencyFailed = errors.New("dependency failed")

// ServiceCounters are the workflow counters of a Service.
type ServiceCounters struct {
	TasksTotal     int
	TasksPending   int
	TasksActive    int
	TasksCompleted int
	TasksFailed    int
	JobsActive     int
	JobsFinished   int
	JobsFailed     int
}

// jobState tracks the dependency graph of a running job.
type jobState struct {
	job        *sim.Job
	tasks      map[string]*sim.Task
	dependents map[string][]*sim.Task
	waiting    map[*sim.Task]int
	readyAt    map[*sim.Task]int64
	open       int
}

// Service is the workflow scheduler: it submits jobs at their submit time,
// releases tasks once their dependencies finished, and runs a scheduling
// cycle in which every ready task is evaluated by the eligibility policy,
// placed on a host and attached. Tasks a cycle leaves queued are retried one
// scheduling quantum later, or earlier when a lifecycle event requests a
// cycle first.
//
// Thread-safety: NOT thread-safe. All methods must be called from the
// interpreter goroutine.
type Service struct {
	interp      *sim.Interpreter
	hosts       []*Host
	eligibility sim.TaskEligibilityPolicy
	placement   PlacementPolicy
	listeners   []sim.WorkflowListener
	trace       *trace.SimulationTrace

	jobs     map[*sim.Job]*jobState
	queue    []*sim.Task
	cycle    *sim.Timer
	quantum  int64
	counters ServiceCounters
	metrics  metricsCollector
}

// NewService creates a scheduler over hosts. The eligibility policy is the
// first listener of every lifecycle event. st may be nil.
func NewService(interp *sim.Interpreter, hosts []*Host, eligibility sim.TaskEligibilityPolicy, placement PlacementPolicy, st *trace.SimulationTrace) *Service {
	if interp == nil || eligibility == nil || placement == nil {
		panic("NewService: interpreter, eligibility and placement must not be nil")
	}
	return &Service{
		interp:      interp,
		hosts:       hosts,
		eligibility: eligibility,
		placement:   placement,
		listeners:   []sim.WorkflowListener{eligibility},
		trace:       st,
		jobs:        make(map[*sim.Job]*jobState),
		quantum:     sim.DefaultSchedulingQuantum,
	}
}

// SetSchedulingQuantum sets the retry delay for queued tasks in virtual
// milliseconds.
func (s *Service) SetSchedulingQuantum(quantum int64) {
	if quantum <= 0 {
		panic(fmt.Sprintf("SetSchedulingQuantum: quantum must be > 0, got %d", quantum))
	}
	s.quantum = quantum
}

// SchedulingQuantum returns the retry delay for queued tasks.
func (s *Service) SchedulingQuantum() int64 { return s.quantum }

// AddListener subscribes l to lifecycle events after every earlier listener.
func (s *Service) AddListener(l sim.WorkflowListener) {
	s.listeners = append(s.listeners, l)
}

// Hosts returns the hosts the service schedules onto.
func (s *Service) Hosts() []*Host { return s.hosts }

// Counters returns a copy of the workflow counters.
func (s *Service) Counters() ServiceCounters { return s.counters }

// Metrics summarizes the jobs and tasks that finished so far.
func (s *Service) Metrics() *Metrics {
	return s.metrics.collect(s.interp.Clock())
}

// Submit schedules the start of every job at its submit time, or now when
// the submit time already passed. Jobs with inconsistent dependencies are
// rejected before anything is scheduled.
func (s *Service) Submit(jobs ...*sim.Job) error {
	states := make([]*jobState, len(jobs))
	for i, job := range jobs {
		st, err := newJobState(job)
		if err != nil {
			return err
		}
		states[i] = st
	}
	now := s.interp.Clock()
	for _, st := range states {
		s.interp.Schedule(max(now, st.job.SubmitTime), func(now int64) {
			s.start(st, now)
		})
	}
	return nil
}

func newJobState(job *sim.Job) (*jobState, error) {
	st := &jobState{
		job:        job,
		tasks:      make(map[string]*sim.Task, len(job.Tasks)),
		dependents: make(map[string][]*sim.Task),
		waiting:    make(map[*sim.Task]int, len(job.Tasks)),
		readyAt:    make(map[*sim.Task]int64, len(job.Tasks)),
		open:       len(job.Tasks),
	}
	for _, t := range job.Tasks {
		if _, dup := st.tasks[t.ID]; dup {
			return nil, fmt.Errorf("job %q: duplicate task %q", job.ID, t.ID)
		}
		if t.Workload == nil {
			return nil, fmt.Errorf("job %q: task %q has no workload", job.ID, t.ID)
		}
		st.tasks[t.ID] = t
	}
	for _, t := range job.Tasks {
		for _, d := range t.DependsOn {
			if _, ok := st.tasks[d]; !ok {
				return nil, fmt.Errorf("job %q: task %q depends on unknown task %q", job.ID, t.ID, d)
			}
			st.dependents[d] = append(st.dependents[d], t)
		}
		st.waiting[t] = len(t.DependsOn)
	}
	// Kahn's algorithm: every task must be reachable from the roots.
	waiting := make(map[*sim.Task]int, len(st.waiting))
	var ready []*sim.Task
	for _, t := range job.Tasks {
		waiting[t] = st.waiting[t]
		if waiting[t] == 0 {
			ready = append(ready, t)
		}
	}
	seen := 0
	for len(ready) > 0 {
		t := ready[0]
		ready = ready[1:]
		seen++
		for _, d := range st.dependents[t.ID] {
			if waiting[d]--; waiting[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if seen != len(job.Tasks) {
		return nil, fmt.Errorf("job %q: dependency cycle", job.ID)
	}
	return st, nil
}

func (s *Service) start(st *jobState, now int64) {
	job := st.job
	job.StartedAt = now
	s.jobs[job] = st
	s.counters.JobsActive++
	s.counters.TasksTotal += len(job.Tasks)
	s.counters.TasksPending += len(job.Tasks)
	logrus.Debugf("[t=%d] job %s started with %d tasks", now, job.ID, len(job.Tasks))
	for _, l := range s.listeners {
		l.JobStarted(job)
	}
	if st.open == 0 {
		s.finishJob(st, now)
		return
	}
	for _, t := range job.Tasks {
		t.State = sim.TaskCreated
		if st.waiting[t] == 0 {
			s.release(st, t, now)
		}
	}
	s.requestCycle()
}

// release makes t ready for scheduling.
func (s *Service) release(st *jobState, t *sim.Task, now int64) {
	t.State = sim.TaskReady
	st.readyAt[t] = now
	s.queue = append(s.queue, t)
}

// requestCycle schedules a scheduling cycle at the current virtual time.
// The cycle runs from its own timer so that it never attaches from within a
// convergence.
func (s *Service) requestCycle() {
	s.scheduleCycle(s.interp.Clock())
}

// scheduleCycle arms the cycle timer at at. Requests coalesce into the
// earliest pending cycle; a later retry is pulled forward.
func (s *Service) scheduleCycle(at int64) {
	if len(s.queue) == 0 {
		return
	}
	if s.cycle != nil {
		if s.cycle.At() <= at {
			return
		}
		s.cycle.Cancel()
	}
	s.cycle = s.interp.Schedule(at, func(now int64) {
		s.cycle = nil
		s.schedule(now)
	})
}

// schedule runs one scheduling cycle over the ready queue in FIFO order.
// Denied and unplaced tasks stay queued and are retried after a quantum.
func (s *Service) schedule(now int64) {
	queue := s.queue
	s.queue = nil
	for i, t := range queue {
		if t.State != sim.TaskReady {
			continue
		}
		advice, err := s.eligibility.Evaluate(t)
		if err != nil {
			s.interp.Fail(fmt.Errorf("scheduling task %q: %w", t.ID, err))
			s.queue = append(s.queue, queue[i:]...)
			return
		}
		if s.trace.Enabled() {
			s.trace.RecordEligibility(trace.EligibilityRecord{
				TaskID:   t.ID,
				JobID:    t.Job.ID,
				Clock:    now,
				Admitted: advice == sim.AdviceAdmit,
				Reason:   fmt.Sprint(s.eligibility),
			})
		}
		if advice != sim.AdviceAdmit {
			s.queue = append(s.queue, t)
			continue
		}
		if !s.place(t, now) {
			s.queue = append(s.queue, t)
		}
	}
	s.scheduleCycle(now + s.quantum)
}

// place chooses a host for t and attaches its consumer. It returns false
// when no host fits.
func (s *Service) place(t *sim.Task, now int64) bool {
	snapshots := make([]HostSnapshot, len(s.hosts))
	for i, h := range s.hosts {
		snapshots[i] = HostSnapshot{
			ID:       h.Name(),
			Capacity: h.Capacity(),
			Demand:   h.Demand(),
			Usage:    h.Usage(),
			Tasks:    h.Tasks(),
			Fits:     h.CanFit(),
		}
	}
	decision := s.placement.Place(t, snapshots)
	if s.trace.Enabled() {
		candidates := make([]trace.CandidateHost, 0, len(snapshots))
		for _, snap := range snapshots {
			if snap.Fits {
				candidates = append(candidates, trace.CandidateHost{
					HostID: snap.ID,
					Demand: snap.Demand,
					Usage:  snap.Usage,
					Tasks:  snap.Tasks,
				})
			}
		}
		s.trace.RecordPlacement(trace.PlacementRecord{
			TaskID:     t.ID,
			Clock:      now,
			ChosenHost: decision.Target,
			Reason:     decision.Reason,
			Candidates: candidates,
		})
	}
	if decision.Index < 0 {
		logrus.Debugf("[t=%d] task %s not placed: %s", now, t.ID, decision.Reason)
		return false
	}

	host := s.hosts[decision.Index]
	tc := &taskConsumer{Consumer: t.Workload.NewConsumer(), service: s, task: t, host: host}
	if _, err := host.Attach(tc); err != nil {
		logrus.Warnf("[t=%d] task %s failed to start on %s: %v", now, t.ID, host.Name(), err)
		if !tc.finished {
			s.taskFinished(tc, err)
		}
		return true
	}
	tc.attached = true
	t.State = sim.TaskActive
	t.Host = host.Name()
	t.StartedAt = now
	s.counters.TasksPending--
	s.counters.TasksActive++
	s.metrics.taskStarted(now - s.jobs[t.Job].readyAt[t])
	logrus.Debugf("[t=%d] task %s assigned to %s (%s)", now, t.ID, host.Name(), decision.Reason)
	for _, l := range s.listeners {
		l.TaskAssigned(t)
	}
	return true
}

// taskFinished handles the end of a task consumer. It may run inside a
// convergence, so it only updates state and requests a cycle.
func (s *Service) taskFinished(tc *taskConsumer, cause error) {
	t := tc.task
	now := s.interp.Clock()
	st, ok := s.jobs[t.Job]
	if !ok {
		s.interp.Fail(fmt.Errorf("task %q finished: job %q: %w", t.ID, t.Job.ID, sim.ErrUnknownJob))
		return
	}
	t.FinishedAt = now
	if tc.attached {
		tc.host.released()
		s.counters.TasksActive--
		s.metrics.taskRan(now - t.StartedAt)
	} else {
		s.counters.TasksPending--
	}

	if cause == nil {
		t.State = sim.TaskFinished
		s.counters.TasksCompleted++
		logrus.Debugf("[t=%d] task %s finished on %s", now, t.ID, tc.host.Name())
	} else {
		t.State = sim.TaskFailed
		t.Err = cause
		s.counters.TasksFailed++
		st.job.Failed = true
		logrus.Debugf("[t=%d] task %s failed on %s: %v", now, t.ID, tc.host.Name(), cause)
	}
	st.open--
	if tc.attached {
		for _, l := range s.listeners {
			l.TaskFinished(t)
		}
	}

	if cause == nil {
		for _, d := range st.dependents[t.ID] {
			if st.waiting[d]--; st.waiting[d] == 0 {
				s.release(st, d, now)
			}
		}
	} else {
		s.abandonDependents(st, t, now)
	}
	if st.open == 0 {
		s.finishJob(st, now)
		return
	}
	s.requestCycle()
}

// abandonDependents fails every task that transitively depends on t.
func (s *Service) abandonDependents(st *jobState, t *sim.Task, now int64) {
	for _, d := range st.dependents[t.ID] {
		if d.State == sim.TaskFailed {
			continue
		}
		d.State = sim.TaskFailed
		d.Err = fmt.Errorf("task %q: %w", t.ID, ErrDependencyFailed)
		d.FinishedAt = now
		s.counters.TasksPending--
		s.counters.TasksFailed++
		st.open--
		s.abandonDependents(st, d, now)
	}
}

func (s *Service) finishJob(st *jobState, now int64) {
	job := st.job
	job.FinishedAt = now
	delete(s.jobs, job)
	s.counters.JobsActive--
	s.counters.JobsFinished++
	if job.Failed {
		s.counters.JobsFailed++
	}
	s.metrics.jobFinished(now - job.SubmitTime)
	logrus.Debugf("[t=%d] job %s finished (failed=%v)", now, job.ID, job.Failed)
	for _, l := range s.listeners {
		l.JobFinished(job)
	}
}

// Close releases every host, which cancels the running tasks: they fail with
// sim.ErrCancelled. It must not be called from within a convergence.
func (s *Service) Close() error {
	var result *multierror.Error
	for _, h := range s.hosts {
		if err := h.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if s.cycle != nil {
		s.cycle.Cancel()
		s.cycle = nil
	}
	return result.ErrorOrNil()
}

// taskConsumer forwards to the consumer of a task and reports its end to
// the service.
type taskConsumer struct {
	sim.Consumer
	service  *Service
	task     *sim.Task
	host     *Host
	attached bool
	finished bool
}

// OnFinish implements sim.Consumer.
func (c *taskConsumer) OnFinish(ctx sim.Context, cause error) {
	c.finished = true
	c.Consumer.OnFinish(ctx, cause)
	c.service.taskFinished(c, cause)
}
