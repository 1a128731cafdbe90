package sim

// TaskState is the lifecycle state of a task.
type TaskState int

const (
	TaskCreated TaskState = iota
	TaskReady
	TaskActive
	TaskFinished
	TaskFailed
)

func (s TaskState) String() string {
	switch s {
	case TaskCreated:
		return "created"
	case TaskReady:
		return "ready"
	case TaskActive:
		return "active"
	case TaskFinished:
		return "finished"
	case TaskFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TaskWorkload produces the consumer that executes a task.
type TaskWorkload interface {
	NewConsumer() Consumer
}

// Task is a unit of work of a job. It becomes ready once every task it
// depends on has finished.
type Task struct {
	ID        string
	Job       *Job
	DependsOn []string
	Workload  TaskWorkload

	State      TaskState
	Host       string
	StartedAt  int64
	FinishedAt int64
	Err        error
}

// Job is a set of tasks submitted together.
type Job struct {
	ID         string
	SubmitTime int64
	Tasks      []*Task

	StartedAt  int64
	FinishedAt int64
	Failed     bool
}

// NewJob creates a job and links every task back to it.
func NewJob(id string, submit int64, tasks ...*Task) *Job {
	job := &Job{ID: id, SubmitTime: submit, Tasks: tasks}
	for _, t := range tasks {
		t.Job = job
	}
	return job
}

// Advice is the verdict of a task eligibility policy.
type Advice int

const (
	AdviceAdmit Advice = iota
	AdviceDeny
)

func (a Advice) String() string {
	if a == AdviceAdmit {
		return "ADMIT"
	}
	return "DENY"
}

// WorkflowListener observes job and task lifecycle events. Events are
// delivered synchronously in subscription order.
type WorkflowListener interface {
	JobStarted(job *Job)
	JobFinished(job *Job)
	TaskAssigned(task *Task)
	TaskFinished(task *Task)
}

// TaskEligibilityPolicy decides whether a ready task may be scheduled now.
// Policies observe lifecycle events to maintain their state.
type TaskEligibilityPolicy interface {
	WorkflowListener
	Evaluate(task *Task) (Advice, error)
}

// BaseWorkflowListener provides no-op implementations of every
// WorkflowListener callback.
type BaseWorkflowListener struct{}

func (BaseWorkflowListener) JobStarted(*Job)    {}
func (BaseWorkflowListener) JobFinished(*Job)   {}
func (BaseWorkflowListener) TaskAssigned(*Task) {}
func (BaseWorkflowListener) TaskFinished(*Task) {}
