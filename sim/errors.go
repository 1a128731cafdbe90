package sim

import "errors"

var (
	// ErrConsumerInUse is returned when a consumer is attached to a second
	// provider while still running on the first.
	ErrConsumerInUse = errors.New("consumer already in use")

	// ErrConverging is returned when the topology or the inputs of a switch are
	// modified from within a convergence step.
	ErrConverging = errors.New("convergence in progress")

	// ErrNotAttached is returned when detaching an input that is not attached
	// to the switch.
	ErrNotAttached = errors.New("input not attached")

	// ErrCancelled is the cause passed to OnFinish when a consumer is detached
	// before it exits on its own.
	ErrCancelled = errors.New("consumer cancelled")

	// ErrUnstableConsumer is the cause passed to OnFinish when a consumer keeps
	// returning commands that complete instantly within a single convergence.
	ErrUnstableConsumer = errors.New("consumer did not settle on a command")

	// ErrUnknownJob is returned by eligibility policies asked about a job for
	// which no job-started event was observed.
	ErrUnknownJob = errors.New("unknown job")

	// ErrUnknownNode is returned for system tree handles that do not exist.
	ErrUnknownNode = errors.New("unknown system node")

	// ErrNodeHasChildren is returned when removing a system node that still
	// parents other nodes.
	ErrNodeHasChildren = errors.New("system node has children")

	// ErrInvalidChange is returned by SystemTree.Apply for a change that would
	// leave the tree inconsistent.
	ErrInvalidChange = errors.New("invalid system change")
)
