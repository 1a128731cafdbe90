// Package workload provides the consumers that execute tasks, the YAML
// workload specification and the seeded synthetic job generator.
package workload

import (
	"errors"
	"fmt"

	"github.com/dcsim/dcsim/sim"
)

// ErrTimedOut is the finish cause of a work consumer whose timeout elapsed
// before its work completed.
var ErrTimedOut = errors.New("task timed out")

// Work is a task workload that processes a fixed amount of work.
type Work struct {
	// Amount of work in capacity units × seconds.
	Amount float64
	// Limit caps the processing rate. With 0 the rate follows from the
	// timeout (the remaining work over the time left), or asks for the full
	// host capacity when there is no timeout.
	Limit float64
	// Timeout is relative to the start of the task, in ms; 0 disables it.
	Timeout int64
}

// NewConsumer implements sim.TaskWorkload.
func (w Work) NewConsumer() sim.Consumer {
	return &WorkConsumer{work: w}
}

// WorkConsumer processes its work in a single command, then exits. It fails
// with ErrTimedOut when the timeout cuts the command short.
type WorkConsumer struct {
	sim.BaseConsumer
	work    Work
	issued  bool
	started int64

	// Done is the work processed when the consumer exited.
	Done float64
}

// OnStart implements sim.Consumer.
func (c *WorkConsumer) OnStart(ctx sim.Context) error {
	c.started = ctx.Clock()
	return nil
}

// OnNext implements sim.Consumer.
func (c *WorkConsumer) OnNext(ctx sim.Context) (sim.Command, error) {
	if !c.issued {
		c.issued = true
		deadline := sim.NoDeadline
		if c.work.Timeout > 0 {
			deadline = c.started + c.work.Timeout
		}
		return sim.ConsumeAt(c.work.Amount, c.work.Limit, deadline), nil
	}
	left := ctx.Remaining()
	c.Done = c.work.Amount - left
	if left > 1e-9*max(1, c.work.Amount) {
		return sim.Exit(fmt.Errorf("%w after %d ms with %g work left", ErrTimedOut, ctx.Clock()-c.started, left)), nil
	}
	return sim.Exit(nil), nil
}

// Fragment is a period of a recorded resource usage trace.
type Fragment struct {
	// Duration in ms.
	Duration int64 `yaml:"duration"`
	// Usage is the capacity used during the fragment.
	Usage float64 `yaml:"usage"`
}

// Trace is a task workload that replays recorded usage fragments.
type Trace []Fragment

// NewConsumer implements sim.TaskWorkload.
func (t Trace) NewConsumer() sim.Consumer {
	return &TraceConsumer{fragments: t}
}

// Work returns the total work of the trace.
func (t Trace) Work() float64 {
	total := 0.0
	for _, f := range t {
		total += f.Usage * float64(f.Duration) / 1000
	}
	return total
}

// TraceConsumer replays usage fragments. Each fragment demands its usage
// until the end of the fragment; work not granted in time is dropped, so a
// trace always ends after the sum of its durations.
type TraceConsumer struct {
	sim.BaseConsumer
	fragments []Fragment
	next      int

	// Dropped is the work that could not be served before fragment ends.
	Dropped float64
}

// OnNext implements sim.Consumer.
func (c *TraceConsumer) OnNext(ctx sim.Context) (sim.Command, error) {
	if c.next > 0 {
		c.Dropped += ctx.Remaining()
	}
	for c.next < len(c.fragments) {
		f := c.fragments[c.next]
		c.next++
		if f.Duration <= 0 {
			continue
		}
		end := ctx.Clock() + f.Duration
		if f.Usage <= 0 {
			return sim.Idle(end), nil
		}
		return sim.ConsumeAt(f.Usage*float64(f.Duration)/1000, f.Usage, end), nil
	}
	return sim.Exit(nil), nil
}
