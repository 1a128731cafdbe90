package sim

import (
	"container/heap"
	"fmt"
	"math"
	"reflect"

	"github.com/sirupsen/logrus"
)

// NoDeadline marks a command or timer without a virtual-time bound.
const NoDeadline int64 = math.MaxInt64

// Timer is a pending callback on the virtual clock.
type Timer struct {
	at        int64
	seq       uint64
	fn        func(now int64)
	owner     *Interpreter
	index     int
	cancelled bool
}

// At returns the virtual time at which the timer fires.
func (t *Timer) At() int64 { return t.at }

// Cancel removes the timer from its queue. Cancelling a fired or already
// cancelled timer is a no-op.
func (t *Timer) Cancel() {
	if t.cancelled {
		return
	}
	t.cancelled = true
	if t.index >= 0 {
		heap.Remove(&t.owner.queue, t.index)
	}
}

// timerQueue implements heap.Interface and orders timers by timestamp, then
// by insertion sequence so that timers at the same instant fire in FIFO order.
// See canonical Golang example here: https://pkg.go.dev/container/heap#example-package-IntHeap
type timerQueue []*Timer

func (q timerQueue) Len() int { return len(q) }
func (q timerQueue) Less(i, j int) bool {
	if q[i].at != q[j].at {
		return q[i].at < q[j].at
	}
	return q[i].seq < q[j].seq
}
func (q timerQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *timerQueue) Push(x any) {
	t := x.(*Timer)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *timerQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*q = old[0 : n-1]
	return item
}

// Interpreter is the simulated clock that drives every provider in a run.
// All callbacks execute sequentially on the goroutine that calls Run; the
// interpreter is NOT safe for concurrent use.
type Interpreter struct {
	clock    int64
	queue    timerQueue
	seq      uint64
	err      error
	attached map[Consumer]*Input
	executed uint64
}

// NewInterpreter creates an interpreter whose clock starts at start (ms).
func NewInterpreter(start int64) *Interpreter {
	return &Interpreter{
		clock:    start,
		queue:    make(timerQueue, 0),
		attached: make(map[Consumer]*Input),
	}
}

// Clock returns the current virtual time in milliseconds.
func (i *Interpreter) Clock() int64 {
	return i.clock
}

// Pending returns the number of timers still queued.
func (i *Interpreter) Pending() int {
	return len(i.queue)
}

// Executed returns the number of timers that have fired.
func (i *Interpreter) Executed() uint64 {
	return i.executed
}

// Schedule registers fn to run at virtual time at.
// Panics if at lies in the past: virtual time never moves backwards.
func (i *Interpreter) Schedule(at int64, fn func(now int64)) *Timer {
	if at < i.clock {
		panic(fmt.Sprintf("Interpreter.Schedule: timestamp %d is before clock %d", at, i.clock))
	}
	t := &Timer{at: at, seq: i.seq, fn: fn, owner: i}
	i.seq++
	heap.Push(&i.queue, t)
	return t
}

// Fail records a fatal simulation error. The run loop stops before the next
// timer fires and Run returns the first recorded error.
func (i *Interpreter) Fail(err error) {
	if err == nil || i.err != nil {
		return
	}
	logrus.Errorf("[t=%d] simulation failed: %v", i.clock, err)
	i.err = err
}

// Err returns the first error passed to Fail.
func (i *Interpreter) Err() error {
	return i.err
}

// Step fires the next non-cancelled timer. It returns false when the queue is
// drained or the interpreter has failed.
func (i *Interpreter) Step() bool {
	for len(i.queue) > 0 && i.err == nil {
		t := heap.Pop(&i.queue).(*Timer)
		if t.cancelled {
			continue
		}
		i.clock = t.at
		i.executed++
		t.cancelled = true
		t.fn(t.at)
		return true
	}
	return false
}

// RunUntil fires timers until the queue is empty, the next timer lies beyond
// horizon, or a handler calls Fail. The clock is advanced to horizon when the
// run stops because of it.
func (i *Interpreter) RunUntil(horizon int64) error {
	for i.err == nil {
		next, ok := i.peek()
		if !ok {
			break
		}
		if next > horizon {
			i.clock = max(i.clock, horizon)
			break
		}
		i.Step()
	}
	logrus.Debugf("[t=%d] interpreter stopped after %d timers", i.clock, i.executed)
	return i.err
}

// Run fires timers until the queue is drained or a handler fails.
func (i *Interpreter) Run() error {
	return i.RunUntil(NoDeadline)
}

// peek returns the timestamp of the next live timer, discarding cancelled
// timers at the head of the queue.
func (i *Interpreter) peek() (int64, bool) {
	for len(i.queue) > 0 {
		if i.queue[0].cancelled {
			heap.Pop(&i.queue)
			continue
		}
		return i.queue[0].at, true
	}
	return 0, false
}

// claim registers in as the sole provider-side handle of its consumer.
// Consumers whose value cannot be a map key are not tracked.
func (i *Interpreter) claim(in *Input) error {
	if !reflect.ValueOf(in.consumer).Comparable() {
		return nil
	}
	if owner, ok := i.attached[in.consumer]; ok && owner != in {
		return fmt.Errorf("consumer %T already attached to another provider: %w", in.consumer, ErrConsumerInUse)
	}
	i.attached[in.consumer] = in
	return nil
}

func (i *Interpreter) release(in *Input) {
	if !reflect.ValueOf(in.consumer).Comparable() {
		return
	}
	if i.attached[in.consumer] == in {
		delete(i.attached, in.consumer)
	}
}
