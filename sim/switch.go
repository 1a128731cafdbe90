package sim

import (
	"fmt"
	"math"
	"sort"

	"github.com/sirupsen/logrus"
)

// maxCommandsPerConvergence bounds how many instantly-completing commands a
// consumer may return within a single convergence.
const maxCommandsPerConvergence = 1024

// completionEpsilon is the fraction of a command's work below which the
// command counts as completed.
const completionEpsilon = 1e-9

type inputState int

const (
	inputActive inputState = iota
	inputFinished
)

// Input is the provider-side handle of a consumer attached to a Switch.
// It implements Context for that consumer.
type Input struct {
	sw       *Switch
	consumer Consumer
	state    inputState

	cmd       Command
	cmdStart  int64
	work      float64
	remaining float64
	needsNext bool

	demand    float64
	speed     float64
	confirmed float64
	finishAt  int64

	interrupted bool
}

// InputState is a read-only copy of an input taken after convergence.
type InputState struct {
	Command   Command
	Demand    float64
	Speed     float64
	Remaining float64
}

// Clock implements Context.
func (in *Input) Clock() int64 { return in.sw.interp.Clock() }

// Capacity implements Context.
func (in *Input) Capacity() float64 { return in.sw.capacity }

// Speed implements Context.
func (in *Input) Speed() float64 { return in.speed }

// Demand implements Context.
func (in *Input) Demand() float64 { return in.demand }

// Remaining implements Context. Progress since the last convergence is
// included.
func (in *Input) Remaining() float64 {
	if in.cmd.Kind != CommandConsume || in.state != inputActive {
		return 0
	}
	elapsed := float64(in.Clock()-in.sw.lastUpdate) / 1000
	return math.Max(0, in.remaining-in.speed*elapsed)
}

// Elapsed implements Context.
func (in *Input) Elapsed() int64 { return in.Clock() - in.cmdStart }

// RemainingTime implements Context.
func (in *Input) RemainingTime() int64 {
	if in.finishAt == NoDeadline {
		return NoDeadline
	}
	return max(0, in.finishAt-in.Clock())
}

// Interrupt implements Context.
func (in *Input) Interrupt() {
	if in.state != inputActive {
		return
	}
	in.interrupted = true
	in.sw.invalidate()
}

// Consumer returns the consumer driven through this input.
func (in *Input) Consumer() Consumer { return in.consumer }

// Finished reports whether the consumer has received OnFinish.
func (in *Input) Finished() bool { return in.state == inputFinished }

// done reports whether the active command has run its course at now.
func (in *Input) done(now int64) bool {
	if in.needsNext || in.interrupted {
		return true
	}
	if in.cmd.Deadline <= now {
		return true
	}
	if in.cmd.Kind == CommandConsume {
		return in.remaining <= completionEpsilon*math.Max(1, in.work) || in.finishAt <= now
	}
	return false
}

// demandAt computes the implicit demand of the active command.
func (in *Input) demandAt(now int64) float64 {
	if in.cmd.Kind != CommandConsume {
		return 0
	}
	switch {
	case in.cmd.Limit > 0:
		return in.cmd.Limit
	case in.cmd.Deadline != NoDeadline:
		return in.remaining / (float64(in.cmd.Deadline-now) / 1000)
	default:
		return in.sw.capacity
	}
}

// finishTime returns the virtual time at which the active command ends at the
// granted speed.
func (in *Input) finishTime(now int64) int64 {
	finish := in.cmd.Deadline
	if in.cmd.Kind != CommandConsume || in.speed <= 0 {
		return finish
	}
	ms := math.Ceil(in.remaining / in.speed * 1000)
	if ms >= float64(NoDeadline-now) {
		return finish
	}
	return min(finish, now+max(1, int64(ms)))
}

// Switch multiplexes the inputs of several consumers onto one or more outputs
// using max-min fair sharing: inputs asking for less than their fair share are
// fully satisfied and the remaining capacity is split equally among the rest.
type Switch struct {
	interp *Interpreter
	tree   *SystemTree
	node   NodeID

	inputs  []*Input
	outputs []*Output

	capacity   float64
	demand     float64
	speed      float64
	counters   Counters
	lastUpdate int64

	wake       *Timer
	scheduled  *Timer
	converging bool
	demandBuf  []float64
}

// Output is one provider of capacity behind a Switch, e.g. a CPU.
type Output struct {
	sw       *Switch
	capacity float64
}

// NewSwitch creates a switch without outputs driven by interp.
func NewSwitch(interp *Interpreter) *Switch {
	if interp == nil {
		panic("NewSwitch: interpreter must not be nil")
	}
	return &Switch{
		interp:     interp,
		node:       NoNode,
		lastUpdate: interp.Clock(),
	}
}

// AddOutput adds a provider with the given capacity to the switch.
func (s *Switch) AddOutput(capacity float64) *Output {
	if capacity < 0 {
		panic(fmt.Sprintf("Switch.AddOutput: capacity must be >= 0, got %g", capacity))
	}
	o := &Output{sw: s}
	s.outputs = append(s.outputs, o)
	o.SetCapacity(capacity)
	return o
}

// Capacity returns the capacity of this output.
func (o *Output) Capacity() float64 { return o.capacity }

// SetCapacity changes the capacity of this output. Every active consumer is
// told whether the change throttles it and the switch re-converges at the
// current virtual time.
func (o *Output) SetCapacity(capacity float64) {
	if capacity < 0 {
		panic(fmt.Sprintf("Output.SetCapacity: capacity must be >= 0, got %g", capacity))
	}
	if capacity == o.capacity {
		return
	}
	s := o.sw
	s.flush(s.interp.Clock())
	o.capacity = capacity
	total := 0.0
	for _, out := range s.outputs {
		total += out.capacity
	}
	s.capacity = total

	level := s.waterLevel(total)
	for _, in := range s.snapshotInputs() {
		if in.state == inputActive {
			in.consumer.OnCapacityChanged(in, in.demand > level)
		}
	}
	s.invalidate()
}

// Capacity returns the total capacity of all outputs.
func (s *Switch) Capacity() float64 { return s.capacity }

// Demand returns the aggregate demand computed at the last convergence.
func (s *Switch) Demand() float64 { return s.demand }

// Speed returns the aggregate granted speed computed at the last convergence.
func (s *Switch) Speed() float64 { return s.speed }

// Node returns the system tree node the switch belongs to, or NoNode.
func (s *Switch) Node() NodeID { return s.node }

// Counters returns a copy of the cumulative counters as of the last
// convergence, capacity change, attach or detach.
func (s *Switch) Counters() Counters { return s.counters }

// CountersAt returns the counters extrapolated to now at the speeds of the
// last convergence. Nothing is credited to the inputs.
func (s *Switch) CountersAt(now int64) Counters {
	dt := now - s.lastUpdate
	if dt <= 0 {
		return s.counters
	}
	return s.counters.Add(s.accrued(float64(dt) / 1000))
}

// Inputs returns a copy of the state of every attached input.
func (s *Switch) Inputs() []InputState {
	states := make([]InputState, 0, len(s.inputs))
	for _, in := range s.inputs {
		states = append(states, InputState{
			Command:   in.cmd,
			Demand:    in.demand,
			Speed:     in.speed,
			Remaining: in.remaining,
		})
	}
	return states
}

// Len returns the number of attached consumers.
func (s *Switch) Len() int { return len(s.inputs) }

// Attach starts c on this switch. OnStart runs synchronously; its error is
// returned and the consumer is finished with it. The first command is
// requested at the next convergence, scheduled at the current virtual time.
func (s *Switch) Attach(c Consumer) (*Input, error) {
	if s.converging {
		return nil, fmt.Errorf("attach %T: %w", c, ErrConverging)
	}
	now := s.interp.Clock()
	in := &Input{
		sw:        s,
		consumer:  c,
		cmd:       Idle(NoDeadline),
		cmdStart:  now,
		needsNext: true,
		confirmed: -1,
		finishAt:  NoDeadline,
	}
	if err := s.interp.claim(in); err != nil {
		return nil, err
	}
	s.flush(now)
	if err := c.OnStart(in); err != nil {
		s.finish(in, err)
		return nil, fmt.Errorf("starting consumer %T: %w", c, err)
	}
	s.inputs = append(s.inputs, in)
	s.invalidate()
	return in, nil
}

// Detach cancels the consumer behind in. It receives OnFinish with
// ErrCancelled; work done up to the current virtual time is credited.
func (s *Switch) Detach(in *Input) error {
	if in == nil || in.sw != s || in.state != inputActive {
		return ErrNotAttached
	}
	if s.converging {
		return fmt.Errorf("detach %T: %w", in.consumer, ErrConverging)
	}
	s.flush(s.interp.Clock())
	s.remove(in)
	s.finish(in, ErrCancelled)
	s.invalidate()
	return nil
}

// Close cancels every attached consumer and stops the switch's timers.
func (s *Switch) Close() {
	s.flush(s.interp.Clock())
	inputs := s.inputs
	s.inputs = nil
	for _, in := range inputs {
		s.finish(in, ErrCancelled)
	}
	s.demand, s.speed = 0, 0
	if s.wake != nil {
		s.wake.Cancel()
		s.wake = nil
	}
	if s.scheduled != nil {
		s.scheduled.Cancel()
		s.scheduled = nil
	}
}

// ConvergeAt re-solves the allocation problem at virtual time now: it credits
// progress since the previous convergence, asks consumers whose command ended
// for the next one, computes the max-min fair share against the present
// capacity, confirms changed speeds and schedules the next completion.
func (s *Switch) ConvergeAt(now int64) {
	if s.converging {
		s.invalidate()
		return
	}
	if s.scheduled != nil {
		s.scheduled.Cancel()
		s.scheduled = nil
	}
	s.converging = true
	if s.tree != nil {
		s.tree.converging++
	}
	s.flush(now)

	live := make([]*Input, 0, len(s.inputs))
	for _, in := range s.inputs {
		if s.advance(in, now) {
			live = append(live, in)
		}
	}
	s.inputs = live

	level := s.waterLevel(s.capacity)
	s.demand, s.speed = 0, 0
	next := NoDeadline
	for _, in := range s.inputs {
		in.speed = math.Min(in.demand, level)
		s.demand += in.demand
		s.speed += in.speed
	}
	for _, in := range s.inputs {
		if in.speed != in.confirmed {
			in.confirmed = in.speed
			in.consumer.OnConfirm(in, in.speed)
		}
		in.finishAt = in.finishTime(now)
		next = min(next, in.finishAt)
	}
	s.reschedule(next)
	s.converging = false
	if s.tree != nil {
		s.tree.converging--
	}

	logrus.Tracef("[t=%d] switch converged: inputs=%d capacity=%g demand=%g speed=%g",
		now, len(s.inputs), s.capacity, s.demand, s.speed)

	if s.tree != nil {
		s.tree.onSwitchConverged(s, now)
	}
}

// advance moves in to a command that is still running at now. It returns
// false when the consumer finished.
func (s *Switch) advance(in *Input, now int64) bool {
	for i := 0; in.done(now); i++ {
		if i >= maxCommandsPerConvergence {
			s.finish(in, fmt.Errorf("%T: %w", in.consumer, ErrUnstableConsumer))
			return false
		}
		in.interrupted = false
		cmd, err := in.consumer.OnNext(in)
		if err != nil {
			logrus.Warnf("[t=%d] consumer %T failed: %v", now, in.consumer, err)
			s.finish(in, err)
			return false
		}
		switch cmd.Kind {
		case CommandExit:
			s.finish(in, cmd.Cause)
			return false
		case CommandConsume:
			in.work = math.Max(0, cmd.Work)
			in.remaining = in.work
		default:
			in.work, in.remaining = 0, 0
		}
		in.cmd = cmd
		in.cmdStart = now
		in.needsNext = false
		in.finishAt = NoDeadline
	}
	in.demand = in.demandAt(now)
	return true
}

// waterLevel returns the max-min fair share for the current demands against
// capacity: an input receives min(demand, level). It is +Inf when the total
// demand fits.
func (s *Switch) waterLevel(capacity float64) float64 {
	s.demandBuf = s.demandBuf[:0]
	total := 0.0
	for _, in := range s.inputs {
		if in.state != inputActive {
			continue
		}
		s.demandBuf = append(s.demandBuf, in.demand)
		total += in.demand
	}
	if total <= capacity {
		return math.Inf(1)
	}
	sort.Float64s(s.demandBuf)
	remaining := capacity
	n := len(s.demandBuf)
	for i, d := range s.demandBuf {
		share := remaining / float64(n-i)
		if d >= share {
			return share
		}
		remaining -= d
	}
	return math.Inf(1)
}

// flush credits progress and counters for the interval since the last update
// using the speeds and demands of the previous convergence.
func (s *Switch) flush(now int64) {
	dt := now - s.lastUpdate
	if dt <= 0 {
		return
	}
	s.lastUpdate = now
	secs := float64(dt) / 1000

	s.counters = s.counters.Add(s.accrued(secs))
	for _, in := range s.inputs {
		if in.state == inputActive && in.cmd.Kind == CommandConsume && in.speed > 0 {
			in.remaining = math.Max(0, in.remaining-in.speed*secs)
		}
	}
}

// accrued returns the counter increments of secs seconds at the speeds and
// demands of the previous convergence. Completion times are rounded up to
// whole milliseconds, so an input stops accruing once its remaining work is
// served rather than at the end of the interval.
func (s *Switch) accrued(secs float64) Counters {
	var c Counters
	var spans []span
	for _, in := range s.inputs {
		if in.state != inputActive || in.demand <= 0 {
			continue
		}
		active := in.activeFor(secs)
		c.Demand += in.demand * active
		if in.cmd.Kind == CommandConsume {
			c.Actual += math.Min(in.speed*secs, in.remaining)
		} else {
			c.Actual += in.speed * active
		}
		spans = append(spans, span{secs: active, demand: in.demand})
	}
	c.Overcommit = overcommit(spans, s.capacity)
	return c
}

// activeFor returns how many of the next secs seconds in keeps demanding
// capacity at its current speed.
func (in *Input) activeFor(secs float64) float64 {
	if in.cmd.Kind != CommandConsume || in.speed <= 0 || in.speed*secs <= in.remaining {
		return secs
	}
	return in.remaining / in.speed
}

// span is the demand of one input and how long it lasts within an interval.
type span struct {
	secs   float64
	demand float64
}

// overcommit integrates the demand above capacity while the inputs of spans
// drop out one by one.
func overcommit(spans []span, capacity float64) float64 {
	sort.Slice(spans, func(i, j int) bool { return spans[i].secs < spans[j].secs })
	total := 0.0
	for _, sp := range spans {
		total += sp.demand
	}
	result, prev := 0.0, 0.0
	for _, sp := range spans {
		result += math.Max(0, total-capacity) * (sp.secs - prev)
		total -= sp.demand
		prev = sp.secs
	}
	return result
}

// reschedule arms the single wake-up timer of the switch.
func (s *Switch) reschedule(at int64) {
	if s.wake != nil {
		if s.wake.At() == at {
			return
		}
		s.wake.Cancel()
		s.wake = nil
	}
	if at == NoDeadline {
		return
	}
	s.wake = s.interp.Schedule(at, func(now int64) {
		s.wake = nil
		s.ConvergeAt(now)
	})
}

// invalidate schedules a convergence at the current virtual time. Multiple
// invalidations before it fires coalesce into one.
func (s *Switch) invalidate() {
	if s.scheduled != nil {
		return
	}
	s.scheduled = s.interp.Schedule(s.interp.Clock(), func(now int64) {
		s.scheduled = nil
		s.ConvergeAt(now)
	})
}

func (s *Switch) remove(in *Input) {
	for i, other := range s.inputs {
		if other == in {
			s.inputs = append(s.inputs[:i], s.inputs[i+1:]...)
			return
		}
	}
}

// snapshotInputs returns a copy of the input list so callbacks may not
// disturb iteration.
func (s *Switch) snapshotInputs() []*Input {
	return append([]*Input(nil), s.inputs...)
}

func (s *Switch) finish(in *Input, cause error) {
	if in.state == inputFinished {
		return
	}
	in.state = inputFinished
	in.demand, in.speed = 0, 0
	in.finishAt = NoDeadline
	s.interp.release(in)
	in.consumer.OnFinish(in, cause)
}
