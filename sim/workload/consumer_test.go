package workload

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsim/dcsim/sim"
)

// finishProbe wraps a consumer and records its finish.
type finishProbe struct {
	sim.Consumer
	cause    error
	finished bool
	at       int64
}

func (p *finishProbe) OnFinish(ctx sim.Context, cause error) {
	p.finished = true
	p.cause = cause
	p.at = ctx.Clock()
	p.Consumer.OnFinish(ctx, cause)
}

func runOnSwitch(t *testing.T, capacity float64, consumers ...sim.Consumer) (*sim.Interpreter, []*finishProbe) {
	t.Helper()
	interp := sim.NewInterpreter(0)
	sw := sim.NewSwitch(interp)
	sw.AddOutput(capacity)
	probes := make([]*finishProbe, len(consumers))
	for i, c := range consumers {
		probes[i] = &finishProbe{Consumer: c}
		_, err := sw.Attach(probes[i])
		require.NoError(t, err)
	}
	require.NoError(t, interp.Run())
	return interp, probes
}

func TestWorkConsumer_CompletesWork(t *testing.T) {
	// GIVEN 1000 work at a limit of 100 on a 1000-capacity switch
	c := Work{Amount: 1000, Limit: 100}.NewConsumer()

	// WHEN run
	_, probes := runOnSwitch(t, 1000, c)

	// THEN it finishes cleanly after 10 s
	assert.True(t, probes[0].finished)
	assert.NoError(t, probes[0].cause)
	assert.Equal(t, int64(10_000), probes[0].at)
	assert.InDelta(t, 1000, c.(*WorkConsumer).Done, 1e-6)
}

func TestWorkConsumer_TimeoutFails(t *testing.T) {
	// GIVEN 1000 work at 100 with a 4 s timeout
	c := Work{Amount: 1000, Limit: 100, Timeout: 4000}.NewConsumer()

	// WHEN run
	_, probes := runOnSwitch(t, 1000, c)

	// THEN the consumer fails with ErrTimedOut at the deadline after 400 work
	assert.True(t, errors.Is(probes[0].cause, ErrTimedOut))
	assert.Equal(t, int64(4000), probes[0].at)
	assert.InDelta(t, 400, c.(*WorkConsumer).Done, 1e-6)
}

func TestWorkConsumer_TimeoutWithoutLimitSpreadsWork(t *testing.T) {
	// GIVEN 1000 work with a 4 s timeout and no limit on a 1000-capacity switch
	interp := sim.NewInterpreter(0)
	sw := sim.NewSwitch(interp)
	sw.AddOutput(1000)
	c := Work{Amount: 1000, Timeout: 4000}.NewConsumer()
	_, err := sw.Attach(c)
	require.NoError(t, err)

	// WHEN the first command is running
	require.NoError(t, interp.RunUntil(1))

	// THEN it asks for the remaining work over the time left, not the capacity
	assert.InDelta(t, 250, sw.Demand(), 1e-9)

	// AND it finishes cleanly exactly at the timeout
	require.NoError(t, interp.Run())
	assert.Equal(t, int64(4000), interp.Clock())
	assert.InDelta(t, 1000, c.(*WorkConsumer).Done, 1e-6)
}

func TestWorkConsumer_FreshConsumerPerCall(t *testing.T) {
	w := Work{Amount: 1}
	assert.NotSame(t, w.NewConsumer(), w.NewConsumer())
}

func TestTraceConsumer_ReplaysFragments(t *testing.T) {
	// GIVEN a trace of 1 s at 200, 2 s idle, then 1 s at 400, on a 300-capacity switch
	tr := Trace{{Duration: 1000, Usage: 200}, {Duration: 2000}, {Duration: 0, Usage: 50}, {Duration: 1000, Usage: 400}}
	c := tr.NewConsumer()

	// WHEN run
	_, probes := runOnSwitch(t, 300, c)

	// THEN the trace ends after its total duration and the throttled fragment drops 100 work
	assert.NoError(t, probes[0].cause)
	assert.Equal(t, int64(4000), probes[0].at)
	assert.InDelta(t, 100, c.(*TraceConsumer).Dropped, 1e-6)
	assert.InDelta(t, 600, tr.Work(), 1e-9)
}
