package sim

// scriptedConsumer returns its commands in order and exits cleanly when they
// run out. It records every callback for assertions.
type scriptedConsumer struct {
	commands []Command
	repeat   *Command
	next     int

	startErr error
	nextErr  error
	onNext   func(ctx Context)

	starts     int
	confirms   []float64
	throttled  []bool
	finishes   int
	cause      error
	finishedAt int64
}

func newScripted(commands ...Command) *scriptedConsumer {
	return &scriptedConsumer{commands: commands, finishedAt: -1}
}

func (c *scriptedConsumer) OnStart(Context) error {
	c.starts++
	return c.startErr
}

func (c *scriptedConsumer) OnNext(ctx Context) (Command, error) {
	if c.onNext != nil {
		c.onNext(ctx)
	}
	if c.nextErr != nil {
		return Command{}, c.nextErr
	}
	if c.repeat != nil {
		return *c.repeat, nil
	}
	if c.next >= len(c.commands) {
		return Exit(nil), nil
	}
	cmd := c.commands[c.next]
	c.next++
	return cmd, nil
}

func (c *scriptedConsumer) OnConfirm(_ Context, speed float64) {
	c.confirms = append(c.confirms, speed)
}

func (c *scriptedConsumer) OnCapacityChanged(_ Context, throttled bool) {
	c.throttled = append(c.throttled, throttled)
}

func (c *scriptedConsumer) OnFinish(ctx Context, cause error) {
	c.finishes++
	c.cause = cause
	c.finishedAt = ctx.Clock()
}

// busy returns a consumer that asks for limit forever.
func busy(limit float64) *scriptedConsumer {
	return newScripted(ConsumeAt(1e9, limit, NoDeadline))
}

// newTestSwitch returns an interpreter at t=0 and a switch with one output.
func newTestSwitch(capacity float64) (*Interpreter, *Switch, *Output) {
	interp := NewInterpreter(0)
	sw := NewSwitch(interp)
	out := sw.AddOutput(capacity)
	return interp, sw, out
}
