package sim

// Consumer characterizes how a resource is consumed by one simulated
// workload instance.
//
// Implementations are stateful and must not be attached to two providers at
// the same time. Attaching a consumer that is still running elsewhere fails
// with ErrConsumerInUse. Reuse is detected by identity, so only comparable
// implementations (typically pointer types) are checked; a value type holding
// slices or maps is accepted without that check.
type Consumer interface {
	// OnStart is invoked once when the consumer is attached. A non-nil error
	// aborts the attach: the error is returned to the caller of Attach and the
	// consumer receives OnFinish with the same cause.
	OnStart(ctx Context) error

	// OnNext is invoked when the previous command completed, reached its
	// deadline or was interrupted. A non-nil error detaches the consumer and
	// is delivered as the OnFinish cause.
	OnNext(ctx Context) (Command, error)

	// OnConfirm is invoked when the provider grants the consumer a new speed.
	OnConfirm(ctx Context, speed float64)

	// OnCapacityChanged is invoked when the capacity of the provider changes.
	// throttled reports whether the active command will run slower than
	// demanded. The consumer may react by calling ctx.Interrupt().
	OnCapacityChanged(ctx Context, throttled bool)

	// OnFinish is invoked exactly once: with a nil cause after an Exit(nil)
	// command, or with the failure or cancellation cause otherwise.
	OnFinish(ctx Context, cause error)
}

// BaseConsumer provides no-op implementations of the optional Consumer
// callbacks. Embed it and implement OnNext.
type BaseConsumer struct{}

func (BaseConsumer) OnStart(Context) error           { return nil }
func (BaseConsumer) OnConfirm(Context, float64)      {}
func (BaseConsumer) OnCapacityChanged(Context, bool) {}
func (BaseConsumer) OnFinish(Context, error)         {}
