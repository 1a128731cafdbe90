package sim

// Context is the execution handle a provider gives to a consumer. It is
// valid from OnStart until OnFinish returns.
type Context interface {
	// Clock returns the current virtual time in milliseconds.
	Clock() int64
	// Capacity returns the capacity of the provider the consumer runs on.
	Capacity() float64
	// Speed returns the speed currently granted to the consumer.
	Speed() float64
	// Demand returns the speed the consumer currently asks for.
	Demand() float64
	// Remaining returns the work left in the active Consume command.
	Remaining() float64
	// Elapsed returns the virtual time spent in the active command.
	Elapsed() int64
	// RemainingTime returns the virtual time until the active command ends at
	// the granted speed, or NoDeadline when it cannot end on its own.
	RemainingTime() int64
	// Interrupt forces the provider to ask for the next command before the
	// active one completes.
	Interrupt()
}

// Counters are the cumulative resource-time accumulators of a switch, in
// capacity units × seconds. All fields are monotonically non-decreasing.
type Counters struct {
	Demand       float64
	Actual       float64
	Overcommit   float64
	// Interference is reserved for work lost to co-located interference.
	// Nothing in the kernel models interference domains, so it stays 0.
	Interference float64
}

// Sub returns the per-field difference c - o.
func (c Counters) Sub(o Counters) Counters {
	return Counters{
		Demand:       c.Demand - o.Demand,
		Actual:       c.Actual - o.Actual,
		Overcommit:   c.Overcommit - o.Overcommit,
		Interference: c.Interference - o.Interference,
	}
}

// Add returns the per-field sum c + o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		Demand:       c.Demand + o.Demand,
		Actual:       c.Actual + o.Actual,
		Overcommit:   c.Overcommit + o.Overcommit,
		Interference: c.Interference + o.Interference,
	}
}
