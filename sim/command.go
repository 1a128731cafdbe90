package sim

import "fmt"

// CommandKind enumerates the commands a consumer may hand to its provider.
type CommandKind int

const (
	// CommandConsume asks the provider to process an amount of work.
	CommandConsume CommandKind = iota
	// CommandIdle asks the provider to wait without demanding capacity.
	CommandIdle
	// CommandExit signals that the consumer is done.
	CommandExit
)

func (k CommandKind) String() string {
	switch k {
	case CommandConsume:
		return "consume"
	case CommandIdle:
		return "idle"
	case CommandExit:
		return "exit"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// Command is the next unit of behaviour requested by a Consumer.
// Use Consume, ConsumeAt, Idle or Exit to construct one.
type Command struct {
	Kind CommandKind
	// Work is the amount of resource-time to process (Consume only), in
	// capacity units × seconds.
	Work float64
	// Limit caps the rate at which the work is processed. Zero means the
	// demand is implied by Deadline, or by the provider capacity when there
	// is no deadline either.
	Limit float64
	// Deadline is the virtual time (ms) at which the command ends even if it
	// has not completed. NoDeadline when unbounded.
	Deadline int64
	// Cause is the exit cause (Exit only); nil for a clean exit.
	Cause error
}

// Consume returns a command that processes work as fast as the provider
// allows, bounded by deadline.
func Consume(work float64, deadline int64) Command {
	return Command{Kind: CommandConsume, Work: work, Deadline: deadline}
}

// ConsumeAt returns a command that processes work at no more than limit.
func ConsumeAt(work, limit float64, deadline int64) Command {
	return Command{Kind: CommandConsume, Work: work, Limit: limit, Deadline: deadline}
}

// Idle returns a command that demands nothing until deadline.
func Idle(deadline int64) Command {
	return Command{Kind: CommandIdle, Deadline: deadline}
}

// Exit returns a command that finishes the consumer with cause.
func Exit(cause error) Command {
	return Command{Kind: CommandExit, Deadline: NoDeadline, Cause: cause}
}

func (c Command) String() string {
	switch c.Kind {
	case CommandConsume:
		return fmt.Sprintf("Consume(work=%g, limit=%g, deadline=%s)", c.Work, c.Limit, deadlineString(c.Deadline))
	case CommandIdle:
		return fmt.Sprintf("Idle(deadline=%s)", deadlineString(c.Deadline))
	default:
		return fmt.Sprintf("Exit(cause=%v)", c.Cause)
	}
}

func deadlineString(d int64) string {
	if d == NoDeadline {
		return "none"
	}
	return fmt.Sprintf("%d", d)
}
