// Package sim is the discrete-event kernel of the datacenter simulator.
//
// # Reading Guide
//
// The kernel is small. Read it in this order:
//   - interpreter.go: virtual clock, timer queue and the Run/RunUntil loop
//   - consumer.go and context.go: the consumer protocol (OnStart, OnNext,
//     OnEvent) and the per-consumer context that resources drive
//   - switch.go: max-min fair sharing of a set of inputs over a capacity
//   - system.go: the resource tree that propagates demand changes upward
//
// # Architecture
//
// The sim package holds the protocol types and the shared configuration;
// implementations live in sub-packages:
//   - sim/kernel/: machines, hypervisors and CPU frequency governors
//   - sim/policy/: task eligibility (always-admit, limit-per-job, random)
//   - sim/power/: power models, grid source, battery, adapter and carbon traces
//   - sim/cluster/: hosts, clusters, placement and the workflow service
//   - sim/workload/: job specs, synthetic generators and task consumers
//   - sim/topology/: topology files and deterministic host identities
//   - sim/telemetry/: periodic metric collection and its sinks
//   - sim/trace/: scheduling decision records
//
// Policies are selected by name through the Valid* maps in bundle.go and
// the New* factories of each sub-package.
package sim
