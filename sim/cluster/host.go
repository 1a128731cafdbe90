// Package cluster assembles simulated hosts into clusters, wires their power
// draw into the cluster power supply and schedules workflows onto them.
package cluster

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/kernel"
	"github.com/dcsim/dcsim/sim/power"
	"github.com/dcsim/dcsim/sim/topology"
)

// Host is a machine under its own fair share hypervisor. It tracks the
// energy drawn by the machine from the slice events of the hypervisor.
//
// Thread-safety: NOT thread-safe. All methods must be called from the
// interpreter goroutine.
type Host struct {
	id         uuid.UUID
	name       string
	cluster    string
	interp     *sim.Interpreter
	machine    *kernel.Machine
	hv         *kernel.FairShareHypervisor
	powerModel power.Model

	tasks      int
	energy     float64
	activeTime int64
	idleTime   int64
	lastSlice  int64
	closed     bool
}

// NewHost creates the machine described by spec and hosts it under parent in
// tree. governor may be nil.
func NewHost(interp *sim.Interpreter, tree *sim.SystemTree, parent sim.NodeID, spec topology.Host, governor kernel.ScalingGovernor) (*Host, error) {
	h := &Host{
		id:         spec.ID,
		name:       spec.Name,
		cluster:    spec.Cluster,
		interp:     interp,
		machine:    kernel.NewMachine(interp, spec.Name, spec.Model),
		powerModel: spec.PowerModel,
		lastSlice:  interp.Clock(),
	}
	if h.powerModel == nil {
		h.powerModel = power.Constant{}
	}
	h.hv = kernel.NewFairShareHypervisor(interp, tree, parent, governor, h)
	if _, err := h.hv.CreateSwitch(h.machine); err != nil {
		return nil, fmt.Errorf("creating host %q: %w", spec.Name, err)
	}
	return h, nil
}

// ID returns the identity of the host.
func (h *Host) ID() uuid.UUID { return h.id }

// Name returns the host name.
func (h *Host) Name() string { return h.name }

// ClusterName returns the name of the cluster the host belongs to.
func (h *Host) ClusterName() string { return h.cluster }

// Machine returns the simulated machine.
func (h *Host) Machine() *kernel.Machine { return h.machine }

// Hypervisor returns the hypervisor running the machine.
func (h *Host) Hypervisor() *kernel.FairShareHypervisor { return h.hv }

// Node returns the system tree node of the machine.
func (h *Host) Node() sim.NodeID {
	node, _ := h.hv.Node(h.machine)
	return node
}

// Capacity returns the current CPU capacity, which governors may scale.
func (h *Host) Capacity() float64 { return h.machine.Switch().Capacity() }

// RatedCapacity returns the CPU capacity at rated frequencies.
func (h *Host) RatedCapacity() float64 { return h.machine.RatedCapacity() }

// Demand returns the aggregate CPU demand of the last convergence.
func (h *Host) Demand() float64 { return h.machine.Switch().Demand() }

// Usage returns the aggregate granted CPU speed of the last convergence.
func (h *Host) Usage() float64 { return h.machine.Switch().Speed() }

// Utilization returns the usage as a fraction of the rated capacity.
func (h *Host) Utilization() float64 { return h.machine.Utilization() }

// Counters returns the cumulative counters of the machine up to now.
func (h *Host) Counters() sim.Counters {
	return h.machine.Switch().CountersAt(h.interp.Clock())
}

// Tasks returns the number of tasks running on the host.
func (h *Host) Tasks() int { return h.tasks }

// Power returns the current power draw in watts. A closed host draws
// nothing.
func (h *Host) Power() float64 {
	if h.closed {
		return 0
	}
	return h.powerModel.Power(h.Utilization())
}

// Energy returns the cumulative energy drawn in joules, including the
// interval since the last slice.
func (h *Host) Energy() float64 {
	return h.energy + h.Power()*float64(h.interp.Clock()-h.lastSlice)/1000
}

// CPUTime returns the virtual time spent with and without CPU usage,
// including the interval since the last slice.
func (h *Host) CPUTime() (active, idle int64) {
	active, idle = h.activeTime, h.idleTime
	if h.closed {
		return active, idle
	}
	if dt := h.interp.Clock() - h.lastSlice; dt > 0 {
		if h.Usage() > 0 {
			active += dt
		} else {
			idle += dt
		}
	}
	return active, idle
}

// CanFit reports whether the hypervisor accepts another workload.
func (h *Host) CanFit() bool {
	return h.hv.CanFit(kernel.MachineModel{}, h.machine.Switch())
}

// Attach starts c on the host.
func (h *Host) Attach(c sim.Consumer) (*sim.Input, error) {
	in, err := h.hv.Attach(h.machine, c)
	if err != nil {
		return nil, err
	}
	h.tasks++
	return in, nil
}

// Detach cancels the workload behind in.
func (h *Host) Detach(in *sim.Input) error {
	return h.hv.Detach(h.machine, in)
}

// released must be called once for every attached workload that finished.
func (h *Host) released() {
	h.tasks--
}

// Close cancels every workload and removes the machine from the tree.
func (h *Host) Close() error {
	if h.closed {
		return nil
	}
	h.accumulate(h.interp.Clock(), h.Usage())
	h.closed = true
	return h.hv.Release(h.machine)
}

// OnSliceFinish implements kernel.Listener.
func (h *Host) OnSliceFinish(ev kernel.SliceEvent) {
	h.accumulate(ev.Time, ev.CPUUsage)
	logrus.Tracef("[t=%d] host %s slice: granted=%g requested=%g", ev.Time, h.name, ev.GrantedWork, ev.RequestedWork)
}

// accumulate credits the energy of the interval ending at now during which
// the machine ran at usage.
func (h *Host) accumulate(now int64, usage float64) {
	dt := now - h.lastSlice
	if dt <= 0 {
		return
	}
	util := 0.0
	if rated := h.machine.RatedCapacity(); rated > 0 {
		util = min(1, usage/rated)
	}
	h.energy += h.powerModel.Power(util) * float64(dt) / 1000
	if usage > 0 {
		h.activeTime += dt
	} else {
		h.idleTime += dt
	}
	h.lastSlice = now
}
