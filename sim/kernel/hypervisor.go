package kernel

import (
	"fmt"
	"math"

	"github.com/sirupsen/logrus"

	"github.com/dcsim/dcsim/sim"
)

// SliceEvent reports the resource use of one machine between two
// convergences at distinct virtual times. Work fields are counter deltas in
// capacity units × seconds; CPUUsage and CPUDemand are the aggregate speed and
// demand that held during the slice.
type SliceEvent struct {
	Machine           string
	Time              int64
	Duration          int64
	RequestedWork     float64
	GrantedWork       float64
	OvercommittedWork float64
	InterferedWork    float64 // always 0, see sim.Counters.Interference
	CPUUsage          float64
	CPUDemand         float64
}

// Listener receives the slice events of a hypervisor.
type Listener interface {
	OnSliceFinish(ev SliceEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ev SliceEvent)

// OnSliceFinish implements Listener.
func (f ListenerFunc) OnSliceFinish(ev SliceEvent) { f(ev) }

// FairShareHypervisor runs the workloads of each machine it hosts concurrently
// on a max-min fair share switch. Every hosted machine becomes a node of the
// system tree under the hypervisor's parent node.
type FairShareHypervisor struct {
	interp    *sim.Interpreter
	tree      *sim.SystemTree
	parent    sim.NodeID
	governor  ScalingGovernor
	listeners []Listener
	systems   map[*Machine]*switchSystem
}

// NewFairShareHypervisor creates a hypervisor. governor may be nil, in which
// case CPUs keep their rated frequency.
func NewFairShareHypervisor(interp *sim.Interpreter, tree *sim.SystemTree, parent sim.NodeID, governor ScalingGovernor, listeners ...Listener) *FairShareHypervisor {
	if interp == nil || tree == nil {
		panic("NewFairShareHypervisor: interpreter and tree must not be nil")
	}
	return &FairShareHypervisor{
		interp:    interp,
		tree:      tree,
		parent:    parent,
		governor:  governor,
		listeners: listeners,
		systems:   make(map[*Machine]*switchSystem),
	}
}

// AddListener subscribes l to slice events of every hosted machine.
func (h *FairShareHypervisor) AddListener(l Listener) {
	h.listeners = append(h.listeners, l)
}

// CanFit reports whether a machine of the given model can be placed on sw.
// Capacity is time-shared, so the fair share hypervisor always accepts.
func (h *FairShareHypervisor) CanFit(_ MachineModel, _ *sim.Switch) bool {
	return true
}

// CreateSwitch hosts m: its switch joins the system tree and its CPUs are put
// under the hypervisor's governor.
func (h *FairShareHypervisor) CreateSwitch(m *Machine) (*sim.Switch, error) {
	if _, ok := h.systems[m]; ok {
		return nil, fmt.Errorf("machine %q already hosted", m.Name())
	}
	sys := &switchSystem{hv: h, machine: m, lastReport: math.MinInt64}
	node, err := h.tree.AddNode(m.Name(), h.parent, sys)
	if err != nil {
		return nil, fmt.Errorf("hosting machine %q: %w", m.Name(), err)
	}
	if err := h.tree.AddSwitch(node, m.Switch()); err != nil {
		return nil, fmt.Errorf("hosting machine %q: %w", m.Name(), err)
	}
	sys.node = node
	if h.governor != nil {
		for _, cpu := range m.CPUs() {
			sys.governors = append(sys.governors, h.governor.NewGovernor(cpu.Model()))
		}
	}
	h.systems[m] = sys
	return m.Switch(), nil
}

// Release removes m from the system tree and cancels its workloads.
func (h *FairShareHypervisor) Release(m *Machine) error {
	sys, ok := h.systems[m]
	if !ok {
		return fmt.Errorf("machine %q not hosted", m.Name())
	}
	if err := h.tree.Apply(sim.DetachSwitch{Switch: m.Switch()}, sim.DropNode{Node: sys.node}); err != nil {
		return fmt.Errorf("releasing machine %q: %w", m.Name(), err)
	}
	delete(h.systems, m)
	m.Close()
	return nil
}

// Node returns the system tree node of a hosted machine.
func (h *FairShareHypervisor) Node(m *Machine) (sim.NodeID, bool) {
	sys, ok := h.systems[m]
	if !ok {
		return sim.NoNode, false
	}
	return sys.node, true
}

// Attach starts c on machine m.
func (h *FairShareHypervisor) Attach(m *Machine, c sim.Consumer) (*sim.Input, error) {
	if _, ok := h.systems[m]; !ok {
		return nil, fmt.Errorf("machine %q not hosted", m.Name())
	}
	return m.Switch().Attach(c)
}

// Detach cancels the workload behind in on machine m.
func (h *FairShareHypervisor) Detach(m *Machine, in *sim.Input) error {
	return m.Switch().Detach(in)
}

// switchSystem is the system tree handler of one hosted machine.
type switchSystem struct {
	hv        *FairShareHypervisor
	machine   *Machine
	node      sim.NodeID
	governors []Governor

	lastCPUUsage  float64
	lastCPUDemand float64
	last          sim.Counters
	lastReport    int64
}

// OnConverge emits the slice that ended at now, remembers the state that
// holds from now on and lets the governors react to the new load. Repeated
// convergences at the same virtual time emit nothing and leave the
// frequencies alone.
func (s *switchSystem) OnConverge(now int64, _ sim.NodeSnapshot) {
	sw := s.machine.Switch()
	counters := sw.Counters()
	advanced := now > s.lastReport

	if advanced && len(s.hv.listeners) > 0 {
		duration := int64(0)
		if s.lastReport != math.MinInt64 {
			duration = now - s.lastReport
		}
		delta := counters.Sub(s.last)
		ev := SliceEvent{
			Machine:           s.machine.Name(),
			Time:              now,
			Duration:          duration,
			RequestedWork:     delta.Demand,
			GrantedWork:       delta.Actual,
			OvercommittedWork: delta.Overcommit,
			InterferedWork:    delta.Interference,
			CPUUsage:          s.lastCPUUsage,
			CPUDemand:         s.lastCPUDemand,
		}
		for _, l := range s.hv.listeners {
			l.OnSliceFinish(ev)
		}
	}
	s.lastReport = now
	s.lastCPUDemand = sw.Demand()
	s.lastCPUUsage = sw.Speed()
	s.last = counters

	if !advanced || len(s.governors) == 0 {
		return
	}
	load := 0.0
	if rated := s.machine.RatedCapacity(); rated > 0 {
		load = min(1, s.lastCPUDemand/rated)
	}
	for i, cpu := range s.machine.CPUs() {
		target := s.governors[i].OnLoadChanged(load)
		if target != cpu.Frequency() {
			logrus.Debugf("[t=%d] %s cpu %d: load %.3f -> %.0f MHz", now, s.machine.Name(), i, load, target)
		}
		cpu.SetFrequency(target)
	}
}
