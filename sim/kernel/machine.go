// Package kernel models simulated machines and the hypervisor that multiplexes
// workloads onto their CPUs.
package kernel

import (
	"fmt"

	"github.com/dcsim/dcsim/sim"
)

// DefaultMinFrequencyRatio is the lowest frequency a CPU can be scaled to,
// relative to its rated frequency, when the model does not say otherwise.
const DefaultMinFrequencyRatio = 0.5

// CPUModel describes one processing unit of a machine.
type CPUModel struct {
	ID     int
	Vendor string
	Arch   string
	Cores  int
	// Frequency is the rated per-core frequency in MHz.
	Frequency float64
	// MinFrequency is the lowest per-core frequency in MHz. Zero selects
	// DefaultMinFrequencyRatio × Frequency.
	MinFrequency float64
}

// FrequencyRange returns the per-core frequency bounds of the CPU.
func (c CPUModel) FrequencyRange() (lo, hi float64) {
	lo = c.MinFrequency
	if lo <= 0 {
		lo = c.Frequency * DefaultMinFrequencyRatio
	}
	return min(lo, c.Frequency), c.Frequency
}

// Capacity returns the rated capacity of the CPU (cores × frequency).
func (c CPUModel) Capacity() float64 {
	return float64(c.Cores) * c.Frequency
}

// MemoryUnit describes one memory module of a machine.
type MemoryUnit struct {
	Vendor string
	Model  string
	// Speed in MHz.
	Speed float64
	// Size in MiB.
	Size int64
}

// MachineModel is the static description of a machine.
type MachineModel struct {
	CPUs   []CPUModel
	Memory []MemoryUnit
}

// Capacity returns the rated CPU capacity of the machine.
func (m MachineModel) Capacity() float64 {
	total := 0.0
	for _, c := range m.CPUs {
		total += c.Capacity()
	}
	return total
}

// MemorySize returns the total memory in MiB.
func (m MachineModel) MemorySize() int64 {
	var total int64
	for _, u := range m.Memory {
		total += u.Size
	}
	return total
}

// CPU is a running processing unit whose capacity backs one switch output.
type CPU struct {
	model     CPUModel
	out       *sim.Output
	frequency float64
}

// Model returns the static description of the CPU.
func (c *CPU) Model() CPUModel { return c.model }

// Frequency returns the current per-core frequency in MHz.
func (c *CPU) Frequency() float64 { return c.frequency }

// SetFrequency scales the CPU to f, clamped to its frequency range, and
// updates the capacity offered to the machine's switch.
func (c *CPU) SetFrequency(f float64) {
	lo, hi := c.model.FrequencyRange()
	f = max(lo, min(hi, f))
	if f == c.frequency {
		return
	}
	c.frequency = f
	c.out.SetCapacity(float64(c.model.Cores) * f)
}

// Machine is a simulated machine: one switch whose outputs are the CPUs.
type Machine struct {
	name  string
	model MachineModel
	sw    *sim.Switch
	cpus  []*CPU
}

// NewMachine creates a machine running every CPU at its rated frequency.
// Panics if the model has no CPU or a CPU without cores or frequency.
func NewMachine(interp *sim.Interpreter, name string, model MachineModel) *Machine {
	if len(model.CPUs) == 0 {
		panic(fmt.Sprintf("NewMachine(%q): model has no CPUs", name))
	}
	m := &Machine{name: name, model: model, sw: sim.NewSwitch(interp)}
	for _, c := range model.CPUs {
		if c.Cores <= 0 || c.Frequency <= 0 {
			panic(fmt.Sprintf("NewMachine(%q): CPU %d needs cores and frequency, got %d × %g", name, c.ID, c.Cores, c.Frequency))
		}
		m.cpus = append(m.cpus, &CPU{
			model:     c,
			out:       m.sw.AddOutput(c.Capacity()),
			frequency: c.Frequency,
		})
	}
	return m
}

// Name returns the machine name.
func (m *Machine) Name() string { return m.name }

// Model returns the static description of the machine.
func (m *Machine) Model() MachineModel { return m.model }

// Switch returns the switch that multiplexes workloads onto the CPUs.
func (m *Machine) Switch() *sim.Switch { return m.sw }

// CPUs returns the running CPUs.
func (m *Machine) CPUs() []*CPU { return m.cpus }

// RatedCapacity returns the capacity at rated frequencies.
func (m *Machine) RatedCapacity() float64 { return m.model.Capacity() }

// Utilization returns the granted speed as a fraction of the rated capacity.
func (m *Machine) Utilization() float64 {
	rated := m.RatedCapacity()
	if rated == 0 {
		return 0
	}
	return min(1, m.sw.Speed()/rated)
}

// Close cancels every workload running on the machine.
func (m *Machine) Close() {
	m.sw.Close()
}
