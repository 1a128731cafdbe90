package kernel

import (
	"fmt"

	"github.com/dcsim/dcsim/sim"
)

// Default governor parameters.
const (
	DefaultGovernorThreshold = 0.8
	DefaultGovernorStep      = 0.05
)

// Governor picks the frequency of one CPU from the load of its machine.
type Governor interface {
	// OnLoadChanged receives the machine load in [0, 1] and returns the
	// target per-core frequency in MHz.
	OnLoadChanged(load float64) float64
}

// ScalingGovernor creates a Governor per CPU.
type ScalingGovernor interface {
	Name() string
	NewGovernor(cpu CPUModel) Governor
}

// NewScalingGovernor creates a scaling governor by name.
// Valid names are defined in sim.ValidGovernors. An empty name returns nil:
// CPUs keep their rated frequency. Panics on unrecognized names.
func NewScalingGovernor(name string, threshold, step float64) ScalingGovernor {
	if !sim.ValidGovernors[name] {
		panic(fmt.Sprintf("unknown governor %q", name))
	}
	if threshold <= 0 {
		threshold = DefaultGovernorThreshold
	}
	if step <= 0 {
		step = DefaultGovernorStep
	}
	switch name {
	case "":
		return nil
	case "performance":
		return performance{}
	case "powersave":
		return powersave{}
	case "ondemand":
		return ondemand{threshold: threshold}
	case "conservative":
		return conservative{threshold: threshold, step: step}
	default:
		panic(fmt.Sprintf("unhandled governor %q", name))
	}
}

type fixedGovernor float64

func (f fixedGovernor) OnLoadChanged(float64) float64 { return float64(f) }

// performance keeps every CPU at its highest frequency.
type performance struct{}

func (performance) Name() string { return "performance" }

func (performance) NewGovernor(cpu CPUModel) Governor {
	_, hi := cpu.FrequencyRange()
	return fixedGovernor(hi)
}

// powersave keeps every CPU at its lowest frequency.
type powersave struct{}

func (powersave) Name() string { return "powersave" }

func (powersave) NewGovernor(cpu CPUModel) Governor {
	lo, _ := cpu.FrequencyRange()
	return fixedGovernor(lo)
}

// ondemand jumps to the highest frequency above the threshold and scales
// proportionally to the load below it.
type ondemand struct {
	threshold float64
}

func (ondemand) Name() string { return "ondemand" }

func (g ondemand) NewGovernor(cpu CPUModel) Governor {
	lo, hi := cpu.FrequencyRange()
	return &ondemandGovernor{lo: lo, hi: hi, threshold: g.threshold}
}

type ondemandGovernor struct {
	lo, hi, threshold float64
}

func (g *ondemandGovernor) OnLoadChanged(load float64) float64 {
	if load > g.threshold {
		return g.hi
	}
	return g.lo + (g.hi-g.lo)*max(0, load)
}

// conservative steps the frequency up above the threshold and down below half
// of it.
type conservative struct {
	threshold float64
	step      float64
}

func (conservative) Name() string { return "conservative" }

func (g conservative) NewGovernor(cpu CPUModel) Governor {
	lo, hi := cpu.FrequencyRange()
	return &conservativeGovernor{lo: lo, hi: hi, current: hi, threshold: g.threshold, step: g.step * hi}
}

type conservativeGovernor struct {
	lo, hi, current float64
	threshold, step float64
}

func (g *conservativeGovernor) OnLoadChanged(load float64) float64 {
	switch {
	case load > g.threshold:
		g.current = min(g.hi, g.current+g.step)
	case load < g.threshold/2:
		g.current = max(g.lo, g.current-g.step)
	}
	return g.current
}
