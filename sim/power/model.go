// Package power models the electrical side of a cluster: host power draw,
// grid power sources with carbon intensity traces, batteries and the adapter
// that routes demand between them.
package power

import (
	"fmt"
	"math"
)

// Model maps the CPU utilization of a host in [0, 1] to its power draw in
// watts.
type Model interface {
	Power(utilization float64) float64
}

// ValidModels is the set of recognized power model names.
var ValidModels = map[string]bool{"": true, "constant": true, "linear": true, "square": true, "cubic": true, "sqrt": true}

// Constant draws the same power regardless of load.
type Constant struct {
	Watts float64
}

func (m Constant) Power(float64) float64 { return m.Watts }

// Interpolated draws Idle watts at zero utilization and Max at full
// utilization, following Curve in between.
type Interpolated struct {
	Idle  float64
	Max   float64
	Curve func(u float64) float64
	name  string
}

func (m Interpolated) Power(u float64) float64 {
	u = max(0, min(1, u))
	return m.Idle + (m.Max-m.Idle)*m.Curve(u)
}

func (m Interpolated) String() string {
	return fmt.Sprintf("%s(idle=%g, max=%g)", m.name, m.Idle, m.Max)
}

// NewModel creates a power model by name. An empty name selects linear.
// Panics on unrecognized names.
func NewModel(name string, idle, maxWatts float64) Model {
	switch name {
	case "constant":
		return Constant{Watts: maxWatts}
	case "", "linear":
		return Interpolated{Idle: idle, Max: maxWatts, Curve: func(u float64) float64 { return u }, name: "linear"}
	case "square":
		return Interpolated{Idle: idle, Max: maxWatts, Curve: func(u float64) float64 { return u * u }, name: "square"}
	case "cubic":
		return Interpolated{Idle: idle, Max: maxWatts, Curve: func(u float64) float64 { return u * u * u }, name: "cubic"}
	case "sqrt":
		return Interpolated{Idle: idle, Max: maxWatts, Curve: math.Sqrt, name: "sqrt"}
	default:
		panic(fmt.Sprintf("unknown power model %q", name))
	}
}
