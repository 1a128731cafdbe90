package power

import (
	"math"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dcsim/dcsim/sim"
)

// Supply is anything a cluster can draw power from.
type Supply interface {
	// SetDemand sets the power the cluster asks for, in watts.
	SetDemand(watts float64)
	// Demand returns the power asked for, in watts.
	Demand() float64
	// Draw returns the power currently delivered, in watts.
	Draw() float64
	// Energy returns the cumulative energy delivered, in joules.
	Energy() float64
}

// PowerSource is a grid connection. Energy and carbon emission accumulate
// piecewise between demand and intensity changes.
type PowerSource struct {
	interp   *sim.Interpreter
	id       uuid.UUID
	name     string
	capacity float64
	trace    CarbonTrace

	demand     float64
	supplied   float64
	energy     float64
	carbon     float64
	intensity  float64
	lastUpdate int64
	overloaded bool

	timer     *sim.Timer
	observers []func(now int64)
}

// NewPowerSource creates a grid connection rated at capacity watts.
// capacity <= 0 means unbounded. The carbon intensity follows trace.
func NewPowerSource(interp *sim.Interpreter, id uuid.UUID, name string, capacity float64, trace CarbonTrace) *PowerSource {
	if capacity <= 0 {
		capacity = math.Inf(1)
	}
	now := interp.Clock()
	s := &PowerSource{
		interp:     interp,
		id:         id,
		name:       name,
		capacity:   capacity,
		trace:      trace,
		intensity:  trace.IntensityAt(now),
		lastUpdate: now,
	}
	s.scheduleIntensity(now)
	return s
}

// ID returns the identity of the power source.
func (s *PowerSource) ID() uuid.UUID { return s.id }

// Name returns the name of the power source.
func (s *PowerSource) Name() string { return s.name }

// Capacity returns the rated capacity in watts.
func (s *PowerSource) Capacity() float64 { return s.capacity }

// Demand implements Supply.
func (s *PowerSource) Demand() float64 { return s.demand }

// Draw implements Supply.
func (s *PowerSource) Draw() float64 { return s.supplied }

// CarbonIntensity returns the intensity in effect, in gCO2/kWh.
func (s *PowerSource) CarbonIntensity() float64 { return s.intensity }

// Energy implements Supply.
func (s *PowerSource) Energy() float64 {
	s.update(s.interp.Clock())
	return s.energy
}

// CarbonEmission returns the cumulative emission in grams of CO2.
func (s *PowerSource) CarbonEmission() float64 {
	s.update(s.interp.Clock())
	return s.carbon
}

// SetDemand implements Supply. Supply is capped at the rated capacity.
func (s *PowerSource) SetDemand(watts float64) {
	s.update(s.interp.Clock())
	s.demand = max(0, watts)
	s.supplied = min(s.demand, s.capacity)
	over := s.demand > s.capacity
	if over && !s.overloaded {
		logrus.Warnf("[t=%d] power source %s overloaded: demand %.1f W > capacity %.1f W", s.interp.Clock(), s.name, s.demand, s.capacity)
	}
	s.overloaded = over
}

// OnIntensityChange registers fn to run after every carbon intensity change.
func (s *PowerSource) OnIntensityChange(fn func(now int64)) {
	s.observers = append(s.observers, fn)
}

// Close stops following the carbon trace.
func (s *PowerSource) Close() {
	s.update(s.interp.Clock())
	if s.timer != nil {
		s.timer.Cancel()
		s.timer = nil
	}
}

func (s *PowerSource) update(now int64) {
	dt := now - s.lastUpdate
	if dt <= 0 {
		return
	}
	s.lastUpdate = now
	e := s.supplied * float64(dt) * 0.001
	s.energy += e
	s.carbon += s.intensity * (e / 3.6e6)
}

func (s *PowerSource) scheduleIntensity(now int64) {
	next, ok := s.trace.NextChange(now)
	if !ok {
		s.timer = nil
		return
	}
	s.timer = s.interp.Schedule(next, func(now int64) {
		s.update(now)
		s.intensity = s.trace.IntensityAt(now)
		logrus.Debugf("[t=%d] power source %s carbon intensity %.1f", now, s.name, s.intensity)
		s.scheduleIntensity(now)
		for _, fn := range s.observers {
			fn(now)
		}
	})
}
