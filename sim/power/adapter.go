package power

import (
	"github.com/sirupsen/logrus"

	"github.com/dcsim/dcsim/sim"
)

// BatteryAdapter routes a cluster's power demand between a grid connection
// and a battery. While the carbon policy reports green grid energy, the grid
// serves the cluster and charges the battery. Otherwise the battery serves
// the cluster until it is empty, after which the grid takes over again.
type BatteryAdapter struct {
	interp  *sim.Interpreter
	source  *PowerSource
	battery *Battery
	policy  CarbonPolicy

	demand     float64
	green      bool
	draw       float64
	energy     float64
	lastUpdate int64
}

// NewBatteryAdapter connects source and battery under policy.
func NewBatteryAdapter(interp *sim.Interpreter, source *PowerSource, battery *Battery, policy CarbonPolicy) *BatteryAdapter {
	a := &BatteryAdapter{
		interp:     interp,
		source:     source,
		battery:    battery,
		policy:     policy,
		lastUpdate: interp.Clock(),
	}
	source.OnIntensityChange(a.route)
	battery.observer = a.route
	a.route(interp.Clock())
	return a
}

// Source returns the grid connection.
func (a *BatteryAdapter) Source() *PowerSource { return a.source }

// Battery returns the battery.
func (a *BatteryAdapter) Battery() *Battery { return a.battery }

// GreenEnergy reports whether the last routing decision saw green energy.
func (a *BatteryAdapter) GreenEnergy() bool { return a.green }

// Demand implements Supply.
func (a *BatteryAdapter) Demand() float64 { return a.demand }

// Draw implements Supply.
func (a *BatteryAdapter) Draw() float64 { return a.draw }

// Energy implements Supply: the energy delivered to the cluster from either
// side.
func (a *BatteryAdapter) Energy() float64 {
	a.update(a.interp.Clock())
	return a.energy
}

// SetDemand implements Supply.
func (a *BatteryAdapter) SetDemand(watts float64) {
	a.demand = max(0, watts)
	a.route(a.interp.Clock())
}

// Close stops the timers of both sides.
func (a *BatteryAdapter) Close() {
	a.update(a.interp.Clock())
	a.source.Close()
	a.battery.Close()
}

func (a *BatteryAdapter) route(now int64) {
	a.update(now)
	green := a.policy.GreenEnergyAvailable(a.source.CarbonIntensity(), now)
	if green != a.green {
		logrus.Debugf("[t=%d] %s: green energy %v", now, a.source.Name(), green)
	}
	a.green = green

	switch {
	case green:
		a.battery.SetCharging()
		a.source.SetDemand(a.demand + a.battery.ChargeDemand())
		a.draw = min(a.demand, a.source.Draw())
	case !a.battery.Empty() && a.demand > 0:
		a.battery.SetDepleting(a.demand)
		a.source.SetDemand(0)
		a.draw = a.battery.Draw()
	default:
		a.battery.SetIdle()
		a.source.SetDemand(a.demand)
		a.draw = a.source.Draw()
	}
}

func (a *BatteryAdapter) update(now int64) {
	dt := now - a.lastUpdate
	if dt <= 0 {
		return
	}
	a.lastUpdate = now
	a.energy += a.draw * float64(dt) * 0.001
}
