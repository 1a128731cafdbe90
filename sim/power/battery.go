package power

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/dcsim/dcsim/sim"
)

// BatteryState is what a battery is doing.
type BatteryState int

const (
	BatteryIdle BatteryState = iota
	BatteryCharging
	BatteryDepleting
)

func (s BatteryState) String() string {
	switch s {
	case BatteryCharging:
		return "CHARGING"
	case BatteryDepleting:
		return "DEPLETING"
	default:
		return "IDLE"
	}
}

// Battery stores energy. It either charges at its charge speed, delivers the
// power asked of it, or idles. Reaching empty or full idles the battery and
// notifies the observer.
type Battery struct {
	interp      *sim.Interpreter
	id          uuid.UUID
	name        string
	capacity    float64
	chargeSpeed float64

	state      BatteryState
	level      float64
	draw       float64
	delivered  float64
	charged    float64
	lastUpdate int64

	timer    *sim.Timer
	observer func(now int64)
}

// NewBattery creates an empty battery of capacityWh watt-hours that charges
// at chargeSpeed watts. Panics on non-positive parameters.
func NewBattery(interp *sim.Interpreter, id uuid.UUID, name string, capacityWh, chargeSpeed float64) *Battery {
	if capacityWh <= 0 || chargeSpeed <= 0 {
		panic(fmt.Sprintf("NewBattery(%q): capacity and charge speed must be positive, got %g Wh, %g W", name, capacityWh, chargeSpeed))
	}
	return &Battery{
		interp:      interp,
		id:          id,
		name:        name,
		capacity:    capacityWh * 3600,
		chargeSpeed: chargeSpeed,
		lastUpdate:  interp.Clock(),
	}
}

// ID returns the identity of the battery.
func (b *Battery) ID() uuid.UUID { return b.id }

// Name returns the name of the battery.
func (b *Battery) Name() string { return b.name }

// Capacity returns the capacity in joules.
func (b *Battery) Capacity() float64 { return b.capacity }

// ChargeSpeed returns the charging power in watts.
func (b *Battery) ChargeSpeed() float64 { return b.chargeSpeed }

// State returns what the battery is doing.
func (b *Battery) State() BatteryState { return b.state }

// ChargeLevel returns the stored energy in joules.
func (b *Battery) ChargeLevel() float64 {
	b.update(b.interp.Clock())
	return b.level
}

// Empty reports whether no energy is stored.
func (b *Battery) Empty() bool { return b.ChargeLevel() <= 0 }

// Full reports whether the battery is charged to capacity.
func (b *Battery) Full() bool { return b.ChargeLevel() >= b.capacity }

// Draw returns the power currently delivered, in watts.
func (b *Battery) Draw() float64 {
	if b.state == BatteryDepleting {
		return b.draw
	}
	return 0
}

// ChargeDemand returns the power currently drawn for charging, in watts.
func (b *Battery) ChargeDemand() float64 {
	if b.state == BatteryCharging {
		return b.chargeSpeed
	}
	return 0
}

// EnergyDelivered returns the cumulative energy delivered, in joules.
func (b *Battery) EnergyDelivered() float64 {
	b.update(b.interp.Clock())
	return b.delivered
}

// EnergyCharged returns the cumulative energy stored by charging, in joules.
func (b *Battery) EnergyCharged() float64 {
	b.update(b.interp.Clock())
	return b.charged
}

// SetCharging starts charging unless the battery is full.
func (b *Battery) SetCharging() {
	b.transition(BatteryCharging, 0)
}

// SetDepleting delivers watts until empty.
func (b *Battery) SetDepleting(watts float64) {
	b.transition(BatteryDepleting, watts)
}

// SetIdle stops charging and delivering.
func (b *Battery) SetIdle() {
	b.transition(BatteryIdle, 0)
}

func (b *Battery) transition(state BatteryState, watts float64) {
	now := b.interp.Clock()
	b.update(now)
	if state == BatteryCharging && b.level >= b.capacity {
		state = BatteryIdle
	}
	if state == BatteryDepleting && b.level <= 0 {
		state = BatteryIdle
	}
	b.state = state
	b.draw = max(0, watts)
	b.arm(now)
}

// arm schedules the instant the battery becomes full or empty.
func (b *Battery) arm(now int64) {
	if b.timer != nil {
		b.timer.Cancel()
		b.timer = nil
	}
	var seconds float64
	switch {
	case b.state == BatteryCharging:
		seconds = (b.capacity - b.level) / b.chargeSpeed
	case b.state == BatteryDepleting && b.draw > 0:
		seconds = b.level / b.draw
	default:
		return
	}
	ms := math.Ceil(seconds * 1000)
	if ms >= float64(sim.NoDeadline-now) {
		return
	}
	b.timer = b.interp.Schedule(now+max(1, int64(ms)), func(now int64) {
		b.timer = nil
		b.update(now)
		b.state = BatteryIdle
		b.draw = 0
		if b.observer != nil {
			b.observer(now)
		}
	})
}

// Close stops the battery's timers.
func (b *Battery) Close() {
	b.update(b.interp.Clock())
	if b.timer != nil {
		b.timer.Cancel()
		b.timer = nil
	}
}

func (b *Battery) update(now int64) {
	dt := now - b.lastUpdate
	if dt <= 0 {
		return
	}
	b.lastUpdate = now
	secs := float64(dt) / 1000
	switch b.state {
	case BatteryCharging:
		e := min(b.chargeSpeed*secs, b.capacity-b.level)
		b.level += e
		b.charged += e
	case BatteryDepleting:
		e := min(b.draw*secs, b.level)
		b.level -= e
		b.delivered += e
	}
}
