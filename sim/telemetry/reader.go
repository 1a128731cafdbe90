// Package telemetry samples hosts, power sources, batteries and the workflow
// service at a fixed virtual interval and hands the samples to monitors.
//
// Every reader follows the same cycle: Record(now) observes the entity,
// Copy() returns the snapshot for a monitor, and Reset() makes the observed
// cumulative values the baseline of the next interval. Fields documented as
// interval values are differences against that baseline.
package telemetry

import (
	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/cluster"
)

// HostSnapshot is one sample of a host.
type HostSnapshot struct {
	Timestamp      int64
	HostID         string
	HostName       string
	Cluster        string
	TasksActive    int
	CPUCapacity    float64
	CPUDemand      float64
	CPUUsage       float64
	CPUUtilization float64
	PowerDraw      float64 // W
	EnergyTotal    float64 // J

	// Interval values.
	CPUActiveTime     int64   // ms
	CPUIdleTime       int64   // ms
	DemandedWork      float64
	GrantedWork       float64
	OvercommittedWork float64
	InterferedWork    float64
	EnergyUsage       float64 // J
}

// HostReader samples a cluster.Host.
type HostReader struct {
	host *cluster.Host
	snap HostSnapshot

	counters, baseCounters sim.Counters
	energy, baseEnergy     float64
	active, baseActive     int64
	idle, baseIdle         int64
}

// NewHostReader creates a reader whose first interval starts now.
func NewHostReader(h *cluster.Host) *HostReader {
	r := &HostReader{host: h}
	r.snap.HostID = h.ID().String()
	r.snap.HostName = h.Name()
	r.snap.Cluster = h.ClusterName()
	r.counters = h.Counters()
	r.energy = h.Energy()
	r.active, r.idle = h.CPUTime()
	r.Reset()
	return r
}

// Record observes the host at now.
func (r *HostReader) Record(now int64) {
	h := r.host
	r.snap.Timestamp = now
	r.snap.TasksActive = h.Tasks()
	r.snap.CPUCapacity = h.Capacity()
	r.snap.CPUDemand = h.Demand()
	r.snap.CPUUsage = h.Usage()
	r.snap.CPUUtilization = h.Utilization()
	r.snap.PowerDraw = h.Power()

	r.counters = h.Counters()
	d := r.counters.Sub(r.baseCounters)
	r.snap.DemandedWork = d.Demand
	r.snap.GrantedWork = d.Actual
	r.snap.OvercommittedWork = d.Overcommit
	r.snap.InterferedWork = d.Interference

	r.energy = h.Energy()
	r.snap.EnergyTotal = r.energy
	r.snap.EnergyUsage = r.energy - r.baseEnergy

	r.active, r.idle = h.CPUTime()
	r.snap.CPUActiveTime = r.active - r.baseActive
	r.snap.CPUIdleTime = r.idle - r.baseIdle
}

// Reset starts a new interval at the last recorded values.
func (r *HostReader) Reset() {
	r.baseCounters = r.counters
	r.baseEnergy = r.energy
	r.baseActive = r.active
	r.baseIdle = r.idle

	r.snap.CPUActiveTime = 0
	r.snap.CPUIdleTime = 0
	r.snap.DemandedWork = 0
	r.snap.GrantedWork = 0
	r.snap.OvercommittedWork = 0
	r.snap.InterferedWork = 0
	r.snap.EnergyUsage = 0
}

// Copy returns the last recorded snapshot.
func (r *HostReader) Copy() HostSnapshot { return r.snap }

// PowerSourceSnapshot is one sample of the grid connection of a cluster.
type PowerSourceSnapshot struct {
	Timestamp       int64
	SourceID        string
	SourceName      string
	Cluster         string
	PowerDemand     float64 // W
	PowerDraw       float64 // W
	CarbonIntensity float64 // gCO2/kWh
	EnergyTotal     float64 // J
	CarbonTotal     float64 // gCO2

	// Interval values.
	EnergyUsage    float64 // J
	CarbonEmission float64 // gCO2
}

// PowerSourceReader samples the power source of a cluster.
type PowerSourceReader struct {
	cluster *cluster.Cluster
	snap    PowerSourceSnapshot

	energy, baseEnergy float64
	carbon, baseCarbon float64
}

// NewPowerSourceReader creates a reader whose first interval starts now.
func NewPowerSourceReader(c *cluster.Cluster) *PowerSourceReader {
	src := c.PowerSource()
	r := &PowerSourceReader{cluster: c}
	r.snap.SourceID = src.ID().String()
	r.snap.SourceName = src.Name()
	r.snap.Cluster = c.Name()
	r.energy = src.Energy()
	r.carbon = src.CarbonEmission()
	r.Reset()
	return r
}

// Record observes the power source at now.
func (r *PowerSourceReader) Record(now int64) {
	src := r.cluster.PowerSource()
	r.snap.Timestamp = now
	r.snap.PowerDemand = src.Demand()
	r.snap.PowerDraw = src.Draw()
	r.snap.CarbonIntensity = src.CarbonIntensity()

	r.energy = src.Energy()
	r.carbon = src.CarbonEmission()
	r.snap.EnergyTotal = r.energy
	r.snap.CarbonTotal = r.carbon
	r.snap.EnergyUsage = r.energy - r.baseEnergy
	r.snap.CarbonEmission = r.carbon - r.baseCarbon
}

// Reset starts a new interval at the last recorded values.
func (r *PowerSourceReader) Reset() {
	r.baseEnergy = r.energy
	r.baseCarbon = r.carbon
	r.snap.EnergyUsage = 0
	r.snap.CarbonEmission = 0
}

// Copy returns the last recorded snapshot.
func (r *PowerSourceReader) Copy() PowerSourceSnapshot { return r.snap }

// BatterySnapshot is one sample of the battery of a cluster.
type BatterySnapshot struct {
	Timestamp   int64
	BatteryID   string
	BatteryName string
	Cluster     string
	State       string
	GreenEnergy bool
	Capacity    float64 // J
	ChargeLevel float64 // J
	PowerDraw   float64 // W

	// Interval values.
	EnergyDelivered float64 // J
	EnergyCharged   float64 // J
}

// BatteryReader samples the battery of a cluster. The cluster must have one.
type BatteryReader struct {
	cluster *cluster.Cluster
	snap    BatterySnapshot

	delivered, baseDelivered float64
	charged, baseCharged     float64
}

// NewBatteryReader creates a reader whose first interval starts now.
func NewBatteryReader(c *cluster.Cluster) *BatteryReader {
	b := c.Battery()
	r := &BatteryReader{cluster: c}
	r.snap.BatteryID = b.ID().String()
	r.snap.BatteryName = b.Name()
	r.snap.Cluster = c.Name()
	r.snap.Capacity = b.Capacity()
	r.delivered = b.EnergyDelivered()
	r.charged = b.EnergyCharged()
	r.Reset()
	return r
}

// Record observes the battery at now.
func (r *BatteryReader) Record(now int64) {
	b := r.cluster.Battery()
	r.snap.Timestamp = now
	r.snap.State = b.State().String()
	r.snap.GreenEnergy = r.cluster.Adapter().GreenEnergy()
	r.snap.ChargeLevel = b.ChargeLevel()
	r.snap.PowerDraw = b.Draw()

	r.delivered = b.EnergyDelivered()
	r.charged = b.EnergyCharged()
	r.snap.EnergyDelivered = r.delivered - r.baseDelivered
	r.snap.EnergyCharged = r.charged - r.baseCharged
}

// Reset starts a new interval at the last recorded values.
func (r *BatteryReader) Reset() {
	r.baseDelivered = r.delivered
	r.baseCharged = r.charged
	r.snap.EnergyDelivered = 0
	r.snap.EnergyCharged = 0
}

// Copy returns the last recorded snapshot.
func (r *BatteryReader) Copy() BatterySnapshot { return r.snap }

// ServiceSnapshot is one sample of the workflow service.
type ServiceSnapshot struct {
	Timestamp int64
	cluster.ServiceCounters

	// Interval values.
	TasksCompletedInterval int
	TasksFailedInterval    int
	JobsFinishedInterval   int
}

// ServiceReader samples a cluster.Service.
type ServiceReader struct {
	service *cluster.Service
	snap    ServiceSnapshot

	counters, base cluster.ServiceCounters
}

// NewServiceReader creates a reader whose first interval starts now.
func NewServiceReader(s *cluster.Service) *ServiceReader {
	r := &ServiceReader{service: s, counters: s.Counters()}
	r.Reset()
	return r
}

// Record observes the service at now.
func (r *ServiceReader) Record(now int64) {
	r.counters = r.service.Counters()
	r.snap.Timestamp = now
	r.snap.ServiceCounters = r.counters
	r.snap.TasksCompletedInterval = r.counters.TasksCompleted - r.base.TasksCompleted
	r.snap.TasksFailedInterval = r.counters.TasksFailed - r.base.TasksFailed
	r.snap.JobsFinishedInterval = r.counters.JobsFinished - r.base.JobsFinished
}

// Reset starts a new interval at the last recorded values.
func (r *ServiceReader) Reset() {
	r.base = r.counters
	r.snap.TasksCompletedInterval = 0
	r.snap.TasksFailedInterval = 0
	r.snap.JobsFinishedInterval = 0
}

// Copy returns the last recorded snapshot.
func (r *ServiceReader) Copy() ServiceSnapshot { return r.snap }
