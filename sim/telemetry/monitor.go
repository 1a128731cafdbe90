package telemetry

import (
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
)

// Monitor receives the snapshots of every collection. A monitor that also
// implements io.Closer is closed by MetricReader.Close.
type Monitor interface {
	RecordHost(HostSnapshot) error
	RecordPowerSource(PowerSourceSnapshot) error
	RecordBattery(BatterySnapshot) error
	RecordService(ServiceSnapshot) error
}

// Monitors fans every snapshot out to each monitor in order.
type Monitors []Monitor

// RecordHost implements Monitor.
func (ms Monitors) RecordHost(s HostSnapshot) error {
	return ms.each(func(m Monitor) error { return m.RecordHost(s) })
}

// RecordPowerSource implements Monitor.
func (ms Monitors) RecordPowerSource(s PowerSourceSnapshot) error {
	return ms.each(func(m Monitor) error { return m.RecordPowerSource(s) })
}

// RecordBattery implements Monitor.
func (ms Monitors) RecordBattery(s BatterySnapshot) error {
	return ms.each(func(m Monitor) error { return m.RecordBattery(s) })
}

// RecordService implements Monitor.
func (ms Monitors) RecordService(s ServiceSnapshot) error {
	return ms.each(func(m Monitor) error { return m.RecordService(s) })
}

// Close closes every member that implements io.Closer.
func (ms Monitors) Close() error {
	return ms.each(func(m Monitor) error {
		if c, ok := m.(io.Closer); ok {
			return c.Close()
		}
		return nil
	})
}

func (ms Monitors) each(fn func(Monitor) error) error {
	var result *multierror.Error
	for _, m := range ms {
		if err := fn(m); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// MemoryMonitor keeps every snapshot in memory.
type MemoryMonitor struct {
	Hosts        []HostSnapshot
	PowerSources []PowerSourceSnapshot
	Batteries    []BatterySnapshot
	Service      []ServiceSnapshot
}

// RecordHost implements Monitor.
func (m *MemoryMonitor) RecordHost(s HostSnapshot) error {
	m.Hosts = append(m.Hosts, s)
	return nil
}

// RecordPowerSource implements Monitor.
func (m *MemoryMonitor) RecordPowerSource(s PowerSourceSnapshot) error {
	m.PowerSources = append(m.PowerSources, s)
	return nil
}

// RecordBattery implements Monitor.
func (m *MemoryMonitor) RecordBattery(s BatterySnapshot) error {
	m.Batteries = append(m.Batteries, s)
	return nil
}

// RecordService implements Monitor.
func (m *MemoryMonitor) RecordService(s ServiceSnapshot) error {
	m.Service = append(m.Service, s)
	return nil
}

// LogMonitor writes every snapshot as one structured log entry.
type LogMonitor struct {
	logger *logrus.Logger
	level  logrus.Level
}

// NewLogMonitor logs to logger at level. A nil logger means the standard
// logrus logger.
func NewLogMonitor(logger *logrus.Logger, level logrus.Level) *LogMonitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &LogMonitor{logger: logger, level: level}
}

// RecordHost implements Monitor.
func (m *LogMonitor) RecordHost(s HostSnapshot) error {
	m.logger.WithFields(logrus.Fields{
		"t":           s.Timestamp,
		"host":        s.HostName,
		"cluster":     s.Cluster,
		"tasks":       s.TasksActive,
		"cpu_usage":   s.CPUUsage,
		"cpu_demand":  s.CPUDemand,
		"utilization": s.CPUUtilization,
		"power_w":     s.PowerDraw,
		"energy_j":    s.EnergyUsage,
	}).Log(m.level, "host")
	return nil
}

// RecordPowerSource implements Monitor.
func (m *LogMonitor) RecordPowerSource(s PowerSourceSnapshot) error {
	m.logger.WithFields(logrus.Fields{
		"t":         s.Timestamp,
		"source":    s.SourceName,
		"cluster":   s.Cluster,
		"draw_w":    s.PowerDraw,
		"intensity": s.CarbonIntensity,
		"energy_j":  s.EnergyUsage,
		"carbon_g":  s.CarbonEmission,
	}).Log(m.level, "power source")
	return nil
}

// RecordBattery implements Monitor.
func (m *LogMonitor) RecordBattery(s BatterySnapshot) error {
	m.logger.WithFields(logrus.Fields{
		"t":           s.Timestamp,
		"battery":     s.BatteryName,
		"cluster":     s.Cluster,
		"state":       s.State,
		"charge_j":    s.ChargeLevel,
		"draw_w":      s.PowerDraw,
		"delivered_j": s.EnergyDelivered,
		"charged_j":   s.EnergyCharged,
	}).Log(m.level, "battery")
	return nil
}

// RecordService implements Monitor.
func (m *LogMonitor) RecordService(s ServiceSnapshot) error {
	m.logger.WithFields(logrus.Fields{
		"t":               s.Timestamp,
		"tasks_pending":   s.TasksPending,
		"tasks_active":    s.TasksActive,
		"tasks_completed": s.TasksCompleted,
		"tasks_failed":    s.TasksFailed,
		"jobs_active":     s.JobsActive,
		"jobs_finished":   s.JobsFinished,
	}).Log(m.level, "service")
	return nil
}
