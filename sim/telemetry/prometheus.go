package telemetry

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "dcsim"

// PrometheusMonitor exposes the latest snapshots as Prometheus metrics on
// its own registry. Interval values accumulate into counters.
type PrometheusMonitor struct {
	registry *prometheus.Registry

	clock prometheus.Gauge

	hostTasks       *prometheus.GaugeVec
	hostCPUUsage    *prometheus.GaugeVec
	hostCPUDemand   *prometheus.GaugeVec
	hostUtilization *prometheus.GaugeVec
	hostPower       *prometheus.GaugeVec
	hostEnergy      *prometheus.CounterVec
	hostGranted     *prometheus.CounterVec
	hostOvercommit  *prometheus.CounterVec

	sourceDraw      *prometheus.GaugeVec
	sourceIntensity *prometheus.GaugeVec
	sourceEnergy    *prometheus.CounterVec
	sourceCarbon    *prometheus.CounterVec

	batteryCharge    *prometheus.GaugeVec
	batteryDraw      *prometheus.GaugeVec
	batteryDelivered *prometheus.CounterVec

	serviceTasks *prometheus.GaugeVec
	serviceJobs  *prometheus.GaugeVec
}

// NewPrometheusMonitor registers the dcsim metrics on a fresh registry.
func NewPrometheusMonitor() *PrometheusMonitor {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	hostLabels := []string{"host", "cluster"}
	return &PrometheusMonitor{
		registry: reg,
		clock: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "virtual_time_milliseconds",
			Help:      "Virtual time of the last collection.",
		}),
		hostTasks: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_tasks_active",
			Help:      "Tasks running on the host.",
		}, hostLabels),
		hostCPUUsage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_usage_mhz",
			Help:      "CPU speed granted to the workloads of the host.",
		}, hostLabels),
		hostCPUDemand: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_demand_mhz",
			Help:      "CPU speed requested by the workloads of the host.",
		}, hostLabels),
		hostUtilization: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_utilization_ratio",
			Help:      "CPU usage relative to the rated capacity.",
		}, hostLabels),
		hostPower: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_power_watts",
			Help:      "Power drawn by the host.",
		}, hostLabels),
		hostEnergy: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_energy_joules_total",
			Help:      "Energy drawn by the host.",
		}, hostLabels),
		hostGranted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_cpu_granted_work_total",
			Help:      "CPU work granted to the workloads of the host.",
		}, hostLabels),
		hostOvercommit: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "host_cpu_overcommitted_work_total",
			Help:      "CPU work requested but not granted.",
		}, hostLabels),
		sourceDraw: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_source_draw_watts",
			Help:      "Power supplied by the grid connection.",
		}, []string{"cluster"}),
		sourceIntensity: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_source_carbon_intensity",
			Help:      "Carbon intensity in gCO2/kWh.",
		}, []string{"cluster"}),
		sourceEnergy: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "power_source_energy_joules_total",
			Help:      "Energy supplied by the grid connection.",
		}, []string{"cluster"}),
		sourceCarbon: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "power_source_carbon_grams_total",
			Help:      "Carbon emitted for the supplied energy.",
		}, []string{"cluster"}),
		batteryCharge: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_charge_joules",
			Help:      "Energy stored in the battery.",
		}, []string{"cluster"}),
		batteryDraw: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_draw_watts",
			Help:      "Power delivered by the battery.",
		}, []string{"cluster"}),
		batteryDelivered: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "battery_delivered_joules_total",
			Help:      "Energy delivered by the battery.",
		}, []string{"cluster"}),
		serviceTasks: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_tasks",
			Help:      "Tasks by state.",
		}, []string{"state"}),
		serviceJobs: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "service_jobs",
			Help:      "Jobs by state.",
		}, []string{"state"}),
	}
}

// Registry returns the registry holding the metrics.
func (m *PrometheusMonitor) Registry() *prometheus.Registry { return m.registry }

// RecordHost implements Monitor.
func (m *PrometheusMonitor) RecordHost(s HostSnapshot) error {
	m.clock.Set(float64(s.Timestamp))
	m.hostTasks.WithLabelValues(s.HostName, s.Cluster).Set(float64(s.TasksActive))
	m.hostCPUUsage.WithLabelValues(s.HostName, s.Cluster).Set(s.CPUUsage)
	m.hostCPUDemand.WithLabelValues(s.HostName, s.Cluster).Set(s.CPUDemand)
	m.hostUtilization.WithLabelValues(s.HostName, s.Cluster).Set(s.CPUUtilization)
	m.hostPower.WithLabelValues(s.HostName, s.Cluster).Set(s.PowerDraw)
	addPositive(m.hostEnergy.WithLabelValues(s.HostName, s.Cluster), s.EnergyUsage)
	addPositive(m.hostGranted.WithLabelValues(s.HostName, s.Cluster), s.GrantedWork)
	addPositive(m.hostOvercommit.WithLabelValues(s.HostName, s.Cluster), s.OvercommittedWork)
	return nil
}

// RecordPowerSource implements Monitor.
func (m *PrometheusMonitor) RecordPowerSource(s PowerSourceSnapshot) error {
	m.sourceDraw.WithLabelValues(s.Cluster).Set(s.PowerDraw)
	m.sourceIntensity.WithLabelValues(s.Cluster).Set(s.CarbonIntensity)
	addPositive(m.sourceEnergy.WithLabelValues(s.Cluster), s.EnergyUsage)
	addPositive(m.sourceCarbon.WithLabelValues(s.Cluster), s.CarbonEmission)
	return nil
}

// RecordBattery implements Monitor.
func (m *PrometheusMonitor) RecordBattery(s BatterySnapshot) error {
	m.batteryCharge.WithLabelValues(s.Cluster).Set(s.ChargeLevel)
	m.batteryDraw.WithLabelValues(s.Cluster).Set(s.PowerDraw)
	addPositive(m.batteryDelivered.WithLabelValues(s.Cluster), s.EnergyDelivered)
	return nil
}

// RecordService implements Monitor.
func (m *PrometheusMonitor) RecordService(s ServiceSnapshot) error {
	m.clock.Set(float64(s.Timestamp))
	m.serviceTasks.WithLabelValues("pending").Set(float64(s.TasksPending))
	m.serviceTasks.WithLabelValues("active").Set(float64(s.TasksActive))
	m.serviceTasks.WithLabelValues("completed").Set(float64(s.TasksCompleted))
	m.serviceTasks.WithLabelValues("failed").Set(float64(s.TasksFailed))
	m.serviceJobs.WithLabelValues("active").Set(float64(s.JobsActive))
	m.serviceJobs.WithLabelValues("finished").Set(float64(s.JobsFinished))
	m.serviceJobs.WithLabelValues("failed").Set(float64(s.JobsFailed))
	return nil
}

// WriteTextfile writes the current metrics in the text exposition format,
// for the node exporter textfile collector.
func (m *PrometheusMonitor) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing prometheus textfile: %w", err)
	}
	return nil
}

// addPositive adds v to c; counters only go up.
func addPositive(c prometheus.Counter, v float64) {
	if v > 0 {
		c.Add(v)
	}
}
