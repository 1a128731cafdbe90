package telemetry

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/cluster"
)

// MetricReader collects every reader of a datacenter on a fixed virtual
// interval. Each collection records a reader, passes its copy to the monitor
// and resets it.
//
// The reader reschedules itself until closed, so a run that waits for an
// empty event queue must close it.
type MetricReader struct {
	interp   *sim.Interpreter
	monitor  Monitor
	interval int64

	hosts     []*HostReader
	sources   []*PowerSourceReader
	batteries []*BatteryReader
	service   *ServiceReader

	timer       *sim.Timer
	lastCollect int64
	collections int
	closed      bool
}

// NewMetricReader starts collecting dc and service, which may be nil, every
// interval milliseconds. A non-positive interval selects
// sim.DefaultReportInterval.
func NewMetricReader(interp *sim.Interpreter, dc *cluster.Datacenter, service *cluster.Service, monitor Monitor, interval int64) *MetricReader {
	if interval <= 0 {
		interval = sim.DefaultReportInterval
	}
	r := &MetricReader{
		interp:      interp,
		monitor:     monitor,
		interval:    interval,
		lastCollect: interp.Clock(),
	}
	for _, c := range dc.Clusters() {
		for _, h := range c.Hosts() {
			r.hosts = append(r.hosts, NewHostReader(h))
		}
		r.sources = append(r.sources, NewPowerSourceReader(c))
		if c.Battery() != nil {
			r.batteries = append(r.batteries, NewBatteryReader(c))
		}
	}
	if service != nil {
		r.service = NewServiceReader(service)
	}
	r.timer = interp.Schedule(interp.Clock()+interval, r.tick)
	return r
}

// Interval returns the collection interval in milliseconds.
func (r *MetricReader) Interval() int64 { return r.interval }

// Collections returns the number of collections so far.
func (r *MetricReader) Collections() int { return r.collections }

func (r *MetricReader) tick(now int64) {
	if err := r.Collect(now); err != nil {
		r.interp.Fail(fmt.Errorf("collecting metrics: %w", err))
		return
	}
	r.timer = r.interp.Schedule(now+r.interval, r.tick)
}

// Collect records every reader at now and hands the copies to the monitor.
func (r *MetricReader) Collect(now int64) error {
	var result *multierror.Error
	for _, hr := range r.hosts {
		hr.Record(now)
		if err := r.monitor.RecordHost(hr.Copy()); err != nil {
			result = multierror.Append(result, err)
		}
		hr.Reset()
	}
	for _, pr := range r.sources {
		pr.Record(now)
		if err := r.monitor.RecordPowerSource(pr.Copy()); err != nil {
			result = multierror.Append(result, err)
		}
		pr.Reset()
	}
	for _, br := range r.batteries {
		br.Record(now)
		if err := r.monitor.RecordBattery(br.Copy()); err != nil {
			result = multierror.Append(result, err)
		}
		br.Reset()
	}
	if r.service != nil {
		r.service.Record(now)
		if err := r.monitor.RecordService(r.service.Copy()); err != nil {
			result = multierror.Append(result, err)
		}
		r.service.Reset()
	}
	r.lastCollect = now
	r.collections++
	logrus.Debugf("[t=%d] metrics collected (#%d)", now, r.collections)
	return result.ErrorOrNil()
}

// Close stops the interval, collects the partial interval since the last
// collection if any, and closes the monitor when it is an io.Closer.
func (r *MetricReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	if r.timer != nil {
		r.timer.Cancel()
		r.timer = nil
	}
	var result *multierror.Error
	if now := r.interp.Clock(); now > r.lastCollect {
		if err := r.Collect(now); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if c, ok := r.monitor.(io.Closer); ok {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
