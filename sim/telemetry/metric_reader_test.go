package telemetry

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/cluster"
)

func TestMetricReader_RecordsIntervalDeltas(t *testing.T) {
	// GIVEN a host busy for 1.5 s and a reader collecting every second
	env := newTestEnv(t, false)
	env.submitWork(t, 1500)
	mem := &MemoryMonitor{}
	reader := NewMetricReader(env.interp, env.dc, env.service, mem, 1000)

	// WHEN the run reaches 2.5 s and the reader is closed
	require.NoError(t, env.interp.RunUntil(2500))
	require.NoError(t, reader.Close())

	// THEN three samples were taken, the last one for the partial interval
	assert.Equal(t, 3, reader.Collections())
	require.Len(t, mem.Hosts, 3)
	want := []HostSnapshot{
		{
			Timestamp: 1000, HostID: testID("h0").String(), HostName: "h0", Cluster: "c0",
			TasksActive: 1, CPUCapacity: 1000, CPUDemand: 1000, CPUUsage: 1000, CPUUtilization: 1,
			PowerDraw: 200, EnergyTotal: 200,
			CPUActiveTime: 1000, DemandedWork: 1000, GrantedWork: 1000, EnergyUsage: 200,
		},
		{
			Timestamp: 2000, HostID: testID("h0").String(), HostName: "h0", Cluster: "c0",
			CPUCapacity: 1000, PowerDraw: 100, EnergyTotal: 350,
			CPUActiveTime: 500, CPUIdleTime: 500, DemandedWork: 500, GrantedWork: 500, EnergyUsage: 150,
		},
		{
			Timestamp: 2500, HostID: testID("h0").String(), HostName: "h0", Cluster: "c0",
			CPUCapacity: 1000, PowerDraw: 100, EnergyTotal: 400,
			CPUIdleTime: 500, EnergyUsage: 50,
		},
	}
	if diff := cmp.Diff(want, mem.Hosts, cmpopts.EquateApprox(0, 1e-6)); diff != "" {
		t.Errorf("host snapshots mismatch (-want +got):\n%s", diff)
	}

	// AND the power source metered the same energy per interval
	require.Len(t, mem.PowerSources, 3)
	var usage []float64
	for _, s := range mem.PowerSources {
		usage = append(usage, s.EnergyUsage)
	}
	assert.InDeltaSlice(t, []float64{200, 150, 50}, usage, 1e-6)
	assert.InDelta(t, 400, mem.PowerSources[2].EnergyTotal, 1e-6)
	assert.Empty(t, mem.Batteries)

	// AND the service samples count the completion once
	require.Len(t, mem.Service, 3)
	assert.Equal(t, 1, mem.Service[0].TasksActive)
	assert.Equal(t, 1, mem.Service[1].TasksCompletedInterval)
	assert.Equal(t, 1, mem.Service[1].JobsFinishedInterval)
	assert.Equal(t, 0, mem.Service[2].TasksCompletedInterval)
	assert.Equal(t, 1, mem.Service[2].TasksCompleted)
}

func TestMetricReader_CloseSkipsEmptyInterval(t *testing.T) {
	env := newTestEnv(t, false)
	mem := &MemoryMonitor{}
	reader := NewMetricReader(env.interp, env.dc, nil, mem, 1000)

	require.NoError(t, env.interp.RunUntil(2000))
	require.NoError(t, reader.Close())
	require.NoError(t, reader.Close())

	assert.Equal(t, 2, reader.Collections())
	assert.Len(t, mem.Hosts, 2)
	assert.Empty(t, mem.Service)
	require.NoError(t, env.interp.Run())
	assert.Equal(t, int64(2000), env.interp.Clock(), "closed reader must not keep the run alive")
}

func TestMetricReader_DefaultInterval(t *testing.T) {
	env := newTestEnv(t, false)
	reader := NewMetricReader(env.interp, env.dc, nil, &MemoryMonitor{}, 0)
	assert.Equal(t, sim.DefaultReportInterval, reader.Interval())
	require.NoError(t, reader.Close())
}

func TestMetricReader_RecordsBattery(t *testing.T) {
	// GIVEN a cluster whose battery charges from a green grid
	env := newTestEnv(t, true)
	mem := &MemoryMonitor{}
	reader := NewMetricReader(env.interp, env.dc, env.service, mem, 1000)

	// WHEN one interval passes
	require.NoError(t, env.interp.RunUntil(1000))
	require.NoError(t, reader.Close())

	// THEN the battery charged at its charge speed and the grid paid for it
	require.Len(t, mem.Batteries, 1)
	b := mem.Batteries[0]
	assert.Equal(t, "CHARGING", b.State)
	assert.True(t, b.GreenEnergy)
	assert.Equal(t, 36000.0, b.Capacity)
	assert.InDelta(t, 50, b.EnergyCharged, 1e-6)
	assert.InDelta(t, 50, b.ChargeLevel, 1e-6)
	assert.Zero(t, b.EnergyDelivered)
	assert.InDelta(t, 150, mem.PowerSources[0].EnergyUsage, 1e-6)
}

// failingMonitor rejects every host snapshot.
type failingMonitor struct {
	MemoryMonitor
}

var errSink = errors.New("sink unavailable")

func (failingMonitor) RecordHost(HostSnapshot) error { return errSink }

func TestMetricReader_MonitorErrorFailsRun(t *testing.T) {
	env := newTestEnv(t, false)
	NewMetricReader(env.interp, env.dc, nil, &failingMonitor{}, 1000)

	err := env.interp.RunUntil(5000)

	require.Error(t, err)
	assert.True(t, errors.Is(err, errSink))
	assert.Equal(t, int64(1000), env.interp.Clock())
}

func TestReaders_ResetStartsNewInterval(t *testing.T) {
	// GIVEN a service reader that saw a completion
	env := newTestEnv(t, false)
	env.submitWork(t, 1000)
	r := NewServiceReader(env.service)
	require.NoError(t, env.interp.Run())

	// WHEN recorded twice with a reset in between
	r.Record(env.interp.Clock())
	first := r.Copy()
	r.Reset()
	r.Record(env.interp.Clock())
	second := r.Copy()

	// THEN only the first interval holds the completion
	assert.Equal(t, 1, first.TasksCompletedInterval)
	assert.Equal(t, 0, second.TasksCompletedInterval)
	assert.Equal(t, cluster.ServiceCounters{TasksTotal: 1, TasksCompleted: 1, JobsFinished: 1}, second.ServiceCounters)
}
