package telemetry

import (
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogMonitor_WritesStructuredEntries(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	m := NewLogMonitor(logger, logrus.DebugLevel)

	require.NoError(t, m.RecordHost(HostSnapshot{Timestamp: 1000, HostName: "h0", Cluster: "c0", PowerDraw: 150}))
	require.NoError(t, m.RecordBattery(BatterySnapshot{Timestamp: 1000, BatteryName: "b0", State: "IDLE"}))

	require.Len(t, hook.AllEntries(), 2)
	host := hook.AllEntries()[0]
	assert.Equal(t, "host", host.Message)
	assert.Equal(t, logrus.DebugLevel, host.Level)
	assert.Equal(t, "h0", host.Data["host"])
	assert.Equal(t, 150.0, host.Data["power_w"])
	assert.Equal(t, "IDLE", hook.LastEntry().Data["state"])
}

func TestLogMonitor_BelowLoggerLevelIsDropped(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.InfoLevel)
	m := NewLogMonitor(logger, logrus.DebugLevel)

	require.NoError(t, m.RecordService(ServiceSnapshot{Timestamp: 1}))

	assert.Empty(t, hook.AllEntries())
}

// closingMonitor counts Close calls.
type closingMonitor struct {
	MemoryMonitor
	closed int
	err    error
}

func (m *closingMonitor) Close() error {
	m.closed++
	return m.err
}

func TestMonitors_FanOutAndClose(t *testing.T) {
	// GIVEN a memory monitor, a failing monitor and a closable monitor
	mem := &MemoryMonitor{}
	closer := &closingMonitor{err: errors.New("flush failed")}
	ms := Monitors{mem, &failingMonitor{}, closer}

	// WHEN a host snapshot is fanned out
	err := ms.RecordHost(HostSnapshot{HostName: "h0"})

	// THEN every monitor saw it and the failure is reported
	require.Error(t, err)
	assert.True(t, errors.Is(err, errSink))
	assert.Len(t, mem.Hosts, 1)
	assert.Len(t, closer.Hosts, 1)
	require.NoError(t, ms.RecordService(ServiceSnapshot{}))
	assert.Len(t, mem.Service, 1)

	// AND only closable members are closed
	err = ms.Close()
	require.Error(t, err)
	assert.Equal(t, 1, closer.closed)
}
