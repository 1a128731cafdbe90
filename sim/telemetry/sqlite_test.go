package telemetry

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func TestSQLiteMonitor_StoresRunWithSummary(t *testing.T) {
	// GIVEN a battery-backed cluster collected into a database
	path := filepath.Join(t.TempDir(), "run.db")
	m, err := OpenSQLiteMonitor(path)
	require.NoError(t, err)
	env := newTestEnv(t, true)
	env.submitWork(t, 1500)
	reader := NewMetricReader(env.interp, env.dc, env.service, m, 1000)

	// WHEN the run reaches 2.5 s and the reader closes the monitor
	require.NoError(t, env.interp.RunUntil(2500))
	require.NoError(t, reader.Close())

	// THEN every table holds one row per collection
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	assert.Equal(t, 3, countRows(t, db, "host_metrics"))
	assert.Equal(t, 3, countRows(t, db, "power_source_metrics"))
	assert.Equal(t, 3, countRows(t, db, "battery_metrics"))
	assert.Equal(t, 3, countRows(t, db, "service_metrics"))

	// AND the summary carries the battery size and the run totals
	var (
		finishedAt            int64
		hosts, completed      int
		capacity, energy, gCO float64
	)
	require.NoError(t, db.QueryRow(
		`SELECT finished_at, hosts, battery_capacity, total_energy, total_carbon, tasks_completed FROM run_summary`,
	).Scan(&finishedAt, &hosts, &capacity, &energy, &gCO, &completed))
	assert.Equal(t, int64(2500), finishedAt)
	assert.Equal(t, 1, hosts)
	assert.Equal(t, 36000.0, capacity)
	assert.Zero(t, gCO, "no carbon trace means zero intensity")
	assert.Greater(t, energy, 0.0)
	assert.Equal(t, 1, completed)

	var state string
	require.NoError(t, db.QueryRow(`SELECT state FROM battery_metrics ORDER BY timestamp LIMIT 1`).Scan(&state))
	assert.Equal(t, "CHARGING", state)
}

func TestSQLiteMonitor_ReopenKeepsSchemaAndRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.db")
	m, err := OpenSQLiteMonitor(path)
	require.NoError(t, err)
	require.NoError(t, m.RecordHost(HostSnapshot{Timestamp: 1, HostID: "x", HostName: "h0", Cluster: "c0"}))
	require.NoError(t, m.Close())

	m, err = OpenSQLiteMonitor(path)
	require.NoError(t, err)
	assert.Equal(t, 1, countRows(t, m.DB(), "host_metrics"))
	assert.Equal(t, 1, countRows(t, m.DB(), "run_summary"))
	require.NoError(t, m.Close())
}

func TestOpenSQLiteMonitor_BadPath(t *testing.T) {
	_, err := OpenSQLiteMonitor(filepath.Join(t.TempDir(), "missing", "run.db"))
	assert.Error(t, err)
}
