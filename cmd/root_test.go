package cmd

import (
	"bytes"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/trace"
)

const testTopology = `
clusters:
  - name: C01
    hosts:
      - name: H
        count: 2
        cpu: {count: 1, core_count: 1, core_speed: 1000}
        power_model: {model: linear, idle: 100, max: 200}
    power_source: {capacity: 0}
`

const testWorkload = `
version: "1"
seed: 7
jobs:
  - id: j1
    submit_time: 0
    tasks:
      - id: a
        work: 1000
      - id: b
        work: 1000
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func intPtr(v int) *int       { return &v }
func int64Ptr(v int64) *int64 { return &v }

func TestRunSimulation_LimitPerJobEndToEnd(t *testing.T) {
	// GIVEN two hosts, a job of two independent tasks, one active task per
	// job and every output enabled
	dir := t.TempDir()
	opts := runOptions{
		TopologyPath: writeFile(t, dir, "topology.yaml", testTopology),
		WorkloadPath: writeFile(t, dir, "workload.yaml", testWorkload),
		Bundle: sim.PolicyBundle{
			Eligibility: sim.EligibilityConfig{Policy: "limit-per-job", TaskLimit: intPtr(1)},
			Placement:   sim.PlacementConfig{Policy: "round-robin", SchedulingQuantum: int64Ptr(400)},
			Telemetry:   sim.TelemetryConfig{ReportInterval: int64Ptr(500)},
		},
		Horizon:        sim.NoDeadline,
		TraceLevel:     trace.TraceLevelDecisions,
		SQLitePath:     filepath.Join(dir, "run.db"),
		PrometheusPath: filepath.Join(dir, "run.prom"),
	}
	var out bytes.Buffer

	// WHEN the simulation runs
	summary, err := runSimulation(opts, &out)
	require.NoError(t, err)

	// THEN the tasks ran one after the other and the run drained at 2 s
	assert.Equal(t, int64(7), summary.Seed)
	assert.Equal(t, int64(2000), summary.SimulatedTime)
	assert.Equal(t, 1, summary.JobsFinished)
	assert.Equal(t, 0, summary.JobsFailed)
	assert.Equal(t, 2, summary.TasksCompleted)
	assert.Equal(t, 4, summary.Collections)
	assert.Equal(t, 2000.0, summary.Metrics.JobResponse.Max)
	require.NotNil(t, summary.Trace)
	assert.Equal(t, 3, summary.Trace.DeniedCount, "b is retried at 0, 400 and 800")

	// AND both hosts drew idle power for the whole run
	require.Len(t, summary.Clusters, 1)
	c := summary.Clusters[0]
	assert.Equal(t, 2, c.Hosts)
	assert.InDelta(t, 600, c.HostEnergy, 1e-6)
	assert.InDelta(t, c.HostEnergy, c.GridEnergy, 1e-6)
	assert.Contains(t, out.String(), "=== Simulation Summary ===")
	assert.Contains(t, out.String(), `"jobs_finished": 1`)

	// AND the telemetry files were written
	prom, err := os.ReadFile(opts.PrometheusPath)
	require.NoError(t, err)
	assert.Contains(t, string(prom), "dcsim_host_energy_joules_total")
	db, err := sql.Open("sqlite", opts.SQLitePath)
	require.NoError(t, err)
	defer db.Close()
	var rows int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM run_summary`).Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestRunSimulation_SameSeedSameResult(t *testing.T) {
	dir := t.TempDir()
	workloadPath := writeFile(t, dir, "workload.yaml", testWorkload+`
synthetic:
  jobs: 5
  rate: 1
  arrival: {process: poisson}
  tasks: {type: constant, params: {value: 2}}
  work: {type: exponential, params: {mean: 800}}
`)
	opts := runOptions{
		TopologyPath: writeFile(t, dir, "topology.yaml", testTopology),
		WorkloadPath: workloadPath,
		Horizon:      sim.NoDeadline,
		Seed:         int64Ptr(99),
	}

	a, err := runSimulation(opts, &bytes.Buffer{})
	require.NoError(t, err)
	b, err := runSimulation(opts, &bytes.Buffer{})
	require.NoError(t, err)

	assert.Equal(t, int64(99), a.Seed)
	assert.Equal(t, 6, a.Jobs)
	assert.Equal(t, a, b)
}

func TestRunSimulation_HorizonCancelsRunningTasks(t *testing.T) {
	dir := t.TempDir()
	opts := runOptions{
		TopologyPath: writeFile(t, dir, "topology.yaml", testTopology),
		WorkloadPath: writeFile(t, dir, "workload.yaml", testWorkload),
		Horizon:      500,
	}

	summary, err := runSimulation(opts, &bytes.Buffer{})

	require.NoError(t, err)
	assert.Equal(t, int64(500), summary.SimulatedTime)
	assert.Equal(t, 2, summary.TasksFailed)
	assert.Equal(t, 1, summary.JobsFailed)
}

func TestRunSimulation_SyntheticJobsNeedSyntheticSection(t *testing.T) {
	dir := t.TempDir()
	opts := runOptions{
		TopologyPath:  writeFile(t, dir, "topology.yaml", testTopology),
		WorkloadPath:  writeFile(t, dir, "workload.yaml", testWorkload),
		Horizon:       sim.NoDeadline,
		SyntheticJobs: 3,
	}

	_, err := runSimulation(opts, &bytes.Buffer{})

	assert.ErrorContains(t, err, "synthetic section")
}

func TestResolveBundle_FlagsOverrideOnlyWhenSet(t *testing.T) {
	// GIVEN a policy bundle file and a command line that only sets placement
	path := writeFile(t, t.TempDir(), "policy.yaml", `
eligibility:
  policy: limit-per-job
  task_limit: 3
placement:
  policy: least-loaded
`)
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.StringVar(&placementPolicy, "placement", "first-fit", "")
	fs.IntVar(&taskLimit, "task-limit", 1, "")
	require.NoError(t, fs.Parse([]string{"--placement=round-robin"}))

	// WHEN the bundle is resolved
	bundle, err := resolveBundle(path, fs)

	// THEN the flag wins where set and the file elsewhere
	require.NoError(t, err)
	assert.Equal(t, "round-robin", bundle.Placement.Policy)
	assert.Equal(t, "limit-per-job", bundle.Eligibility.Policy)
	require.NotNil(t, bundle.Eligibility.TaskLimit)
	assert.Equal(t, 3, *bundle.Eligibility.TaskLimit)
}

func TestResolveBundle_InvalidOverrideRejected(t *testing.T) {
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	fs.IntVar(&taskLimit, "task-limit", 1, "")
	require.NoError(t, fs.Parse([]string{"--task-limit=0"}))

	_, err := resolveBundle("", fs)

	assert.ErrorContains(t, err, "task_limit must be >= 1")
}

func TestValidateTopology(t *testing.T) {
	dir := t.TempDir()
	var out bytes.Buffer

	require.NoError(t, validateTopology(writeFile(t, dir, "ok.yaml", testTopology), 42, &out))
	assert.Contains(t, out.String(), "1 clusters, 2 hosts, capacity 2000 MHz")
	assert.Contains(t, out.String(), "host H-0")
	assert.Contains(t, out.String(), "grid unbounded")

	err := validateTopology(writeFile(t, dir, "bad.yaml", "clusters:\n  - name: empty\n"), 42, &out)
	assert.ErrorContains(t, err, "no hosts defined")
}
