package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/cluster"
	"github.com/dcsim/dcsim/sim/kernel"
	"github.com/dcsim/dcsim/sim/policy"
	"github.com/dcsim/dcsim/sim/telemetry"
	"github.com/dcsim/dcsim/sim/topology"
	"github.com/dcsim/dcsim/sim/trace"
	"github.com/dcsim/dcsim/sim/workload"
)

// runOptions is everything a run needs once the CLI is parsed.
type runOptions struct {
	TopologyPath   string
	WorkloadPath   string
	Bundle         sim.PolicyBundle
	Seed           *int64 // nil keeps the workload seed
	Horizon        int64
	SyntheticJobs  int // 0 keeps the workload count
	TraceLevel     trace.TraceLevel
	SQLitePath     string
	PrometheusPath string
}

// runSummary is the result of a run, printed as JSON.
type runSummary struct {
	Seed           int64            `json:"seed"`
	SimulatedTime  int64            `json:"simulated_time_ms"`
	TimersExecuted uint64           `json:"timers_executed"`
	Jobs           int              `json:"jobs"`
	JobsFinished   int              `json:"jobs_finished"`
	JobsFailed     int              `json:"jobs_failed"`
	TasksCompleted int              `json:"tasks_completed"`
	TasksFailed    int              `json:"tasks_failed"`
	TasksPending   int              `json:"tasks_pending"`
	Collections    int              `json:"telemetry_collections"`
	Metrics        *cluster.Metrics `json:"metrics"`
	Clusters       []clusterSummary `json:"clusters"`

	Trace *trace.TraceSummary `json:"trace,omitempty"`
}

type clusterSummary struct {
	Name             string  `json:"name"`
	Hosts            int     `json:"hosts"`
	HostEnergy       float64 `json:"host_energy_j"`
	GridEnergy       float64 `json:"grid_energy_j"`
	Carbon           float64 `json:"carbon_g"`
	BatteryDelivered float64 `json:"battery_delivered_j,omitempty"`
}

// runSimulation builds the datacenter and the workload, runs them to
// completion or to the horizon, and prints the summary to out.
func runSimulation(opts runOptions, out io.Writer) (*runSummary, error) {
	startTime := time.Now()

	file, err := topology.Load(opts.TopologyPath)
	if err != nil {
		return nil, err
	}
	spec, err := workload.LoadWorkloadSpec(opts.WorkloadPath)
	if err != nil {
		return nil, err
	}
	if opts.Seed != nil {
		spec.Seed = *opts.Seed
	}
	if opts.SyntheticJobs > 0 {
		if spec.Synthetic == nil {
			return nil, fmt.Errorf("--synthetic-jobs needs a synthetic section in %s", opts.WorkloadPath)
		}
		spec.Synthetic.Jobs = opts.SyntheticJobs
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(spec.Seed))

	topo, err := file.Expand(rng.ForSubsystem(sim.SubsystemTopology))
	if err != nil {
		return nil, err
	}
	jobs, err := workload.BuildJobs(spec, rng.ForSubsystem(sim.SubsystemWorkload))
	if err != nil {
		return nil, err
	}

	b := opts.Bundle
	interp := sim.NewInterpreter(0)
	tree := sim.NewSystemTree(interp)
	governor := kernel.NewScalingGovernor(b.Governor.Policy, deref(b.Governor.Threshold), deref(b.Governor.Step))
	dc, err := cluster.Build(interp, tree, topo, governor)
	if err != nil {
		return nil, err
	}

	eligibility := policy.NewEligibilityPolicy(b.Eligibility.Policy, derefInt(b.Eligibility.TaskLimit),
		deref(b.Eligibility.Probability), rng.ForSubsystem(sim.SubsystemEligibility))
	placement := cluster.NewPlacementPolicy(b.Placement.Policy)
	var st *trace.SimulationTrace
	if opts.TraceLevel == trace.TraceLevelDecisions {
		st = trace.NewSimulationTrace(trace.TraceConfig{Level: opts.TraceLevel})
	}
	svc := cluster.NewService(interp, dc.Hosts(), eligibility, placement, st)
	if q := b.Placement.SchedulingQuantum; q != nil {
		svc.SetSchedulingQuantum(*q)
	}

	monitors := telemetry.Monitors{telemetry.NewLogMonitor(nil, logrus.DebugLevel)}
	var prom *telemetry.PrometheusMonitor
	if opts.PrometheusPath != "" {
		prom = telemetry.NewPrometheusMonitor()
		monitors = append(monitors, prom)
	}
	if opts.SQLitePath != "" {
		db, err := telemetry.OpenSQLiteMonitor(opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, db)
	}
	interval := sim.DefaultReportInterval
	if b.Telemetry.ReportInterval != nil {
		interval = *b.Telemetry.ReportInterval
	}
	reader := telemetry.NewMetricReader(interp, dc, svc, monitors, interval)

	logrus.Infof("Starting simulation: %d hosts, %d jobs, eligibility=%v, placement=%q, governor=%q, seed=%d",
		len(dc.Hosts()), len(jobs), eligibility, b.Placement.Policy, b.Governor.Policy, spec.Seed)

	shut := &shutdown{interp: interp, reader: reader, service: svc, dc: dc, jobs: len(jobs)}
	svc.AddListener(shut)
	if err := svc.Submit(jobs...); err != nil {
		shut.close()
		return nil, err
	}
	if len(jobs) == 0 {
		interp.Schedule(interp.Clock(), func(int64) { shut.close() })
	}

	runErr := interp.RunUntil(opts.Horizon)
	if err := shut.close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		return nil, runErr
	}
	if prom != nil {
		if err := prom.WriteTextfile(opts.PrometheusPath); err != nil {
			return nil, err
		}
	}

	summary := summarize(interp, dc, svc, reader, len(jobs), spec.Seed)
	if st != nil {
		summary.Trace = trace.Summarize(st)
	}
	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding summary: %w", err)
	}
	fmt.Fprintln(out, "=== Simulation Summary ===")
	fmt.Fprintln(out, string(data))
	logrus.Infof("Simulated %d ms in %s (%d timers)", interp.Clock(), time.Since(startTime), interp.Executed())
	return summary, nil
}

// shutdown closes telemetry, the service and the datacenter once every job
// has finished. The metric reader reschedules itself, so without it the
// run would never drain.
type shutdown struct {
	sim.BaseWorkflowListener

	interp   *sim.Interpreter
	reader   *telemetry.MetricReader
	service  *cluster.Service
	dc       *cluster.Datacenter
	jobs     int
	finished int
	done     bool
	err      error
}

// JobFinished implements sim.WorkflowListener.
func (s *shutdown) JobFinished(*sim.Job) {
	s.finished++
	if s.finished == s.jobs {
		// Listeners run inside the service; close from a fresh timer.
		s.interp.Schedule(s.interp.Clock(), func(int64) {
			if err := s.close(); err != nil {
				s.interp.Fail(err)
			}
		})
	}
}

func (s *shutdown) close() error {
	if s.done {
		return s.err
	}
	s.done = true
	var result *multierror.Error
	if err := s.reader.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.service.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.dc.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	s.err = result.ErrorOrNil()
	return s.err
}

func summarize(interp *sim.Interpreter, dc *cluster.Datacenter, svc *cluster.Service, reader *telemetry.MetricReader, jobs int, seed int64) *runSummary {
	c := svc.Counters()
	summary := &runSummary{
		Seed:           seed,
		SimulatedTime:  interp.Clock(),
		TimersExecuted: interp.Executed(),
		Jobs:           jobs,
		JobsFinished:   c.JobsFinished,
		JobsFailed:     c.JobsFailed,
		TasksCompleted: c.TasksCompleted,
		TasksFailed:    c.TasksFailed,
		TasksPending:   c.TasksPending,
		Collections:    reader.Collections(),
		Metrics:        svc.Metrics(),
	}
	for _, cl := range dc.Clusters() {
		cs := clusterSummary{
			Name:       cl.Name(),
			Hosts:      len(cl.Hosts()),
			GridEnergy: cl.PowerSource().Energy(),
			Carbon:     cl.PowerSource().CarbonEmission(),
		}
		for _, h := range cl.Hosts() {
			cs.HostEnergy += h.Energy()
		}
		if b := cl.Battery(); b != nil {
			cs.BatteryDelivered = b.EnergyDelivered()
		}
		summary.Clusters = append(summary.Clusters, cs)
	}
	return summary
}

func deref(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}
