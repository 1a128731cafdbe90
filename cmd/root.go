package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/trace"
)

var (
	// Inputs
	topologyPath     string // Topology file (.yaml or .toml)
	workloadPath     string // Workload spec YAML
	policyConfigPath string // Optional policy bundle YAML

	// Run control
	seed              int64  // Overrides the workload seed when set
	simulationHorizon int64  // Stop the run at this virtual time (ms)
	logLevel          string // Log verbosity level
	syntheticJobs     int    // Overrides the synthetic job count when set
	traceLevel        string // Decision trace verbosity

	// Policies; applied over the policy bundle only when set on the command line
	eligibilityPolicy string
	taskLimit         int
	admitProbability  float64
	placementPolicy   string
	schedulingQuantum int64
	governorPolicy    string
	governorThreshold float64
	governorStep      float64
	reportInterval    int64

	// Outputs
	sqliteOut     string
	prometheusOut string
)

// rootCmd is the base command for the CLI
var rootCmd = &cobra.Command{
	Use:   "dcsim",
	Short: "Discrete-event simulator for datacenter resource allocation",
}

// runCmd executes the simulation using parameters from CLI flags
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a workload on a datacenter topology",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()

		if topologyPath == "" || workloadPath == "" {
			logrus.Fatalf("--topology and --workload are required")
		}
		bundle, err := resolveBundle(policyConfigPath, cmd.Flags())
		if err != nil {
			logrus.Fatalf("%v", err)
		}
		opts := runOptions{
			TopologyPath:   topologyPath,
			WorkloadPath:   workloadPath,
			Bundle:         bundle,
			Horizon:        simulationHorizon,
			SyntheticJobs:  syntheticJobs,
			TraceLevel:     trace.TraceLevel(traceLevel),
			SQLitePath:     sqliteOut,
			PrometheusPath: prometheusOut,
		}
		if cmd.Flags().Changed("seed") {
			opts.Seed = &seed
		}
		if _, err := runSimulation(opts, os.Stdout); err != nil {
			logrus.Fatalf("simulation failed: %v", err)
		}
		logrus.Info("Simulation complete.")
	},
}

// validateCmd checks a topology file without running anything
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a topology file and print the expanded datacenter",
	Run: func(cmd *cobra.Command, args []string) {
		setLogLevel()
		if topologyPath == "" {
			logrus.Fatalf("--topology is required")
		}
		if err := validateTopology(topologyPath, seed, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	},
}

func setLogLevel() {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.Fatalf("Invalid log level: %s", logLevel)
	}
	logrus.SetLevel(level)
}

// resolveBundle loads the policy bundle, if any, and applies every policy
// flag the user set explicitly on top of it. The result is validated.
func resolveBundle(path string, flags *pflag.FlagSet) (sim.PolicyBundle, error) {
	var bundle sim.PolicyBundle
	if path != "" {
		b, err := sim.LoadPolicyBundle(path)
		if err != nil {
			return bundle, err
		}
		bundle = *b
	}
	if flags.Changed("eligibility") {
		bundle.Eligibility.Policy = eligibilityPolicy
	}
	if flags.Changed("task-limit") {
		bundle.Eligibility.TaskLimit = &taskLimit
	}
	if flags.Changed("admit-probability") {
		bundle.Eligibility.Probability = &admitProbability
	}
	if flags.Changed("placement") {
		bundle.Placement.Policy = placementPolicy
	}
	if flags.Changed("scheduling-quantum") {
		bundle.Placement.SchedulingQuantum = &schedulingQuantum
	}
	if flags.Changed("governor") {
		bundle.Governor.Policy = governorPolicy
	}
	if flags.Changed("governor-threshold") {
		bundle.Governor.Threshold = &governorThreshold
	}
	if flags.Changed("governor-step") {
		bundle.Governor.Step = &governorStep
	}
	if flags.Changed("report-interval") {
		bundle.Telemetry.ReportInterval = &reportInterval
	}
	if err := bundle.Validate(); err != nil {
		return bundle, fmt.Errorf("invalid policy configuration: %w", err)
	}
	return bundle, nil
}

// Execute runs the CLI root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// init sets up CLI flags and subcommands
func init() {
	rootCmd.PersistentFlags().StringVar(&topologyPath, "topology", "", "Topology file (.yaml or .toml)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 42, "Seed for identities and workload generation (overrides the workload seed)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	runCmd.Flags().StringVar(&workloadPath, "workload", "", "Workload spec YAML")
	runCmd.Flags().StringVar(&policyConfigPath, "policy-config", "", "Policy bundle YAML")
	runCmd.Flags().Int64Var(&simulationHorizon, "horizon", sim.NoDeadline, "Simulation horizon (virtual ms)")
	runCmd.Flags().IntVar(&syntheticJobs, "synthetic-jobs", 0, "Number of synthetic jobs (overrides the workload spec)")
	runCmd.Flags().StringVar(&traceLevel, "trace-level", "none", "Decision trace level (none, decisions)")

	runCmd.Flags().StringVar(&eligibilityPolicy, "eligibility", "always-admit", "Task eligibility policy: "+strings.Join(sim.ValidEligibilityPolicyNames(), ", "))
	runCmd.Flags().IntVar(&taskLimit, "task-limit", 1, "Active tasks per job for limit-per-job")
	runCmd.Flags().Float64Var(&admitProbability, "admit-probability", 0.5, "Admission probability for random")
	runCmd.Flags().StringVar(&placementPolicy, "placement", "first-fit", "Placement policy: "+strings.Join(sim.ValidPlacementPolicyNames(), ", "))
	runCmd.Flags().Int64Var(&schedulingQuantum, "scheduling-quantum", sim.DefaultSchedulingQuantum, "Retry delay for denied or unplaced tasks (virtual ms)")
	runCmd.Flags().StringVar(&governorPolicy, "governor", "", "CPU frequency governor: "+strings.Join(sim.ValidGovernorNames(), ", "))
	runCmd.Flags().Float64Var(&governorThreshold, "governor-threshold", 0.8, "Load threshold of ondemand and conservative")
	runCmd.Flags().Float64Var(&governorStep, "governor-step", 0.05, "Frequency step of conservative, as a fraction of the maximum")
	runCmd.Flags().Int64Var(&reportInterval, "report-interval", sim.DefaultReportInterval, "Telemetry interval (virtual ms)")

	runCmd.Flags().StringVar(&sqliteOut, "sqlite-out", "", "Write telemetry to this SQLite database")
	runCmd.Flags().StringVar(&prometheusOut, "prometheus-out", "", "Write final metrics to this Prometheus textfile")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
}
