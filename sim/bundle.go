package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// DefaultReportInterval is the telemetry interval in virtual milliseconds.
const DefaultReportInterval int64 = 5 * 60 * 1000

// DefaultSchedulingQuantum is the delay in virtual milliseconds before the
// workflow service retries tasks that a scheduling cycle left queued.
const DefaultSchedulingQuantum int64 = 100

// PolicyBundle holds the policy configuration of a run, loadable from YAML.
// Nil pointer fields mean "not set in YAML" and leave the CLI defaults alone.
// String fields use the empty string for "not set".
type PolicyBundle struct {
	Eligibility EligibilityConfig `yaml:"eligibility"`
	Placement   PlacementConfig   `yaml:"placement"`
	Governor    GovernorConfig    `yaml:"governor"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// EligibilityConfig selects the task eligibility policy.
type EligibilityConfig struct {
	Policy      string   `yaml:"policy"`
	TaskLimit   *int     `yaml:"task_limit"`
	Probability *float64 `yaml:"probability"`
}

// PlacementConfig selects the host placement policy.
type PlacementConfig struct {
	Policy            string `yaml:"policy"`
	SchedulingQuantum *int64 `yaml:"scheduling_quantum_ms"`
}

// GovernorConfig selects the CPU frequency scaling governor.
type GovernorConfig struct {
	Policy    string   `yaml:"policy"`
	Threshold *float64 `yaml:"threshold"`
	Step      *float64 `yaml:"step"`
}

// TelemetryConfig controls the metric reader.
type TelemetryConfig struct {
	ReportInterval *int64 `yaml:"report_interval_ms"`
}

// LoadPolicyBundle reads and strictly parses a YAML policy configuration file.
func LoadPolicyBundle(path string) (*PolicyBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy config: %w", err)
	}
	var bundle PolicyBundle
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&bundle); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing policy config: %w", err)
	}
	return &bundle, nil
}

// ValidEligibilityPolicies is the set of recognized task eligibility policy
// names. Shared by Validate() and policy.NewEligibilityPolicy().
var ValidEligibilityPolicies = map[string]bool{"": true, "always-admit": true, "limit-per-job": true, "random": true}

// ValidPlacementPolicies is the set of recognized placement policy names.
var ValidPlacementPolicies = map[string]bool{"": true, "first-fit": true, "round-robin": true, "least-loaded": true}

// ValidGovernors is the set of recognized scaling governor names.
var ValidGovernors = map[string]bool{"": true, "performance": true, "powersave": true, "ondemand": true, "conservative": true}

// Validate checks every policy name and parameter range in the bundle and
// reports all problems at once.
func (b *PolicyBundle) Validate() error {
	var result *multierror.Error
	if !ValidEligibilityPolicies[b.Eligibility.Policy] {
		result = multierror.Append(result, fmt.Errorf("unknown eligibility policy %q", b.Eligibility.Policy))
	}
	if !ValidPlacementPolicies[b.Placement.Policy] {
		result = multierror.Append(result, fmt.Errorf("unknown placement policy %q", b.Placement.Policy))
	}
	if !ValidGovernors[b.Governor.Policy] {
		result = multierror.Append(result, fmt.Errorf("unknown governor %q", b.Governor.Policy))
	}
	if b.Eligibility.TaskLimit != nil && *b.Eligibility.TaskLimit < 1 {
		result = multierror.Append(result, fmt.Errorf("task_limit must be >= 1, got %d", *b.Eligibility.TaskLimit))
	}
	if p := b.Eligibility.Probability; p != nil && (*p < 0 || *p > 1) {
		result = multierror.Append(result, fmt.Errorf("probability must be in [0, 1], got %f", *p))
	}
	if th := b.Governor.Threshold; th != nil && (*th <= 0 || *th > 1) {
		result = multierror.Append(result, fmt.Errorf("governor threshold must be in (0, 1], got %f", *th))
	}
	if st := b.Governor.Step; st != nil && (*st <= 0 || *st > 1) {
		result = multierror.Append(result, fmt.Errorf("governor step must be in (0, 1], got %f", *st))
	}
	if q := b.Placement.SchedulingQuantum; q != nil && *q <= 0 {
		result = multierror.Append(result, fmt.Errorf("scheduling_quantum_ms must be positive, got %d", *q))
	}
	if ri := b.Telemetry.ReportInterval; ri != nil && *ri <= 0 {
		result = multierror.Append(result, fmt.Errorf("report_interval_ms must be positive, got %d", *ri))
	}
	return result.ErrorOrNil()
}

// ValidEligibilityPolicyNames returns the sorted non-empty eligibility policy names.
func ValidEligibilityPolicyNames() []string { return validNames(ValidEligibilityPolicies) }

// ValidPlacementPolicyNames returns the sorted non-empty placement policy names.
func ValidPlacementPolicyNames() []string { return validNames(ValidPlacementPolicies) }

// ValidGovernorNames returns the sorted non-empty governor names.
func ValidGovernorNames() []string { return validNames(ValidGovernors) }

func validNames(m map[string]bool) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		if name != "" {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}
