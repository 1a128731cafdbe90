package sim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func float64Ptr(v float64) *float64 { return &v }
func intPtr(v int) *int             { return &v }

func TestLoadPolicyBundle_ValidYAML(t *testing.T) {
	yaml := `
eligibility:
  policy: limit-per-job
  task_limit: 2
placement:
  policy: least-loaded
  scheduling_quantum_ms: 250
governor:
  policy: conservative
  threshold: 0.8
  step: 0.05
telemetry:
  report_interval_ms: 60000
`
	path := writeTempYAML(t, yaml)
	bundle, err := LoadPolicyBundle(path)
	require.NoError(t, err)

	assert.Equal(t, "limit-per-job", bundle.Eligibility.Policy)
	require.NotNil(t, bundle.Eligibility.TaskLimit)
	assert.Equal(t, 2, *bundle.Eligibility.TaskLimit)
	assert.Nil(t, bundle.Eligibility.Probability)
	assert.Equal(t, "least-loaded", bundle.Placement.Policy)
	require.NotNil(t, bundle.Placement.SchedulingQuantum)
	assert.Equal(t, int64(250), *bundle.Placement.SchedulingQuantum)
	assert.Equal(t, "conservative", bundle.Governor.Policy)
	require.NotNil(t, bundle.Governor.Threshold)
	assert.Equal(t, 0.8, *bundle.Governor.Threshold)
	require.NotNil(t, bundle.Telemetry.ReportInterval)
	assert.Equal(t, int64(60000), *bundle.Telemetry.ReportInterval)
	assert.NoError(t, bundle.Validate())
}

func TestLoadPolicyBundle_EmptyFile(t *testing.T) {
	bundle, err := LoadPolicyBundle(writeTempYAML(t, ""))
	require.NoError(t, err)
	assert.Equal(t, PolicyBundle{}, *bundle)
	assert.NoError(t, bundle.Validate())
}

func TestLoadPolicyBundle_UnknownFieldRejected(t *testing.T) {
	// GIVEN a typo in a field name
	path := writeTempYAML(t, "eligibility:\n  polcy: random\n")

	// WHEN loading
	_, err := LoadPolicyBundle(path)

	// THEN strict decoding reports it instead of silently ignoring it
	assert.Error(t, err)
}

func TestLoadPolicyBundle_NonexistentFile(t *testing.T) {
	_, err := LoadPolicyBundle("/nonexistent/path/policy.yaml")
	assert.Error(t, err)
}

func TestLoadPolicyBundle_MalformedYAML(t *testing.T) {
	_, err := LoadPolicyBundle(writeTempYAML(t, "eligibility: [unclosed"))
	assert.Error(t, err)
}

func TestPolicyBundle_Validate_InvalidNames(t *testing.T) {
	tests := []struct {
		name   string
		bundle PolicyBundle
	}{
		{"eligibility", PolicyBundle{Eligibility: EligibilityConfig{Policy: "lottery"}}},
		{"placement", PolicyBundle{Placement: PlacementConfig{Policy: "best-fit"}}},
		{"governor", PolicyBundle{Governor: GovernorConfig{Policy: "schedutil"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.bundle.Validate())
		})
	}
}

func TestPolicyBundle_Validate_ReportsEveryProblem(t *testing.T) {
	// GIVEN a bundle with three independent problems
	b := PolicyBundle{
		Eligibility: EligibilityConfig{Policy: "nope", TaskLimit: intPtr(0)},
		Governor:    GovernorConfig{Threshold: float64Ptr(1.5)},
	}

	// WHEN validating
	err := b.Validate()

	// THEN all of them are reported together
	require.Error(t, err)
	merr, ok := err.(*multierror.Error)
	require.True(t, ok, "expected *multierror.Error, got %T", err)
	assert.Len(t, merr.Errors, 3)
}

func TestPolicyBundle_Validate_Ranges(t *testing.T) {
	interval := int64(0)
	tests := []struct {
		name   string
		bundle PolicyBundle
	}{
		{"probability above one", PolicyBundle{Eligibility: EligibilityConfig{Probability: float64Ptr(1.1)}}},
		{"negative probability", PolicyBundle{Eligibility: EligibilityConfig{Probability: float64Ptr(-0.1)}}},
		{"zero step", PolicyBundle{Governor: GovernorConfig{Step: float64Ptr(0)}}},
		{"zero interval", PolicyBundle{Telemetry: TelemetryConfig{ReportInterval: &interval}}},
		{"zero quantum", PolicyBundle{Placement: PlacementConfig{SchedulingQuantum: &interval}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.bundle.Validate())
		})
	}
}

func TestValidNames_SortedWithoutEmpty(t *testing.T) {
	for _, names := range [][]string{ValidEligibilityPolicyNames(), ValidPlacementPolicyNames(), ValidGovernorNames()} {
		assert.NotContains(t, names, "")
		for i := 1; i < len(names); i++ {
			assert.True(t, names[i-1] < names[i], "names must be sorted: %q >= %q", names[i-1], names[i])
		}
	}
	assert.Contains(t, ValidEligibilityPolicyNames(), "limit-per-job")
	assert.Contains(t, ValidGovernorNames(), "ondemand")
}

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
