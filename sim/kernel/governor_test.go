package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewScalingGovernor_Names(t *testing.T) {
	assert.Nil(t, NewScalingGovernor("", 0, 0))
	for _, name := range []string{"performance", "powersave", "ondemand", "conservative"} {
		g := NewScalingGovernor(name, 0, 0)
		if assert.NotNil(t, g, name) {
			assert.Equal(t, name, g.Name())
		}
	}
	assert.Panics(t, func() { NewScalingGovernor("turbo", 0, 0) })
}

func TestGovernors_TargetFrequency(t *testing.T) {
	cpu := CPUModel{Cores: 4, Frequency: 3000, MinFrequency: 1000}
	tests := []struct {
		name string
		gov  string
		load float64
		want float64
	}{
		{"performance idle", "performance", 0, 3000},
		{"powersave busy", "powersave", 1, 1000},
		{"ondemand above threshold", "ondemand", 0.9, 3000},
		{"ondemand idle", "ondemand", 0, 1000},
		{"ondemand half", "ondemand", 0.5, 2000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewScalingGovernor(tt.gov, 0.8, 0).NewGovernor(cpu)
			assert.Equal(t, tt.want, g.OnLoadChanged(tt.load))
		})
	}
}

func TestConservativeGovernor_StepsWithinRange(t *testing.T) {
	// GIVEN a conservative governor stepping 10% of 2000 MHz
	cpu := CPUModel{Cores: 1, Frequency: 2000, MinFrequency: 1500}
	g := NewScalingGovernor("conservative", 0.8, 0.1).NewGovernor(cpu)

	// WHEN load stays low
	// THEN the frequency steps down and stops at the minimum
	assert.Equal(t, 1800.0, g.OnLoadChanged(0.1))
	assert.Equal(t, 1600.0, g.OnLoadChanged(0.1))
	assert.Equal(t, 1500.0, g.OnLoadChanged(0.1))
	assert.Equal(t, 1500.0, g.OnLoadChanged(0.1))

	// WHEN load sits between the thresholds the frequency holds
	assert.Equal(t, 1500.0, g.OnLoadChanged(0.6))

	// WHEN load is high it steps back up to the maximum
	assert.Equal(t, 1700.0, g.OnLoadChanged(0.95))
	assert.Equal(t, 1900.0, g.OnLoadChanged(0.95))
	assert.Equal(t, 2000.0, g.OnLoadChanged(0.95))
}

func TestCPUModel_FrequencyRange(t *testing.T) {
	lo, hi := CPUModel{Frequency: 2400}.FrequencyRange()
	assert.Equal(t, 1200.0, lo)
	assert.Equal(t, 2400.0, hi)

	lo, _ = CPUModel{Frequency: 2400, MinFrequency: 3000}.FrequencyRange()
	assert.Equal(t, 2400.0, lo)
}
