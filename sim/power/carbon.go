package power

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// DefaultCarbonThreshold is the carbon intensity (gCO2/kWh) below which grid
// energy counts as green.
const DefaultCarbonThreshold = 100.0

// CarbonFragment is a period [Start, End) of constant carbon intensity in
// gCO2/kWh. Times are virtual milliseconds.
type CarbonFragment struct {
	Start     int64
	End       int64
	Intensity float64
}

// CarbonTrace is a sequence of non-overlapping fragments sorted by start.
type CarbonTrace []CarbonFragment

// IntensityAt returns the intensity in effect at now, or 0 outside the trace.
func (t CarbonTrace) IntensityAt(now int64) float64 {
	i := sort.Search(len(t), func(i int) bool { return t[i].End > now })
	if i < len(t) && t[i].Start <= now {
		return t[i].Intensity
	}
	return 0
}

// NextChange returns the first fragment boundary strictly after now.
func (t CarbonTrace) NextChange(now int64) (int64, bool) {
	for _, f := range t {
		if f.Start > now {
			return f.Start, true
		}
		if f.End > now {
			return f.End, true
		}
	}
	return 0, false
}

// Validate checks that fragments are well-formed, sorted and disjoint.
func (t CarbonTrace) Validate() error {
	for i, f := range t {
		if f.End <= f.Start {
			return fmt.Errorf("fragment %d: end %d not after start %d", i, f.End, f.Start)
		}
		if f.Intensity < 0 {
			return fmt.Errorf("fragment %d: negative intensity %g", i, f.Intensity)
		}
		if i > 0 && f.Start < t[i-1].End {
			return fmt.Errorf("fragment %d overlaps fragment %d", i, i-1)
		}
	}
	return nil
}

// LoadCarbonTrace reads a CSV carbon trace with the columns
// start_ms,end_ms,intensity. A header row is optional.
func LoadCarbonTrace(path string) (CarbonTrace, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening carbon trace: %w", err)
	}
	defer f.Close()
	trace, err := ParseCarbonTrace(f)
	if err != nil {
		return nil, fmt.Errorf("carbon trace %s: %w", path, err)
	}
	return trace, nil
}

// ParseCarbonTrace reads a CSV carbon trace from r.
func ParseCarbonTrace(r io.Reader) (CarbonTrace, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	var trace CarbonTrace
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(rec[0]), "start_ms") {
			continue
		}
		start, err := strconv.ParseInt(rec[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: start: %w", line, err)
		}
		end, err := strconv.ParseInt(rec[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: end: %w", line, err)
		}
		intensity, err := strconv.ParseFloat(rec[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: intensity: %w", line, err)
		}
		trace = append(trace, CarbonFragment{Start: start, End: end, Intensity: intensity})
	}
	sort.SliceStable(trace, func(i, j int) bool { return trace[i].Start < trace[j].Start })
	if err := trace.Validate(); err != nil {
		return nil, err
	}
	return trace, nil
}

// CarbonPolicy decides whether grid energy is green at a given intensity.
type CarbonPolicy interface {
	GreenEnergyAvailable(intensity float64, now int64) bool
}

// ThresholdCarbonPolicy reports green energy strictly below Threshold.
type ThresholdCarbonPolicy struct {
	Threshold float64
}

func (p ThresholdCarbonPolicy) GreenEnergyAvailable(intensity float64, _ int64) bool {
	return intensity < p.Threshold
}
