package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalDecisions   int
	AdmittedCount    int
	DeniedCount      int
	PlacedCount      int
	UnplacedCount    int
	UniqueHosts      int
	HostDistribution map[string]int // host ID → count of tasks placed
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		HostDistribution: make(map[string]int),
	}
	if st == nil {
		return summary
	}

	summary.TotalDecisions = len(st.Eligibility)
	for _, e := range st.Eligibility {
		if e.Admitted {
			summary.AdmittedCount++
		} else {
			summary.DeniedCount++
		}
	}

	for _, p := range st.Placements {
		if p.ChosenHost == "" {
			summary.UnplacedCount++
			continue
		}
		summary.PlacedCount++
		summary.HostDistribution[p.ChosenHost]++
	}

	summary.UniqueHosts = len(summary.HostDistribution)

	return summary
}
