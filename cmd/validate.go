package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/topology"
)

// validateTopology loads and expands the topology at path and prints one
// line per cluster and host.
func validateTopology(path string, seed int64, out io.Writer) error {
	file, err := topology.Load(path)
	if err != nil {
		return err
	}
	rng := sim.NewPartitionedRNG(sim.NewSimulationKey(seed))
	topo, err := file.Expand(rng.ForSubsystem(sim.SubsystemTopology))
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "%d clusters, %d hosts, capacity %.0f MHz\n", len(topo.Clusters), topo.HostCount(), topo.Capacity())
	for _, c := range topo.Clusters {
		grid := "unbounded"
		if c.PowerSource.Capacity > 0 {
			grid = fmt.Sprintf("%.0f W", c.PowerSource.Capacity)
		}
		fmt.Fprintf(w, "cluster %s\t%s\tgrid %s\t%d carbon fragments\n", c.Name, c.ID, grid, len(c.PowerSource.CarbonTrace))
		if b := c.Battery; b != nil {
			fmt.Fprintf(w, "  battery %s\t%s\t%.1f Wh\tcharge %.1f W\tthreshold %.1f\n", b.Name, b.ID, b.Capacity, b.ChargeSpeed, b.CarbonThreshold)
		}
		for _, h := range c.Hosts {
			fmt.Fprintf(w, "  host %s\t%s\t%d CPUs\t%.0f MHz\t%v\n", h.Name, h.ID, len(h.Model.CPUs), h.Model.Capacity(), h.PowerModel)
		}
	}
	return w.Flush()
}
