package topology

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/dcsim/dcsim/sim/kernel"
	"github.com/dcsim/dcsim/sim/power"
)

// Topology is a fully expanded topology: every counted spec is instantiated
// and every entity carries its identity.
type Topology struct {
	Clusters []Cluster
}

// Cluster is one expanded cluster.
type Cluster struct {
	ID          uuid.UUID
	Name        string
	Hosts       []Host
	PowerSource PowerSource
	Battery     *Battery
}

// Host is one expanded host.
type Host struct {
	ID         uuid.UUID
	Name       string
	Cluster    string
	Model      kernel.MachineModel
	PowerModel power.Model
}

// PowerSource is the expanded grid connection of a cluster.
type PowerSource struct {
	ID          uuid.UUID
	Name        string
	Capacity    float64
	CarbonTrace power.CarbonTrace
}

// Battery is the expanded battery of a cluster.
type Battery struct {
	ID              uuid.UUID
	Name            string
	Capacity        float64 // Wh
	ChargeSpeed     float64 // W
	CarbonThreshold float64 // gCO2/kWh
}

// HostCount returns the number of hosts over all clusters.
func (t *Topology) HostCount() int {
	n := 0
	for _, c := range t.Clusters {
		n += len(c.Hosts)
	}
	return n
}

// Capacity returns the rated CPU capacity over all clusters.
func (t *Topology) Capacity() float64 {
	total := 0.0
	for _, c := range t.Clusters {
		for _, h := range c.Hosts {
			total += h.Model.Capacity()
		}
	}
	return total
}

// Expand instantiates the topology. Identities are drawn from rng in
// declaration order, so the same file and the same random stream yield the
// same UUIDs. Carbon traces are loaded here.
func (f *File) Expand(rng io.Reader) (*Topology, error) {
	t := &Topology{}
	traces := make(map[string]power.CarbonTrace)
	cpuID := 0
	hostIdx := 0
	for ci, cs := range f.Clusters {
		for k := 0; k < countOf(cs.Count); k++ {
			name := cs.Name
			if name == "" {
				name = fmt.Sprintf("Cluster-%d", len(t.Clusters))
			}
			if countOf(cs.Count) > 1 {
				name = fmt.Sprintf("%s-%d", name, k)
			}
			id, err := uuid.NewRandomFromReader(rng)
			if err != nil {
				return nil, fmt.Errorf("cluster %s: %w", name, err)
			}
			c := Cluster{ID: id, Name: name}

			for _, hs := range cs.Hosts {
				for j := 0; j < countOf(hs.Count); j++ {
					h, err := expandHost(rng, hs, name, hostIdx, j, &cpuID)
					if err != nil {
						return nil, err
					}
					c.Hosts = append(c.Hosts, h)
					hostIdx++
				}
			}

			trace, err := f.carbonTrace(traces, cs.PowerSource.CarbonTrace)
			if err != nil {
				return nil, fmt.Errorf("clusters[%d]: %w", ci, err)
			}
			psID, err := uuid.NewRandomFromReader(rng)
			if err != nil {
				return nil, fmt.Errorf("cluster %s: %w", name, err)
			}
			c.PowerSource = PowerSource{
				ID:          psID,
				Name:        name + "/power",
				Capacity:    cs.PowerSource.Capacity,
				CarbonTrace: trace,
			}

			if b := cs.Battery; b != nil {
				bID, err := uuid.NewRandomFromReader(rng)
				if err != nil {
					return nil, fmt.Errorf("cluster %s: %w", name, err)
				}
				threshold := b.CarbonThreshold
				if threshold == 0 {
					threshold = power.DefaultCarbonThreshold
				}
				c.Battery = &Battery{
					ID:              bID,
					Name:            name + "/battery",
					Capacity:        b.Capacity,
					ChargeSpeed:     b.ChargingSpeed,
					CarbonThreshold: threshold,
				}
			}
			t.Clusters = append(t.Clusters, c)
		}
	}
	return t, nil
}

func expandHost(rng io.Reader, hs HostSpec, cluster string, idx, copyIdx int, cpuID *int) (Host, error) {
	name := hs.Name
	if name == "" {
		name = fmt.Sprintf("Host-%d", idx)
	} else if countOf(hs.Count) > 1 {
		name = fmt.Sprintf("%s-%d", name, copyIdx)
	}
	id, err := uuid.NewRandomFromReader(rng)
	if err != nil {
		return Host{}, fmt.Errorf("host %s: %w", name, err)
	}
	cpus := make([]kernel.CPUModel, hs.CPU.Count)
	for i := range cpus {
		cpus[i] = kernel.CPUModel{
			ID:           *cpuID,
			Vendor:       hs.CPU.Vendor,
			Arch:         hs.CPU.Arch,
			Cores:        hs.CPU.CoreCount,
			Frequency:    hs.CPU.CoreSpeed,
			MinFrequency: hs.CPU.MinCoreSpeed,
		}
		*cpuID++
	}
	return Host{
		ID:      id,
		Name:    name,
		Cluster: cluster,
		Model: kernel.MachineModel{
			CPUs: cpus,
			Memory: []kernel.MemoryUnit{{
				Vendor: hs.Memory.Vendor,
				Model:  hs.Memory.Model,
				Speed:  hs.Memory.Speed,
				Size:   hs.Memory.Size,
			}},
		},
		PowerModel: power.NewModel(hs.PowerModel.Model, hs.PowerModel.Idle, hs.PowerModel.Max),
	}, nil
}

func (f *File) carbonTrace(cache map[string]power.CarbonTrace, path string) (power.CarbonTrace, error) {
	if path == "" {
		return nil, nil
	}
	if !filepath.IsAbs(path) && f.dir != "" {
		path = filepath.Join(f.dir, path)
	}
	if trace, ok := cache[path]; ok {
		return trace, nil
	}
	trace, err := power.LoadCarbonTrace(path)
	if err != nil {
		return nil, err
	}
	cache[path] = trace
	return trace, nil
}

// countOf treats an omitted count as one.
func countOf(n int) int {
	if n == 0 {
		return 1
	}
	return n
}
