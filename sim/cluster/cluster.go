package cluster

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/kernel"
	"github.com/dcsim/dcsim/sim/power"
	"github.com/dcsim/dcsim/sim/topology"
)

// Cluster is a group of hosts behind one power supply. It is the system tree
// node above its hosts: every time it converges, the summed power draw of
// its hosts becomes the demand on the supply.
type Cluster struct {
	id    uuid.UUID
	name  string
	node  sim.NodeID
	hosts []*Host

	source  *power.PowerSource
	battery *power.Battery
	adapter *power.BatteryAdapter
	supply  power.Supply
	closed  bool
}

// ID returns the identity of the cluster.
func (c *Cluster) ID() uuid.UUID { return c.id }

// Name returns the cluster name.
func (c *Cluster) Name() string { return c.name }

// Node returns the system tree node of the cluster.
func (c *Cluster) Node() sim.NodeID { return c.node }

// Hosts returns the hosts of the cluster.
func (c *Cluster) Hosts() []*Host { return c.hosts }

// PowerSource returns the grid connection of the cluster.
func (c *Cluster) PowerSource() *power.PowerSource { return c.source }

// Battery returns the battery of the cluster, or nil.
func (c *Cluster) Battery() *power.Battery { return c.battery }

// Adapter returns the battery adapter of the cluster, or nil.
func (c *Cluster) Adapter() *power.BatteryAdapter { return c.adapter }

// Supply returns what the hosts draw power from: the adapter when the
// cluster has a battery, the power source otherwise.
func (c *Cluster) Supply() power.Supply { return c.supply }

// Power returns the summed power draw of the hosts in watts.
func (c *Cluster) Power() float64 {
	total := 0.0
	for _, h := range c.hosts {
		total += h.Power()
	}
	return total
}

// OnConverge implements sim.ConvergeHandler.
func (c *Cluster) OnConverge(now int64, _ sim.NodeSnapshot) {
	if c.closed {
		return
	}
	c.supply.SetDemand(c.Power())
	logrus.Tracef("[t=%d] cluster %s power demand %.1f W", now, c.name, c.supply.Demand())
}

// Datacenter is the root of the system tree and owns every cluster.
type Datacenter struct {
	interp   *sim.Interpreter
	tree     *sim.SystemTree
	root     sim.NodeID
	clusters []*Cluster
}

// Build instantiates an expanded topology under a new root node of tree.
// governor may be nil.
func Build(interp *sim.Interpreter, tree *sim.SystemTree, topo *topology.Topology, governor kernel.ScalingGovernor) (*Datacenter, error) {
	root, err := tree.AddNode("datacenter", sim.NoNode, nil)
	if err != nil {
		return nil, fmt.Errorf("building datacenter: %w", err)
	}
	dc := &Datacenter{interp: interp, tree: tree, root: root}
	for _, spec := range topo.Clusters {
		c, err := dc.buildCluster(spec, governor)
		if err != nil {
			return nil, err
		}
		dc.clusters = append(dc.clusters, c)
	}
	logrus.Infof("datacenter built: %d clusters, %d hosts, capacity %.0f", len(dc.clusters), topo.HostCount(), topo.Capacity())
	return dc, nil
}

func (dc *Datacenter) buildCluster(spec topology.Cluster, governor kernel.ScalingGovernor) (*Cluster, error) {
	c := &Cluster{id: spec.ID, name: spec.Name}
	node, err := dc.tree.AddNode(spec.Name, dc.root, c)
	if err != nil {
		return nil, fmt.Errorf("building cluster %q: %w", spec.Name, err)
	}
	c.node = node
	for _, hs := range spec.Hosts {
		h, err := NewHost(dc.interp, dc.tree, node, hs, governor)
		if err != nil {
			return nil, fmt.Errorf("building cluster %q: %w", spec.Name, err)
		}
		c.hosts = append(c.hosts, h)
	}

	ps := spec.PowerSource
	c.source = power.NewPowerSource(dc.interp, ps.ID, ps.Name, ps.Capacity, ps.CarbonTrace)
	c.supply = c.source
	if b := spec.Battery; b != nil {
		c.battery = power.NewBattery(dc.interp, b.ID, b.Name, b.Capacity, b.ChargeSpeed)
		c.adapter = power.NewBatteryAdapter(dc.interp, c.source, c.battery, power.ThresholdCarbonPolicy{Threshold: b.CarbonThreshold})
		c.supply = c.adapter
	}
	c.supply.SetDemand(c.Power())
	return c, nil
}

// Clusters returns the clusters in topology order.
func (dc *Datacenter) Clusters() []*Cluster { return dc.clusters }

// Hosts returns every host in topology order.
func (dc *Datacenter) Hosts() []*Host {
	var hosts []*Host
	for _, c := range dc.clusters {
		hosts = append(hosts, c.hosts...)
	}
	return hosts
}

// Root returns the root node of the datacenter.
func (dc *Datacenter) Root() sim.NodeID { return dc.root }

// Close releases every host and stops the power timers. It must not be
// called from within a convergence.
func (dc *Datacenter) Close() error {
	var result *multierror.Error
	for _, c := range dc.clusters {
		for _, h := range c.hosts {
			if err := h.Close(); err != nil {
				result = multierror.Append(result, err)
			}
		}
		c.supply.SetDemand(0)
		c.closed = true
		if c.adapter != nil {
			c.adapter.Close()
		} else {
			c.source.Close()
		}
	}
	return result.ErrorOrNil()
}
