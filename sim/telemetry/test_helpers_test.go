package telemetry

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/cluster"
	"github.com/dcsim/dcsim/sim/kernel"
	"github.com/dcsim/dcsim/sim/policy"
	"github.com/dcsim/dcsim/sim/power"
	"github.com/dcsim/dcsim/sim/topology"
	"github.com/dcsim/dcsim/sim/workload"
)

func testID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

type testEnv struct {
	interp  *sim.Interpreter
	dc      *cluster.Datacenter
	service *cluster.Service
}

// newTestEnv builds one cluster with a single 1000 MHz host drawing 100 W
// idle and 200 W busy, optionally behind a 10 Wh battery charging at 50 W.
func newTestEnv(t *testing.T, withBattery bool) *testEnv {
	t.Helper()
	c := topology.Cluster{
		ID:          testID("c0"),
		Name:        "c0",
		PowerSource: topology.PowerSource{ID: testID("c0/power"), Name: "c0/power"},
		Hosts: []topology.Host{{
			ID:         testID("h0"),
			Name:       "h0",
			Cluster:    "c0",
			Model:      kernel.MachineModel{CPUs: []kernel.CPUModel{{Cores: 1, Frequency: 1000}}},
			PowerModel: power.NewModel("linear", 100, 200),
		}},
	}
	if withBattery {
		c.Battery = &topology.Battery{ID: testID("c0/battery"), Name: "c0/battery", Capacity: 10, ChargeSpeed: 50, CarbonThreshold: 100}
	}
	interp := sim.NewInterpreter(0)
	dc, err := cluster.Build(interp, sim.NewSystemTree(interp), &topology.Topology{Clusters: []topology.Cluster{c}}, nil)
	require.NoError(t, err)
	svc := cluster.NewService(interp, dc.Hosts(), &policy.AlwaysAdmit{}, cluster.FirstFit{}, nil)
	return &testEnv{interp: interp, dc: dc, service: svc}
}

// submitWork submits a job of one task of the given work at t=0.
func (e *testEnv) submitWork(t *testing.T, work float64) {
	t.Helper()
	task := &sim.Task{ID: "a", Workload: workload.Work{Amount: work}}
	require.NoError(t, e.service.Submit(sim.NewJob("j", 0, task)))
}
