package cluster

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dcsim/dcsim/sim"
	"github.com/dcsim/dcsim/sim/kernel"
	"github.com/dcsim/dcsim/sim/power"
	"github.com/dcsim/dcsim/sim/topology"
	"github.com/dcsim/dcsim/sim/workload"
)

func testID(name string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name))
}

// testTopology returns one cluster of n single-CPU hosts with the given
// capacity, drawing 100 W idle and 200 W at full load.
func testTopology(n int, capacity float64, battery *topology.Battery) *topology.Topology {
	c := topology.Cluster{
		ID:          testID("c0"),
		Name:        "c0",
		PowerSource: topology.PowerSource{ID: testID("c0/power"), Name: "c0/power"},
		Battery:     battery,
	}
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("h%d", i)
		c.Hosts = append(c.Hosts, topology.Host{
			ID:         testID(name),
			Name:       name,
			Cluster:    "c0",
			Model:      kernel.MachineModel{CPUs: []kernel.CPUModel{{ID: i, Cores: 1, Frequency: capacity}}},
			PowerModel: power.NewModel("linear", 100, 200),
		})
	}
	return &topology.Topology{Clusters: []topology.Cluster{c}}
}

type testEnv struct {
	interp  *sim.Interpreter
	dc      *Datacenter
	service *Service
	events  *recordingListener
}

func newTestEnv(t *testing.T, hosts int, capacity float64, eligibility sim.TaskEligibilityPolicy, placement PlacementPolicy) *testEnv {
	t.Helper()
	interp := sim.NewInterpreter(0)
	tree := sim.NewSystemTree(interp)
	dc, err := Build(interp, tree, testTopology(hosts, capacity, nil), nil)
	require.NoError(t, err)
	svc := NewService(interp, dc.Hosts(), eligibility, placement, nil)
	events := &recordingListener{}
	svc.AddListener(events)
	return &testEnv{interp: interp, dc: dc, service: svc, events: events}
}

// recordingListener records lifecycle events as "kind:id@host".
type recordingListener struct {
	events []string
}

func (r *recordingListener) JobStarted(job *sim.Job) {
	r.events = append(r.events, "job-started:"+job.ID)
}

func (r *recordingListener) JobFinished(job *sim.Job) {
	r.events = append(r.events, "job-finished:"+job.ID)
}

func (r *recordingListener) TaskAssigned(task *sim.Task) {
	r.events = append(r.events, "assigned:"+task.ID+"@"+task.Host)
}

func (r *recordingListener) TaskFinished(task *sim.Task) {
	r.events = append(r.events, "finished:"+task.ID)
}

func workTask(id string, amount float64, deps ...string) *sim.Task {
	return &sim.Task{ID: id, DependsOn: deps, Workload: workload.Work{Amount: amount}}
}
