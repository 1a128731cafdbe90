package sim

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// NodeID is a handle into a SystemTree. Nodes refer to their parent by handle
// so the tree owns every node and no reference cycles exist.
type NodeID int

// NoNode is the parent of a root node.
const NoNode NodeID = -1

// ConvergeHandler observes the convergence of a system node.
type ConvergeHandler interface {
	OnConverge(now int64, snap NodeSnapshot)
}

// ConvergeFunc adapts a function to ConvergeHandler.
type ConvergeFunc func(now int64, snap NodeSnapshot)

// OnConverge implements ConvergeHandler.
func (f ConvergeFunc) OnConverge(now int64, snap NodeSnapshot) { f(now, snap) }

// NodeSnapshot is a copy of a node's aggregate state: its own switches plus
// the last converged aggregates of its children.
type NodeSnapshot struct {
	ID           NodeID
	Name         string
	Parent       NodeID
	Children     []NodeID
	Switches     int
	Capacity     float64
	Demand       float64
	Speed        float64
	Counters     Counters
	LastConverge int64
}

type node struct {
	id       NodeID
	name     string
	parent   NodeID
	children []NodeID
	switches []*Switch
	handler  ConvergeHandler
	alive    bool

	agg     NodeSnapshot
	pending *Timer
}

func (n *node) clone() *node {
	c := *n
	c.children = append([]NodeID(nil), n.children...)
	c.switches = append([]*Switch(nil), n.switches...)
	return &c
}

// SystemTree is a hierarchy of resource systems. Switch convergence rolls up
// bottom-up: a node converges after its switches, and its parent converges at
// the same virtual time afterwards.
type SystemTree struct {
	interp     *Interpreter
	nodes      []*node
	converging int
}

// NewSystemTree creates an empty tree driven by interp.
func NewSystemTree(interp *Interpreter) *SystemTree {
	if interp == nil {
		panic("NewSystemTree: interpreter must not be nil")
	}
	return &SystemTree{interp: interp}
}

// Converging reports whether a switch or node convergence is in progress.
func (t *SystemTree) Converging() bool { return t.converging > 0 }

// AddNode creates a node under parent (NoNode for a root). handler may be nil.
func (t *SystemTree) AddNode(name string, parent NodeID, handler ConvergeHandler) (NodeID, error) {
	if t.converging > 0 {
		return NoNode, fmt.Errorf("add node %q: %w", name, ErrConverging)
	}
	if parent != NoNode {
		if _, err := lookup(t.nodes, parent); err != nil {
			return NoNode, fmt.Errorf("add node %q: %w", name, err)
		}
	}
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, &node{
		id:      id,
		name:    name,
		parent:  parent,
		handler: handler,
		alive:   true,
		agg:     NodeSnapshot{ID: id, Name: name, Parent: parent},
	})
	if parent != NoNode {
		p := t.nodes[parent]
		p.children = append(p.children, id)
	}
	return id, nil
}

// AddSwitch places sw under node.
func (t *SystemTree) AddSwitch(id NodeID, sw *Switch) error {
	return t.Apply(AttachSwitch{Node: id, Switch: sw})
}

// RemoveSwitch takes sw out of the tree. Its consumers keep running.
func (t *SystemTree) RemoveSwitch(sw *Switch) error {
	return t.Apply(DetachSwitch{Switch: sw})
}

// RemoveNode deletes a node without children or switches.
func (t *SystemTree) RemoveNode(id NodeID) error {
	return t.Apply(DropNode{Node: id})
}

// Parent returns the parent handle of id.
func (t *SystemTree) Parent(id NodeID) (NodeID, error) {
	n, err := lookup(t.nodes, id)
	if err != nil {
		return NoNode, err
	}
	return n.parent, nil
}

// Snapshot returns a copy of the last converged aggregates of id.
func (t *SystemTree) Snapshot(id NodeID) (NodeSnapshot, error) {
	n, err := lookup(t.nodes, id)
	if err != nil {
		return NodeSnapshot{}, err
	}
	return n.snapshot(), nil
}

// Change is one step of an atomic reconfiguration passed to Apply.
type Change interface {
	apply(nodes []*node) ([]NodeID, error)
	fmt.Stringer
}

// AttachSwitch places Switch under Node.
type AttachSwitch struct {
	Node   NodeID
	Switch *Switch
}

// DetachSwitch removes Switch from whichever node holds it.
type DetachSwitch struct {
	Switch *Switch
}

// DropNode removes an empty leaf node.
type DropNode struct {
	Node NodeID
}

// Reparent moves Node under Parent.
type Reparent struct {
	Node   NodeID
	Parent NodeID
}

// Apply validates and performs all changes as one step: either every change
// takes effect or none does. Apply is rejected while a convergence is in
// progress. Affected nodes re-converge at the current virtual time.
func (t *SystemTree) Apply(changes ...Change) error {
	if t.converging > 0 {
		return fmt.Errorf("apply: %w", ErrConverging)
	}
	view := make([]*node, len(t.nodes))
	for i, n := range t.nodes {
		view[i] = n.clone()
	}
	var touched []NodeID
	for i, c := range changes {
		ids, err := c.apply(view)
		if err != nil {
			return fmt.Errorf("change %d (%s): %w", i, c, err)
		}
		touched = append(touched, ids...)
	}

	for _, n := range t.nodes {
		for _, sw := range n.switches {
			sw.tree, sw.node = nil, NoNode
		}
	}
	t.nodes = view
	for _, n := range t.nodes {
		for _, sw := range n.switches {
			sw.tree, sw.node = t, n.id
		}
	}
	for _, n := range t.nodes {
		if !n.alive && n.pending != nil {
			n.pending.Cancel()
			n.pending = nil
		}
	}
	for _, id := range touched {
		if t.nodes[id].alive {
			t.schedule(id)
		}
	}
	return nil
}

func (c AttachSwitch) apply(nodes []*node) ([]NodeID, error) {
	if c.Switch == nil {
		return nil, fmt.Errorf("nil switch: %w", ErrInvalidChange)
	}
	n, err := lookup(nodes, c.Node)
	if err != nil {
		return nil, err
	}
	if owner := owning(nodes, c.Switch); owner != nil {
		return nil, fmt.Errorf("switch already under node %d: %w", owner.id, ErrInvalidChange)
	}
	n.switches = append(n.switches, c.Switch)
	return []NodeID{n.id}, nil
}

func (c AttachSwitch) String() string { return fmt.Sprintf("attach switch to node %d", c.Node) }

func (c DetachSwitch) apply(nodes []*node) ([]NodeID, error) {
	owner := owning(nodes, c.Switch)
	if owner == nil {
		return nil, fmt.Errorf("switch not in tree: %w", ErrInvalidChange)
	}
	for i, sw := range owner.switches {
		if sw == c.Switch {
			owner.switches = append(owner.switches[:i], owner.switches[i+1:]...)
			break
		}
	}
	return []NodeID{owner.id}, nil
}

func (c DetachSwitch) String() string { return "detach switch" }

func (c DropNode) apply(nodes []*node) ([]NodeID, error) {
	n, err := lookup(nodes, c.Node)
	if err != nil {
		return nil, err
	}
	if len(n.children) > 0 {
		return nil, fmt.Errorf("node %d: %w", n.id, ErrNodeHasChildren)
	}
	if len(n.switches) > 0 {
		return nil, fmt.Errorf("node %d still holds %d switches: %w", n.id, len(n.switches), ErrInvalidChange)
	}
	n.alive = false
	if n.parent == NoNode {
		return nil, nil
	}
	p := nodes[n.parent]
	p.children = without(p.children, n.id)
	return []NodeID{p.id}, nil
}

func (c DropNode) String() string { return fmt.Sprintf("drop node %d", c.Node) }

func (c Reparent) apply(nodes []*node) ([]NodeID, error) {
	n, err := lookup(nodes, c.Node)
	if err != nil {
		return nil, err
	}
	if c.Parent != NoNode {
		if _, err := lookup(nodes, c.Parent); err != nil {
			return nil, err
		}
		for a := c.Parent; a != NoNode; a = nodes[a].parent {
			if a == n.id {
				return nil, fmt.Errorf("node %d would become its own ancestor: %w", n.id, ErrInvalidChange)
			}
		}
	}
	touched := []NodeID{n.id}
	if n.parent != NoNode {
		old := nodes[n.parent]
		old.children = without(old.children, n.id)
		touched = append(touched, old.id)
	}
	n.parent = c.Parent
	if c.Parent != NoNode {
		p := nodes[c.Parent]
		p.children = append(p.children, n.id)
	}
	return touched, nil
}

func (c Reparent) String() string { return fmt.Sprintf("reparent node %d under %d", c.Node, c.Parent) }

// onSwitchConverged is called by a switch after its convergence completed.
func (t *SystemTree) onSwitchConverged(sw *Switch, now int64) {
	if sw.node == NoNode {
		return
	}
	t.converge(sw.node, now)
}

// converge recomputes the aggregates of id, notifies its handler and
// schedules the parent's roll-up at the same virtual time.
func (t *SystemTree) converge(id NodeID, now int64) {
	n := t.nodes[id]
	if !n.alive {
		return
	}
	if n.pending != nil {
		n.pending.Cancel()
		n.pending = nil
	}
	t.converging++
	agg := NodeSnapshot{ID: n.id, Name: n.name, Parent: n.parent, LastConverge: now}
	for _, sw := range n.switches {
		agg.Switches++
		agg.Capacity += sw.Capacity()
		agg.Demand += sw.Demand()
		agg.Speed += sw.Speed()
		agg.Counters = agg.Counters.Add(sw.Counters())
	}
	for _, cid := range n.children {
		c := t.nodes[cid].agg
		agg.Switches += c.Switches
		agg.Capacity += c.Capacity
		agg.Demand += c.Demand
		agg.Speed += c.Speed
		agg.Counters = agg.Counters.Add(c.Counters)
	}
	agg.Children = append([]NodeID(nil), n.children...)
	n.agg = agg
	logrus.Tracef("[t=%d] node %q converged: capacity=%g demand=%g speed=%g",
		now, n.name, agg.Capacity, agg.Demand, agg.Speed)
	if n.handler != nil {
		n.handler.OnConverge(now, n.snapshot())
	}
	t.converging--
	if n.parent != NoNode {
		t.schedule(n.parent)
	}
}

// schedule coalesces convergence requests for id at the current virtual time.
func (t *SystemTree) schedule(id NodeID) {
	n := t.nodes[id]
	if n.pending != nil {
		return
	}
	n.pending = t.interp.Schedule(t.interp.Clock(), func(now int64) {
		t.nodes[id].pending = nil
		t.converge(id, now)
	})
}

func (n *node) snapshot() NodeSnapshot {
	s := n.agg
	s.Parent = n.parent
	s.Children = append([]NodeID(nil), n.children...)
	return s
}

func lookup(nodes []*node, id NodeID) (*node, error) {
	if id < 0 || int(id) >= len(nodes) || !nodes[id].alive {
		return nil, fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	return nodes[id], nil
}

func owning(nodes []*node, sw *Switch) *node {
	for _, n := range nodes {
		if !n.alive {
			continue
		}
		for _, other := range n.switches {
			if other == sw {
				return n
			}
		}
	}
	return nil
}

func without(ids []NodeID, id NodeID) []NodeID {
	out := ids[:0]
	for _, other := range ids {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}
