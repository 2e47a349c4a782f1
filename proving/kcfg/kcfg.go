package kcfg

import (
	"encoding/json"
	"maps"
	"slices"

	"github.com/pkg/errors"
)

// KCFG is a control-flow graph of symbolic states. Nodes are connected by at most one outgoing Relation each, and
// the graph carries the init and target designations plus the set of nodes the oracle reported as terminal.
//
// A KCFG is not safe for concurrent use. Each graph is owned by the worker exploring its proof.
type KCFG struct {
	// nextID is the id the next created node receives.
	nextID NodeID

	// nodes maps node ids to their states. Removed ids are absent.
	nodes map[NodeID]*Node

	// relations maps a source node to its single outgoing relation.
	relations map[NodeID]Relation

	// terminal is the set of nodes which admit no further rewriting.
	terminal map[NodeID]struct{}

	// init and target are the designated entry and goal nodes, or -1 when not yet designated.
	init   NodeID
	target NodeID
}

// NewKCFG creates an empty graph with no designated init or target node.
func NewKCFG() *KCFG {
	return &KCFG{
		nodes:     make(map[NodeID]*Node),
		relations: make(map[NodeID]Relation),
		terminal:  make(map[NodeID]struct{}),
		init:      -1,
		target:    -1,
	}
}

// CreateNode stores a new state and returns its freshly allocated id.
func (k *KCFG) CreateNode(cterm CTerm) NodeID {
	id := k.nextID
	k.nextID++
	k.nodes[id] = &Node{ID: id, CTerm: cterm}
	return id
}

// SetInit designates an existing node as the init node.
func (k *KCFG) SetInit(id NodeID) error {
	if err := k.requireNode("set-init", id); err != nil {
		return err
	}
	k.init = id
	return nil
}

// SetTarget designates an existing node as the target node.
func (k *KCFG) SetTarget(id NodeID) error {
	if err := k.requireNode("set-target", id); err != nil {
		return err
	}
	k.target = id
	return nil
}

// Init returns the designated init node.
func (k *KCFG) Init() NodeID {
	return k.init
}

// Target returns the designated target node.
func (k *KCFG) Target() NodeID {
	return k.target
}

// IsTarget reports whether id is the designated target node.
func (k *KCFG) IsTarget(id NodeID) bool {
	return k.target >= 0 && id == k.target
}

// Contains reports whether a node with the given id currently exists.
func (k *KCFG) Contains(id NodeID) bool {
	_, ok := k.nodes[id]
	return ok
}

// Node returns the node with the given id.
func (k *KCFG) Node(id NodeID) (Node, error) {
	node, ok := k.nodes[id]
	if !ok {
		return Node{}, errors.Wrapf(ErrNodeNotFound, "node %d", id)
	}
	return *node, nil
}

// Nodes returns every node sorted by id.
func (k *KCFG) Nodes() []Node {
	nodes := make([]Node, 0, len(k.nodes))
	for _, id := range slices.Sorted(maps.Keys(k.nodes)) {
		nodes = append(nodes, *k.nodes[id])
	}
	return nodes
}

// NextID returns the id the next created node will receive.
func (k *KCFG) NextID() NodeID {
	return k.nextID
}

// requireNode returns a GraphIntegrityError if the node does not exist.
func (k *KCFG) requireNode(op string, id NodeID) error {
	if !k.Contains(id) {
		return integrityError(op, id, "node %d does not exist", id)
	}
	return nil
}

// requireNoSuccessor returns a GraphIntegrityError if the node already has an outgoing relation.
func (k *KCFG) requireNoSuccessor(op string, id NodeID) error {
	if rel, ok := k.relations[id]; ok {
		return integrityError(op, id, "node already has an outgoing %s", relationKind(rel))
	}
	return nil
}

// AddEdge records that depth rewrite steps lead from src to dst.
func (k *KCFG) AddEdge(src NodeID, dst NodeID, depth int) error {
	if depth < 0 {
		return integrityError("add-edge", src, "negative depth %d", depth)
	}
	for _, id := range []NodeID{src, dst} {
		if err := k.requireNode("add-edge", id); err != nil {
			return err
		}
	}
	if err := k.requireNoSuccessor("add-edge", src); err != nil {
		return err
	}
	k.relations[src] = &Edge{Src: src, Dst: dst, Depth: depth}
	return nil
}

// AddSplit records a case split of src into at least two branches.
func (k *KCFG) AddSplit(src NodeID, branches []SplitTarget) error {
	if len(branches) < 2 {
		return integrityError("add-split", src, "a split needs at least two branches, got %d", len(branches))
	}
	if err := k.requireNode("add-split", src); err != nil {
		return err
	}
	for _, branch := range branches {
		if err := k.requireNode("add-split", branch.Target); err != nil {
			return err
		}
	}
	if err := k.requireNoSuccessor("add-split", src); err != nil {
		return err
	}
	k.relations[src] = &Split{Src: src, Branches: slices.Clone(branches)}
	return nil
}

// AddCover records that the state of src is subsumed by the state of dst under subst.
func (k *KCFG) AddCover(src NodeID, dst NodeID, subst Substitution) error {
	for _, id := range []NodeID{src, dst} {
		if err := k.requireNode("add-cover", id); err != nil {
			return err
		}
	}
	if err := k.requireNoSuccessor("add-cover", src); err != nil {
		return err
	}
	k.relations[src] = &Cover{Src: src, Dst: dst, Subst: maps.Clone(subst)}
	return nil
}

// RemoveEdge removes the edge from src to dst without touching either node.
func (k *KCFG) RemoveEdge(src NodeID, dst NodeID) error {
	edge, ok := k.relations[src].(*Edge)
	if !ok || edge.Dst != dst {
		return integrityError("remove-edge", src, "no edge from %d to %d", src, dst)
	}
	delete(k.relations, src)
	return nil
}

// ReplaceNode swaps the state of an existing node. The id and every relation touching it are preserved.
func (k *KCFG) ReplaceNode(id NodeID, cterm CTerm) error {
	if !k.Contains(id) {
		return errors.Wrapf(ErrNodeNotFound, "replace node %d", id)
	}
	k.nodes[id] = &Node{ID: id, CTerm: cterm}
	return nil
}

// MarkTerminal records that the node admits no further rewriting.
func (k *KCFG) MarkTerminal(id NodeID) error {
	if err := k.requireNode("mark-terminal", id); err != nil {
		return err
	}
	k.terminal[id] = struct{}{}
	return nil
}

// IsTerminal reports whether the node was marked terminal.
func (k *KCFG) IsTerminal(id NodeID) bool {
	_, ok := k.terminal[id]
	return ok
}

// RemoveNode removes a node, every relation touching it, and every node that is no longer reachable from the init
// node once it is gone.
//
// Removing a branch of a split removes the whole split: every sibling branch and the nodes below it are removed
// too, and the split's source returns to the frontier. A split always holds every case of its source.
//
// Removing an id that was never allocated fails with ErrNodeNotFound, removing an already-removed id is a no-op,
// and the init and target nodes can never be removed.
func (k *KCFG) RemoveNode(id NodeID) error {
	if id < 0 || id >= k.nextID {
		return errors.Wrapf(ErrNodeNotFound, "remove node %d", id)
	}
	if !k.Contains(id) {
		return nil
	}
	if k.IsTarget(id) {
		return integrityError("remove-node", id, "the target node cannot be removed")
	}
	if id == k.init {
		return integrityError("remove-node", id, "the init node cannot be removed")
	}

	// Candidates for collection are the descendants of the node and of any split sibling orphaned below.
	candidates := make(map[NodeID]struct{})
	for _, n := range k.ReachableNodes(id, true) {
		candidates[n] = struct{}{}
	}
	for src, rel := range k.relations {
		if !slices.Contains(rel.Targets(), id) {
			continue
		}
		if split, ok := rel.(*Split); ok {
			for _, branch := range split.Branches {
				for _, n := range k.ReachableNodes(branch.Target, true) {
					candidates[n] = struct{}{}
				}
			}
		}
		delete(k.relations, src)
	}
	k.deleteNode(id)

	reachable := make(map[NodeID]struct{})
	if k.init >= 0 {
		for _, n := range k.ReachableNodes(k.init, true) {
			reachable[n] = struct{}{}
		}
	}
	for n := range candidates {
		if _, ok := reachable[n]; ok || n == id || n == k.init || n == k.target {
			continue
		}
		k.deleteNode(n)
	}

	// Drop relations from kept nodes which pointed into the removed region.
	for src, rel := range k.relations {
		for _, dst := range rel.Targets() {
			if !k.Contains(dst) {
				delete(k.relations, src)
				break
			}
		}
	}
	return nil
}

// deleteNode removes a node, its outgoing relation and its terminal mark.
func (k *KCFG) deleteNode(id NodeID) {
	delete(k.nodes, id)
	delete(k.relations, id)
	delete(k.terminal, id)
}

// Successor returns the outgoing relation of a node, or nil if it has none.
func (k *KCFG) Successor(id NodeID) Relation {
	return k.relations[id]
}

// Predecessors returns every relation which has the node among its targets, sorted by source.
func (k *KCFG) Predecessors(id NodeID) []Relation {
	preds := make([]Relation, 0)
	for _, src := range slices.Sorted(maps.Keys(k.relations)) {
		rel := k.relations[src]
		if slices.Contains(rel.Targets(), id) {
			preds = append(preds, rel)
		}
	}
	return preds
}

// Edges returns every edge sorted by source.
func (k *KCFG) Edges() []*Edge {
	return relationsOf[*Edge](k)
}

// Splits returns every split sorted by source.
func (k *KCFG) Splits() []*Split {
	return relationsOf[*Split](k)
}

// Covers returns every cover sorted by source.
func (k *KCFG) Covers() []*Cover {
	return relationsOf[*Cover](k)
}

// relationsOf returns the relations of a single kind sorted by source.
func relationsOf[R Relation](k *KCFG) []R {
	result := make([]R, 0)
	for _, src := range slices.Sorted(maps.Keys(k.relations)) {
		if rel, ok := k.relations[src].(R); ok {
			result = append(result, rel)
		}
	}
	return result
}

// successors returns the targets of a node's outgoing relation. Covers are skipped unless traverseCovers is set.
func (k *KCFG) successors(id NodeID, traverseCovers bool) []NodeID {
	rel, ok := k.relations[id]
	if !ok {
		return nil
	}
	if _, isCover := rel.(*Cover); isCover && !traverseCovers {
		return nil
	}
	return rel.Targets()
}

// ReachableNodes returns the breadth-first closure of the node over outgoing relations, including the node itself.
// Covers are only followed when traverseCovers is set.
func (k *KCFG) ReachableNodes(id NodeID, traverseCovers bool) []NodeID {
	if !k.Contains(id) {
		return nil
	}
	visited := map[NodeID]struct{}{id: {}}
	order := []NodeID{id}
	for i := 0; i < len(order); i++ {
		for _, next := range k.successors(order[i], traverseCovers) {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			order = append(order, next)
		}
	}
	return order
}

// ShortestPath returns the nodes on a shortest path from one node to another over edges and splits, both ends
// included, or nil if there is none.
func (k *KCFG) ShortestPath(from NodeID, to NodeID) []NodeID {
	if !k.Contains(from) || !k.Contains(to) {
		return nil
	}
	parents := map[NodeID]NodeID{from: from}
	queue := []NodeID{from}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if current == to {
			path := []NodeID{to}
			for n := to; n != from; {
				n = parents[n]
				path = append(path, n)
			}
			slices.Reverse(path)
			return path
		}
		for _, next := range k.successors(current, false) {
			if _, seen := parents[next]; !seen {
				parents[next] = current
				queue = append(queue, next)
			}
		}
	}
	return nil
}

// Frontier returns the nodes reachable from init which have no outgoing relation and are neither the target nor
// terminal, sorted by id.
func (k *KCFG) Frontier() []NodeID {
	if k.init < 0 {
		return nil
	}
	frontier := make([]NodeID, 0)
	for _, id := range k.ReachableNodes(k.init, true) {
		if _, hasSucc := k.relations[id]; hasSucc || k.IsTarget(id) || k.IsTerminal(id) {
			continue
		}
		frontier = append(frontier, id)
	}
	slices.Sort(frontier)
	return frontier
}

// IsFrontier reports whether the node is currently on the frontier.
func (k *KCFG) IsFrontier(id NodeID) bool {
	return slices.Contains(k.Frontier(), id)
}

// Stuck returns the terminal nodes which are not the target and are not covered, sorted by id.
func (k *KCFG) Stuck() []NodeID {
	stuck := make([]NodeID, 0)
	for id := range k.terminal {
		if k.IsTarget(id) {
			continue
		}
		if _, covered := k.relations[id].(*Cover); covered {
			continue
		}
		stuck = append(stuck, id)
	}
	slices.Sort(stuck)
	return stuck
}

// relationKind returns a human readable name for a relation.
func relationKind(rel Relation) string {
	switch rel.(type) {
	case *Edge:
		return "edge"
	case *Split:
		return "split"
	case *Cover:
		return "cover"
	default:
		return "relation"
	}
}

// SplitOn creates one branch node per condition, each holding the state of src with the condition appended, and
// records the split. Returns the branch ids in condition order.
func (k *KCFG) SplitOn(src NodeID, conditions []json.RawMessage) ([]NodeID, error) {
	parent, err := k.Node(src)
	if err != nil {
		return nil, err
	}
	if len(conditions) < 2 {
		return nil, integrityError("split-on", src, "a split needs at least two branches, got %d", len(conditions))
	}
	if err = k.requireNoSuccessor("split-on", src); err != nil {
		return nil, err
	}

	branches := make([]SplitTarget, len(conditions))
	ids := make([]NodeID, len(conditions))
	for i, condition := range conditions {
		ids[i] = k.CreateNode(parent.CTerm.AddConstraint(condition))
		branches[i] = SplitTarget{Target: ids[i], Condition: condition}
	}
	return ids, k.AddSplit(src, branches)
}
