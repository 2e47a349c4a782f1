package proof

import (
	"maps"
	"slices"

	"github.com/crytic/kprove/proving/kcfg"
	"github.com/pkg/errors"
)

// Type distinguishes plain reachability proofs from bounded-model-checking proofs.
type Type string

const (
	// TypeReachability is a proof which explores every branch until it reaches the target or gets stuck.
	TypeReachability Type = "reachability"
	// TypeBounded is a proof whose loops are unrolled at most a fixed number of times.
	TypeBounded Type = "bounded"
)

// Status is the derived classification of a proof.
type Status string

const (
	// StatusPassed means every branch reached the target.
	StatusPassed Status = "passed"
	// StatusPending means no branch failed but some are still unexplored.
	StatusPending Status = "pending"
	// StatusFailed means at least one branch is stuck or bounded.
	StatusFailed Status = "failed"
)

// Proof is one verification unit: a graph with a designated init and target node plus per-node diagnostics and,
// for bounded proofs, the set of nodes that hit the loop bound.
type Proof struct {
	// ID is the verification unit identifier, e.g. "AssertTest.test_assert_true()".
	ID string

	// KCFG is the symbolic execution graph.
	KCFG *kcfg.KCFG

	// bmcDepth is the loop bound for bounded proofs, or nil for reachability proofs.
	bmcDepth *int

	// bounded holds the nodes whose loop count reached bmcDepth.
	bounded map[kcfg.NodeID]struct{}

	// logs holds free-form oracle output per node. It never affects classification.
	logs map[kcfg.NodeID][]string
}

// NewProof creates a proof with fresh init and target nodes. A non-nil bmcDepth makes it a bounded proof.
func NewProof(id string, init kcfg.CTerm, target kcfg.CTerm, bmcDepth *int) *Proof {
	graph := kcfg.NewKCFG()
	initID := graph.CreateNode(init)
	targetID := graph.CreateNode(target)
	// Both ids were just created, so designation cannot fail.
	_ = graph.SetInit(initID)
	_ = graph.SetTarget(targetID)

	p := &Proof{
		ID:      id,
		KCFG:    graph,
		bounded: make(map[kcfg.NodeID]struct{}),
		logs:    make(map[kcfg.NodeID][]string),
	}
	if bmcDepth != nil {
		depth := *bmcDepth
		p.bmcDepth = &depth
	}
	return p
}

// Type returns the proof type tag.
func (p *Proof) Type() Type {
	if p.bmcDepth != nil {
		return TypeBounded
	}
	return TypeReachability
}

// BMCDepth returns the loop bound of a bounded proof.
func (p *Proof) BMCDepth() (int, bool) {
	if p.bmcDepth == nil {
		return 0, false
	}
	return *p.bmcDepth, true
}

// Init returns the init node id.
func (p *Proof) Init() kcfg.NodeID {
	return p.KCFG.Init()
}

// Target returns the target node id.
func (p *Proof) Target() kcfg.NodeID {
	return p.KCFG.Target()
}

// AddBounded marks a node as having reached the loop bound. Only bounded proofs track such nodes.
func (p *Proof) AddBounded(id kcfg.NodeID) error {
	if p.bmcDepth == nil {
		return errors.Errorf("proof %s is not a bounded proof", p.ID)
	}
	if !p.KCFG.Contains(id) {
		return errors.Wrapf(kcfg.ErrNodeNotFound, "bound node %d", id)
	}
	p.bounded[id] = struct{}{}
	return nil
}

// IsBounded reports whether the node reached the loop bound.
func (p *Proof) IsBounded(id kcfg.NodeID) bool {
	_, ok := p.bounded[id]
	return ok
}

// Bounded returns the nodes which reached the loop bound, sorted by id.
func (p *Proof) Bounded() []kcfg.NodeID {
	return slices.Sorted(maps.Keys(p.bounded))
}

// Frontier returns the unexplored leaves of the graph. Bounded nodes are failing, not frontier.
func (p *Proof) Frontier() []kcfg.NodeID {
	return slices.DeleteFunc(p.KCFG.Frontier(), p.IsBounded)
}

// Stuck returns the terminal nodes that did not reach the target.
func (p *Proof) Stuck() []kcfg.NodeID {
	return p.KCFG.Stuck()
}

// Failing returns the union of stuck and bounded nodes, sorted by id.
func (p *Proof) Failing() []kcfg.NodeID {
	failing := append(p.Stuck(), p.Bounded()...)
	slices.Sort(failing)
	return slices.Compact(failing)
}

// Status classifies the proof: passed when nothing is failing or left to explore, pending when only unexplored
// nodes remain and failed otherwise.
func (p *Proof) Status() Status {
	if len(p.Failing()) > 0 {
		return StatusFailed
	}
	if len(p.Frontier()) > 0 {
		return StatusPending
	}
	return StatusPassed
}

// Passed reports whether the proof status is passed.
func (p *Proof) Passed() bool {
	return p.Status() == StatusPassed
}

// AddLog appends oracle output lines to a node's log.
func (p *Proof) AddLog(id kcfg.NodeID, lines ...string) {
	if len(lines) == 0 {
		return
	}
	p.logs[id] = append(p.logs[id], lines...)
}

// Logs returns the log lines recorded for a node.
func (p *Proof) Logs(id kcfg.NodeID) []string {
	return slices.Clone(p.logs[id])
}

// RemoveNode removes a node and everything orphaned by it from the graph, then drops the bounded marks and logs of
// the removed nodes.
func (p *Proof) RemoveNode(id kcfg.NodeID) error {
	if err := p.KCFG.RemoveNode(id); err != nil {
		return err
	}
	p.prune()
	return nil
}

// prune drops metadata of nodes that no longer exist in the graph.
func (p *Proof) prune() {
	for id := range p.bounded {
		if !p.KCFG.Contains(id) {
			delete(p.bounded, id)
		}
	}
	for id := range p.logs {
		if !p.KCFG.Contains(id) {
			delete(p.logs, id)
		}
	}
}

// Summary holds the node counts reported for a proof.
type Summary struct {
	Nodes    int `json:"nodes"`
	Frontier int `json:"frontier"`
	Stuck    int `json:"stuck"`
	Bounded  int `json:"bounded"`
}

// Summary returns the node counts of the proof.
func (p *Proof) Summary() Summary {
	return Summary{
		Nodes:    len(p.KCFG.Nodes()),
		Frontier: len(p.Frontier()),
		Stuck:    len(p.Stuck()),
		Bounded:  len(p.bounded),
	}
}
