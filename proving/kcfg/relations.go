package kcfg

import (
	"encoding/json"

	"github.com/crytic/kprove/utils"
)

// NodeID identifies a node within a single graph. Ids are allocated in increasing order and never reused.
type NodeID int

// Relation is an outgoing relation of a node. It is implemented by Edge, Split and Cover only, and every node has
// at most one outgoing Relation.
type Relation interface {
	// Source returns the node the relation leaves from.
	Source() NodeID
	// Targets returns the nodes the relation leads to.
	Targets() []NodeID

	isRelation()
}

// Edge records that Depth concrete rewrite steps lead from Src to Dst. A zero depth is a linkage that has not
// been stepped.
type Edge struct {
	Src   NodeID
	Dst   NodeID
	Depth int
}

// SplitTarget is one branch of a Split: the branch node and the condition that was appended to reach it.
type SplitTarget struct {
	Target    NodeID
	Condition json.RawMessage
}

// Split records a case split of Src into two or more branches.
type Split struct {
	Src      NodeID
	Branches []SplitTarget
}

// Cover records that the state of Src is subsumed by the state of Dst under Subst.
type Cover struct {
	Src   NodeID
	Dst   NodeID
	Subst Substitution
}

func (e *Edge) Source() NodeID { return e.Src }
func (e *Edge) Targets() []NodeID { return []NodeID{e.Dst} }
func (e *Edge) isRelation() {}
func (s *Split) Source() NodeID { return s.Src }
func (s *Split) isRelation() {}
func (c *Cover) Source() NodeID { return c.Src }
func (c *Cover) Targets() []NodeID { return []NodeID{c.Dst} }
func (c *Cover) isRelation() {}

func (s *Split) Targets() []NodeID {
	return utils.SliceSelect(s.Branches, func(b SplitTarget) NodeID { return b.Target })
}
