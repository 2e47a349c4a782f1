package kcfg

import (
	"encoding/json"
	"maps"
	"slices"
)

// Dict is the serialized form of a KCFG. It is shared by the JSON and CBOR proof codecs. The init and target
// designations are stored by the owning proof, not here.
type Dict struct {
	NextID   NodeID      `json:"nextId" cbor:"nextId"`
	Nodes    []Node      `json:"nodes" cbor:"nodes"`
	Terminal []NodeID    `json:"terminal" cbor:"terminal"`
	Edges    []EdgeDict  `json:"edges" cbor:"edges"`
	Splits   []SplitDict `json:"splits" cbor:"splits"`
	Covers   []CoverDict `json:"covers" cbor:"covers"`
}

// EdgeDict is the serialized form of an Edge.
type EdgeDict struct {
	Source NodeID `json:"source" cbor:"source"`
	Target NodeID `json:"target" cbor:"target"`
	Depth  int    `json:"depth" cbor:"depth"`
}

// SplitDict is the serialized form of a Split.
type SplitDict struct {
	Source  NodeID            `json:"source" cbor:"source"`
	Targets []SplitTargetDict `json:"targets" cbor:"targets"`
}

// SplitTargetDict is the serialized form of one branch of a Split.
type SplitTargetDict struct {
	Target    NodeID          `json:"target" cbor:"target"`
	Condition json.RawMessage `json:"condition" cbor:"condition"`
}

// CoverDict is the serialized form of a Cover.
type CoverDict struct {
	Source       NodeID       `json:"source" cbor:"source"`
	Target       NodeID       `json:"target" cbor:"target"`
	Substitution Substitution `json:"substitution" cbor:"substitution"`
}

// ToDict serializes the graph. Every list is sorted so that equal graphs produce equal dicts.
func (k *KCFG) ToDict() Dict {
	d := Dict{
		NextID:   k.nextID,
		Nodes:    k.Nodes(),
		Terminal: slices.Sorted(maps.Keys(k.terminal)),
		Edges:    make([]EdgeDict, 0),
		Splits:   make([]SplitDict, 0),
		Covers:   make([]CoverDict, 0),
	}
	for _, e := range k.Edges() {
		d.Edges = append(d.Edges, EdgeDict{Source: e.Src, Target: e.Dst, Depth: e.Depth})
	}
	for _, s := range k.Splits() {
		targets := make([]SplitTargetDict, len(s.Branches))
		for i, b := range s.Branches {
			targets[i] = SplitTargetDict{Target: b.Target, Condition: b.Condition}
		}
		d.Splits = append(d.Splits, SplitDict{Source: s.Src, Targets: targets})
	}
	for _, c := range k.Covers() {
		d.Covers = append(d.Covers, CoverDict{Source: c.Src, Target: c.Dst, Substitution: c.Subst})
	}
	return d
}

// FromDict rebuilds a graph from its serialized form. States, conditions and substitution values are compacted.
// Node ids at or above NextID, duplicate ids, relations with missing endpoints and nodes with two outgoing
// relations are rejected with a GraphIntegrityError.
func FromDict(d Dict) (*KCFG, error) {
	k := NewKCFG()
	k.nextID = d.NextID

	for _, node := range d.Nodes {
		if node.ID < 0 || node.ID >= d.NextID {
			return nil, integrityError("from-dict", node.ID, "node id is outside the allocated range [0, %d)", d.NextID)
		}
		if k.Contains(node.ID) {
			return nil, integrityError("from-dict", node.ID, "duplicate node id")
		}
		k.nodes[node.ID] = &Node{ID: node.ID, CTerm: node.CTerm.Compact()}
	}
	for _, id := range d.Terminal {
		if err := k.MarkTerminal(id); err != nil {
			return nil, err
		}
	}
	for _, e := range d.Edges {
		if err := k.AddEdge(e.Source, e.Target, e.Depth); err != nil {
			return nil, err
		}
	}
	for _, s := range d.Splits {
		branches := make([]SplitTarget, len(s.Targets))
		for i, t := range s.Targets {
			branches[i] = SplitTarget{Target: t.Target, Condition: compactJSON(t.Condition)}
		}
		if err := k.AddSplit(s.Source, branches); err != nil {
			return nil, err
		}
	}
	for _, c := range d.Covers {
		if err := k.AddCover(c.Source, c.Target, c.Substitution.Compact()); err != nil {
			return nil, err
		}
	}
	return k, nil
}
