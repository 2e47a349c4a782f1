package kcfg

import (
	"bytes"
	"encoding/json"
	"slices"
)

// CTerm is a symbolic state: an opaque configuration plus the logical constraints that hold over it. Both parts
// are produced and interpreted by the oracle; the graph only ever appends constraints to split a state.
type CTerm struct {
	// Config is the structured configuration value.
	Config json.RawMessage `json:"config" cbor:"config"`

	// Constraints is the list of path conditions that hold over Config.
	Constraints []json.RawMessage `json:"constraints" cbor:"constraints"`
}

// AddConstraint returns a copy of the state with the condition appended to its constraints. The receiver is left
// untouched since stored states are immutable.
func (c CTerm) AddConstraint(condition json.RawMessage) CTerm {
	constraints := make([]json.RawMessage, 0, len(c.Constraints)+1)
	constraints = append(constraints, c.Constraints...)
	constraints = append(constraints, slices.Clone(condition))
	return CTerm{
		Config:      slices.Clone(c.Config),
		Constraints: constraints,
	}
}

// Equal reports whether two states are byte-for-byte identical.
func (c CTerm) Equal(other CTerm) bool {
	if !bytes.Equal(c.Config, other.Config) || len(c.Constraints) != len(other.Constraints) {
		return false
	}
	for i := range c.Constraints {
		if !bytes.Equal(c.Constraints[i], other.Constraints[i]) {
			return false
		}
	}
	return true
}

// compactJSON removes insignificant whitespace from a JSON value. Invalid values are returned unchanged.
func compactJSON(raw json.RawMessage) json.RawMessage {
	var buffer bytes.Buffer
	if err := json.Compact(&buffer, raw); err != nil {
		return raw
	}
	return buffer.Bytes()
}

// Compact returns the state in the whitespace-free form encoding/json marshals raw values to, so that states read
// back from indented files compare equal to the states that were written.
func (c CTerm) Compact() CTerm {
	compacted := CTerm{Config: compactJSON(c.Config)}
	if c.Constraints != nil {
		compacted.Constraints = make([]json.RawMessage, len(c.Constraints))
		for i, constraint := range c.Constraints {
			compacted.Constraints[i] = compactJSON(constraint)
		}
	}
	return compacted
}

// Substitution maps variable names of a covering state to the terms they are instantiated with.
type Substitution map[string]json.RawMessage

// Compact returns the substitution with every value in whitespace-free form. A nil substitution stays nil.
func (s Substitution) Compact() Substitution {
	if s == nil {
		return nil
	}
	compacted := make(Substitution, len(s))
	for name, value := range s {
		compacted[name] = compactJSON(value)
	}
	return compacted
}

// Node is an identified symbolic state in the graph.
type Node struct {
	ID    NodeID `json:"id" cbor:"id"`
	CTerm CTerm  `json:"cterm" cbor:"cterm"`
}
