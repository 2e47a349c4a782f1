// Package explore grows proof graphs by consulting a symbolic execution oracle.
package explore

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/crytic/kprove/logging"
	"github.com/crytic/kprove/logging/colors"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/kprove/proving/proof"
	"github.com/crytic/kprove/utils"
	"github.com/pkg/errors"
)

// Options describes how an Explorer advances a proof. A zero bound means the bound is disabled.
type Options struct {
	// MaxDepth is the number of rewrite steps requested from the oracle per step call.
	MaxDepth int
	// MaxIterations bounds the number of frontier nodes processed by a single Prove call.
	MaxIterations int
	// MaxTotalDepth bounds the number of rewrite steps taken by a single Prove call.
	MaxTotalDepth int
	// ImplicationEveryBlock checks goal subsumption before expanding every node rather than only at terminal
	// states.
	ImplicationEveryBlock bool
	// SimplifyFrontier normalizes every frontier node before it is expanded.
	SimplifyFrontier bool
}

// IncompleteBranchError is returned when the oracle answers a branch query with a single condition. The oracle
// must report every case of a split.
type IncompleteBranchError struct {
	// Node is the node the oracle was asked about.
	Node kcfg.NodeID
	// Condition is the only condition reported.
	Condition json.RawMessage
}

// Error implements the error interface.
func (e *IncompleteBranchError) Error() string {
	return fmt.Sprintf("oracle reported the single branch condition %s at node %d, expected every case of the split", e.Condition, e.Node)
}

// Report summarizes a Prove call.
type Report struct {
	// Iterations is the number of frontier nodes processed.
	Iterations int
	// TotalDepth is the number of rewrite steps taken.
	TotalDepth int
	// Exhausted is set when an iteration or depth bound stopped exploration with nodes still on the frontier.
	Exhausted bool
	// Status is the classification of the proof after exploration.
	Status proof.Status
}

// Explorer advances proofs through an oracle. An Explorer is used by one worker at a time, matching the
// sequential nature of its oracle connection.
type Explorer struct {
	// oracle answers every symbolic execution query.
	oracle oracle.Oracle

	// logger describes the Logger used by the explorer.
	logger *logging.Logger

	// options is fixed for the lifetime of the explorer.
	options Options
}

// NewExplorer creates an Explorer over the given oracle.
func NewExplorer(o oracle.Oracle, options Options) *Explorer {
	return &Explorer{
		oracle:  o,
		logger:  logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.EXPLORER_SERVICE),
		options: options,
	}
}

// Options returns the options of the explorer.
func (e *Explorer) Options() Options {
	return e.options
}

// requireFrontier returns a GraphIntegrityError unless the node is an unexplored leaf of the proof.
func requireFrontier(p *proof.Proof, op string, id kcfg.NodeID) error {
	if !p.KCFG.Contains(id) {
		return errors.Wrapf(kcfg.ErrNodeNotFound, "%s(%d)", op, id)
	}
	if p.IsBounded(id) || !p.KCFG.IsFrontier(id) {
		return errors.WithStack(&kcfg.GraphIntegrityError{Op: op, Node: id, Reason: "node is not on the frontier"})
	}
	return nil
}

// Step advances a frontier node by up to depth rewrite steps and records the edge to the state reached. It returns
// the new node, or the node itself when the oracle made no progress.
func (e *Explorer) Step(ctx context.Context, p *proof.Proof, id kcfg.NodeID, depth int) (kcfg.NodeID, error) {
	if err := requireFrontier(p, "step", id); err != nil {
		return id, err
	}
	if depth <= 0 {
		return id, errors.Errorf("step depth must be positive, got %d", depth)
	}
	successor, _, err := e.step(ctx, p, id, depth)
	return successor, err
}

// step is Step without the frontier check. It also returns the depth the oracle took.
func (e *Explorer) step(ctx context.Context, p *proof.Proof, id kcfg.NodeID, depth int) (kcfg.NodeID, int, error) {
	node, err := p.KCFG.Node(id)
	if err != nil {
		return id, 0, err
	}
	result, err := e.oracle.Step(ctx, node.CTerm, depth)
	if err != nil {
		return id, 0, err
	}
	if result.Depth == 0 {
		p.AddLog(id, result.Logs...)
		return id, 0, nil
	}

	successor := p.KCFG.CreateNode(result.State)
	if err = p.KCFG.AddEdge(id, successor, result.Depth); err != nil {
		return id, 0, err
	}
	p.AddLog(successor, result.Logs...)
	e.logger.Trace("Stepped node ", id, " by ", result.Depth, " to node ", successor)
	return successor, result.Depth, nil
}

// Simplify normalizes the states of the given nodes without advancing them. Relations are kept.
func (e *Explorer) Simplify(ctx context.Context, p *proof.Proof, ids ...kcfg.NodeID) error {
	for _, id := range ids {
		node, err := p.KCFG.Node(id)
		if err != nil {
			return err
		}
		result, err := e.oracle.Simplify(ctx, node.CTerm)
		if err != nil {
			return err
		}
		if err = p.KCFG.ReplaceNode(id, result.State); err != nil {
			return err
		}
		p.AddLog(id, result.Logs...)
	}
	return nil
}

// SectionEdge splits the edge from src to dst into the given number of consecutive edges of near equal depth by
// stepping again from src. Returns the ids of the intermediate nodes. The graph is left untouched on error.
func (e *Explorer) SectionEdge(ctx context.Context, p *proof.Proof, src kcfg.NodeID, dst kcfg.NodeID, sections int) ([]kcfg.NodeID, error) {
	edge, ok := p.KCFG.Successor(src).(*kcfg.Edge)
	if !ok || edge.Dst != dst {
		return nil, errors.WithStack(&kcfg.GraphIntegrityError{Op: "section-edge", Node: src, Reason: fmt.Sprintf("no edge to node %d", dst)})
	}
	if sections < 2 {
		return nil, errors.Errorf("an edge must be split into at least 2 sections, got %d", sections)
	}
	sectionDepth := edge.Depth / sections
	if sectionDepth == 0 {
		return nil, errors.Errorf("edge %d -> %d of depth %d cannot be split into %d sections", src, dst, edge.Depth, sections)
	}

	// Compute every intermediate state before touching the graph
	source, err := p.KCFG.Node(src)
	if err != nil {
		return nil, err
	}
	states := make([]oracle.StepResult, 0, sections-1)
	current := source.CTerm
	for i := 0; i < sections-1; i++ {
		result, err := e.oracle.Step(ctx, current, sectionDepth)
		if err != nil {
			return nil, err
		}
		if result.Depth != sectionDepth {
			return nil, errors.Errorf("oracle took %d steps for a section of depth %d", result.Depth, sectionDepth)
		}
		states = append(states, result)
		current = result.State
	}

	if err = p.KCFG.RemoveEdge(src, dst); err != nil {
		return nil, err
	}
	ids := make([]kcfg.NodeID, 0, len(states))
	previous := src
	for _, result := range states {
		id := p.KCFG.CreateNode(result.State)
		if err = p.KCFG.AddEdge(previous, id, sectionDepth); err != nil {
			return nil, err
		}
		p.AddLog(id, result.Logs...)
		ids = append(ids, id)
		previous = id
	}
	if err = p.KCFG.AddEdge(previous, dst, edge.Depth-sectionDepth*(sections-1)); err != nil {
		return nil, err
	}
	return ids, nil
}

// Prove explores the proof until its frontier is empty or a bound of the options is exhausted. Oracle failures
// abort exploration and are returned as is; the proof keeps everything recorded up to that point.
func (e *Explorer) Prove(ctx context.Context, p *proof.Proof) (Report, error) {
	var report Report
	for {
		if utils.CheckContextDone(ctx) {
			return report, errors.WithStack(ctx.Err())
		}
		frontier := p.Frontier()
		if len(frontier) == 0 {
			break
		}
		if e.options.MaxIterations > 0 && report.Iterations >= e.options.MaxIterations {
			report.Exhausted = true
			break
		}
		if e.options.MaxTotalDepth > 0 && report.TotalDepth >= e.options.MaxTotalDepth {
			report.Exhausted = true
			break
		}

		report.Iterations++
		if err := e.advance(ctx, p, frontier[0], &report); err != nil {
			return report, err
		}
	}

	report.Status = p.Status()
	e.logger.Debug("Explored ", p.ID, " in ", report.Iterations, " iterations and ", report.TotalDepth, " steps: ",
		statusColor(report.Status), report.Status, logging.StructuredLogInfo{
			"proof": p.ID, "iterations": report.Iterations, "depth": report.TotalDepth, "status": report.Status,
		})
	return report, nil
}

// advance processes one frontier node: it is either closed as terminal, covered by the target, bounded, split on
// the branch conditions the oracle reports, or stepped. A branch answer with a single condition is an error.
func (e *Explorer) advance(ctx context.Context, p *proof.Proof, id kcfg.NodeID, report *Report) error {
	if e.options.SimplifyFrontier {
		if err := e.Simplify(ctx, p, id); err != nil {
			return err
		}
	}
	node, err := p.KCFG.Node(id)
	if err != nil {
		return err
	}

	terminal, err := e.oracle.Terminal(ctx, node.CTerm)
	if err != nil {
		return err
	}
	if terminal {
		return e.closeTerminal(ctx, p, id)
	}

	// Covering happens before any loop counting, so a branch that already implies the goal is never bounded.
	if e.options.ImplicationEveryBlock {
		covered, err := e.checkImplication(ctx, p, id)
		if err != nil || covered {
			return err
		}
	}

	conditions, err := e.oracle.Branches(ctx, node.CTerm)
	if err != nil {
		return err
	}
	switch len(conditions) {
	case 0:
	case 1:
		return errors.WithStack(&IncompleteBranchError{Node: id, Condition: conditions[0]})
	default:
		return e.branch(ctx, p, id, conditions)
	}

	depth := e.options.MaxDepth
	if e.options.MaxTotalDepth > 0 {
		depth = min(depth, e.options.MaxTotalDepth-report.TotalDepth)
	}
	_, taken, err := e.step(ctx, p, id, depth)
	if err != nil {
		return err
	}
	report.TotalDepth += taken
	if taken == 0 {
		return e.closeTerminal(ctx, p, id)
	}
	return nil
}

// closeTerminal marks a node terminal and covers it by the target if it implies the goal. Otherwise it is stuck.
func (e *Explorer) closeTerminal(ctx context.Context, p *proof.Proof, id kcfg.NodeID) error {
	if err := p.KCFG.MarkTerminal(id); err != nil {
		return err
	}
	covered, err := e.checkImplication(ctx, p, id)
	if err != nil {
		return err
	}
	if !covered {
		e.logger.Debug("Node ", id, " of ", p.ID, " is stuck")
	}
	return nil
}

// checkImplication asks whether the node implies the target and records the cover if it does.
func (e *Explorer) checkImplication(ctx context.Context, p *proof.Proof, id kcfg.NodeID) (bool, error) {
	node, err := p.KCFG.Node(id)
	if err != nil {
		return false, err
	}
	target, err := p.KCFG.Node(p.Target())
	if err != nil {
		return false, err
	}
	result, err := e.oracle.Implies(ctx, node.CTerm, target.CTerm)
	if err != nil || !result.Valid {
		return false, err
	}
	if err = p.KCFG.AddCover(id, p.Target(), result.Substitution); err != nil {
		return false, err
	}
	e.logger.Trace("Covered node ", id, " of ", p.ID, " by the target")
	return true, nil
}

// branch splits a node on the given conditions. In bounded proofs, a node heading a loop that was already entered
// bmcDepth times on the path from init is marked bounded instead.
func (e *Explorer) branch(ctx context.Context, p *proof.Proof, id kcfg.NodeID, conditions []json.RawMessage) error {
	if bound, ok := p.BMCDepth(); ok {
		count, err := e.loopCount(ctx, p, id)
		if err != nil {
			return err
		}
		if count >= bound {
			e.logger.Debug("Node ", id, " of ", p.ID, " reached the loop bound of ", bound)
			return p.AddBounded(id)
		}
	}
	branches, err := p.KCFG.SplitOn(id, conditions)
	if err != nil {
		return err
	}
	e.logger.Trace("Split node ", id, " of ", p.ID, " into ", branches)
	return nil
}

// loopCount returns how many split nodes on the shortest path from init to the node sit at the same loop head.
func (e *Explorer) loopCount(ctx context.Context, p *proof.Proof, id kcfg.NodeID) (int, error) {
	node, err := p.KCFG.Node(id)
	if err != nil {
		return 0, err
	}
	path := p.KCFG.ShortestPath(p.Init(), id)
	count := 0
	for _, prior := range path {
		if prior == id {
			continue
		}
		if _, isSplit := p.KCFG.Successor(prior).(*kcfg.Split); !isSplit {
			continue
		}
		priorNode, err := p.KCFG.Node(prior)
		if err != nil {
			return 0, err
		}
		same, err := e.oracle.SameLoop(ctx, priorNode.CTerm, node.CTerm)
		if err != nil {
			return 0, err
		}
		if same {
			count++
		}
	}
	return count, nil
}

// statusColor returns the console color of a proof status.
func statusColor(status proof.Status) colors.ColorFunc {
	switch status {
	case proof.StatusPassed:
		return colors.GreenBold
	case proof.StatusFailed:
		return colors.RedBold
	default:
		return colors.YellowBold
	}
}
