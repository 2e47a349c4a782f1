// Package oracletest provides a scripted in-memory oracle for tests. States are positions in small programs, so
// tests can describe the shape of a proof graph without a symbolic execution server.
package oracletest

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/pkg/errors"
)

// Op is the kind of an instruction.
type Op int

const (
	// OpNext advances to the next instruction.
	OpNext Op = iota
	// OpJump continues at Instr.Target.
	OpJump
	// OpBranch splits on Instr.Cond and continues at Instr.Then or Instr.Else.
	OpBranch
	// OpStop is terminal.
	OpStop
	// OpHang blocks the step call until its context is done.
	OpHang
)

// Instr is one instruction of a Program.
type Instr struct {
	Op       Op
	Target   int
	Cond     string
	Then     int
	Else     int
	// Accept makes states at this instruction imply the goal.
	Accept   bool
	LoopHead bool
}

// Program is a list of instructions indexed by program counter.
type Program []Instr

// Next returns an OpNext instruction.
func Next() Instr { return Instr{Op: OpNext} }

// Jump returns an OpJump instruction.
func Jump(target int) Instr { return Instr{Op: OpJump, Target: target} }

// Branch returns an OpBranch instruction.
func Branch(cond string, then int, els int) Instr {
	return Instr{Op: OpBranch, Cond: cond, Then: then, Else: els}
}

// LoopHead returns an OpBranch instruction that heads a loop.
func LoopHead(cond string, body int, exit int) Instr {
	return Instr{Op: OpBranch, Cond: cond, Then: body, Else: exit, LoopHead: true}
}

// Accept returns a terminal instruction which implies the goal.
func Accept() Instr { return Instr{Op: OpStop, Accept: true} }

// Reject returns a terminal instruction which does not imply the goal.
func Reject() Instr { return Instr{Op: OpStop} }

// Hang returns an instruction whose step never completes.
func Hang() Instr { return Instr{Op: OpHang} }

// machine is the configuration of a state.
type machine struct {
	Prog string `json:"prog"`
	PC   int    `json:"pc"`
	T    int    `json:"t"`
}

// State returns the state of program prog at pc after t steps.
func State(prog string, pc int, t int) kcfg.CTerm {
	config, _ := json.Marshal(machine{Prog: prog, PC: pc, T: t})
	return kcfg.CTerm{Config: config}
}

// Goal returns the target state of program prog.
func Goal(prog string) kcfg.CTerm {
	return State(prog, -1, 0)
}

// decode parses a state produced by this package.
func decode(state kcfg.CTerm) (machine, []string, error) {
	var m machine
	if err := json.Unmarshal(state.Config, &m); err != nil {
		return m, nil, errors.Wrap(err, "not a scripted state")
	}
	constraints := make([]string, len(state.Constraints))
	for i, c := range state.Constraints {
		if err := json.Unmarshal(c, &constraints[i]); err != nil {
			return m, nil, errors.Wrap(err, "not a scripted constraint")
		}
	}
	return m, constraints, nil
}

// encode builds a state from a configuration and constraints.
func encode(m machine, constraints []string) kcfg.CTerm {
	state := State(m.Prog, m.PC, m.T)
	for _, c := range constraints {
		state = state.AddConstraint(json.RawMessage(fmt.Sprintf("%q", c)))
	}
	return state
}

// Oracle is a scripted oracle.Oracle. It is safe for concurrent use.
type Oracle struct {
	// programs maps program names to their instructions.
	programs map[string]Program

	// lock guards calls and failures.
	lock sync.Mutex

	// calls counts calls per method.
	calls map[string]int

	// failures holds errors injected per method.
	failures map[string]error
}

// New creates an oracle over the given named programs.
func New(programs map[string]Program) *Oracle {
	return &Oracle{
		programs: programs,
		calls:    make(map[string]int),
		failures: make(map[string]error),
	}
}

// FailOn makes every subsequent call of method return err.
func (o *Oracle) FailOn(method string, err error) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.failures[method] = err
}

// Calls returns how many times method was called.
func (o *Oracle) Calls(method string) int {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.calls[method]
}

// TotalCalls returns the number of calls made to any method.
func (o *Oracle) TotalCalls() int {
	o.lock.Lock()
	defer o.lock.Unlock()
	total := 0
	for _, n := range o.calls {
		total += n
	}
	return total
}

// enter counts a call and returns the injected failure for the method, if any.
func (o *Oracle) enter(method string) error {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.calls[method]++
	return o.failures[method]
}

// instr returns the instruction at the state's program counter. Missing programs and out-of-range counters read
// as a rejecting stop.
func (o *Oracle) instr(m machine) Instr {
	program := o.programs[m.Prog]
	if m.PC < 0 || m.PC >= len(program) {
		return Reject()
	}
	return program[m.PC]
}

// resolution reports whether the condition of the branch at the current time was assumed, and which way.
func resolution(m machine, constraints []string, cond string) (taken bool, resolved bool) {
	tag := fmt.Sprintf("%s#%d", cond, m.T)
	if slices.Contains(constraints, tag) {
		return true, true
	}
	if slices.Contains(constraints, "!"+tag) {
		return false, true
	}
	return false, false
}

// Step implements oracle.Oracle.
func (o *Oracle) Step(ctx context.Context, state kcfg.CTerm, maxDepth int) (oracle.StepResult, error) {
	if err := o.enter("step"); err != nil {
		return oracle.StepResult{}, err
	}
	m, constraints, err := decode(state)
	if err != nil {
		return oracle.StepResult{}, err
	}

	depth := 0
loop:
	for depth < maxDepth {
		in := o.instr(m)
		switch in.Op {
		case OpNext:
			m.PC++
		case OpJump:
			m.PC = in.Target
		case OpBranch:
			taken, resolved := resolution(m, constraints, in.Cond)
			if !resolved {
				break loop
			}
			if taken {
				m.PC = in.Then
			} else {
				m.PC = in.Else
			}
		case OpHang:
			<-ctx.Done()
			return oracle.StepResult{}, ctx.Err()
		default:
			break loop
		}
		m.T++
		depth++
	}

	result := oracle.StepResult{State: encode(m, constraints), Depth: depth}
	if depth > 0 {
		result.Logs = []string{fmt.Sprintf("stepped %d to pc %d", depth, m.PC)}
	}
	return result, nil
}

// Branches implements oracle.Oracle.
func (o *Oracle) Branches(ctx context.Context, state kcfg.CTerm) ([]json.RawMessage, error) {
	if err := o.enter("branches"); err != nil {
		return nil, err
	}
	m, constraints, err := decode(state)
	if err != nil {
		return nil, err
	}
	in := o.instr(m)
	if in.Op != OpBranch {
		return nil, nil
	}
	if _, resolved := resolution(m, constraints, in.Cond); resolved {
		return nil, nil
	}
	tag := fmt.Sprintf("%s#%d", in.Cond, m.T)
	return []json.RawMessage{
		json.RawMessage(fmt.Sprintf("%q", tag)),
		json.RawMessage(fmt.Sprintf("%q", "!"+tag)),
	}, nil
}

// Terminal implements oracle.Oracle.
func (o *Oracle) Terminal(ctx context.Context, state kcfg.CTerm) (bool, error) {
	if err := o.enter("terminal"); err != nil {
		return false, err
	}
	m, _, err := decode(state)
	if err != nil {
		return false, err
	}
	return o.instr(m).Op == OpStop, nil
}

// Simplify implements oracle.Oracle. Constraints are sorted and deduplicated.
func (o *Oracle) Simplify(ctx context.Context, state kcfg.CTerm) (oracle.SimplifyResult, error) {
	if err := o.enter("simplify"); err != nil {
		return oracle.SimplifyResult{}, err
	}
	m, constraints, err := decode(state)
	if err != nil {
		return oracle.SimplifyResult{}, err
	}
	slices.Sort(constraints)
	constraints = slices.Compact(constraints)
	return oracle.SimplifyResult{
		State: encode(m, constraints),
		Logs:  []string{"simplified " + strings.Join(constraints, " /\\ ")},
	}, nil
}

// Implies implements oracle.Oracle. A state implies the goal iff it sits on an accepting instruction.
func (o *Oracle) Implies(ctx context.Context, state kcfg.CTerm, goal kcfg.CTerm) (oracle.ImpliesResult, error) {
	if err := o.enter("implies"); err != nil {
		return oracle.ImpliesResult{}, err
	}
	m, _, err := decode(state)
	if err != nil {
		return oracle.ImpliesResult{}, err
	}
	if !o.instr(m).Accept {
		return oracle.ImpliesResult{Valid: false}, nil
	}
	return oracle.ImpliesResult{
		Valid:        true,
		Substitution: kcfg.Substitution{"PC": json.RawMessage(fmt.Sprintf("%d", m.PC))},
	}, nil
}

// SameLoop implements oracle.Oracle. Two states share a loop iff they sit on the same loop head.
func (o *Oracle) SameLoop(ctx context.Context, a kcfg.CTerm, b kcfg.CTerm) (bool, error) {
	if err := o.enter("sameLoop"); err != nil {
		return false, err
	}
	ma, _, err := decode(a)
	if err != nil {
		return false, err
	}
	mb, _, err := decode(b)
	if err != nil {
		return false, err
	}
	return ma.Prog == mb.Prog && ma.PC == mb.PC && o.instr(ma).LoopHead, nil
}
