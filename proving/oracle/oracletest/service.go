package oracletest

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/kprove/proving/oracle"
	"github.com/crytic/medusa-geth/rpc"
	"github.com/pkg/errors"
)

// Service exposes an oracle.Oracle as the "oracle" JSON-RPC namespace.
type Service struct {
	oracle  oracle.Oracle
	version string
}

// NewService wraps an oracle so that it can be registered with an rpc.Server.
func NewService(o oracle.Oracle, version string) *Service {
	return &Service{oracle: o, version: version}
}

// NewServer creates an in-process JSON-RPC server serving the oracle.
func NewServer(o oracle.Oracle, version string) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.RegisterName("oracle", NewService(o, version)); err != nil {
		return nil, errors.WithStack(err)
	}
	return server, nil
}

func (s *Service) Version() string {
	return s.version
}

func (s *Service) Step(ctx context.Context, state kcfg.CTerm, maxDepth int) (oracle.StepResult, error) {
	return s.oracle.Step(ctx, state, maxDepth)
}

func (s *Service) Branches(ctx context.Context, state kcfg.CTerm) ([]json.RawMessage, error) {
	return s.oracle.Branches(ctx, state)
}

func (s *Service) Terminal(ctx context.Context, state kcfg.CTerm) (bool, error) {
	return s.oracle.Terminal(ctx, state)
}

func (s *Service) Simplify(ctx context.Context, state kcfg.CTerm) (oracle.SimplifyResult, error) {
	return s.oracle.Simplify(ctx, state)
}

func (s *Service) Implies(ctx context.Context, state kcfg.CTerm, goal kcfg.CTerm) (oracle.ImpliesResult, error) {
	return s.oracle.Implies(ctx, state, goal)
}

func (s *Service) SameLoop(ctx context.Context, a kcfg.CTerm, b kcfg.CTerm) (bool, error) {
	return s.oracle.SameLoop(ctx, a, b)
}

// Dialer hands out connections to a shared scripted Oracle and records how workers used them.
type Dialer struct {
	// Oracle answers every call.
	Oracle *Oracle

	// FailDial, if set, is returned by every Dial.
	FailDial error

	lock    sync.Mutex
	active  map[int]bool
	dials   []int
	shared  bool
	maxOpen int
}

// Dial implements oracle.Dialer.
func (d *Dialer) Dial(ctx context.Context, workerIndex int) (oracle.Connection, error) {
	if d.FailDial != nil {
		return nil, d.FailDial
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.active == nil {
		d.active = make(map[int]bool)
	}
	if d.active[workerIndex] {
		d.shared = true
	}
	d.active[workerIndex] = true
	d.dials = append(d.dials, workerIndex)
	open := 0
	for _, isOpen := range d.active {
		if isOpen {
			open++
		}
	}
	if open > d.maxOpen {
		d.maxOpen = open
	}
	return &connection{Oracle: d.Oracle, dialer: d, workerIndex: workerIndex}, nil
}

// Dials returns the worker index of every Dial call in order.
func (d *Dialer) Dials() []int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return append([]int(nil), d.dials...)
}

// Shared reports whether a worker index was dialed while a connection for it was still open.
func (d *Dialer) Shared() bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.shared
}

// MaxOpen returns the highest number of simultaneously open connections.
func (d *Dialer) MaxOpen() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.maxOpen
}

// OpenConnections returns the number of connections not yet closed.
func (d *Dialer) OpenConnections() int {
	d.lock.Lock()
	defer d.lock.Unlock()
	open := 0
	for _, isOpen := range d.active {
		if isOpen {
			open++
		}
	}
	return open
}

// connection is a Connection handed out by Dialer.
type connection struct {
	*Oracle
	dialer      *Dialer
	workerIndex int
}

// Close releases the worker index.
func (c *connection) Close() error {
	c.dialer.lock.Lock()
	defer c.dialer.lock.Unlock()
	c.dialer.active[c.workerIndex] = false
	return nil
}
