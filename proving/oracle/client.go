package oracle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Masterminds/semver"
	"github.com/crytic/kprove/proving/kcfg"
	"github.com/crytic/medusa-geth/rpc"
	"github.com/pkg/errors"
)

// namespace is the JSON-RPC namespace every oracle method lives in.
const namespace = "oracle"

// Client is a Connection to a symbolic execution server speaking JSON-RPC 2.0. Calls are sequential; a Client must
// not be shared between workers.
type Client struct {
	// rpcClient is the underlying JSON-RPC client.
	rpcClient *rpc.Client

	// endpoint is the server address, used in error reports.
	endpoint string

	// callTimeout bounds every call when positive.
	callTimeout time.Duration
}

// Dial connects to the server at endpoint. Every call made through the returned client is bounded by callTimeout
// when it is positive.
func Dial(ctx context.Context, endpoint string, callTimeout time.Duration) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, endpoint)
	if err != nil {
		return nil, classify(ctx, "dial", endpoint, err)
	}
	return NewClient(rpcClient, endpoint, callTimeout), nil
}

// NewClient wraps an already connected JSON-RPC client.
func NewClient(rpcClient *rpc.Client, endpoint string, callTimeout time.Duration) *Client {
	return &Client{
		rpcClient:   rpcClient,
		endpoint:    endpoint,
		callTimeout: callTimeout,
	}
}

// Endpoint returns the server address of the client.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// call invokes a method of the oracle namespace with the per-call timeout applied.
func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	fullMethod := namespace + "_" + method
	if err := c.rpcClient.CallContext(callCtx, result, fullMethod, args...); err != nil {
		return classify(callCtx, fullMethod, c.endpoint, err)
	}
	return nil
}

// Version returns the version string reported by the server.
func (c *Client) Version(ctx context.Context) (string, error) {
	var version string
	err := c.call(ctx, &version, "version")
	return version, err
}

// CheckVersion returns an error if the server reports a version lower than minVersion. An empty minVersion skips
// the check.
func (c *Client) CheckVersion(ctx context.Context, minVersion string) error {
	if minVersion == "" {
		return nil
	}
	minimum, err := semver.NewVersion(minVersion)
	if err != nil {
		return errors.Wrapf(err, "invalid minimum oracle version %q", minVersion)
	}

	reported, err := c.Version(ctx)
	if err != nil {
		return err
	}
	version, err := semver.NewVersion(reported)
	if err != nil {
		return errors.Wrapf(err, "oracle at %s reported an invalid version %q", c.endpoint, reported)
	}
	if version.LessThan(minimum) {
		return errors.Errorf("oracle at %s has version %s, at least %s is required", c.endpoint, version, minimum)
	}
	return nil
}

// Step implements Oracle.
func (c *Client) Step(ctx context.Context, state kcfg.CTerm, maxDepth int) (StepResult, error) {
	var result StepResult
	err := c.call(ctx, &result, "step", state, maxDepth)
	return result, err
}

// Branches implements Oracle.
func (c *Client) Branches(ctx context.Context, state kcfg.CTerm) ([]json.RawMessage, error) {
	var result []json.RawMessage
	err := c.call(ctx, &result, "branches", state)
	return result, err
}

// Terminal implements Oracle.
func (c *Client) Terminal(ctx context.Context, state kcfg.CTerm) (bool, error) {
	var result bool
	err := c.call(ctx, &result, "terminal", state)
	return result, err
}

// Simplify implements Oracle.
func (c *Client) Simplify(ctx context.Context, state kcfg.CTerm) (SimplifyResult, error) {
	var result SimplifyResult
	err := c.call(ctx, &result, "simplify", state)
	return result, err
}

// Implies implements Oracle.
func (c *Client) Implies(ctx context.Context, state kcfg.CTerm, goal kcfg.CTerm) (ImpliesResult, error) {
	var result ImpliesResult
	err := c.call(ctx, &result, "implies", state, goal)
	return result, err
}

// SameLoop implements Oracle.
func (c *Client) SameLoop(ctx context.Context, a kcfg.CTerm, b kcfg.CTerm) (bool, error) {
	var result bool
	err := c.call(ctx, &result, "sameLoop", a, b)
	return result, err
}

// Close closes the connection. Pending calls are aborted.
func (c *Client) Close() error {
	c.rpcClient.Close()
	return nil
}
