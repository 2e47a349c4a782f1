package oracle

import (
	"context"
	"time"

	"github.com/crytic/kprove/logging"
	"github.com/crytic/kprove/proving/config"
	"github.com/pkg/errors"
)

// serverPollInterval is the delay between connection attempts while a started server boots.
const serverPollInterval = 100 * time.Millisecond

// EndpointDialer dials the server of worker i at port BasePort + i, starting a server process first when a server
// command is configured.
type EndpointDialer struct {
	// config describes the endpoints and server command.
	config config.OracleConfig

	// logger describes the Logger used by the dialer.
	logger *logging.Logger
}

// NewEndpointDialer creates an EndpointDialer for the given oracle configuration.
func NewEndpointDialer(oracleConfig config.OracleConfig) *EndpointDialer {
	return &EndpointDialer{
		config: oracleConfig,
		logger: logging.GlobalLogger.NewSubLogger(logging.SERVICE_KEY, logging.ORACLE_SERVICE),
	}
}

// connection is a Client which also owns the server process it talks to.
type connection struct {
	*Client
	server *ServerProcess
}

// Close closes the client and stops the server, if one was started.
func (c *connection) Close() error {
	closeErr := c.Client.Close()
	if c.server != nil {
		if err := c.server.Stop(); err != nil {
			return err
		}
	}
	return closeErr
}

// Dial implements Dialer.
func (d *EndpointDialer) Dial(ctx context.Context, workerIndex int) (Connection, error) {
	endpoint := d.config.Endpoint(workerIndex)
	client, err := Dial(ctx, endpoint, d.config.CallTimeoutDuration())
	if err != nil {
		return nil, err
	}
	conn := &connection{Client: client}

	if len(d.config.ServerCommand) > 0 {
		d.logger.Debug("Starting oracle server for worker ", workerIndex, " on port ", d.config.Port(workerIndex))
		conn.server, err = StartServer(ctx, d.config.ServerCommand, d.config.Port(workerIndex))
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		if err = d.waitForServer(ctx, conn); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	if err = client.CheckVersion(ctx, d.config.MinVersion); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// waitForServer polls the version method until the started server answers, exits or the startup timeout passes.
func (d *EndpointDialer) waitForServer(ctx context.Context, conn *connection) error {
	startupCtx := ctx
	if d.config.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startupCtx, cancel = context.WithTimeout(ctx, time.Duration(d.config.StartupTimeout)*time.Second)
		defer cancel()
	}

	ticker := time.NewTicker(serverPollInterval)
	defer ticker.Stop()
	for {
		if _, err := conn.Version(startupCtx); err == nil {
			return nil
		}
		select {
		case <-conn.server.Exited():
			return conn.server.ExitError()
		case <-startupCtx.Done():
			return errors.Wrapf(ErrOracleTimeout, "oracle server at %s did not start", conn.Endpoint())
		case <-ticker.C:
		}
	}
}
