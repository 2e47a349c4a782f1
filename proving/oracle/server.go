package oracle

import (
	"bytes"
	"context"
	"os/exec"
	"strconv"
	"strings"

	"github.com/crytic/kprove/utils"
	"github.com/pkg/errors"
)

// ServerProcess is a symbolic execution server started for a single worker task.
type ServerProcess struct {
	// cmd is the running server.
	cmd *exec.Cmd

	// output collects the combined stdout and stderr of the server.
	output *bytes.Buffer

	// exited is closed once the process has been reaped. waitErr holds its exit status.
	exited  chan struct{}
	waitErr error
}

// StartServer launches command with "--port <port>" appended. The process is killed when ctx is cancelled.
func StartServer(ctx context.Context, command []string, port int) (*ServerProcess, error) {
	if len(command) == 0 {
		return nil, errors.New("no oracle server command configured")
	}
	args := append(append([]string{}, command[1:]...), "--port", strconv.Itoa(port))

	output := new(bytes.Buffer)
	writer := utils.NewSynchronizedWriter(output)
	cmd := exec.CommandContext(ctx, command[0], args...)
	cmd.Stdout = writer
	cmd.Stderr = writer
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "could not start oracle server %q", command[0])
	}

	s := &ServerProcess{
		cmd:    cmd,
		output: output,
		exited: make(chan struct{}),
	}
	go func() {
		s.waitErr = s.cmd.Wait()
		close(s.exited)
	}()
	return s, nil
}

// Exited returns a channel closed once the process has exited.
func (s *ServerProcess) Exited() <-chan struct{} {
	return s.exited
}

// ExitError returns an error describing how the process exited, including the tail of its output. It must only be
// called after Exited is closed.
func (s *ServerProcess) ExitError() error {
	tail := strings.TrimSpace(s.output.String())
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	if s.waitErr != nil {
		return errors.Errorf("oracle server exited: %v\n%s", s.waitErr, tail)
	}
	return errors.Errorf("oracle server exited\n%s", tail)
}

// Stop kills the process and waits for it to be reaped.
func (s *ServerProcess) Stop() error {
	select {
	case <-s.exited:
		return nil
	default:
	}
	if err := s.cmd.Process.Kill(); err != nil {
		return errors.WithStack(err)
	}
	<-s.exited
	return nil
}
