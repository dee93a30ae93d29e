// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/exec"
	"time"

	godap "github.com/google/go-dap"

	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

// DefaultEntryTimeout bounds the wait for the stop-on-entry event.
const DefaultEntryTimeout = 10 * time.Second

// StartOptions configures the initialize/launch handshake.
type StartOptions struct {
	// AdapterID is sent in the initialize request (e.g., "node", "go").
	AdapterID string

	// Request is "launch" or "attach". Default: launch
	Request string

	// Arguments are the adapter-specific launch or attach arguments.
	// stopOnEntry is forced on so breakpoints can be placed before the
	// program runs.
	Arguments map[string]any

	// EntryTimeout bounds the wait for the entry stop. Adapters that do
	// not stop on entry simply let it expire.
	EntryTimeout time.Duration
}

// Launch spawns an adapter process and connects to it over stdio.
func Launch(ctx context.Context, command string, args []string, logger *slog.Logger) (*Client, error) {
	cmd := exec.CommandContext(ctx, command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("adapter stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("adapter stdout: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting adapter %s: %w", command, err)
	}
	return NewClient(&processConn{cmd: cmd, stdin: stdin, stdout: stdout}, logger), nil
}

// Dial connects to an adapter listening on a TCP address.
func Dial(ctx context.Context, address string, logger *slog.Logger) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing adapter at %s: %w", address, err)
	}
	return NewClient(conn, logger), nil
}

// Start runs the handshake: initialize, launch or attach, wait for the
// initialized event, configurationDone, then absorb the entry stop so the
// debuggee is paused and nothing stale reaches Events.
func (c *Client) Start(ctx context.Context, opts StartOptions) error {
	if opts.Request == "" {
		opts.Request = "launch"
	}
	if opts.Request != "launch" && opts.Request != "attach" {
		return &llmerrors.ValidationError{Field: "request", Message: fmt.Sprintf("unknown request %q", opts.Request)}
	}
	if opts.EntryTimeout <= 0 {
		opts.EntryTimeout = DefaultEntryTimeout
	}

	args := make(map[string]any, len(opts.Arguments)+1)
	for k, v := range opts.Arguments {
		args[k] = v
	}
	args["stopOnEntry"] = true
	raw, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encoding %s arguments: %w", opts.Request, err)
	}

	initialized := c.expect("initialized", true)
	entry := c.expect("stopped", true)

	if _, err := roundTrip[*godap.InitializeResponse](ctx, c, &godap.InitializeRequest{
		Request: newRequest("initialize"),
		Arguments: godap.InitializeRequestArguments{
			ClientID:        "llmdebug",
			ClientName:      "llmdebug",
			AdapterID:       opts.AdapterID,
			Locale:          "en-US",
			LinesStartAt1:   true,
			ColumnsStartAt1: true,
			PathFormat:      "path",
		},
	}); err != nil {
		c.unwatch(initialized)
		c.unwatch(entry)
		return err
	}

	// Some adapters answer launch only after configurationDone.
	launched := make(chan error, 1)
	go func() {
		var req godap.RequestMessage = &godap.LaunchRequest{Request: newRequest("launch"), Arguments: raw}
		if opts.Request == "attach" {
			req = &godap.AttachRequest{Request: newRequest("attach"), Arguments: raw}
		}
		_, err := c.send(ctx, req)
		launched <- err
	}()

	select {
	case _, ok := <-initialized.ch:
		if !ok {
			return &llmerrors.TransportError{Command: opts.Request, Cause: ErrClosed}
		}
	case err := <-launched:
		if err != nil {
			c.unwatch(initialized)
			c.unwatch(entry)
			return err
		}
		if _, ok := <-initialized.ch; !ok {
			return &llmerrors.TransportError{Command: opts.Request, Cause: ErrClosed}
		}
		launched <- nil
	case <-ctx.Done():
		c.unwatch(initialized)
		c.unwatch(entry)
		return ctx.Err()
	}

	if _, err := roundTrip[*godap.ConfigurationDoneResponse](ctx, c, &godap.ConfigurationDoneRequest{
		Request: newRequest("configurationDone"),
	}); err != nil {
		c.unwatch(entry)
		return err
	}

	if err := <-launched; err != nil {
		c.unwatch(entry)
		return err
	}

	timer := time.NewTimer(opts.EntryTimeout)
	defer timer.Stop()
	select {
	case <-entry.ch:
		c.logger.Debug("debuggee paused on entry")
	case <-timer.C:
		c.unwatch(entry)
		c.logger.Debug("no entry stop received", slog.Duration("timeout", opts.EntryTimeout))
	case <-ctx.Done():
		c.unwatch(entry)
		return ctx.Err()
	}
	return nil
}

// processConn joins a child process's stdio into one connection.
type processConn struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (p *processConn) Read(b []byte) (int, error)  { return p.stdout.Read(b) }
func (p *processConn) Write(b []byte) (int, error) { return p.stdin.Write(b) }

func (p *processConn) Close() error {
	_ = p.stdin.Close()
	done := make(chan error, 1)
	go func() { done <- p.cmd.Wait() }()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		_ = p.cmd.Process.Kill()
		return <-done
	}
}
