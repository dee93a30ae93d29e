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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	godap "github.com/google/go-dap"

	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

// eventBufferSize bounds how far the reader may run ahead of the consumer
// of Events before it waits.
const eventBufferSize = 1024

// Client is a Debug Adapter Protocol client over a single connection.
// It is safe for concurrent use.
type Client struct {
	conn   io.ReadWriteCloser
	reader *bufio.Reader
	logger *slog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	seq      int
	pending  map[int]chan godap.ResponseMessage
	watchers []*watcher
	readErr  error

	events    chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// watcher is a one-shot subscription to a named event.
type watcher struct {
	event   string
	consume bool
	ch      chan Message
}

var _ Session = (*Client)(nil)

// NewClient starts a client on an established connection.
func NewClient(conn io.ReadWriteCloser, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		conn:    conn,
		reader:  bufio.NewReader(conn),
		logger:  logger.With("component", "dap"),
		pending: make(map[int]chan godap.ResponseMessage),
		events:  make(chan Message, eventBufferSize),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// Events implements Session.
func (c *Client) Events() <-chan Message {
	return c.events
}

// Close shuts the connection down. Outstanding requests fail with ErrClosed.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Threads implements Session.
func (c *Client) Threads(ctx context.Context) ([]Thread, error) {
	resp, err := roundTrip[*godap.ThreadsResponse](ctx, c, &godap.ThreadsRequest{
		Request: newRequest("threads"),
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Threads, nil
}

// StackTrace implements Session.
func (c *Client) StackTrace(ctx context.Context, threadID, levels int) ([]StackFrame, error) {
	resp, err := roundTrip[*godap.StackTraceResponse](ctx, c, &godap.StackTraceRequest{
		Request: newRequest("stackTrace"),
		Arguments: godap.StackTraceArguments{
			ThreadId:   threadID,
			StartFrame: 0,
			Levels:     levels,
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.StackFrames, nil
}

// Scopes implements Session.
func (c *Client) Scopes(ctx context.Context, frameID int) ([]Scope, error) {
	resp, err := roundTrip[*godap.ScopesResponse](ctx, c, &godap.ScopesRequest{
		Request:   newRequest("scopes"),
		Arguments: godap.ScopesArguments{FrameId: frameID},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Scopes, nil
}

// Variables implements Session.
func (c *Client) Variables(ctx context.Context, variablesReference int) ([]Variable, error) {
	resp, err := roundTrip[*godap.VariablesResponse](ctx, c, &godap.VariablesRequest{
		Request:   newRequest("variables"),
		Arguments: godap.VariablesArguments{VariablesReference: variablesReference},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Variables, nil
}

// SetBreakpoints implements Session.
func (c *Client) SetBreakpoints(ctx context.Context, path string, lines []int) ([]Breakpoint, error) {
	bps := make([]godap.SourceBreakpoint, len(lines))
	for i, line := range lines {
		bps[i] = godap.SourceBreakpoint{Line: line}
	}
	resp, err := roundTrip[*godap.SetBreakpointsResponse](ctx, c, &godap.SetBreakpointsRequest{
		Request: newRequest("setBreakpoints"),
		Arguments: godap.SetBreakpointsArguments{
			Source:      godap.Source{Path: path},
			Breakpoints: bps,
		},
	})
	if err != nil {
		return nil, err
	}
	return resp.Body.Breakpoints, nil
}

// Next implements Session.
func (c *Client) Next(ctx context.Context, threadID int) error {
	_, err := roundTrip[*godap.NextResponse](ctx, c, &godap.NextRequest{
		Request:   newRequest("next"),
		Arguments: godap.NextArguments{ThreadId: threadID},
	})
	return err
}

// StepIn implements Session.
func (c *Client) StepIn(ctx context.Context, threadID int) error {
	_, err := roundTrip[*godap.StepInResponse](ctx, c, &godap.StepInRequest{
		Request:   newRequest("stepIn"),
		Arguments: godap.StepInArguments{ThreadId: threadID},
	})
	return err
}

// StepOut implements Session.
func (c *Client) StepOut(ctx context.Context, threadID int) error {
	_, err := roundTrip[*godap.StepOutResponse](ctx, c, &godap.StepOutRequest{
		Request:   newRequest("stepOut"),
		Arguments: godap.StepOutArguments{ThreadId: threadID},
	})
	return err
}

// Continue implements Session.
func (c *Client) Continue(ctx context.Context, threadID int) error {
	_, err := roundTrip[*godap.ContinueResponse](ctx, c, &godap.ContinueRequest{
		Request:   newRequest("continue"),
		Arguments: godap.ContinueArguments{ThreadId: threadID},
	})
	return err
}

// Disconnect implements Session.
func (c *Client) Disconnect(ctx context.Context, terminate bool) error {
	_, err := roundTrip[*godap.DisconnectResponse](ctx, c, &godap.DisconnectRequest{
		Request:   newRequest("disconnect"),
		Arguments: &godap.DisconnectArguments{TerminateDebuggee: terminate},
	})
	return err
}

func newRequest(command string) godap.Request {
	return godap.Request{
		ProtocolMessage: godap.ProtocolMessage{Type: "request"},
		Command:         command,
	}
}

// roundTrip sends req and narrows the response to the expected type.
func roundTrip[T godap.ResponseMessage](ctx context.Context, c *Client, req godap.RequestMessage) (T, error) {
	var zero T
	resp, err := c.send(ctx, req)
	if err != nil {
		return zero, err
	}
	typed, ok := resp.(T)
	if !ok {
		return zero, &llmerrors.TransportError{
			Command: req.GetRequest().Command,
			Message: fmt.Sprintf("unexpected response type %T", resp),
		}
	}
	return typed, nil
}

// send writes a request and blocks until its response arrives.
func (c *Client) send(ctx context.Context, req godap.RequestMessage) (godap.ResponseMessage, error) {
	r := req.GetRequest()
	ch := make(chan godap.ResponseMessage, 1)

	c.mu.Lock()
	if c.readErr != nil {
		c.mu.Unlock()
		return nil, &llmerrors.TransportError{Command: r.Command, Cause: ErrClosed}
	}
	c.seq++
	r.Seq = c.seq
	c.pending[r.Seq] = ch
	c.mu.Unlock()

	c.logger.Debug("sending request", slog.String("command", r.Command), slog.Int("seq", r.Seq))

	if err := c.write(req); err != nil {
		c.forget(r.Seq)
		return nil, &llmerrors.TransportError{Command: r.Command, Cause: err}
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, &llmerrors.TransportError{Command: r.Command, Cause: ErrClosed}
		}
		if base := resp.GetResponse(); !base.Success {
			return nil, &llmerrors.TransportError{Command: r.Command, Message: failureMessage(resp)}
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(r.Seq)
		return nil, &llmerrors.TransportError{Command: r.Command, Cause: ctx.Err()}
	}
}

func (c *Client) write(msg Message) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return godap.WriteProtocolMessage(c.conn, msg)
}

func (c *Client) forget(seq int) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

// expect registers a one-shot watcher for the next event with the given name.
// A consuming watcher keeps the event out of Events.
func (c *Client) expect(event string, consume bool) *watcher {
	w := &watcher{event: event, consume: consume, ch: make(chan Message, 1)}
	c.mu.Lock()
	c.watchers = append(c.watchers, w)
	c.mu.Unlock()
	return w
}

func (c *Client) unwatch(w *watcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.watchers {
		if existing == w {
			c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
			return
		}
	}
}

func (c *Client) readLoop() {
	var err error
	defer func() { c.shutdown(err) }()

	for {
		var msg Message
		msg, err = godap.ReadProtocolMessage(c.reader)
		if err != nil {
			var fieldErr *godap.DecodeProtocolMessageFieldError
			if errors.As(err, &fieldErr) {
				c.logger.Debug("skipping unsupported message", slog.String("error", err.Error()))
				err = nil
				continue
			}
			return
		}

		switch m := msg.(type) {
		case godap.ResponseMessage:
			if observed(m) {
				c.publish(m)
			}
			c.deliver(m)
		case godap.EventMessage:
			if c.notifyWatchers(m) {
				continue
			}
			c.publish(m)
		case godap.RequestMessage:
			c.rejectReverseRequest(m)
		}
	}
}

// observed reports whether a response is forwarded to Events as well as to its caller.
func observed(resp godap.ResponseMessage) bool {
	switch resp.GetResponse().Command {
	case "threads", "disconnect":
		return resp.GetResponse().Success
	}
	return false
}

func (c *Client) deliver(resp godap.ResponseMessage) {
	base := resp.GetResponse()
	c.mu.Lock()
	ch, ok := c.pending[base.RequestSeq]
	delete(c.pending, base.RequestSeq)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("dropping unmatched response", slog.String("command", base.Command), slog.Int("request_seq", base.RequestSeq))
		return
	}
	ch <- resp
}

func (c *Client) notifyWatchers(ev godap.EventMessage) (consumed bool) {
	name := ev.GetEvent().Event
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, w := range c.watchers {
		if w.event != name {
			continue
		}
		c.watchers = append(c.watchers[:i], c.watchers[i+1:]...)
		w.ch <- ev
		return w.consume
	}
	return false
}

func (c *Client) publish(msg Message) {
	select {
	case c.events <- msg:
	case <-c.done:
	}
}

// rejectReverseRequest answers adapter-initiated requests (runInTerminal,
// startDebugging) with a failure so the adapter falls back.
func (c *Client) rejectReverseRequest(req godap.RequestMessage) {
	r := req.GetRequest()
	c.mu.Lock()
	c.seq++
	seq := c.seq
	c.mu.Unlock()

	resp := &godap.ErrorResponse{
		Response: godap.Response{
			ProtocolMessage: godap.ProtocolMessage{Seq: seq, Type: "response"},
			RequestSeq:      r.Seq,
			Command:         r.Command,
			Success:         false,
			Message:         "unsupported",
		},
	}
	if err := c.write(resp); err != nil {
		c.logger.Warn("failed to reject reverse request", slog.String("command", r.Command), slog.String("error", err.Error()))
	}
}

func (c *Client) shutdown(err error) {
	if err == nil || errors.Is(err, io.EOF) {
		err = ErrClosed
	}
	c.mu.Lock()
	c.readErr = err
	pending := c.pending
	c.pending = make(map[int]chan godap.ResponseMessage)
	watchers := c.watchers
	c.watchers = nil
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
	for _, w := range watchers {
		close(w.ch)
	}
	close(c.events)
	c.logger.Debug("connection closed", slog.String("reason", err.Error()))
}

func failureMessage(resp godap.ResponseMessage) string {
	if errResp, ok := resp.(*godap.ErrorResponse); ok && errResp.Body.Error != nil && errResp.Body.Error.Format != "" {
		return errResp.Body.Error.Format
	}
	if msg := resp.GetResponse().Message; msg != "" {
		return msg
	}
	return "request failed"
}
