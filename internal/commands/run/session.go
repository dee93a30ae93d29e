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


package run

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/internal/notify"
	"github.com/tombee/llmdebug/internal/tracing"
	"github.com/tombee/llmdebug/pkg/dap"
)

// ReasonInterrupted is the exit reason when the user interrupts a session.
const ReasonInterrupted = "The debug session was interrupted by the user."

const (
	// reportTimeout bounds the final report after an interrupt.
	reportTimeout = 60 * time.Second

	// disconnectTimeout bounds the disconnect request.
	disconnectTimeout = 5 * time.Second
)

// Result is the outcome of one debug session.
type Result struct {
	SessionID   string `json:"session_id"`
	Reason      string `json:"reason"`
	Report      string `json:"report"`
	Interrupted bool   `json:"interrupted"`
}

// DebugOptions control one session.
type DebugOptions struct {
	// Terminate ends the debuggee on disconnect. Launch sessions set it.
	Terminate bool
}

// Debug runs one session over sess until its final report is emitted.
// Cancelling ctx interrupts the session; the final report is still
// requested under a fresh deadline.
func (rt *Runtime) Debug(ctx context.Context, sess dap.Session, opts DebugOptions) (*Result, error) {
	ctrl := rt.NewController()
	traced := tracing.WrapSession(sess, rt.Tracing.Tracer("llmdebug/dap"))

	var (
		mu     sync.Mutex
		result Result
	)
	rt.Notifier.Add(notify.SinkFunc(func(n notify.Notification) {
		if n.Results == nil || n.Results.Text == nil || n.SessionID != ctrl.SessionID() {
			return
		}
		mu.Lock()
		result.Report = *n.Results.Text
		result.Reason = n.Results.Reason
		mu.Unlock()
	}))

	if err := ctrl.Attach(ctx, traced); err != nil {
		return nil, err
	}
	result.SessionID = ctrl.SessionID()
	logger := log.WithSession(rt.Logger, result.SessionID)

	// The loop runs detached from ctx so an interrupt can still produce
	// the final report; the group context ends it if reporting fails.
	g, gctx := errgroup.WithContext(context.WithoutCancel(ctx))
	g.Go(func() error {
		if err := ctrl.Start(gctx); err != nil {
			return err
		}
		return ctrl.Run(gctx)
	})
	g.Go(func() error {
		select {
		case <-ctrl.Done():
			return nil
		case <-gctx.Done():
			return nil
		case <-ctx.Done():
		}

		logger.Info("interrupt received, finishing session")
		mu.Lock()
		result.Interrupted = true
		mu.Unlock()

		finishCtx, cancel := context.WithTimeout(gctx, reportTimeout)
		defer cancel()
		ctrl.Finish(finishCtx, ReasonInterrupted)

		select {
		case <-ctrl.Done():
			return nil
		case <-finishCtx.Done():
			return fmt.Errorf("final report not produced: %w", finishCtx.Err())
		}
	})

	runErr := g.Wait()

	dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), disconnectTimeout)
	defer cancel()
	if err := traced.Disconnect(dctx, opts.Terminate); err != nil && !errors.Is(err, dap.ErrClosed) {
		logger.Warn("disconnect failed", log.Error(err))
	}

	mu.Lock()
	defer mu.Unlock()
	out := result
	return &out, runErr
}
