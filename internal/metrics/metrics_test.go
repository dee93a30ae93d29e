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


package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/llmdebug/internal/oracle"
	llmerrors "github.com/tombee/llmdebug/pkg/errors"
	"github.com/tombee/llmdebug/pkg/llm"
)

func TestRecorder_Counters(t *testing.T) {
	r := New(prometheus.NewRegistry())

	r.StopObserved("breakpoint")
	r.StopObserved("breakpoint")
	r.StopObserved("")
	r.ActionApplied("continue", nil)
	r.ActionApplied("continue", &llmerrors.InvalidActionError{Action: "continue", Reason: "no active breakpoints"})
	r.ActionApplied("next", &llmerrors.TransportError{Command: "next", Message: "not paused"})
	r.SessionFinished("finished", 3*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.stops.WithLabelValues("breakpoint")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.stops.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("continue", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("continue", "invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.actions.WithLabelValues("next", "transport_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.sessions.WithLabelValues("finished")))
}

type stubOracle struct {
	decision *oracle.Decision
	err      error
}

func (s stubOracle) Ask(ctx context.Context, msgs []llm.Message, allowActions bool) (*oracle.Decision, error) {
	return s.decision, s.err
}

func TestInstrumentedOracle(t *testing.T) {
	r := New(nil)

	ok := r.InstrumentOracle(stubOracle{decision: &oracle.Decision{
		Content: "fix",
		Usage:   llm.TokenUsage{InputTokens: 120, OutputTokens: 30},
	}})
	_, err := ok.Ask(oracle.WithStage(context.Background(), oracle.StagePaused), nil, true)
	require.NoError(t, err)

	failing := r.InstrumentOracle(stubOracle{err: errors.New("boom")})
	_, err = failing.Ask(oracle.WithStage(context.Background(), oracle.StageFinal), nil, false)
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.oracleCalls.WithLabelValues(oracle.StagePaused, "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.oracleCalls.WithLabelValues(oracle.StageFinal, "error")))
	assert.Equal(t, 120.0, testutil.ToFloat64(r.oracleTokens.WithLabelValues("input")))
	assert.Equal(t, 30.0, testutil.ToFloat64(r.oracleTokens.WithLabelValues("output")))
}

func TestRecorder_Handler(t *testing.T) {
	r := New(nil)
	r.StopObserved("step")

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `llmdebug_stops_total{reason="step"} 1`)
}

func TestRecorder_Serve(t *testing.T) {
	r := New(nil)
	ctx, cancel := context.WithCancel(context.Background())

	addr, errc, err := r.Serve(ctx, "127.0.0.1:0")
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
