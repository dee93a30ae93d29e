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


// Package metrics exposes Prometheus instruments for the debug loop.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	llmerrors "github.com/tombee/llmdebug/pkg/errors"
)

// Recorder holds the loop instruments.
type Recorder struct {
	gatherer prometheus.Gatherer

	stops          *prometheus.CounterVec
	actions        *prometheus.CounterVec
	sessions       *prometheus.CounterVec
	sessionSeconds prometheus.Histogram
	oracleCalls    *prometheus.CounterVec
	oracleSeconds  *prometheus.HistogramVec
	oracleTokens   *prometheus.CounterVec
}

// New registers the instruments with reg. A nil reg uses a private registry.
func New(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Recorder{
		gatherer: reg,

		// stops counts stopped events by reason
		stops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmdebug_stops_total",
				Help: "Stopped events observed by reason",
			},
			[]string{"reason"},
		),

		// actions counts oracle actions by kind and result
		actions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmdebug_actions_total",
				Help: "Oracle actions applied by action and status",
			},
			[]string{"action", "status"},
		),

		sessions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmdebug_sessions_total",
				Help: "Finished debug sessions by outcome",
			},
			[]string{"outcome"},
		),

		sessionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "llmdebug_session_duration_seconds",
			Help:    "Debug session duration from start to final report",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),

		oracleCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmdebug_oracle_requests_total",
				Help: "Oracle requests by stage and status",
			},
			[]string{"stage", "status"},
		),

		oracleSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmdebug_oracle_request_duration_seconds",
				Help:    "Oracle request latency by stage",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		oracleTokens: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmdebug_oracle_tokens_total",
				Help: "Tokens consumed by the oracle by direction",
			},
			[]string{"direction"},
		),
	}
}

// StopObserved increments the stop counter.
func (r *Recorder) StopObserved(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	r.stops.WithLabelValues(reason).Inc()
}

// ActionApplied records one executed or rejected action.
func (r *Recorder) ActionApplied(action string, err error) {
	r.actions.WithLabelValues(action, actionStatus(err)).Inc()
}

// SessionFinished records a final report.
func (r *Recorder) SessionFinished(outcome string, duration time.Duration) {
	r.sessions.WithLabelValues(outcome).Inc()
	if duration > 0 {
		r.sessionSeconds.Observe(duration.Seconds())
	}
}

func actionStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case llmerrors.IsInvalidAction(err):
		return "invalid"
	case llmerrors.IsTransport(err):
		return "transport_error"
	default:
		return "error"
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done. It returns the bound
// address once listening.
func (r *Recorder) Serve(ctx context.Context, addr string) (string, <-chan error, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", r.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	return ln.Addr().String(), errc, nil
}
