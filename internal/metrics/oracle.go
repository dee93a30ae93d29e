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
	"time"

	"github.com/tombee/llmdebug/internal/oracle"
	"github.com/tombee/llmdebug/pkg/llm"
)

// InstrumentedOracle records latency, outcome and token usage of every Ask.
type InstrumentedOracle struct {
	next     oracle.Oracle
	recorder *Recorder
}

var _ oracle.Oracle = (*InstrumentedOracle)(nil)

// InstrumentOracle wraps o.
func (r *Recorder) InstrumentOracle(o oracle.Oracle) *InstrumentedOracle {
	return &InstrumentedOracle{next: o, recorder: r}
}

// Ask implements oracle.Oracle.
func (o *InstrumentedOracle) Ask(ctx context.Context, msgs []llm.Message, allowActions bool) (*oracle.Decision, error) {
	stage := oracle.StageFromContext(ctx)
	if stage == "" {
		stage = "unknown"
	}

	start := time.Now()
	d, err := o.next.Ask(ctx, msgs, allowActions)
	o.recorder.oracleSeconds.WithLabelValues(stage).Observe(time.Since(start).Seconds())

	status := "ok"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	o.recorder.oracleCalls.WithLabelValues(stage, status).Inc()

	if d != nil {
		o.recorder.oracleTokens.WithLabelValues("input").Add(float64(d.Usage.InputTokens))
		o.recorder.oracleTokens.WithLabelValues("output").Add(float64(d.Usage.OutputTokens))
	}
	return d, err
}
