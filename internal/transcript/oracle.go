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


package transcript

import (
	"context"
	"log/slog"

	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/internal/oracle"
	"github.com/tombee/llmdebug/pkg/llm"
)

// RecordingOracle stores every exchange made under a session context.
type RecordingOracle struct {
	next   oracle.Oracle
	store  *Store
	logger *slog.Logger
}

var _ oracle.Oracle = (*RecordingOracle)(nil)

// RecordOracle wraps o so its exchanges land in the store.
func (s *Store) RecordOracle(o oracle.Oracle) *RecordingOracle {
	return &RecordingOracle{next: o, store: s, logger: s.logger}
}

// Ask implements oracle.Oracle. Recording failures are logged and do not
// affect the decision.
func (o *RecordingOracle) Ask(ctx context.Context, msgs []llm.Message, allowActions bool) (*oracle.Decision, error) {
	d, err := o.next.Ask(ctx, msgs, allowActions)

	sessionID := oracle.SessionFromContext(ctx)
	if sessionID == "" {
		return d, err
	}

	e := Exchange{SessionID: sessionID, Stage: oracle.StageFromContext(ctx)}
	if n := len(msgs); n > 0 {
		e.Prompt = msgs[n-1].Content
	}
	if err != nil {
		e.Error = err.Error()
	}
	if d != nil {
		e.Response = d.Content
		for _, c := range d.Calls {
			e.ToolCalls = append(e.ToolCalls, c.ToolCall.Name)
		}
	}

	// The caller's context may already be cancelled when the session stops.
	if rerr := o.store.RecordExchange(context.WithoutCancel(ctx), e); rerr != nil {
		o.logger.Warn("failed to record exchange", log.SessionIDKey, sessionID, log.Error(rerr))
	}
	return d, err
}
