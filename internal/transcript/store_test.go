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
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/llmdebug/internal/notify"
	"github.com/tombee/llmdebug/internal/oracle"
	"github.com/tombee/llmdebug/internal/testing/mock"
	"github.com/tombee/llmdebug/pkg/llm"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "transcripts.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func stamp(n notify.Notification, sessionID string, at time.Time) notify.Notification {
	n.SessionID = sessionID
	n.Time = at
	return n
}

func TestStore_RecordsSession(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	s.Notify(stamp(notify.ClearResults(), "s1", t0))
	s.Notify(stamp(notify.InSession(true), "s1", t0.Add(time.Second)))
	s.Notify(stamp(notify.FunctionCall("setBreakpoint", map[string]any{"line": float64(3)}, "inspect x"), "s1", t0.Add(2*time.Second)))
	s.Notify(stamp(notify.Results("x is never initialised", "Program exited with no further stops."), "s1", t0.Add(3*time.Second)))

	sess, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, t0, sess.StartedAt)
	require.NotNil(t, sess.EndedAt)
	assert.Equal(t, t0.Add(3*time.Second), *sess.EndedAt)
	assert.Equal(t, "x is never initialised", sess.Report)
	assert.Equal(t, "Program exited with no further stops.", sess.Reason)

	ns, err := s.Notifications(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, ns, 4)
	assert.Equal(t, notify.KindDebugResults, ns[0].Type)
	assert.Nil(t, ns[0].Results.Text)
	assert.Equal(t, "setBreakpoint", ns[2].Call.Name)
	assert.Equal(t, float64(3), ns[2].Call.Args["line"])
}

func TestStore_ClearDoesNotEndSession(t *testing.T) {
	s := openStore(t)
	s.Notify(stamp(notify.ClearResults(), "s1", time.Now()))

	sess, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Nil(t, sess.EndedAt)
	assert.Empty(t, sess.Report)
}

func TestStore_IgnoresUnstampedNotifications(t *testing.T) {
	s := openStore(t)
	s.Notify(notify.Spinner(true, "Deciding the next step to take..."))

	sessions, err := s.ListSessions(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestStore_ListSessionsNewestFirst(t *testing.T) {
	s := openStore(t)
	t0 := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s.Notify(stamp(notify.InSession(true), id, t0.Add(time.Duration(i)*time.Minute)))
	}

	sessions, err := s.ListSessions(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "c", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
}

func TestStore_GetSessionNotFound(t *testing.T) {
	_, err := openStore(t).GetSession(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "transcripts.db")
	s, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	s.Notify(stamp(notify.Results("done", "finished"), "s1", time.Now()))
	require.NoError(t, s.Close())

	s, err = Open(context.Background(), path, nil)
	require.NoError(t, err)
	defer s.Close()
	sess, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "done", sess.Report)
}

func TestRecordingOracle(t *testing.T) {
	s := openStore(t)
	provider := mock.NewLLMProvider(
		&mock.Response{
			When:  &mock.When{Stage: oracle.StagePaused},
			Calls: []llm.ToolCall{mock.ToolCall("next", `{"reason":"step over the loop"}`)},
		},
		&mock.Response{When: &mock.When{Stage: oracle.StageFinal}, Err: assert.AnError},
	)
	o := s.RecordOracle(oracle.New(provider, oracle.Config{}, nil))

	ctx := oracle.WithSession(oracle.WithStage(context.Background(), oracle.StagePaused), "s1")
	_, err := o.Ask(ctx, []llm.Message{{Role: llm.MessageRoleUser, Content: "Paused at line 3"}}, true)
	require.NoError(t, err)

	ctx = oracle.WithSession(oracle.WithStage(context.Background(), oracle.StageFinal), "s1")
	_, err = o.Ask(ctx, []llm.Message{{Role: llm.MessageRoleUser, Content: "Explain"}}, false)
	require.Error(t, err)

	// Requests outside a session are not recorded.
	_, _ = o.Ask(oracle.WithStage(context.Background(), oracle.StagePaused), []llm.Message{{Role: llm.MessageRoleUser, Content: "x"}}, true)

	exchanges, err := s.Exchanges(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, exchanges, 2)

	assert.Equal(t, oracle.StagePaused, exchanges[0].Stage)
	assert.Equal(t, "Paused at line 3", exchanges[0].Prompt)
	assert.Equal(t, []string{"next"}, exchanges[0].ToolCalls)
	assert.Empty(t, exchanges[0].Error)

	assert.Equal(t, oracle.StageFinal, exchanges[1].Stage)
	assert.NotEmpty(t, exchanges[1].Error)
	assert.Empty(t, exchanges[1].ToolCalls)
}
