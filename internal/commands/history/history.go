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


// Package history implements the history command, which lists and shows
// recorded debug sessions from the transcript store.
package history

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/llmdebug/internal/commands/shared"
	"github.com/tombee/llmdebug/internal/config"
	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/internal/notify"
	"github.com/tombee/llmdebug/internal/transcript"
)

// interruptedPrefix matches the reason recorded for interrupted sessions.
const interruptedPrefix = "The debug session was interrupted"

// errorPrefix matches reports written when the final report failed.
const errorPrefix = "An error occurred while generating the final report"

// NewCommand creates the history command.
func NewCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded debug sessions",
		Long: `List the debug sessions recorded in the transcript store, newest first.
Use "history show <session-id>" for the report and timeline of one session.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			return runList(cmd.Context(), cmd.OutOrStdout(), store, limit)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list (0 = all)")

	var exchanges bool
	showCmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the report and timeline of a recorded session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			return runShow(cmd.Context(), cmd.OutOrStdout(), store, args[0], exchanges)
		},
	}
	showCmd.Flags().BoolVar(&exchanges, "exchanges", false, "Include every prompt and model answer")

	cmd.AddCommand(showCmd)
	return cmd
}

func openStore(ctx context.Context) (*transcript.Store, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := shared.GetConfigPath(); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, shared.NewConfigError("failed to load configuration", err)
	}
	path, err := cfg.TranscriptPath()
	if err != nil {
		return nil, shared.NewConfigError("failed to resolve transcript path", err)
	}
	// History has no session to configure logging from; honour the
	// environment only.
	return transcript.Open(ctx, path, log.New(log.FromEnv()))
}

// listItem is one row of the JSON session list.
type listItem struct {
	transcript.Session
	Duration string `json:"duration,omitempty"`
}

func runList(ctx context.Context, w io.Writer, store *transcript.Store, limit int) error {
	sessions, err := store.ListSessions(ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}

	if shared.GetJSON() {
		items := make([]listItem, 0, len(sessions))
		for _, s := range sessions {
			items = append(items, listItem{Session: s, Duration: duration(s)})
		}
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Sessions []listItem `json:"sessions"`
		}{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "history", Success: true},
			Sessions:     items,
		})
	}

	if len(sessions) == 0 {
		fmt.Fprintln(w, "No recorded sessions.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SESSION\tSTARTED\tDURATION\tSTATUS\tREASON")
	for _, s := range sessions {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.ID,
			s.StartedAt.Local().Format("2006-01-02 15:04:05"),
			duration(s),
			shared.RenderStatus(status(s)),
			truncate(firstLine(s.Reason), 60),
		)
	}
	return tw.Flush()
}

func runShow(ctx context.Context, w io.Writer, store *transcript.Store, id string, withExchanges bool) error {
	sess, err := store.GetSession(ctx, id)
	if errors.Is(err, transcript.ErrNotFound) {
		return shared.NewSessionError(fmt.Sprintf("no recorded session %q", id), err)
	}
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	notes, err := store.Notifications(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load notifications: %w", err)
	}
	var exchanges []transcript.Exchange
	if withExchanges {
		if exchanges, err = store.Exchanges(ctx, id); err != nil {
			return fmt.Errorf("failed to load exchanges: %w", err)
		}
	}

	if shared.GetJSON() {
		return shared.EmitJSON(w, struct {
			shared.JSONResponse
			Session       *transcript.Session   `json:"session"`
			Notifications []notify.Notification `json:"notifications"`
			Exchanges     []transcript.Exchange `json:"exchanges,omitempty"`
		}{
			JSONResponse:  shared.JSONResponse{Version: "1.0", Command: "history show", Success: true},
			Session:       sess,
			Notifications: notes,
			Exchanges:     exchanges,
		})
	}

	fmt.Fprintf(w, "%s %s\n", shared.Header.Render("Session"), sess.ID)
	fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("Started:"), sess.StartedAt.Local().Format(time.RFC1123))
	if d := duration(*sess); d != "" {
		fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("Duration:"), d)
	}
	fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("Status:"), shared.RenderStatus(status(*sess)))
	if sess.Reason != "" {
		fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("Reason:"), sess.Reason)
	}

	fmt.Fprintf(w, "\n%s\n", shared.Header.Render("Timeline"))
	for _, n := range notes {
		if line := describe(n); line != "" {
			fmt.Fprintf(w, "  %s %s\n", shared.Muted.Render(n.Time.Local().Format("15:04:05")), line)
		}
	}

	if sess.Report != "" {
		fmt.Fprintf(w, "\n%s\n%s\n", shared.Header.Render("Report"), sess.Report)
	}

	for i, e := range exchanges {
		fmt.Fprintf(w, "\n%s\n", shared.Header.Render(fmt.Sprintf("Exchange %d (%s)", i+1, e.Stage)))
		fmt.Fprintf(w, "%s\n%s\n", shared.RenderLabel("Prompt:"), e.Prompt)
		if e.Response != "" {
			fmt.Fprintf(w, "%s\n%s\n", shared.RenderLabel("Answer:"), e.Response)
		}
		for _, call := range e.ToolCalls {
			fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("Call:"), call)
		}
		if e.Error != "" {
			fmt.Fprintf(w, "%s %s\n", shared.RenderLabel("Error:"), shared.StatusError.Render(e.Error))
		}
	}
	return nil
}

// describe renders one timeline entry. Spinner hides and display
// clears are omitted.
func describe(n notify.Notification) string {
	switch {
	case n.Call != nil:
		line := n.Call.Name
		if n.Call.Reason != "" {
			line += ": " + n.Call.Reason
		}
		return line
	case n.Session != nil:
		if n.Session.InSession {
			return "session started"
		}
		return "session ended"
	case n.Spinner != nil && n.Spinner.Active:
		return shared.Muted.Render(n.Spinner.Message)
	case n.Results != nil && n.Results.Text != nil:
		return "report delivered"
	}
	return ""
}

func status(s transcript.Session) shared.Status {
	switch {
	case s.EndedAt == nil:
		return shared.StatusOpen
	case strings.HasPrefix(s.Reason, interruptedPrefix):
		return shared.StatusInterrupted
	case strings.HasPrefix(s.Report, errorPrefix):
		return shared.StatusFailed
	}
	return shared.StatusFinished
}

func duration(s transcript.Session) string {
	if s.EndedAt == nil {
		return ""
	}
	return s.EndedAt.Sub(s.StartedAt).Round(time.Second).String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
