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


package notify

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// spinnerFrames defines the animation frames for the spinner
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// Symbols for status indicators
const (
	symbolOK     = "✓"
	symbolInfo   = "•"
	symbolAction = "→"
)

type consoleStyles struct {
	ok     lipgloss.Style
	info   lipgloss.Style
	muted  lipgloss.Style
	header lipgloss.Style
}

func newConsoleStyles(r *lipgloss.Renderer) consoleStyles {
	return consoleStyles{
		ok:     r.NewStyle().Foreground(lipgloss.Color("42")),  // green
		info:   r.NewStyle().Foreground(lipgloss.Color("39")),  // blue
		muted:  r.NewStyle().Foreground(lipgloss.Color("245")), // gray
		header: r.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
	}
}

// Console renders notifications for a person watching a terminal.
// Spinners animate in place on a TTY and print once otherwise; final
// reports are rendered as markdown on a TTY.
type Console struct {
	mu       sync.Mutex
	out      io.Writer
	isTTY    bool
	styles   consoleStyles
	markdown *glamour.TermRenderer

	// spinner state
	message   string
	startTime time.Time
	active    bool
	done      chan struct{}
	frameIdx  int
}

// NewConsole creates a console sink writing to out.
func NewConsole(out io.Writer) *Console {
	c := &Console{out: out}
	if f, ok := out.(*os.File); ok {
		c.isTTY = term.IsTerminal(int(f.Fd()))
	}
	c.styles = newConsoleStyles(lipgloss.NewRenderer(out))
	if c.isTTY {
		if r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100)); err == nil {
			c.markdown = r
		}
	}
	return c
}

// Notify implements Sink.
func (c *Console) Notify(n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case n.Spinner != nil:
		if n.Spinner.Active {
			c.startSpinner(n.Spinner.Message)
		} else {
			c.stopSpinner()
		}
	case n.Session != nil:
		c.stopSpinner()
		if n.Session.InSession {
			fmt.Fprintln(c.out, c.styles.info.Render(symbolInfo)+" Debug session started")
		} else {
			fmt.Fprintln(c.out, c.styles.ok.Render(symbolOK)+" Debug session ended")
		}
	case n.Results != nil:
		if n.Results.Text == nil {
			return
		}
		c.stopSpinner()
		fmt.Fprintln(c.out, c.styles.header.Render("Debug results"))
		if n.Results.Reason != "" {
			fmt.Fprintln(c.out, c.styles.muted.Render(firstLine(n.Results.Reason)))
		}
		fmt.Fprintln(c.out, c.renderMarkdown(*n.Results.Text))
	case n.Call != nil:
		c.stopSpinner()
		line := c.styles.info.Render(symbolAction) + " " + n.Call.Name + formatArgs(n.Call.Args)
		if n.Call.Reason != "" {
			line += " " + c.styles.muted.Render(n.Call.Reason)
		}
		fmt.Fprintln(c.out, line)
	}
}

// Close stops any running spinner.
func (c *Console) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSpinner()
}

func (c *Console) renderMarkdown(text string) string {
	if c.markdown == nil {
		return text
	}
	rendered, err := c.markdown.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(rendered, "\n")
}

// startSpinner must be called with mu held.
func (c *Console) startSpinner(message string) {
	if c.active {
		c.message = message
		return
	}
	c.message = message
	c.startTime = time.Now()
	c.active = true
	c.done = make(chan struct{})
	c.frameIdx = 0

	if !c.isTTY {
		fmt.Fprintf(c.out, "%s\n", message)
		return
	}
	c.render()
	go c.animate(c.done)
}

// stopSpinner must be called with mu held.
func (c *Console) stopSpinner() {
	if !c.active {
		return
	}
	c.active = false
	close(c.done)
	if c.isTTY {
		fmt.Fprint(c.out, "\r\033[K")
	}
}

func (c *Console) animate(done chan struct{}) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.active {
				c.frameIdx = (c.frameIdx + 1) % len(spinnerFrames)
				c.render()
			}
			c.mu.Unlock()
		}
	}
}

// render draws the current spinner state (must be called with mu held)
func (c *Console) render() {
	fmt.Fprintf(c.out, "\r\033[K%s %s %s",
		c.message,
		c.styles.muted.Render(spinnerFrames[c.frameIdx]),
		c.styles.muted.Render("("+formatElapsed(time.Since(c.startTime))+")"))
}

// formatElapsed formats a duration for display (e.g., "12s", "1m 23s")
func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	if seconds == 0 {
		return fmt.Sprintf("%dm", minutes)
	}
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

func formatArgs(args map[string]any) string {
	if len(args) == 0 {
		return "()"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%v", k, args[k])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
