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
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/llmdebug/internal/commands/shared"
	"github.com/tombee/llmdebug/internal/config"
	"github.com/tombee/llmdebug/internal/debugloop"
	"github.com/tombee/llmdebug/internal/log"
	"github.com/tombee/llmdebug/internal/secrets"
	"github.com/tombee/llmdebug/pkg/dap"
)

// closeTimeout bounds runtime shutdown after the session.
const closeTimeout = 10 * time.Second

// overrides are the command-line settings layered over config.
type overrides struct {
	workspace     string
	adapter       string
	adapterArgs   []string
	address       string
	adapterID     string
	provider      string
	model         string
	maxIterations int
	noTranscript  bool
}

func (o *overrides) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&o.workspace, "workspace", "w", "", "Workspace root shown to the model (default: current directory)")
	f.StringVar(&o.adapter, "adapter", "", "Debug adapter command to launch over stdio")
	f.StringArrayVar(&o.adapterArgs, "adapter-arg", nil, "Argument passed to the adapter command (repeatable)")
	f.StringVar(&o.address, "address", "", "Address of a debug adapter listening on TCP")
	f.StringVar(&o.adapterID, "adapter-id", "", "Adapter ID sent in the initialize request")
	f.StringVar(&o.provider, "provider", "", "Model provider (openai, anthropic)")
	f.StringVar(&o.model, "model", "", "Model name")
	f.IntVar(&o.maxIterations, "max-iterations", -1, "Stop after this many decisions (0 = unbounded)")
	f.BoolVar(&o.noTranscript, "no-transcript", false, "Do not record the session")
}

func (o *overrides) apply(cfg *config.Config) {
	if o.workspace != "" {
		cfg.Debug.Workspace = o.workspace
	}
	if o.adapter != "" {
		cfg.Adapter.Command = o.adapter
		cfg.Adapter.Args = o.adapterArgs
		cfg.Adapter.Address = ""
	}
	if o.address != "" {
		cfg.Adapter.Address = o.address
		cfg.Adapter.Command = ""
	}
	if o.adapterID != "" {
		cfg.Adapter.ID = o.adapterID
	}
	if o.provider != "" {
		cfg.LLM.Provider = o.provider
	}
	if o.model != "" {
		cfg.LLM.Model = o.model
	}
	if o.maxIterations >= 0 {
		cfg.Debug.MaxIterations = o.maxIterations
	}
	if o.noTranscript {
		cfg.Transcript.Enabled = false
	}
	if shared.GetVerbose() {
		cfg.Log.Level = "debug"
	}
}

// NewCommand creates the run command.
func NewCommand() *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:   "run [flags] [-- program [args...]]",
		Short: "Launch a program under a debug adapter and let the model debug it",
		Long: `Launch starts the debug adapter, launches the program paused on entry and
hands control to the model. The model sets breakpoints, steps and inspects
variables until the program exits, then explains the bug and proposes a fix.

Launch arguments come from adapter.launch in the config file. A program
given after -- sets the "program" and "args" launch arguments.`,
		Example: `  llmdebug run --adapter node --adapter-arg ./js-debug/dapDebugServer.js -- app.js
  llmdebug run --address 127.0.0.1:4711 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&o)
			if err != nil {
				return err
			}
			launch := make(map[string]any, len(cfg.Adapter.Launch)+2)
			for k, v := range cfg.Adapter.Launch {
				launch[k] = v
			}
			if len(args) > 0 {
				launch["program"] = args[0]
				launch["args"] = args[1:]
			}
			return execute(cmd, cfg, "launch", launch, true)
		},
	}
	o.register(cmd)
	return cmd
}

// NewAttachCommand creates the attach command.
func NewAttachCommand() *cobra.Command {
	var o overrides
	cmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach to a running program through a debug adapter",
		Long: `Attach connects to a debug adapter and sends an attach request built from
adapter.attach in the config file. The debuggee keeps running after the
session ends.`,
		Example: `  llmdebug attach --address 127.0.0.1:4711`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(&o)
			if err != nil {
				return err
			}
			return execute(cmd, cfg, "attach", cfg.Adapter.Attach, false)
		},
	}
	o.register(cmd)
	return cmd
}

func loadConfig(o *overrides) (*config.Config, error) {
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

	o.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, shared.NewConfigError("invalid configuration", err)
	}
	if cfg.Adapter.Command == "" && cfg.Adapter.Address == "" {
		return nil, shared.NewConfigError("no debug adapter configured",
			errors.New("set adapter.command or adapter.address, or pass --adapter or --address"))
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, out io.Writer) *slog.Logger {
	return log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    out,
		AddSource: cfg.Log.AddSource,
	})
}

func connect(ctx context.Context, cfg config.AdapterConfig, logger *slog.Logger) (*dap.Client, error) {
	if cfg.Address != "" {
		return dap.Dial(ctx, cfg.Address, logger)
	}
	// The adapter outlives an interrupt so the session can disconnect cleanly.
	return dap.Launch(context.WithoutCancel(ctx), cfg.Command, cfg.Args, logger)
}

func execute(cmd *cobra.Command, cfg *config.Config, request string, args map[string]any, terminate bool) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stderr := cmd.ErrOrStderr()
	logger := newLogger(cfg, stderr)

	warnings, err := cfg.ResolveSecrets(ctx, secrets.DefaultResolver())
	if err != nil {
		return shared.NewConfigError("failed to resolve secrets", err)
	}
	for _, w := range warnings {
		logger.Warn(w)
	}

	var console io.Writer
	if cfg.Notify.Console && shared.ConsoleAllowed() {
		console = stderr
	}
	rt, err := NewRuntime(ctx, cfg, RuntimeOptions{Console: console, Logger: logger})
	if err != nil {
		return shared.NewConfigError("failed to initialise", err)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := rt.Close(closeCtx); err != nil {
			logger.Warn("shutdown incomplete", log.Error(err))
		}
	}()

	client, err := connect(ctx, cfg.Adapter, logger)
	if err != nil {
		return shared.NewAdapterError("failed to reach debug adapter", err)
	}
	defer client.Close()

	if err := client.Start(ctx, dap.StartOptions{
		AdapterID:    cfg.Adapter.ID,
		Request:      request,
		Arguments:    args,
		EntryTimeout: cfg.Debug.EntryTimeout,
	}); err != nil {
		return shared.NewAdapterError(fmt.Sprintf("%s request failed", request), err)
	}

	result, err := rt.Debug(ctx, client, DebugOptions{Terminate: terminate})
	if errors.Is(err, debugloop.ErrDisabled) {
		return shared.NewConfigError("debugging is disabled", errors.New("set debug.enabled to true"))
	}
	if err != nil {
		return shared.NewSessionError("debug session failed", err)
	}

	if err := writeResult(cmd.OutOrStdout(), result, console != nil); err != nil {
		return err
	}
	if result.Interrupted {
		return &shared.ExitError{Code: shared.ExitInterrupted, Message: "interrupted"}
	}
	return nil
}

// writeResult prints the outcome to stdout unless the console already
// showed it.
func writeResult(out io.Writer, result *Result, shown bool) error {
	if shared.GetJSON() {
		return shared.EmitJSON(out, struct {
			shared.JSONResponse
			*Result
		}{
			JSONResponse: shared.JSONResponse{Version: "1.0", Command: "run", Success: !result.Interrupted},
			Result:       result,
		})
	}
	if shown {
		return nil
	}
	_, err := fmt.Fprintf(out, "%s\n\n%s\n", result.Reason, result.Report)
	return err
}

func version() string {
	v, _, _ := shared.GetVersion()
	return v
}
