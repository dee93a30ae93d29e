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


package main

import (
	"github.com/tombee/llmdebug/internal/cli"
	"github.com/tombee/llmdebug/internal/commands/history"
	"github.com/tombee/llmdebug/internal/commands/run"
	versioncmd "github.com/tombee/llmdebug/internal/commands/version"

	// Register the built-in model providers.
	_ "github.com/tombee/llmdebug/pkg/llm/providers"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildDate)

	rootCmd := cli.NewRootCommand()

	// Debug session commands
	rootCmd.AddCommand(run.NewCommand())
	rootCmd.AddCommand(run.NewAttachCommand())

	// Recorded sessions
	rootCmd.AddCommand(history.NewCommand())

	rootCmd.AddCommand(versioncmd.NewVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		cli.HandleExitError(err)
	}
}
