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


/*
Package cli provides the root command for llmdebug.

This package creates the main Cobra command tree and handles global concerns like
version information, persistent flags, and error handling. Individual commands
are implemented in the internal/commands subpackages.

# Command Tree

	llmdebug
	├── run           Launch a program under a debug adapter and debug it
	├── attach        Attach to a running debug adapter
	├── history       List and show recorded sessions
	└── version       Show version

# Usage

From main.go:

	cli.SetVersion(version, commit, date)
	rootCmd := cli.NewRootCommand()
	// ... add commands ...
	if err := rootCmd.Execute(); err != nil {
	    cli.HandleExitError(err)
	}

# Global Flags

	--verbose, -v    Enable debug logging
	--quiet, -q      Suppress the console display
	--json           Output in JSON format
	--config         Path to config file

# Exit Codes

  - 0: Success
  - 1: Session failed
  - 2: Invalid configuration
  - 3: Debug adapter unreachable
  - 130: Interrupted
*/
package cli
