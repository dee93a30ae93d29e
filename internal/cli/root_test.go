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


package cli

import (
	"testing"

	"github.com/tombee/llmdebug/internal/commands/shared"
)

func TestNewRootCommand(t *testing.T) {
	cmd := NewRootCommand()

	if cmd.Use != "llmdebug" {
		t.Errorf("expected use 'llmdebug', got %q", cmd.Use)
	}
	if cmd.Short == "" || cmd.Long == "" {
		t.Error("expected short and long descriptions")
	}
	if !cmd.SilenceErrors || !cmd.SilenceUsage {
		t.Error("root command must leave error reporting to HandleExitError")
	}
}

func TestGlobalFlags(t *testing.T) {
	tests := []struct {
		name      string
		shorthand string
	}{
		{"verbose", "v"},
		{"quiet", "q"},
		{"json", ""},
		{"config", ""},
	}

	cmd := NewRootCommand()
	for _, tt := range tests {
		f := cmd.PersistentFlags().Lookup(tt.name)
		if f == nil {
			t.Errorf("%s flag not registered", tt.name)
			continue
		}
		if f.Shorthand != tt.shorthand {
			t.Errorf("%s shorthand = %q, want %q", tt.name, f.Shorthand, tt.shorthand)
		}
	}
}

func TestGlobalFlagsReachShared(t *testing.T) {
	cmd := NewRootCommand()
	t.Cleanup(func() {
		shared.SetConfigPathForTest("")
		shared.SetJSONForTest(false)
	})

	if err := cmd.PersistentFlags().Parse([]string{"--config", "/tmp/llmdebug.yaml", "--json"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	if got := shared.GetConfigPath(); got != "/tmp/llmdebug.yaml" {
		t.Errorf("config path = %q", got)
	}
	if !shared.GetJSON() {
		t.Error("expected --json to be set")
	}
}

func TestSetVersion(t *testing.T) {
	SetVersion("1.2.3", "abc123", "2025-12-22")

	v, c, b := GetVersion()
	if v != "1.2.3" || c != "abc123" || b != "2025-12-22" {
		t.Errorf("GetVersion() = %q, %q, %q", v, c, b)
	}
}
