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
Package tracing wires OpenTelemetry tracing into the debugger.

A Provider owns the SDK tracer provider and its exporter. Wrappers add
spans around the two slow boundaries of a session:

  - TracedOracle records one "oracle.ask" span per decision, tagged with
    the stage and token usage.
  - TracedSession records one "dap.<command>" span per protocol request.

	provider, err := tracing.NewProvider(ctx, tracing.Config{
	    Exporter: tracing.ExporterStdout,
	})
	defer provider.Shutdown(ctx)

	o := tracing.WrapOracle(oracle, provider.Tracer("llmdebug"))
*/
package tracing
