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


// Package dap is a client for the Debug Adapter Protocol.
//
// A Client speaks the protocol's wire format over any byte stream (the
// stdio of a spawned adapter or a TCP connection) using the go-dap codec.
// Requests are correlated to responses by sequence number, so callers may
// issue them from any goroutine. Events flow out of Events() in arrival
// order, together with the threads and disconnect responses, which are
// observations the debug loop tracks session state from.
//
// # Example Usage
//
//	client, err := dap.Launch(ctx, "node", []string{"dapDebugServer.js"}, logger)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	err = client.Start(ctx, dap.StartOptions{
//		AdapterID: "node",
//		Request:   "launch",
//		Arguments: map[string]any{"program": "app.js"},
//	})
package dap
