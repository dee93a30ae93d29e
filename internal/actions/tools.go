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


package actions

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/tombee/llmdebug/pkg/llm"
	"github.com/tombee/llmdebug/schemas"
)

type toolSpec struct {
	description string
	schema      []byte
}

var toolSpecs = map[Kind]toolSpec{
	KindSetBreakpoint:    {"Sets a breakpoint in a specific file and line.", schemas.Breakpoint()},
	KindRemoveBreakpoint: {"Removes a breakpoint from a specific file and line.", schemas.Breakpoint()},
	KindNext:             {"Step over the current line in the debugger.", schemas.Step()},
	KindStepIn:           {"Step into the current function call in the debugger.", schemas.Step()},
	KindStepOut:          {"Step out of the current function call in the debugger.", schemas.Step()},
	KindContinue:         {"Continue execution in the debugger.", schemas.Step()},
}

type schemaRegistry struct {
	once    sync.Once
	initErr error
	schemas map[Kind]*jsonschema.Schema
}

var registry schemaRegistry

func initSchemas() error {
	registry.once.Do(func() {
		registry.schemas = make(map[Kind]*jsonschema.Schema, len(toolSpecs))
		for kind, spec := range toolSpecs {
			compiled, err := jsonschema.CompileString("action_"+string(kind)+".json", string(spec.schema))
			if err != nil {
				registry.initErr = err
				return
			}
			registry.schemas[kind] = compiled
		}
	})
	return registry.initErr
}

// schemaFor returns nil without error for unknown kinds.
func schemaFor(kind Kind) (*jsonschema.Schema, error) {
	if err := initSchemas(); err != nil {
		return nil, err
	}
	return registry.schemas[kind], nil
}

// Tools returns the action vocabulary as LLM tool definitions.
func Tools() []llm.Tool {
	tools := make([]llm.Tool, 0, len(Kinds))
	for _, kind := range Kinds {
		spec := toolSpecs[kind]
		var input map[string]interface{}
		// The embedded schemas are valid JSON.
		_ = json.Unmarshal(spec.schema, &input)
		delete(input, "$schema")
		delete(input, "$id")
		delete(input, "title")
		tools = append(tools, llm.Tool{
			Name:        string(kind),
			Description: spec.description,
			InputSchema: input,
		})
	}
	return tools
}
