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


// Package source collects workspace source files as numbered lines for
// inclusion in oracle prompts.
package source

import (
	"fmt"
	"strings"
)

// Line is a single 1-based numbered source line.
type Line struct {
	Number int    `json:"lineNumber"`
	Text   string `json:"text"`
}

// File is one workspace file split into lines.
type File struct {
	Path  string `json:"filePath"`
	Lines []Line `json:"lines"`
}

// SplitLines numbers the lines of content starting at 1.
func SplitLines(content string) []Line {
	parts := strings.Split(content, "\n")
	lines := make([]Line, len(parts))
	for i, text := range parts {
		lines[i] = Line{Number: i + 1, Text: text}
	}
	return lines
}

// Serialize renders files as a path header followed by right-aligned
// line numbers, with a blank line between files:
//
//	app.js
//	  1| const x = 5;
//	  2| main();
func Serialize(files []File) string {
	var b strings.Builder
	for i, f := range files {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(f.Path)
		b.WriteByte('\n')
		for j, line := range f.Lines {
			if j > 0 {
				b.WriteByte('\n')
			}
			fmt.Fprintf(&b, "%3d| %s", line.Number, line.Text)
		}
	}
	return b.String()
}
