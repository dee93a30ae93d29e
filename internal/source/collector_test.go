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


package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestSerialize(t *testing.T) {
	files := []File{
		{Path: "app.js", Lines: SplitLines("const x = 5;\nmain();")},
		{Path: "lib/util.js", Lines: SplitLines("export {}")},
	}

	want := "app.js\n  1| const x = 5;\n  2| main();\n\nlib/util.js\n  1| export {}"
	assert.Equal(t, want, Serialize(files))
	assert.Equal(t, "", Serialize(nil))
}

func TestSplitLines(t *testing.T) {
	lines := SplitLines("a\nb\n")
	require.Len(t, lines, 3)
	assert.Equal(t, Line{Number: 2, Text: "b"}, lines[1])
	assert.Equal(t, Line{Number: 3, Text: ""}, lines[2])
}

func TestCollector_Gather(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.js", "const x = 5;")
	writeFile(t, root, "lib/util.js", "export {}")
	writeFile(t, root, "node_modules/dep/index.js", "module.exports = {}")
	writeFile(t, root, ".git/HEAD", "ref: refs/heads/main")
	writeFile(t, root, "image.bin", "PNG\x00\x01")

	files := NewCollector(Config{Root: root}, nil).Gather()

	var paths []string
	for _, f := range files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"app.js", "lib/util.js"}, paths)
	assert.Equal(t, "const x = 5;", files[0].Lines[0].Text)
}

func TestCollector_IncludeAndSize(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "app.js", "main()")
	writeFile(t, root, "README.md", "# readme")
	writeFile(t, root, "big.js", string(make([]byte, 64)))

	c := NewCollector(Config{Root: root, Include: []string{"**/*.js"}, MaxFileSize: 32}, nil)
	files := c.Gather()

	require.Len(t, files, 1)
	assert.Equal(t, "app.js", files[0].Path)
}

func TestCollector_EmptyRoot(t *testing.T) {
	assert.Nil(t, NewCollector(Config{}, nil).Gather())
}

func TestCollector_CacheInvalidatedOnWrite(t *testing.T) {
	root := t.TempDir()
	path := writeFile(t, root, "app.js", "const x = 5;")

	c := NewCollector(Config{Root: root}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, c.Watch(ctx))

	c.Gather()
	require.True(t, c.Cached("app.js"))

	require.NoError(t, os.WriteFile(path, []byte("const x = 6;"), 0o644))
	require.Eventually(t, func() bool { return !c.Cached("app.js") }, 2*time.Second, 10*time.Millisecond)

	files := c.Gather()
	require.Len(t, files, 1)
	assert.Equal(t, "const x = 6;", files[0].Lines[0].Text)
}
