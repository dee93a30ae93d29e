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
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/tombee/llmdebug/internal/log"
)

// DefaultMaxFileSize bounds how much of a single file is sent to the oracle.
const DefaultMaxFileSize = 256 * 1024

// DefaultExclude lists patterns skipped unless the caller overrides Exclude.
var DefaultExclude = []string{
	".git/**",
	"node_modules/**",
	"vendor/**",
	"dist/**",
	"**/*.min.js",
	"**/*.map",
	"**/*.lock",
}

// Config controls which workspace files are collected.
type Config struct {
	// Root is the workspace directory. Paths in collected files are
	// relative to it.
	Root string

	// Include patterns (doublestar syntax). Empty includes everything.
	Include []string

	// Exclude patterns (doublestar syntax), applied after Include.
	Exclude []string

	// MaxFileSize skips files larger than this many bytes.
	MaxFileSize int64
}

type cachedFile struct {
	modTime time.Time
	size    int64
	file    File
}

// Collector walks a workspace and returns its source as numbered lines.
// File contents are cached until the file changes on disk.
type Collector struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedFile
}

// NewCollector creates a collector rooted at cfg.Root.
func NewCollector(cfg Config, logger *slog.Logger) *Collector {
	if cfg.Root != "" {
		cfg.Root = filepath.Clean(cfg.Root)
	}
	if cfg.Exclude == nil {
		cfg.Exclude = DefaultExclude
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Collector{
		cfg:    cfg,
		logger: log.WithComponent(logger, "source"),
		cache:  make(map[string]cachedFile),
	}
}

// Root returns the workspace root.
func (c *Collector) Root() string {
	return c.cfg.Root
}

// Gather returns every included file in the workspace, sorted by path.
// Unreadable files are logged and skipped. An empty root yields nil.
func (c *Collector) Gather() []File {
	if c.cfg.Root == "" {
		return nil
	}

	var files []File
	err := filepath.WalkDir(c.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			c.logger.Warn("failed to walk path", "path", path, log.Error(err))
			return nil
		}
		rel, relErr := filepath.Rel(c.cfg.Root, path)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if c.excluded(rel) || c.excluded(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || !c.included(rel) || c.excluded(rel) {
			return nil
		}

		f, ok := c.load(path, rel)
		if ok {
			files = append(files, f)
		}
		return nil
	})
	if err != nil {
		c.logger.Error("failed to collect workspace source", log.Error(err))
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func (c *Collector) load(path, rel string) (File, bool) {
	info, err := os.Stat(path)
	if err != nil {
		c.logger.Warn("failed to stat file", "path", rel, log.Error(err))
		return File{}, false
	}
	if info.Size() > c.cfg.MaxFileSize {
		c.logger.Debug("skipping oversized file", "path", rel, "size", info.Size())
		return File{}, false
	}

	c.mu.Lock()
	cached, ok := c.cache[path]
	c.mu.Unlock()
	if ok && cached.modTime.Equal(info.ModTime()) && cached.size == info.Size() {
		return cached.file, true
	}

	data, err := os.ReadFile(path)
	if err != nil {
		c.logger.Warn("failed to read file", "path", rel, log.Error(err))
		return File{}, false
	}
	if isBinary(data) {
		return File{}, false
	}

	f := File{Path: rel, Lines: SplitLines(string(data))}
	c.mu.Lock()
	c.cache[path] = cachedFile{modTime: info.ModTime(), size: info.Size(), file: f}
	c.mu.Unlock()
	return f, true
}

func (c *Collector) included(rel string) bool {
	if len(c.cfg.Include) == 0 {
		return true
	}
	return matchAny(c.cfg.Include, rel)
}

func (c *Collector) excluded(rel string) bool {
	return matchAny(c.cfg.Exclude, rel)
}

func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		matched, err := doublestar.Match(pattern, rel)
		if err != nil {
			// Invalid pattern - skip it
			continue
		}
		if matched {
			return true
		}
	}
	return false
}

// isBinary reports whether data looks like a binary file.
func isBinary(data []byte) bool {
	const sniff = 8000
	if len(data) > sniff {
		data = data[:sniff]
	}
	return bytes.IndexByte(data, 0) >= 0
}

// Cached reports whether the file at rel is currently cached.
func (c *Collector) Cached(rel string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.cache[filepath.Join(c.cfg.Root, filepath.FromSlash(rel))]
	return ok
}

// Invalidate drops the cached contents of path.
func (c *Collector) Invalidate(path string) {
	c.mu.Lock()
	delete(c.cache, path)
	c.mu.Unlock()
}

// Watch invalidates cached files as they change on disk until ctx is
// cancelled. It returns once the watcher is installed.
func (c *Collector) Watch(ctx context.Context) error {
	if c.cfg.Root == "" {
		return nil
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	err = filepath.WalkDir(c.cfg.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if rel, relErr := filepath.Rel(c.cfg.Root, path); relErr == nil && rel != "." {
			rel = filepath.ToSlash(rel)
			if c.excluded(rel) || c.excluded(rel+"/") {
				return filepath.SkipDir
			}
		}
		return fsw.Add(path)
	})
	if err != nil {
		fsw.Close()
		return fmt.Errorf("failed to watch workspace: %w", err)
	}

	go c.watchLoop(ctx, fsw)
	c.logger.Debug("source watcher started", "root", c.cfg.Root)
	return nil
}

func (c *Collector) watchLoop(ctx context.Context, fsw *fsnotify.Watcher) {
	defer fsw.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-fsw.Events:
			if !ok {
				return
			}
			if event.Op == fsnotify.Chmod {
				continue
			}
			c.Invalidate(event.Name)
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = fsw.Add(event.Name)
				}
			}
			c.logger.Debug("source changed", "path", event.Name, "op", event.Op.String())
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			c.logger.Error("source watcher error", log.Error(err))
		}
	}
}
