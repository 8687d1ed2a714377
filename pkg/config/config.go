// Package config loads the array service configuration from YAML or from
// a flat "key value" .conf file, and watches it for changes.
package config

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/crystal-mush/sparsearray/pkg/sparse"
)

// Backend names.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

// Conf holds all settings. Zero fields in a loaded file keep their defaults.
type Conf struct {
	// --- Storage ---
	Backend    string `yaml:"backend"`     // memory, bolt or sqlite
	BoltPath   string `yaml:"bolt_path"`   // bbolt file for the bolt backend
	SQLitePath string `yaml:"sqlite_path"` // SQLite file for the sqlite backend

	// --- Array behaviour ---
	Compaction string `yaml:"compaction"` // dense or slots
	MaxIndex   uint32 `yaml:"max_index"`  // Highest index scripts may set

	// --- Service ---
	Listen       string   `yaml:"listen"`        // Address for /ws, /metrics and /health; empty = off
	CORSOrigins  []string `yaml:"cors_origins"`  // Allowed WebSocket origins; empty = any
	SnapshotPath string   `yaml:"snapshot_path"` // Default export/import file
	AuditOnStart bool     `yaml:"audit_on_start"`

	// --- Archives ---
	ArchiveDir      string `yaml:"archive_dir"`      // Directory for rotating archives
	ArchiveRetain   int    `yaml:"archive_retain"`   // Archives to keep; 0 = keep all
	ArchiveInterval int    `yaml:"archive_interval"` // Minutes between archives while serving; 0 = off
}

// Default returns a Conf with in-memory storage and dense compaction.
func Default() *Conf {
	return &Conf{
		Backend:      BackendMemory,
		BoltPath:     "data/arrays.db",
		SQLitePath:   "data/arrays.sqlite",
		Compaction:   sparse.CompactDense.String(),
		MaxIndex:     sparse.MaxIndex,
		SnapshotPath: "data/arrays.json.zst",
		ArchiveDir:   "backups",
	}
}

// Load loads a config file. Format is auto-detected by extension:
//   - .yaml / .yml  -> YAML format
//   - .conf / other -> "key value" lines
func Load(path string) (*Conf, error) {
	var (
		c   *Conf
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		c, err = loadYAML(path)
	default:
		c, err = loadFlat(path)
	}
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return c, nil
}

func loadYAML(path string) (*Conf, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config: parsing YAML %s: %w", path, err)
	}
	c.resolvePaths(filepath.Dir(path))
	return c, nil
}

func loadFlat(path string) (*Conf, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	defer f.Close()

	c := Default()
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		key, val := splitKeyVal(line)
		switch strings.ToLower(key) {
		case "backend":
			c.Backend = val
		case "bolt_path":
			c.BoltPath = val
		case "sqlite_path":
			c.SQLitePath = val
		case "compaction":
			c.Compaction = val
		case "max_index":
			n, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("config: %s:%d: max_index: %w", path, lineNo, err)
			}
			c.MaxIndex = uint32(n)
		case "listen":
			c.Listen = val
		case "cors_origin":
			c.CORSOrigins = append(c.CORSOrigins, val)
		case "snapshot_path":
			c.SnapshotPath = val
		case "audit_on_start":
			c.AuditOnStart = parseBool(val)
		case "archive_dir":
			c.ArchiveDir = val
		case "archive_retain", "archive_interval":
			n, err := strconv.Atoi(val)
			if err != nil {
				return nil, fmt.Errorf("config: %s:%d: %s: %w", path, lineNo, key, err)
			}
			if strings.EqualFold(key, "archive_retain") {
				c.ArchiveRetain = n
			} else {
				c.ArchiveInterval = n
			}
		default:
			log.Printf("config: %s:%d: unknown key %q", path, lineNo, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}
	c.resolvePaths(filepath.Dir(path))
	return c, nil
}

// resolvePaths makes relative file paths relative to the config directory.
func (c *Conf) resolvePaths(baseDir string) {
	for _, p := range []*string{&c.BoltPath, &c.SQLitePath, &c.SnapshotPath, &c.ArchiveDir} {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
}

// Validate reports the first invalid setting.
func (c *Conf) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("backend bolt needs bolt_path")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("backend sqlite needs sqlite_path")
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if _, err := sparse.ParseCompaction(c.Compaction); err != nil {
		return err
	}
	if c.ArchiveRetain < 0 || c.ArchiveInterval < 0 {
		return fmt.Errorf("archive_retain and archive_interval must not be negative")
	}
	if c.MaxIndex > sparse.MaxIndex {
		return fmt.Errorf("max_index %d above %d", c.MaxIndex, sparse.MaxIndex)
	}
	return nil
}

// CompactionPolicy returns the parsed compaction setting.
func (c *Conf) CompactionPolicy() sparse.Compaction {
	p, _ := sparse.ParseCompaction(c.Compaction)
	return p
}

// Watch reloads path whenever it is written and passes each valid result
// to fn. Invalid edits are logged and skipped. Watching stops when ctx is done.
func Watch(ctx context.Context, path string, fn func(*Conf)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are seen.
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("config: watch %s: %w", dir, err)
	}
	name := filepath.Clean(path)

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 || filepath.Clean(event.Name) != name {
					continue
				}
				c, err := Load(path)
				if err != nil {
					log.Printf("config: reload skipped: %v", err)
					continue
				}
				log.Printf("config: reloaded %s", path)
				fn(c)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("config: watcher error: %v", err)
			}
		}
	}()
	log.Printf("config: watching %s for changes", path)
	return nil
}

// splitKeyVal splits a line on the first whitespace (space or tab).
func splitKeyVal(line string) (string, string) {
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' || line[i] == '\t' {
			return line[:i], strings.TrimSpace(line[i+1:])
		}
	}
	return line, ""
}

func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "true" || s == "1" || s == "on"
}
