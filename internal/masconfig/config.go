// Package masconfig loads the MAS's YAML configuration and watches the
// backing file for edits, using gopkg.in/yaml.v3 for decoding and
// github.com/fsnotify/fsnotify for the reload watch.
package masconfig

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// StoreConfig configures the persistence backend.
type StoreConfig struct {
	// Driver selects the backend: "fs" (default), "sqlite", or
	// "postgres".
	Driver string `yaml:"driver"`
	// DSN is the filesystem directory (fs) or connection string
	// (sqlite/postgres).
	DSN string `yaml:"dsn"`
}

// PeerConfig configures one remote-agent peer connection.
type PeerConfig struct {
	Name           string `yaml:"name"`
	BaseURL        string `yaml:"base_url"`
	Transport      string `yaml:"transport"` // "sse" or "websocket"
	ShareCallStack bool   `yaml:"share_call_stack"`
}

// MCPServerConfig configures one MCP server connection.
type MCPServerConfig struct {
	ID        string            `yaml:"id"`
	Transport string            `yaml:"transport"` // "stdio" or "http"
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// Config is the root MAS configuration document.
type Config struct {
	MasterAgent      string            `yaml:"master_agent"`
	Store            StoreConfig       `yaml:"store"`
	CompactionCron   string            `yaml:"compaction_cron"`
	CompactionMaxAge time.Duration     `yaml:"compaction_max_age"`
	Peers            []PeerConfig      `yaml:"peers"`
	MCPServers       []MCPServerConfig `yaml:"mcp_servers"`
}

func defaults() Config {
	return Config{
		MasterAgent:      "master",
		Store:            StoreConfig{Driver: "fs", DSN: "./mas-data"},
		CompactionCron:   "0 3 * * *",
		CompactionMaxAge: 30 * 24 * time.Hour,
	}
}

// Load reads and decodes a YAML config file, filling unset fields with
// defaults.
func Load(path string) (Config, error) {
	cfg := defaults()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("masconfig: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("masconfig: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Watcher reloads Config from disk on file change, for observability
// surfaces (logging level, peer list) that tolerate hot reload; it never
// drives live routing decisions mid-dispatch.
type Watcher struct {
	path    string
	logger  *slog.Logger
	mu      sync.RWMutex
	current Config
	onReload func(Config)
}

// NewWatcher loads path once and starts watching it for writes. Call the
// returned function to stop watching.
func NewWatcher(path string, onReload func(Config)) (*Watcher, func() error, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, nil, err
	}

	w := &Watcher{path: path, logger: slog.Default().With("component", "masconfig"), current: cfg, onReload: onReload}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, fmt.Errorf("masconfig: create watcher: %w", err)
	}
	if err := fw.Add(path); err != nil {
		fw.Close()
		return nil, nil, fmt.Errorf("masconfig: watch %s: %w", path, err)
	}

	done := make(chan struct{})
	go w.loop(fw, done)

	return w, func() error {
		close(done)
		return fw.Close()
	}, nil
}

func (w *Watcher) loop(fw *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt, ok := <-fw.Events:
			if !ok {
				return
			}
			if evt.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(w.path)
			if err != nil {
				w.logger.Warn("config reload failed", "path", w.path, "error", err)
				continue
			}
			w.mu.Lock()
			w.current = cfg
			w.mu.Unlock()
			w.logger.Info("config reloaded", "path", w.path)
			if w.onReload != nil {
				w.onReload(cfg)
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}
