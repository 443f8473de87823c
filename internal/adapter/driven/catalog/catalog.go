// Package catalog loads service integration descriptors from YAML. The
// embedded defaults ship the known providers; a deployment may overlay or
// extend them with a catalog file, and edits to that file are picked up
// live. Adding a provider is a catalog change, not a code change.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/canvasflow/authvault/internal/domain/model"
	"github.com/canvasflow/authvault/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.ServiceCatalog = (*Catalog)(nil)

//go:embed defaults.yaml
var defaultsYAML []byte

// reloadDebounce coalesces the event bursts editors produce on save.
const reloadDebounce = 200 * time.Millisecond

// Catalog is the ServiceCatalog implementation backed by the embedded
// defaults plus an optional override file. The descriptor table is swapped
// whole on reload, so descriptors handed out earlier stay unchanged.
type Catalog struct {
	logger *slog.Logger
	path   string

	mu    sync.RWMutex
	table map[string]model.ServiceDescriptor
}

// New builds the catalog from the embedded defaults, overlaid by the file
// at overridePath when set. Entries in the file replace same-named defaults
// and may add new services. A configured path that cannot be loaded is a
// startup error.
func New(overridePath string, logger *slog.Logger) (*Catalog, error) {
	table, err := parseCatalog(defaultsYAML)
	if err != nil {
		return nil, fmt.Errorf("parse embedded catalog: %w", err)
	}

	if overridePath != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read catalog override: %w", err)
		}
		overlay, err := parseCatalog(data)
		if err != nil {
			return nil, fmt.Errorf("parse catalog override: %w", err)
		}
		for name, desc := range overlay {
			table[name] = desc
		}
	}

	return &Catalog{
		logger: logger.With("component", "catalog"),
		path:   overridePath,
		table:  table,
	}, nil
}

// Get returns the descriptor for a service name.
func (c *Catalog) Get(name string) (*model.ServiceDescriptor, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	desc, ok := c.table[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%q: %w", name, model.ErrUnknownService)
	}
	return &desc, nil
}

// List returns all known descriptors sorted by name.
func (c *Catalog) List() []model.ServiceDescriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.ServiceDescriptor, 0, len(c.table))
	for _, desc := range c.table {
		out = append(out, desc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Watch blocks watching the override file for edits until ctx is done.
// The parent directory is watched because editors replace files on save.
// A broken edit is logged and the previous table stays in effect. No-op
// when no override path is configured.
func (c *Catalog) Watch(ctx context.Context) error {
	if c.path == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create catalog watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	c.logger.Info("watching catalog override", "path", c.path)

	var pending *time.Timer
	defer func() {
		if pending != nil {
			pending.Stop()
		}
	}()

	target := filepath.Clean(c.path)
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, c.reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			c.logger.Error("catalog watcher error", "error", err)
		}
	}
}

// reload re-reads the override file and swaps the table. Failures keep the
// current table.
func (c *Catalog) reload() {
	data, err := os.ReadFile(c.path)
	if err != nil {
		c.logger.Error("catalog reload failed", "path", c.path, "error", err)
		return
	}

	table, err := parseCatalog(defaultsYAML)
	if err != nil {
		c.logger.Error("catalog reload failed", "path", c.path, "error", err)
		return
	}
	overlay, err := parseCatalog(data)
	if err != nil {
		c.logger.Error("catalog reload failed", "path", c.path, "error", err)
		return
	}
	for name, desc := range overlay {
		table[name] = desc
	}

	c.mu.Lock()
	c.table = table
	c.mu.Unlock()

	c.logger.Info("catalog reloaded", "services", len(table))
}
