package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// Holder is the live config shared by the server and Watch. Readers take a
// snapshot with Config and must not mutate it; Watch swaps in whole new
// configs.
type Holder struct {
	cfg  atomic.Pointer[Config]
	path string
}

// NewHolder returns a Holder for cfg, loaded from path ("" if none).
func NewHolder(cfg *Config, path string) *Holder {
	h := &Holder{path: path}
	h.cfg.Store(cfg)

	return h
}

func (h *Holder) Config() *Config { return h.cfg.Load() }

func (h *Holder) Path() string { return h.path }

// Update installs cfg and returns the config it replaced.
func (h *Holder) Update(cfg *Config) (previous *Config) {
	return h.cfg.Swap(cfg)
}

// Watch reloads the holder's config file whenever it changes, until ctx is
// done. The parent directory is watched because editors commonly replace
// the file rather than write it in place. A reload that fails to parse or
// validate is logged and the previous config stays in effect. load rebuilds
// the full config, so environment and flag overrides survive a reload.
// onReload, if non-nil, is called with each successfully loaded config.
func Watch(
	ctx context.Context, h *Holder, load func() (*Config, error), logger *slog.Logger, onReload func(*Config),
) error {
	path := h.Path()
	if path == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config: creating watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("config: watching %s: %w", dir, err)
	}

	logger.Debug("watching config file", slog.String("path", path))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != filepath.Clean(path) {
				continue
			}

			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}

			reload(h, load, logger, onReload)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			logger.Warn("config watcher error", slog.String("error", werr.Error()))
		}
	}
}

func reload(h *Holder, load func() (*Config, error), logger *slog.Logger, onReload func(*Config)) {
	cfg, err := load()
	if err != nil {
		logger.Warn("config reload rejected, keeping previous config",
			slog.String("path", h.Path()),
			slog.String("error", err.Error()),
		)

		return
	}

	prev := h.Update(cfg)

	logger.Info("config reloaded",
		slog.String("path", h.Path()),
		slog.String("previous_log_level", prev.Logging.LogLevel),
		slog.String("log_level", cfg.Logging.LogLevel),
		slog.Int("default_page_size", cfg.Graph.DefaultPageSize),
	)

	if onReload != nil {
		onReload(cfg)
	}
}
