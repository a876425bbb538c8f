package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/wheelworks/internal/config"
	"git.home.luguber.info/inful/wheelworks/internal/logfields"
)

// reloadDebounce coalesces the burst of filesystem events editors emit for a
// single save.
const reloadDebounce = 2 * time.Second

// ConfigWatcher reloads the daemon configuration when the file changes on
// disk. The watch is on the containing directory; editors that replace the
// file on save would otherwise detach a direct file watch.
type ConfigWatcher struct {
	watcher    *fsnotify.Watcher
	daemon     *Daemon
	configPath string
	configFile string

	reloadChan chan struct{}
	stopChan   chan struct{}

	mu            sync.Mutex
	debounceTimer *time.Timer
}

// NewConfigWatcher creates a watcher for the given config file.
func NewConfigWatcher(d *Daemon, configPath string) (*ConfigWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	abs, err := filepath.Abs(configPath)
	if err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	return &ConfigWatcher{
		watcher:    watcher,
		daemon:     d,
		configPath: abs,
		configFile: filepath.Base(abs),
		reloadChan: make(chan struct{}, 1),
		stopChan:   make(chan struct{}),
	}, nil
}

// Start begins watching for changes.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	dir := filepath.Dir(cw.configPath)
	if err := cw.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch config directory %s: %w", dir, err)
	}

	go cw.watchLoop(ctx)
	go cw.reloadLoop(ctx)

	slog.Info("Watching configuration file", logfields.Path(cw.configPath))
	return nil
}

// Stop ends the watch.
func (cw *ConfigWatcher) Stop(ctx context.Context) error {
	close(cw.stopChan)

	cw.mu.Lock()
	if cw.debounceTimer != nil {
		cw.debounceTimer.Stop()
	}
	cw.mu.Unlock()

	return cw.watcher.Close()
}

func (cw *ConfigWatcher) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != cw.configFile {
				continue
			}
			switch {
			case ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0:
				slog.Debug("Configuration file changed", slog.String("op", ev.Op.String()))
				cw.triggerReload()
			case ev.Op&fsnotify.Remove != 0:
				slog.Warn("Configuration file removed; keeping current configuration",
					logfields.Path(cw.configPath))
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", logfields.Error(err))
		}
	}
}

// triggerReload requests a debounced reload without blocking the event loop.
func (cw *ConfigWatcher) triggerReload() {
	select {
	case cw.reloadChan <- struct{}{}:
	default:
	}
}

func (cw *ConfigWatcher) reloadLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-cw.stopChan:
			return
		case <-cw.reloadChan:
			cw.mu.Lock()
			if cw.debounceTimer != nil {
				cw.debounceTimer.Stop()
			}
			cw.debounceTimer = time.AfterFunc(reloadDebounce, func() {
				cw.performReload(ctx)
			})
			cw.mu.Unlock()
		}
	}
}

func (cw *ConfigWatcher) performReload(ctx context.Context) {
	newCfg, err := config.Load(cw.configPath)
	if err != nil {
		slog.Error("Reload skipped: configuration does not load",
			logfields.Path(cw.configPath), logfields.Error(err))
		return
	}

	current := cw.daemon.Config()
	if current.Daemon != nil && newCfg.Daemon != nil {
		if current.Daemon.HTTP.WebhookPort != newCfg.Daemon.HTTP.WebhookPort ||
			current.Daemon.HTTP.AdminPort != newCfg.Daemon.HTTP.AdminPort {
			slog.Warn("Listener port changes take effect after a restart")
		}
	}
	if current.Snapshot() == newCfg.Snapshot() {
		slog.Debug("Configuration changed on disk but no run-affecting settings differ")
		return
	}

	if err := cw.daemon.ReloadConfig(ctx, newCfg); err != nil {
		slog.Error("Configuration reload failed", logfields.Error(err))
		return
	}

	slog.Info("Configuration reloaded", logfields.Path(cw.configPath))
}
