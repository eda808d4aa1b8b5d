package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Loader loads and holds the active Config. Get is safe to call
// concurrently with Reload; the config value is replaced wholesale,
// never mutated in place.
type Loader struct {
	mu       sync.RWMutex
	config   *Config
	filePath string

	watcher   *fsnotify.Watcher
	watchDone chan struct{}
}

// NewLoader creates a Loader holding the defaults.
func NewLoader() *Loader {
	return &Loader{config: DefaultConfig()}
}

// Load reads the YAML file at path over the defaults.
func (l *Loader) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	l.mu.Lock()
	l.config = cfg
	l.filePath = path
	l.mu.Unlock()
	return nil
}

// Get returns the active config. The returned pointer must be treated as
// read-only.
func (l *Loader) Get() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// FilePath returns the path of the loaded config file, or "".
func (l *Loader) FilePath() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.filePath
}

// Reload re-reads the previously loaded file. Calling Reload before Load
// is an error.
func (l *Loader) Reload() error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("no config file to reload")
	}
	return l.Load(path)
}

// Watch starts an fsnotify watcher on the loaded config file and invokes
// onChange after each successful reload. The watch runs until Close.
// Editors often replace files via rename, so the parent directory is
// watched and events are filtered by name.
func (l *Loader) Watch(onChange func(*Config), logger *slog.Logger) error {
	path := l.FilePath()
	if path == "" {
		return fmt.Errorf("no config file to watch")
	}
	if logger == nil {
		logger = slog.Default()
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}

	l.mu.Lock()
	l.watcher = w
	l.watchDone = make(chan struct{})
	done := l.watchDone
	l.mu.Unlock()

	go l.watchLoop(w, done, path, onChange, logger)
	return nil
}

func (l *Loader) watchLoop(w *fsnotify.Watcher, done chan struct{}, path string, onChange func(*Config), logger *slog.Logger) {
	// Debounce: editors fire several events per save.
	var lastReload time.Time

	for {
		select {
		case <-done:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if time.Since(lastReload) < 200*time.Millisecond {
				continue
			}
			lastReload = time.Now()

			if err := l.Reload(); err != nil {
				logger.Error("config reload failed, keeping previous config", "error", err)
				continue
			}
			logger.Info("config reloaded", "path", path)
			if onChange != nil {
				onChange(l.Get())
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Error("fsnotify error", "error", err)
		}
	}
}

// Close stops the watcher, if one is running.
func (l *Loader) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watchDone != nil {
		close(l.watchDone)
		l.watchDone = nil
	}
	if l.watcher != nil {
		err := l.watcher.Close()
		l.watcher = nil
		return err
	}
	return nil
}
