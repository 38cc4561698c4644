package preset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce is how long Watch waits for writes to settle before
// reloading.
const DefaultDebounce = 250 * time.Millisecond

// LoadFromBytes parses and validates one YAML preset.
//
// Postcondition: Returns a valid preset or a non-nil error.
func LoadFromBytes(data []byte) (Preset, error) {
	var p Preset
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Preset{}, fmt.Errorf("parsing preset YAML: %w", err)
	}
	if err := p.Validate(); err != nil {
		return Preset{}, err
	}
	p.Name = strings.TrimSpace(p.Name)
	return p, nil
}

// LoadDir reads every *.yaml and *.yml file in dir in name order.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all presets, or the first error naming its file.
// Duplicate names (case-insensitive) are an error.
func LoadDir(dir string) ([]Preset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading preset dir %s: %w", dir, err)
	}

	var presets []Preset
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isPresetFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		p, err := LoadFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", path, err)
		}
		key := strings.ToLower(p.Name)
		if prev, ok := seen[key]; ok {
			return nil, fmt.Errorf("%w: name %q in %s already used by %s", ErrInvalidPreset, p.Name, entry.Name(), prev)
		}
		seen[key] = entry.Name()
		presets = append(presets, p)
	}
	return presets, nil
}

// Watch reloads dir whenever a preset file is written, created, renamed or
// removed, and passes the result to fn. Reload errors are logged and the
// previous presets stay in effect.
//
// Precondition: dir must exist; fn and logger must be non-nil.
// Postcondition: Blocks until ctx is cancelled and then returns nil.
func Watch(ctx context.Context, dir string, debounce time.Duration, logger *zap.Logger, fn func([]Preset)) error {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating preset watcher: %w", err)
	}
	defer w.Close()
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watching preset dir %s: %w", dir, err)
	}
	logger.Info("watching presets", zap.String("dir", dir))

	const relevant = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename
	var (
		debounceTimer *time.Timer
		reload        <-chan time.Time
	)
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ev.Op&relevant == 0 || !isPresetFile(ev.Name) {
				continue
			}
			logger.Debug("preset file changed", zap.String("file", ev.Name), zap.String("op", ev.Op.String()))
			if debounceTimer == nil {
				debounceTimer = time.NewTimer(debounce)
			} else {
				debounceTimer.Reset(debounce)
			}
			reload = debounceTimer.C
		case <-reload:
			reload = nil
			presets, err := LoadDir(dir)
			if err != nil {
				logger.Warn("preset reload failed", zap.Error(err))
				continue
			}
			logger.Info("presets reloaded", zap.Int("count", len(presets)))
			fn(presets)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("preset watcher error", zap.Error(err))
		}
	}
}

func isPresetFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
