package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// InputNames holds the display names for receiver sources. Names come from
// the config file and can be changed at runtime by clients or by editing
// the file.
type InputNames struct {
	// edit serializes changes so saves and notifications run in the order
	// the changes were made.
	edit sync.Mutex

	mu       sync.RWMutex
	names    map[string]string
	onChange func(map[string]string)
	saver    InputNamesSaver
}

// InputNamesSaver persists client edits. *ConfigStore implements it.
type InputNamesSaver interface {
	SaveInputNames(names map[string]string) error
}

func NewInputNames(initial map[string]string) *InputNames {
	return &InputNames{names: MergeInputNames(initial)}
}

// OnChange registers fn to run with a copy of the names after every change.
// Call it before the store is shared.
func (n *InputNames) OnChange(fn func(map[string]string)) {
	n.onChange = fn
}

// SaveTo makes Set and Reset write the names through s. Reloads from the
// config file are not written back. Call it before the store is shared.
func (n *InputNames) SaveTo(s InputNamesSaver) {
	n.saver = s
}

// All returns a copy of the current names.
func (n *InputNames) All() map[string]string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return maps.Clone(n.names)
}

var errEmptyInputCode = errors.New("input code is empty")

// Set renames one source. An empty name restores that source's default.
// The new name is in effect even when saving it fails.
func (n *InputNames) Set(code, name string) error {
	code = strings.TrimSpace(code)
	if code == "" {
		return errEmptyInputCode
	}
	name = strings.TrimSpace(name)

	n.edit.Lock()
	defer n.edit.Unlock()

	n.mu.Lock()
	if name == "" {
		if def, ok := DefaultInputNames()[code]; ok {
			n.names[code] = def
		} else {
			delete(n.names, code)
		}
	} else {
		n.names[code] = name
	}
	snap := maps.Clone(n.names)
	n.mu.Unlock()

	err := n.save(snap)
	n.notify(snap)
	return err
}

// Replace swaps in a full set of names (merged over the defaults). It
// reports whether anything changed. Used for config file reloads, so the
// names are not saved.
func (n *InputNames) Replace(names map[string]string) bool {
	n.edit.Lock()
	defer n.edit.Unlock()

	snap, changed := n.replace(names)
	if changed {
		n.notify(snap)
	}
	return changed
}

// Reset restores the factory names and saves them.
func (n *InputNames) Reset() error {
	n.edit.Lock()
	defer n.edit.Unlock()

	snap, changed := n.replace(nil)
	if !changed {
		return nil
	}
	err := n.save(snap)
	n.notify(snap)
	return err
}

func (n *InputNames) replace(names map[string]string) (map[string]string, bool) {
	merged := MergeInputNames(names)

	n.mu.Lock()
	defer n.mu.Unlock()
	if maps.Equal(n.names, merged) {
		return nil, false
	}
	n.names = merged
	return maps.Clone(merged), true
}

func (n *InputNames) save(snap map[string]string) error {
	if n.saver == nil {
		return nil
	}
	if err := n.saver.SaveInputNames(snap); err != nil {
		return fmt.Errorf("save input names: %w", err)
	}
	return nil
}

func (n *InputNames) notify(snap map[string]string) {
	if n.onChange != nil {
		n.onChange(snap)
	}
}

// ============================================================================
// Config file watcher
// ============================================================================

// inputNamesReloadDelay lets editors finish write-rename sequences before
// the file is parsed.
const inputNamesReloadDelay = 200 * time.Millisecond

// watchInputNames reloads input_names from path whenever the file changes.
// The parent directory is watched so atomic-rename saves are seen.
// It returns when ctx is canceled.
func watchInputNames(ctx context.Context, path string, store *InputNames, logger *slog.Logger) error {
	path = ExpandPath(path)
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	logger.Info("watching config for input name changes", "path", abs)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(inputNamesReloadDelay)
			} else {
				timer.Reset(inputNamesReloadDelay)
			}
			timerC = timer.C

		case <-timerC:
			timerC = nil
			names, err := LoadInputNames(abs)
			if err != nil {
				logger.Warn("input names reload failed, keeping current names", "path", abs, "error", err)
				continue
			}
			if store.Replace(names) {
				logger.Info("input names reloaded", "path", abs, "count", len(names))
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("config watcher error", "error", err)
		}
	}
}
