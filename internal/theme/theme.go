// Package theme loads design tokens from a JSON file and reloads them when
// the file changes on disk.
package theme

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"pagebuilder/internal/messaging"
)

// DefaultDebounce collapses the bursts of events editors emit on save.
const DefaultDebounce = 300 * time.Millisecond

// Theme is the content of a tokens file. A flat object of CSS variables is
// read into Tokens; an object with "light" and/or "dark" groups fills the
// theme variables, and an optional "tokens" group fills Tokens.
type Theme struct {
	Tokens map[string]string `json:"tokens"`
	Light  map[string]string `json:"light"`
	Dark   map[string]string `json:"dark"`
}

// Vars flattens the light and dark groups, sorted by variable name.
func (t Theme) Vars() []messaging.ThemeVar {
	var out []messaging.ThemeVar
	add := func(group map[string]string, dark bool) {
		keys := make([]string, 0, len(group))
		for k := range group {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out = append(out, messaging.ThemeVar{CSSVar: k, Value: group[k], IsDark: dark})
		}
	}
	add(t.Light, false)
	add(t.Dark, true)
	return out
}

// Parse decodes a tokens file.
func Parse(data []byte) (Theme, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Theme{}, fmt.Errorf("parse theme: %w", err)
	}
	_, hasLight := raw["light"]
	_, hasDark := raw["dark"]
	_, hasTokens := raw["tokens"]
	if hasLight || hasDark || hasTokens {
		var t Theme
		if err := json.Unmarshal(data, &t); err != nil {
			return Theme{}, fmt.Errorf("parse theme groups: %w", err)
		}
		return t, nil
	}
	var flat map[string]string
	if err := json.Unmarshal(data, &flat); err != nil {
		return Theme{}, fmt.Errorf("theme values must be strings: %w", err)
	}
	return Theme{Tokens: flat}, nil
}

// Load reads and parses path.
func Load(path string) (Theme, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Theme{}, fmt.Errorf("read theme: %w", err)
	}
	return Parse(data)
}

// Handler is called with the new theme after the file changed.
type Handler func(Theme)

// Watcher reloads a tokens file on every write.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange Handler
	debounce time.Duration

	mu      sync.Mutex
	current Theme
	timer   *time.Timer
}

// Watch loads path and starts watching it. debounce <= 0 uses
// DefaultDebounce. A missing file starts with an empty theme.
func Watch(path string, debounce time.Duration, onChange Handler) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: editors often replace the file on save.
	if err := fw.Add(filepath.Dir(absPath)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(absPath), err)
	}

	w := &Watcher{path: absPath, watcher: fw, onChange: onChange, debounce: debounce}
	if t, err := Load(absPath); err == nil {
		w.current = t
	} else if !errors.Is(err, os.ErrNotExist) {
		log.Printf("theme watcher: %v", err)
	}
	go w.watchLoop()
	return w, nil
}

// Current returns the last theme loaded successfully.
func (w *Watcher) Current() Theme {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.watcher.Close()
}

func (w *Watcher) watchLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if absPath, _ := filepath.Abs(event.Name); absPath != w.path {
				continue
			}
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.timer = time.AfterFunc(w.debounce, w.reload)
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("theme watcher: error: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	t, err := Load(w.path)
	if err != nil {
		log.Printf("theme watcher: reload %s: %v", w.path, err)
		return
	}
	w.mu.Lock()
	w.current = t
	w.mu.Unlock()
	log.Printf("theme watcher: reloaded %s", w.path)
	if w.onChange != nil {
		w.onChange(t)
	}
}
