// Package prompt loads the system prompt from KAGENT.md in the workspace and
// hot-reloads it on change, so prompt edits take effect without a restart.
package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// PromptFileName is the workspace file holding the system prompt.
const PromptFileName = "KAGENT.md"

const defaultPrompt = "You are a helpful assistant with access to tools. Use them when they help, answer directly when they do not."

// Loader serves the current system prompt and optionally watches the prompt
// file for edits.
type Loader struct {
	path     string
	current  string
	onChange func(string)
	watcher  *fsnotify.Watcher
	done     chan struct{}
	debounce *time.Timer
	stopOnce sync.Once
	mu       sync.RWMutex
}

// NewLoader reads the prompt file under workspaceRoot. A missing file is not
// an error; the built-in default applies until the file appears.
func NewLoader(workspaceRoot string) (*Loader, error) {
	l := &Loader{
		path: filepath.Join(workspaceRoot, PromptFileName),
		done: make(chan struct{}),
	}
	l.current = l.read()
	return l, nil
}

// Current returns the active system prompt.
func (l *Loader) Current() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// OnChange installs a callback fired after every reload.
func (l *Loader) OnChange(fn func(string)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = fn
}

func (l *Loader) read() string {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", l.path).Msg("Failed to read prompt file")
		}
		return defaultPrompt
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		return defaultPrompt
	}
	return text
}

// Watch starts monitoring the prompt file's directory. Watching the directory
// rather than the file survives editors that replace by rename.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}

	if err := watcher.Add(filepath.Dir(l.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch prompt directory: %w", err)
	}

	l.watcher = watcher
	go l.eventLoop()

	log.Info().Str("path", l.path).Msg("Prompt watcher started")
	return nil
}

func (l *Loader) eventLoop() {
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != PromptFileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			l.scheduleReload()

		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			log.Error().Err(err).Msg("Prompt watcher error")

		case <-l.done:
			return
		}
	}
}

// scheduleReload debounces bursts of events from a single save.
func (l *Loader) scheduleReload() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.debounce != nil {
		l.debounce.Stop()
	}
	l.debounce = time.AfterFunc(100*time.Millisecond, func() {
		select {
		case <-l.done:
			return
		default:
		}
		l.reload()
	})
}

func (l *Loader) reload() {
	text := l.read()

	l.mu.Lock()
	changed := text != l.current
	l.current = text
	onChange := l.onChange
	l.mu.Unlock()

	if !changed {
		return
	}

	log.Info().Str("path", l.path).Int("length", len(text)).Msg("System prompt reloaded")
	if onChange != nil {
		onChange(text)
	}
}

// Stop ends watching.
func (l *Loader) Stop() error {
	var err error
	l.stopOnce.Do(func() {
		close(l.done)
		l.mu.Lock()
		if l.debounce != nil {
			l.debounce.Stop()
		}
		l.mu.Unlock()
		if l.watcher != nil {
			err = l.watcher.Close()
		}
	})
	return err
}
