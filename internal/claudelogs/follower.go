// Package claudelogs follows claude's debug log directory and streams
// newly appended lines. Used by --verbose-claude-logs to surface the
// child process's own logging alongside the manager's.
package claudelogs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Entry is one appended log line with its source file.
type Entry struct {
	File string
	Line string
}

// Follower tails the log files in a directory with debounced change
// notifications. Files existing at start are followed from their end;
// only content appended afterwards is emitted.
type Follower struct {
	fsWatcher *fsnotify.Watcher
	dir       string
	debounce  time.Duration
	lines     chan Entry
	done      chan struct{}
	stopOnce  sync.Once

	mu       sync.Mutex
	offsets  map[string]int64
	partials map[string]string
}

// Config holds follower configuration options.
type Config struct {
	// Dir is the log directory to follow.
	Dir string

	// DebounceDur collapses bursts of writes into one read pass.
	DebounceDur time.Duration

	// Buffer is the line channel capacity.
	Buffer int
}

// DefaultConfig returns defaults tuned for claude's write cadence.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:         dir,
		DebounceDur: 200 * time.Millisecond,
		Buffer:      256,
	}
}

// New creates a follower for the configured directory.
func New(cfg Config) (*Follower, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 256
	}
	debounce := cfg.DebounceDur
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}

	return &Follower{
		fsWatcher: fsw,
		dir:       cfg.Dir,
		debounce:  debounce,
		lines:     make(chan Entry, buffer),
		done:      make(chan struct{}),
		offsets:   make(map[string]int64),
		partials:  make(map[string]string),
	}, nil
}

// Start begins following the directory. Returns the channel of appended
// lines. Lines are dropped when the channel is full rather than blocking
// the watch loop.
func (f *Follower) Start() (<-chan Entry, error) {
	if err := f.fsWatcher.Add(f.dir); err != nil {
		return nil, fmt.Errorf("watching directory %s: %w", f.dir, err)
	}

	// Seed offsets so pre-existing content is not replayed.
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", f.dir, err)
	}
	f.mu.Lock()
	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}
		if info, err := entry.Info(); err == nil {
			f.offsets[filepath.Join(f.dir, entry.Name())] = info.Size()
		}
	}
	f.mu.Unlock()

	go f.loop()

	return f.lines, nil
}

// Stop terminates the follower and releases resources. Safe to call
// more than once.
func (f *Follower) Stop() error {
	var err error
	f.stopOnce.Do(func() {
		close(f.done)
		err = f.fsWatcher.Close()
	})
	return err
}

// loop is the only sender on f.lines, so it closes the channel on exit
// and consumers ranging over it terminate with the follower.
func (f *Follower) loop() {
	defer close(f.lines)

	var (
		timer   *time.Timer
		pending bool
	)

	for {
		select {
		case event, ok := <-f.fsWatcher.Events:
			if !ok {
				return
			}

			if !isRelevantEvent(event) {
				continue
			}

			if timer == nil {
				timer = time.NewTimer(f.debounce)
				pending = true
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(f.debounce)
				pending = true
			}

		case <-func() <-chan time.Time {
			if timer != nil {
				return timer.C
			}
			return nil
		}():
			if pending {
				f.drain()
				pending = false
			}

		case _, ok := <-f.fsWatcher.Errors:
			if !ok {
				return
			}
			// Keep following; a transient watch error does not end the tail.

		case <-f.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// drain reads appended content of every tracked log file past its stored
// offset and emits complete lines.
func (f *Follower) drain() {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !isLogFile(entry.Name()) {
			continue
		}
		f.drainFile(filepath.Join(f.dir, entry.Name()))
	}
}

func (f *Follower) drainFile(path string) {
	f.mu.Lock()
	offset := f.offsets[path]
	partial := f.partials[path]
	f.mu.Unlock()

	file, err := os.Open(path) // #nosec G304 -- path is rooted in the followed directory
	if err != nil {
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return
	}
	// Truncated or rotated file: restart from the beginning.
	if info.Size() < offset {
		offset = 0
		partial = ""
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return
	}

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		return
	}

	// A trailing fragment without a newline is held until the next pass.
	content := partial + string(data)
	lines := strings.Split(content, "\n")
	partial = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		if strings.TrimSpace(line) == "" {
			continue
		}
		select {
		case f.lines <- Entry{File: filepath.Base(path), Line: line}:
		default:
		}
	}

	f.mu.Lock()
	f.offsets[path] = offset + int64(len(data))
	f.partials[path] = partial
	f.mu.Unlock()
}

func isRelevantEvent(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	return isLogFile(filepath.Base(event.Name))
}

func isLogFile(name string) bool {
	switch filepath.Ext(name) {
	case ".log", ".txt", ".jsonl":
		return true
	}
	return false
}
