package session

import (
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const (
	// DefaultBufferSize is the default pending-line capacity.
	DefaultBufferSize = 256

	// DefaultFlushInterval is how often the background goroutine flushes to disk.
	DefaultFlushInterval = 100 * time.Millisecond

	// flushThresholdPercent is the buffer fill percentage that triggers an immediate flush.
	flushThresholdPercent = 75
)

// BufferedWriter batches line writes to an underlying sink so that event
// streaming is decoupled from disk I/O. Lines accumulate in memory and a
// background goroutine flushes them every DefaultFlushInterval; crossing the
// fill threshold flushes inline. Write errors are tracked, not returned as
// panics, so a full disk degrades logging rather than killing the run.
type BufferedWriter struct {
	sink io.WriteCloser

	pending        [][]byte
	flushThreshold int
	flushInterval  time.Duration

	mu     sync.Mutex
	closed bool

	writeErrors atomic.Int64
	lastError   atomic.Value

	done chan struct{}
	wg   sync.WaitGroup
}

// NewBufferedWriter creates a BufferedWriter with default capacity and flush interval.
func NewBufferedWriter(sink io.WriteCloser) *BufferedWriter {
	return NewBufferedWriterWithConfig(sink, DefaultBufferSize, DefaultFlushInterval)
}

// NewBufferedWriterWithConfig creates a BufferedWriter with custom capacity and flush interval.
func NewBufferedWriterWithConfig(sink io.WriteCloser, bufferSize int, flushInterval time.Duration) *BufferedWriter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}

	w := &BufferedWriter{
		sink:           sink,
		pending:        make([][]byte, 0, bufferSize),
		flushThreshold: (bufferSize * flushThresholdPercent) / 100,
		flushInterval:  flushInterval,
		done:           make(chan struct{}),
	}

	w.wg.Add(1)
	go w.flushLoop()

	return w
}

// Write buffers a copy of data for the next flush. Reaching the fill
// threshold flushes immediately. Thread-safe.
func (w *BufferedWriter) Write(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}

	// Copy: callers reuse their slices.
	buf := make([]byte, len(data))
	copy(buf, data)
	w.pending = append(w.pending, buf)

	if len(w.pending) >= w.flushThreshold {
		return w.flushLocked()
	}

	return nil
}

// Flush writes all pending lines to the sink. Thread-safe.
func (w *BufferedWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return os.ErrClosed
	}

	return w.flushLocked()
}

// flushLocked drains the pending buffer. Caller must hold w.mu.
func (w *BufferedWriter) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}

	var writeErr error
	for _, data := range w.pending {
		if _, err := w.sink.Write(data); err != nil {
			writeErr = err
			w.writeErrors.Add(1)
			w.lastError.Store(err)
			// Keep going so later lines still get a chance to land.
		}
	}

	w.pending = w.pending[:0]

	return writeErr
}

func (w *BufferedWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			_ = w.Flush() // errors are tracked via counters
		}
	}
}

// Close stops the flush goroutine, drains the buffer, and closes the sink.
// Subsequent writes return os.ErrClosed.
func (w *BufferedWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return os.ErrClosed
	}
	w.closed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()

	w.mu.Lock()
	flushErr := w.flushLocked()
	w.mu.Unlock()

	closeErr := w.sink.Close()

	if flushErr != nil {
		return flushErr
	}
	return closeErr
}

// ErrorCount returns the total number of write errors encountered.
func (w *BufferedWriter) ErrorCount() int64 {
	return w.writeErrors.Load()
}

// LastError returns the most recent write error, or nil.
func (w *BufferedWriter) LastError() error {
	if err := w.lastError.Load(); err != nil {
		return err.(error)
	}
	return nil
}

// Len returns the current number of buffered lines. Thread-safe.
func (w *BufferedWriter) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}
