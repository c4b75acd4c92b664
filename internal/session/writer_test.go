package session

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// memSink collects writes in memory for inspection.
type memSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed bool
}

func (m *memSink) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.Write(p)
}

func (m *memSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *memSink) String() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.buf.String()
}

// failSink fails every write.
type failSink struct{}

func (failSink) Write([]byte) (int, error) { return 0, errors.New("disk full") }
func (failSink) Close() error              { return nil }

func TestBufferedWriter_BuffersUntilFlush(t *testing.T) {
	sink := &memSink{}
	w := NewBufferedWriterWithConfig(sink, 100, time.Hour)
	defer w.Close()

	require.NoError(t, w.Write([]byte("line1\n")))
	require.NoError(t, w.Write([]byte("line2\n")))
	require.Equal(t, 2, w.Len())
	require.Empty(t, sink.String())

	require.NoError(t, w.Flush())
	require.Equal(t, 0, w.Len())
	require.Equal(t, "line1\nline2\n", sink.String())
}

func TestBufferedWriter_FlushOnThreshold(t *testing.T) {
	sink := &memSink{}
	// Capacity 4 gives a threshold of 3 writes.
	w := NewBufferedWriterWithConfig(sink, 4, time.Hour)
	defer w.Close()

	require.NoError(t, w.Write([]byte("a\n")))
	require.NoError(t, w.Write([]byte("b\n")))
	require.Empty(t, sink.String())

	require.NoError(t, w.Write([]byte("c\n")))
	require.Equal(t, "a\nb\nc\n", sink.String())
	require.Equal(t, 0, w.Len())
}

func TestBufferedWriter_FlushOnTimer(t *testing.T) {
	sink := &memSink{}
	w := NewBufferedWriterWithConfig(sink, 100, 10*time.Millisecond)
	defer w.Close()

	require.NoError(t, w.Write([]byte("ticked\n")))

	require.Eventually(t, func() bool {
		return sink.String() == "ticked\n"
	}, time.Second, 5*time.Millisecond)
}

func TestBufferedWriter_CopiesData(t *testing.T) {
	sink := &memSink{}
	w := NewBufferedWriterWithConfig(sink, 100, time.Hour)
	defer w.Close()

	line := []byte("original\n")
	require.NoError(t, w.Write(line))
	copy(line, []byte("mutated!\n"))

	require.NoError(t, w.Flush())
	require.Equal(t, "original\n", sink.String())
}

func TestBufferedWriter_Close(t *testing.T) {
	sink := &memSink{}
	w := NewBufferedWriterWithConfig(sink, 100, time.Hour)

	require.NoError(t, w.Write([]byte("pending\n")))
	require.NoError(t, w.Close())

	require.Equal(t, "pending\n", sink.String())
	require.True(t, sink.closed)

	// Closed writer refuses everything.
	require.ErrorIs(t, w.Write([]byte("late\n")), os.ErrClosed)
	require.ErrorIs(t, w.Flush(), os.ErrClosed)
	require.ErrorIs(t, w.Close(), os.ErrClosed)
}

func TestBufferedWriter_ErrorTracking(t *testing.T) {
	w := NewBufferedWriterWithConfig(failSink{}, 100, time.Hour)
	defer w.Close()

	require.NoError(t, w.Write([]byte("doomed\n")))
	err := w.Flush()
	require.Error(t, err)
	require.Contains(t, err.Error(), "disk full")

	require.Equal(t, int64(1), w.ErrorCount())
	require.Error(t, w.LastError())

	// Buffer is drained even when writes fail.
	require.Equal(t, 0, w.Len())
}

func TestBufferedWriter_ConcurrentWrites(t *testing.T) {
	sink := &memSink{}
	w := NewBufferedWriterWithConfig(sink, 8, time.Millisecond)

	const writers = 10
	const perWriter = 50

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWriter; j++ {
				_ = w.Write([]byte("x\n"))
			}
		}()
	}
	wg.Wait()

	require.NoError(t, w.Close())
	require.Equal(t, writers*perWriter, strings.Count(sink.String(), "x\n"))
	require.Equal(t, int64(0), w.ErrorCount())
}

func TestBufferedWriter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "raw.jsonl")
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	require.NoError(t, err)

	w := NewBufferedWriter(file)
	require.NoError(t, w.Write([]byte(`{"type":"system"}`+"\n")))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, `{"type":"system"}`+"\n", string(data))
}
