package journal

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/p2pml_bridge/internal/worker"
)

// Writer appends registry events to a rotated JSONL file from a background
// goroutine. Observe never blocks; a full buffer drops the record.
type Writer struct {
	out     io.WriteCloser
	writeCh chan worker.Event
	done    chan struct{}
	wg      sync.WaitGroup

	closeOnce sync.Once
	mu        sync.Mutex
	dropped   int
}

// Open creates the journal at filename, rotating at maxSizeMB.
func Open(filename string, bufferSize, maxSizeMB int) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0o755); err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	return newWriter(&lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxBackups: 10,
		MaxAge:     14,
	}, bufferSize), nil
}

func newWriter(out io.WriteCloser, bufferSize int) *Writer {
	if bufferSize < 1 {
		bufferSize = 1
	}
	w := &Writer{
		out:     out,
		writeCh: make(chan worker.Event, bufferSize),
		done:    make(chan struct{}),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// Observe implements worker.Observer.
func (w *Writer) Observe(e worker.Event) {
	select {
	case <-w.done:
		return
	default:
	}
	select {
	case w.writeCh <- e:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		slog.Warn("journal buffer full, dropping record", "kind", e.Kind, "client_id", e.ClientID)
	}
}

// Dropped returns how many records were lost to a full buffer.
func (w *Writer) Dropped() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

// Close stops the writer, flushing what is already queued.
func (w *Writer) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		w.wg.Wait()

		timeout := time.After(5 * time.Second)
	drain:
		for {
			select {
			case e := <-w.writeCh:
				w.write(e)
			case <-timeout:
				slog.Warn("journal close timeout, some records may be lost")
				break drain
			default:
				break drain
			}
		}
		err = w.out.Close()
	})
	return err
}

func (w *Writer) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case e := <-w.writeCh:
			w.write(e)
		case <-w.done:
			return
		}
	}
}

func (w *Writer) write(e worker.Event) {
	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("journal marshal failed", "kind", e.Kind, "error", err)
		return
	}
	if _, err := w.out.Write(append(data, '\n')); err != nil {
		slog.Error("journal write failed", "kind", e.Kind, "error", err)
	}
}
