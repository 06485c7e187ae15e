package jsonrpc2

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/dkoosis/jsonrpc2x/internal/logging"
	"github.com/dkoosis/jsonrpc2x/internal/metrics"
)

// flusher is satisfied by writers that can force buffered bytes out, e.g.
// *bufio.Writer. FrameWriter flushes its own bufio.Writer after every frame,
// so each frame is handed to the wrapped io.Writer in full; a Flush method
// on the wrapped io.Writer itself is not called.
type flusher interface {
	Flush() error
}

// FrameWriter serializes messages to a Content-Length framed byte stream,
// serializing concurrent writers so frames are never interleaved.
type FrameWriter struct {
	mu      sync.Mutex
	w       *bufio.Writer
	flush   flusher
	closed  bool
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewFrameWriter wraps w with Content-Length framing. logger may be nil.
func NewFrameWriter(w io.Writer, logger logging.Logger) *FrameWriter {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	bw := bufio.NewWriter(w)
	return &FrameWriter{w: bw, flush: bw, logger: logger.WithField("component", "frame_writer")}
}

// WithMetrics attaches a metrics collector, returning the writer for
// chaining at construction time.
func (f *FrameWriter) WithMetrics(c *metrics.Collector) *FrameWriter {
	f.metrics = c
	return f
}

// Write serializes msg and emits one Content-Length framed payload. Write
// on a closed writer is a silent no-op, and a marshal or I/O failure is
// logged and swallowed rather than propagated, so the stream stays usable
// after any of these conditions.
func (f *FrameWriter) Write(msg interface{}) error {
	data, err := json.Marshal(msg)
	if err != nil {
		f.logger.Error("frame writer: failed to marshal outgoing message, dropping", "error", err)
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}

	header := fmt.Sprintf("Content-Length: %d\r\nContent-Type: application/vscode-jsonrpc; charset=utf8\r\n\r\n", len(data))
	if _, err := f.w.WriteString(header); err != nil {
		f.logger.Error("frame writer: failed to write header", "error", err)
		return nil
	}
	if _, err := f.w.Write(data); err != nil {
		f.logger.Error("frame writer: failed to write body", "error", err)
		return nil
	}
	if f.flush != nil {
		if err := f.flush.Flush(); err != nil {
			f.logger.Error("frame writer: failed to flush", "error", err)
			return nil
		}
	}

	f.metrics.IncFramesWritten()
	return nil
}

// Close marks the writer closed; subsequent Write calls are silent no-ops.
func (f *FrameWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
