package jsonrpc2

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strconv"
	"strings"

	"github.com/dkoosis/jsonrpc2x/internal/logging"
	"github.com/dkoosis/jsonrpc2x/internal/metrics"
)

const contentLengthHeader = "Content-Length:"

// FrameReader parses a byte stream into a sequence of framed JSON-RPC
// messages, per the Content-Length header framing LSP and its relatives use.
// A frame whose body is not valid JSON is skipped and reading continues; a
// malformed header block ends the stream.
type FrameReader struct {
	r       *bufio.Reader
	logger  logging.Logger
	metrics *metrics.Collector
}

// NewFrameReader wraps r with Content-Length frame parsing. logger and
// metrics may be nil; a nil logger is replaced with a no-op, a nil metrics
// collector simply isn't incremented.
func NewFrameReader(r io.Reader, logger logging.Logger) *FrameReader {
	if logger == nil {
		logger = logging.GetNoopLogger()
	}
	return &FrameReader{r: bufio.NewReader(r), logger: logger.WithField("component", "frame_reader")}
}

// WithMetrics attaches a metrics collector, returning the reader for
// chaining at construction time.
func (f *FrameReader) WithMetrics(c *metrics.Collector) *FrameReader {
	f.metrics = c
	return f
}

// Listen drives the stream until EOF or ctx is cancelled, invoking consume
// for each successfully parsed message. Listen never blocks consume beyond
// the call itself — callers that want asynchronous handling should spawn
// their own goroutine from inside consume; this keeps Listen's own
// ordering guarantee (consume is *invoked* in stream order) simple to
// reason about.
func (f *FrameReader) Listen(ctx context.Context, consume func(*Message)) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		contentLength, err := f.readHeaders()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			f.logger.Error("frame reader: malformed header block, terminating", "error", err)
			f.metrics.IncMalformedFrames()
			return nil
		}
		if contentLength < 0 {
			// Clean EOF before any header line.
			return nil
		}

		body := make([]byte, contentLength)
		if _, err := io.ReadFull(f.r, body); err != nil {
			f.logger.Warn("frame reader: short read at EOF, terminating", "error", err)
			return nil
		}

		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			f.logger.Warn("frame reader: failed to parse frame body, skipping", "error", err)
			f.metrics.IncMalformedFrames()
			continue
		}

		f.metrics.IncFramesRead()
		consume(&msg)
	}
}

// readHeaders reads one header block and returns the parsed Content-Length.
// A return of (-1, nil) means a clean EOF before any header line was read.
func (f *FrameReader) readHeaders() (int, error) {
	contentLength := -1
	sawLine := false

	for {
		line, err := f.r.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				// Whether EOF arrived before any header line or mid-block,
				// both terminate cleanly without invoking consume.
				if !sawLine {
					return -1, nil
				}
				return -1, io.EOF
			}
			return 0, err
		}
		sawLine = true

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}

		if strings.HasPrefix(line, contentLengthHeader) {
			lenStr := strings.TrimSpace(strings.TrimPrefix(line, contentLengthHeader))
			n, convErr := strconv.Atoi(lenStr)
			if convErr != nil {
				return 0, convErr
			}
			if n < 0 {
				return 0, errMissingContentLength
			}
			contentLength = n
		}
		// Content-Type and any other header is read and ignored, per §4.A.
	}

	if contentLength < 0 {
		return 0, errMissingContentLength
	}
	return contentLength, nil
}

var errMissingContentLength = newFramingError("missing or invalid Content-Length header")

type framingError struct{ msg string }

func (e *framingError) Error() string { return e.msg }

func newFramingError(msg string) error { return &framingError{msg: msg} }
