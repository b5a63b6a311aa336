package transport

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"

	"github.com/xiaoyuanzhu-com/claude-agent-go/log"
)

// DefaultMaxBufferSize is the default maximum buffer size for JSON messages (1MB)
const DefaultMaxBufferSize = 1024 * 1024

// LineFramer turns a byte stream of newline-delimited JSON into discrete values.
//
// Each physical line is trimmed and appended to an accumulation buffer; the
// buffer is emitted once it holds complete JSON. A JSON value split across
// several lines is therefore reassembled, and several values concatenated on
// one line are emitted one by one. Exceeding the size ceiling is terminal.
type LineFramer struct {
	r   *bufio.Reader
	max int

	buf     []byte
	pending []json.RawMessage
	err     error
}

// NewLineFramer returns a framer reading from r. A non-positive
// maxBufferSize selects DefaultMaxBufferSize.
func NewLineFramer(r io.Reader, maxBufferSize int) *LineFramer {
	if maxBufferSize <= 0 {
		maxBufferSize = DefaultMaxBufferSize
	}
	return &LineFramer{
		r:   bufio.NewReaderSize(r, 64*1024),
		max: maxBufferSize,
	}
}

// Next returns the next complete JSON value. It returns io.EOF when the
// input ends cleanly and a *BufferOverflowError when a value outgrows the
// ceiling; both are sticky.
func (f *LineFramer) Next() (json.RawMessage, error) {
	for {
		if len(f.pending) > 0 {
			v := f.pending[0]
			f.pending = f.pending[1:]
			return v, nil
		}
		if f.err != nil {
			return nil, f.err
		}

		line, readErr := f.readLine()
		if readErr != nil && !errors.Is(readErr, io.EOF) {
			f.fail(readErr)
			continue
		}

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			if size := len(f.buf) + len(trimmed); size > f.max {
				f.fail(&BufferOverflowError{Limit: f.max, Size: size})
				continue
			}
			f.buf = append(f.buf, trimmed...)
			f.split()
		}

		if errors.Is(readErr, io.EOF) {
			if len(f.buf) > 0 {
				log.Debug().Int("bytes", len(f.buf)).Msg("transport: dropping incomplete JSON at end of stream")
			}
			f.fail(io.EOF)
		}
	}
}

func (f *LineFramer) fail(err error) {
	f.buf = nil
	f.err = err
}

// readLine reads one physical line without its terminator. The line is
// abandoned with an overflow as soon as it cannot fit in the buffer.
func (f *LineFramer) readLine() ([]byte, error) {
	var line []byte
	for {
		chunk, err := f.r.ReadSlice('\n')
		line = append(line, chunk...)

		if len(line) > f.max {
			if size := len(f.buf) + len(bytes.TrimSpace(line)); size > f.max {
				return nil, &BufferOverflowError{Limit: f.max, Size: size}
			}
		}

		switch {
		case err == nil:
			return line[:len(line)-1], nil
		case errors.Is(err, bufio.ErrBufferFull):
			continue
		default:
			return line, err
		}
	}
}

// split moves every complete value at the head of the buffer to pending and
// keeps the unparsed tail for the next line.
func (f *LineFramer) split() {
	if json.Valid(f.buf) {
		f.pending = append(f.pending, json.RawMessage(f.buf))
		f.buf = nil
		return
	}

	dec := json.NewDecoder(bytes.NewReader(f.buf))
	consumed := 0
	for {
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			break
		}
		f.pending = append(f.pending, raw)
		consumed = int(dec.InputOffset())
	}
	if consumed == 0 {
		return
	}

	rest := bytes.TrimSpace(f.buf[consumed:])
	f.buf = append([]byte(nil), rest...)
}
