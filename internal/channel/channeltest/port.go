// Package channeltest provides an in-memory serial port that records frames
// and answers status queries from a script.
package channeltest

import (
	"bytes"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/book-expert/snr9816-service/internal/frame"
)

// Timeout scripts a status query that gets no reply.
const Timeout = -1

// ErrPortClosed is returned by I/O on a closed Port.
var ErrPortClosed = errors.New("fake port closed")

// Port is a fake serial port. When the script runs out, status queries are
// answered with the Fallback reply.
type Port struct {
	mu sync.Mutex

	written     []byte
	parsed      int
	pending     []byte
	script      []int
	readTimeout time.Duration

	// Fallback is the reply used once the script is exhausted.
	Fallback int
	// WriteChunk limits how many bytes a single Write accepts; 0 means unlimited.
	WriteChunk int
	// WriteErr, when set, fails every Write.
	WriteErr error

	drains  int
	resets  int
	queries int
	closed  bool
}

// New returns a port that reports idle unless scripted otherwise.
func New() *Port {
	return &Port{Fallback: int(frame.StatusIdle)}
}

// Script queues replies for the next status queries. Use Timeout for no reply.
func (p *Port) Script(replies ...int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.script = append(p.script, replies...)
}

// InjectStale places bytes in the input buffer as if left over from an earlier exchange.
func (p *Port) InjectStale(data ...byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pending = append(p.pending, data...)
}

// Write implements io.Writer.
func (p *Port) Write(data []byte) (int, error) {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return 0, ErrPortClosed
	}

	if p.WriteErr != nil {
		p.mu.Unlock()

		return 0, p.WriteErr
	}

	n := len(data)
	if p.WriteChunk > 0 && n > p.WriteChunk {
		n = p.WriteChunk
	}

	p.written = append(p.written, data[:n]...)
	p.answerStatusQueries()
	p.mu.Unlock()

	// Give other goroutines a chance to interleave partial writes.
	runtime.Gosched()

	return n, nil
}

// Read implements io.Reader. It returns 0, nil when nothing is pending, like a
// serial port whose read timeout expired.
func (p *Port) Read(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return 0, ErrPortClosed
	}

	if len(p.pending) == 0 {
		return 0, nil
	}

	n := copy(buf, p.pending)
	p.pending = p.pending[n:]

	return n, nil
}

// Drain implements channel.Port.
func (p *Port) Drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.drains++

	return nil
}

// ResetInputBuffer implements channel.Port.
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.resets++
	p.pending = nil

	return nil
}

// SetReadTimeout implements channel.Port.
func (p *Port) SetReadTimeout(timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.readTimeout = timeout

	return nil
}

// Close implements io.Closer.
func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true

	return nil
}

// Written returns a copy of every byte written so far.
func (p *Port) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	return bytes.Clone(p.written)
}

// Frames decodes the written byte stream into frames. It returns an error if
// the stream does not split cleanly into frames.
func (p *Port) Frames() ([]frame.Frame, error) {
	data := p.Written()

	var frames []frame.Frame

	for len(data) > 0 {
		decoded, n, err := frame.Decode(data)
		if err != nil {
			return frames, err
		}

		frames = append(frames, decoded)
		data = data[n:]
	}

	return frames, nil
}

// Queries returns how many status query frames were written.
func (p *Port) Queries() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.queries
}

// Resets returns how many times the input buffer was discarded.
func (p *Port) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.resets
}

// Drains returns how many times pending output was flushed.
func (p *Port) Drains() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.drains
}

// ReadTimeout returns the last read timeout set on the port.
func (p *Port) ReadTimeout() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.readTimeout
}

// Closed reports whether Close was called.
func (p *Port) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.closed
}

// answerStatusQueries walks the frames completed since the last write and
// queues a reply for each status query among them. Bytes inside another
// frame's payload are never taken for a query. Callers hold p.mu.
func (p *Port) answerStatusQueries() {
	for {
		decoded, n, err := frame.Decode(p.written[p.parsed:])
		if err != nil {
			return
		}

		p.parsed += n

		if decoded.Command == frame.CmdStatus && !decoded.HasCodec {
			p.answerStatusQuery()
		}
	}
}

func (p *Port) answerStatusQuery() {
	p.queries++

	reply := p.Fallback
	if len(p.script) > 0 {
		reply = p.script[0]
		p.script = p.script[1:]
	}

	if reply != Timeout {
		p.pending = append(p.pending, byte(reply))
	}
}
