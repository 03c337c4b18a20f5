// Package channel owns the serial connection to the speech module and
// serialises every exchange on it.
package channel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
)

const (
	dataBits = 8
)

var (
	// ErrChannelUnavailable indicates the connection is closed or broken by an earlier I/O failure.
	ErrChannelUnavailable = errors.New("serial channel unavailable")
	// ErrConnReleased indicates a Conn was used after its Do callback returned.
	ErrConnReleased = errors.New("connection used outside of its lock scope")
	// ErrCloseAbandoned indicates Close gave up waiting for the command in flight.
	ErrCloseAbandoned = errors.New("serial port left open: command still in flight")
)

// Port is the subset of a serial port the guard needs. go.bug.st/serial
// ports satisfy it.
type Port interface {
	io.ReadWriteCloser
	Drain() error
	ResetInputBuffer() error
	SetReadTimeout(t time.Duration) error
}

// Open opens the serial device at path with 8N1 framing.
func Open(path string, baudRate int) (Port, error) {
	port, err := serial.Open(path, &serial.Mode{
		BaudRate: baudRate,
		DataBits: dataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s at %d baud: %w", path, baudRate, err)
	}

	return port, nil
}

// Guard provides mutually exclusive access to a single Port for the lifetime
// of the process. The port is never handed out directly; callers get a Conn
// that is only valid inside Do.
type Guard struct {
	sem  chan struct{}
	port Port

	mu     sync.Mutex
	broken error
	closed bool
}

// NewGuard takes ownership of port.
func NewGuard(port Port) *Guard {
	return &Guard{
		sem:  make(chan struct{}, 1),
		port: port,
	}
}

// Do runs fn with exclusive access to the connection. Waiting for the lock
// gives up when ctx is done; once fn starts it runs to completion.
func (g *Guard) Do(ctx context.Context, fn func(conn *Conn) error) error {
	err := g.acquire(ctx)
	if err != nil {
		return err
	}
	defer g.release()

	err = g.usable()
	if err != nil {
		return err
	}

	conn := &Conn{guard: g, port: g.port}
	defer conn.invalidate()

	return fn(conn)
}

// Close waits for the in-flight command to finish, then closes the port.
// Later calls to Do fail with ErrChannelUnavailable. If ctx ends first the
// port is left open, since a command may still be writing to it, and
// ErrCloseAbandoned is returned.
func (g *Guard) Close(ctx context.Context) error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()

		return nil
	}
	g.closed = true
	g.mu.Unlock()

	err := g.acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCloseAbandoned, err)
	}
	defer g.release()

	err = g.port.Close()
	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}

	return nil
}

// Healthy reports whether the channel can still accept commands.
func (g *Guard) Healthy() error {
	return g.usable()
}

func (g *Guard) acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for serial channel: %w", ctx.Err())
	}
}

func (g *Guard) release() {
	<-g.sem
}

func (g *Guard) usable() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.closed {
		return fmt.Errorf("%w: closed", ErrChannelUnavailable)
	}

	if g.broken != nil {
		return fmt.Errorf("%w: %w", ErrChannelUnavailable, g.broken)
	}

	return nil
}

func (g *Guard) markBroken(err error) error {
	g.mu.Lock()
	if g.broken == nil {
		g.broken = err
	}
	g.mu.Unlock()

	return fmt.Errorf("%w: %w", ErrChannelUnavailable, err)
}

// Conn is the lock-scoped view of the port handed to Do callbacks.
type Conn struct {
	guard *Guard
	port  Port
}

// Write writes a whole frame. A failed write breaks the channel.
func (c *Conn) Write(data []byte) error {
	if c.port == nil {
		return ErrConnReleased
	}

	for len(data) > 0 {
		n, err := c.port.Write(data)
		if err != nil {
			return c.guard.markBroken(fmt.Errorf("serial write: %w", err))
		}

		if n == 0 {
			return c.guard.markBroken(io.ErrShortWrite)
		}

		data = data[n:]
	}

	return nil
}

// Query flushes pending output, discards buffered input, writes request and
// reads a single response byte within timeout. ok is false when no byte
// arrived in time.
func (c *Conn) Query(request []byte, timeout time.Duration) (response byte, ok bool, err error) {
	if c.port == nil {
		return 0, false, ErrConnReleased
	}

	err = c.port.Drain()
	if err != nil {
		return 0, false, c.guard.markBroken(fmt.Errorf("serial drain: %w", err))
	}

	err = c.port.ResetInputBuffer()
	if err != nil {
		return 0, false, c.guard.markBroken(fmt.Errorf("serial input reset: %w", err))
	}

	err = c.port.SetReadTimeout(timeout)
	if err != nil {
		return 0, false, c.guard.markBroken(fmt.Errorf("serial read timeout: %w", err))
	}

	err = c.Write(request)
	if err != nil {
		return 0, false, err
	}

	var buf [1]byte

	n, err := c.port.Read(buf[:])
	if err != nil {
		return 0, false, c.guard.markBroken(fmt.Errorf("serial read: %w", err))
	}

	if n == 0 {
		return 0, false, nil
	}

	return buf[0], true, nil
}

func (c *Conn) invalidate() {
	c.port = nil
}
