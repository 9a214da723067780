package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/openbagtwo/fbsync/pkg/logging"
)

// Control bytes of the MicroPython/CircuitPython REPL.
const (
	ctrlA = "\r\x01" // enter raw REPL
	ctrlB = "\r\x02" // leave raw REPL
	ctrlC = "\r\x03" // interrupt running program
	ctrlD = "\x04"   // end of snippet / output frame separator
)

const rawReplPrompt = "raw REPL; CTRL-B to exit\r\n>"

// writeChunkSize bounds single writes so the device-side input buffer is
// never overrun.
const writeChunkSize = 256

// ErrTimeout is returned (wrapped) when a remote call exceeds its deadline.
// A hung device is indistinguishable from a slow one, so every remote call
// carries an explicit bound.
var ErrTimeout = errors.New("timed out waiting for device")

// Dialer opens a transport to the given endpoint. Swappable for tests.
type Dialer func(port string) (io.ReadWriteCloser, error)

// Options configures a Session.
type Options struct {
	BaudRate int
	Timeout  time.Duration
	Dial     Dialer
}

// Session owns exactly one logical connection to a device for the duration
// of a run. Operations execute synchronously in issue order; the serial
// link supports a single in-flight request.
type Session struct {
	port    string
	conn    io.ReadWriteCloser
	timeout time.Duration
	pending []byte
	closed  bool
}

// Open connects to the endpoint and switches the REPL into raw mode. Fails
// with ConnectionError if the port is unreachable, busy, or the REPL never
// answers.
func Open(port string, opts Options) (*Session, error) {
	if opts.BaudRate == 0 {
		opts.BaudRate = 115200
	}
	if opts.Timeout == 0 {
		opts.Timeout = 10 * time.Second
	}
	dial := opts.Dial
	if dial == nil {
		dial = serialDialer(opts.BaudRate)
	}

	conn, err := dial(port)
	if err != nil {
		return nil, &ConnectionError{Port: port, Err: err}
	}

	s := &Session{
		port:    port,
		conn:    conn,
		timeout: opts.Timeout,
	}

	if err := s.enterRawRepl(); err != nil {
		_ = conn.Close()
		s.closed = true
		return nil, &ConnectionError{Port: port, Err: err}
	}

	logger := logging.GetLogger("device")
	logger.Debug().Str("port", port).Msg("session opened")
	return s, nil
}

func serialDialer(baudRate int) Dialer {
	return func(port string) (io.ReadWriteCloser, error) {
		p, err := serial.Open(port, &serial.Mode{BaudRate: baudRate})
		if err != nil {
			return nil, err
		}
		// Short poll interval; overall deadlines are enforced per call.
		if err := p.SetReadTimeout(100 * time.Millisecond); err != nil {
			_ = p.Close()
			return nil, err
		}
		return p, nil
	}
}

// Port returns the endpoint this session is bound to.
func (s *Session) Port() string { return s.port }

// Close leaves raw REPL mode and releases the port. Idempotent.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	// Best effort: hand the REPL back to the interactive prompt.
	_, _ = s.conn.Write([]byte(ctrlB))
	err := s.conn.Close()
	logger := logging.GetLogger("device")
	logger.Debug().Str("port", s.port).Msg("session closed")
	return err
}

// Exec runs a snippet on the device and returns whatever it printed. A
// device-side exception or an exceeded deadline is returned as an error;
// callers classify it into their own operation context.
func (s *Session) Exec(ctx context.Context, code string) ([]byte, error) {
	if s.closed {
		return nil, errors.New("session is closed")
	}

	deadline := time.Now().Add(s.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	payload := []byte(code)
	for len(payload) > 0 {
		n := len(payload)
		if n > writeChunkSize {
			n = writeChunkSize
		}
		if _, err := s.conn.Write(payload[:n]); err != nil {
			return nil, fmt.Errorf("write snippet: %w", err)
		}
		payload = payload[n:]
	}
	if _, err := s.conn.Write([]byte(ctrlD)); err != nil {
		return nil, fmt.Errorf("write snippet terminator: %w", err)
	}

	if _, err := s.readUntil(deadline, []byte("OK")); err != nil {
		return nil, fmt.Errorf("snippet not accepted: %w", err)
	}

	out, err := s.readUntil(deadline, []byte(ctrlD))
	if err != nil {
		return nil, fmt.Errorf("read snippet output: %w", err)
	}
	errOut, err := s.readUntil(deadline, []byte(ctrlD))
	if err != nil {
		return nil, fmt.Errorf("read snippet status: %w", err)
	}
	if trimmed := bytes.TrimSpace(errOut); len(trimmed) > 0 {
		return out, fmt.Errorf("remote exception: %s", trimmed)
	}
	return out, nil
}

func (s *Session) enterRawRepl() error {
	deadline := time.Now().Add(s.timeout)

	// Interrupt whatever is running, twice, then request raw mode.
	if _, err := s.conn.Write([]byte(ctrlC + ctrlC)); err != nil {
		return fmt.Errorf("interrupt: %w", err)
	}
	if _, err := s.conn.Write([]byte(ctrlA)); err != nil {
		return fmt.Errorf("request raw repl: %w", err)
	}
	if _, err := s.readUntil(deadline, []byte(rawReplPrompt)); err != nil {
		return fmt.Errorf("raw repl prompt: %w", err)
	}
	return nil
}

// readUntil accumulates transport bytes until marker appears, returning
// everything before it. The marker is consumed; bytes past it stay queued
// for the next call.
func (s *Session) readUntil(deadline time.Time, marker []byte) ([]byte, error) {
	chunk := make([]byte, 256)
	for {
		if i := bytes.Index(s.pending, marker); i >= 0 {
			out := s.pending[:i]
			s.pending = append([]byte(nil), s.pending[i+len(marker):]...)
			return out, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		n, err := s.conn.Read(chunk)
		if n > 0 {
			s.pending = append(s.pending, chunk[:n]...)
		}
		if err != nil {
			return nil, fmt.Errorf("transport read: %w", err)
		}
		if n == 0 {
			// Serial reads return empty on poll timeout; avoid a hot loop
			// with scripted test transports that do the same.
			time.Sleep(time.Millisecond)
		}
	}
}
