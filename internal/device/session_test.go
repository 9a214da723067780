package device

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a scripted transport: reads drain a preloaded buffer, writes
// are recorded. An empty buffer behaves like a serial poll timeout.
type fakeConn struct {
	reads  bytes.Buffer
	writes bytes.Buffer
	closed int
	// readErr, when set, is returned once the scripted bytes run out.
	readErr error
}

func (f *fakeConn) Read(p []byte) (int, error) {
	if f.reads.Len() == 0 {
		if f.readErr != nil {
			return 0, f.readErr
		}
		return 0, nil
	}
	return f.reads.Read(p)
}

func (f *fakeConn) Write(p []byte) (int, error) {
	return f.writes.Write(p)
}

func (f *fakeConn) Close() error {
	f.closed++
	return nil
}

func dialFake(conn *fakeConn) Dialer {
	return func(port string) (io.ReadWriteCloser, error) {
		return conn, nil
	}
}

func openTestSession(t *testing.T, conn *fakeConn, timeout time.Duration) *Session {
	t.Helper()
	conn.reads.WriteString(rawReplPrompt)
	s, err := Open("/dev/fake0", Options{Timeout: timeout, Dial: dialFake(conn)})
	require.NoError(t, err)
	return s
}

func TestOpenEntersRawRepl(t *testing.T) {
	conn := &fakeConn{}
	s := openTestSession(t, conn, time.Second)
	defer s.Close()

	assert.Equal(t, "/dev/fake0", s.Port())
	// Interrupts first, then requests raw mode.
	assert.True(t, bytes.HasPrefix(conn.writes.Bytes(), []byte(ctrlC+ctrlC+ctrlA)))
}

func TestOpenDialFailure(t *testing.T) {
	dialErr := errors.New("port busy")
	_, err := Open("/dev/held0", Options{
		Timeout: time.Second,
		Dial:    func(string) (io.ReadWriteCloser, error) { return nil, dialErr },
	})

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "/dev/held0", connErr.Port)
	assert.ErrorIs(t, err, dialErr)
}

func TestOpenNoPromptIsConnectionError(t *testing.T) {
	conn := &fakeConn{} // never produces the raw REPL banner
	_, err := Open("/dev/fake0", Options{Timeout: 50 * time.Millisecond, Dial: dialFake(conn)})

	var connErr *ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 1, conn.closed, "failed open must release the port")
}

func TestExecReturnsOutput(t *testing.T) {
	conn := &fakeConn{}
	s := openTestSession(t, conn, time.Second)
	defer s.Close()

	conn.reads.WriteString("OK" + "lib\nboot.py\n" + ctrlD + ctrlD + ">")

	out, err := s.Exec(context.Background(), "import os\nprint('x')")
	require.NoError(t, err)
	assert.Equal(t, "lib\nboot.py\n", string(out))
	// Snippet and terminator went over the wire.
	assert.Contains(t, conn.writes.String(), "import os")
	assert.Contains(t, conn.writes.String(), ctrlD)
}

func TestExecRemoteException(t *testing.T) {
	conn := &fakeConn{}
	s := openTestSession(t, conn, time.Second)
	defer s.Close()

	conn.reads.WriteString("OK" + ctrlD + "Traceback: OSError: 28" + ctrlD + ">")

	_, err := s.Exec(context.Background(), "boom()")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OSError: 28")
}

func TestExecTimeout(t *testing.T) {
	conn := &fakeConn{}
	s := openTestSession(t, conn, 50*time.Millisecond)
	defer s.Close()

	// Device never acknowledges the snippet.
	_, err := s.Exec(context.Background(), "while True: pass")
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestExecHonorsContextDeadline(t *testing.T) {
	conn := &fakeConn{}
	s := openTestSession(t, conn, time.Minute)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := s.Exec(ctx, "print(1)")
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestExecTransportFault(t *testing.T) {
	conn := &fakeConn{readErr: io.ErrClosedPipe}
	s := openTestSession(t, conn, time.Second)
	defer s.Close()

	_, err := s.Exec(context.Background(), "print(1)")
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}

func TestCloseIsIdempotent(t *testing.T) {
	conn := &fakeConn{}
	s := openTestSession(t, conn, time.Second)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, conn.closed)
	// Raw REPL handed back on the way out.
	assert.Contains(t, conn.writes.String(), ctrlB)
}

func TestExecAfterCloseFails(t *testing.T) {
	conn := &fakeConn{}
	s := openTestSession(t, conn, time.Second)
	require.NoError(t, s.Close())

	_, err := s.Exec(context.Background(), "print(1)")
	assert.Error(t, err)
}
