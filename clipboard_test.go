package clipwire

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// stubBackend drives the dispatcher without a display server.
type stubBackend struct {
	data    *Data
	written []byte
	format  Format
	cleared bool
	err     error
}

func (s *stubBackend) Read(Format) (*Data, error)  { return s.data, s.err }
func (s *stubBackend) ReadAuto() (*Data, error)    { return s.data, s.err }
func (s *stubBackend) Clear() error                { s.cleared = true; return s.err }
func (s *stubBackend) Formats() ([]Format, error)  { return []Format{s.format}, s.err }
func (s *stubBackend) Close() error                { return nil }
func (s *stubBackend) Write(b []byte, f Format) error {
	s.written = append([]byte(nil), b...)
	s.format = f
	return s.err
}

// stubWaiter additionally emits a fixed change sequence.
type stubWaiter struct {
	stubBackend
	changes []*Data
}

func (s *stubWaiter) WaitForChange() (*Data, error) {
	if len(s.changes) == 0 {
		return nil, ErrReadFailed
	}
	next := s.changes[0]
	s.changes = s.changes[1:]
	return next, nil
}

func TestClipboardRejectsInvalidFormat(t *testing.T) {
	c := &Clipboard{backend: &stubBackend{}}
	_, err := c.Read(Format(42))
	assert.ErrorIs(t, err, ErrInvalidData)
	err = c.Write([]byte("x"), Format(-3))
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestClipboardWriteForwardsToBackend(t *testing.T) {
	stub := &stubBackend{}
	c := &Clipboard{backend: stub}
	buf := []byte("mutable")
	require.NoError(t, c.Write(buf, Text))
	assert.Equal(t, []byte("mutable"), stub.written)
	assert.Equal(t, Text, stub.format)
}

func TestWatchUnsupportedWithoutWaiter(t *testing.T) {
	c := &Clipboard{backend: &stubBackend{}}
	_, err := c.Watch(context.Background())
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
	_, err = c.WaitForChange()
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestWaitForChangeForwards(t *testing.T) {
	waiter := &stubWaiter{changes: []*Data{newData([]byte("x"), Text)}}
	c := &Clipboard{backend: waiter}
	data, err := c.WaitForChange()
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data.Bytes())
}

func TestWatchEmitsChangesInOrder(t *testing.T) {
	waiter := &stubWaiter{changes: []*Data{
		newData([]byte("a"), Text),
		newData([]byte("b"), Text),
		newData([]byte("c"), Text),
	}}
	c := &Clipboard{backend: waiter, logger: zap.NewNop()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	ch, err := c.Watch(ctx)
	require.NoError(t, err)

	var got []string
	for data := range ch {
		s, err := data.Text()
		require.NoError(t, err)
		got = append(got, s)
	}
	assert.Equal(t, []string{"a", "b", "c"}, got)
}

// Integration coverage below talks to a real display server and skips
// everywhere else.

func requireDisplay(t *testing.T) *Clipboard {
	t.Helper()
	if os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == "" {
		t.Skip("no display server configured")
	}
	c, err := New()
	if err != nil {
		t.Skipf("clipboard backend unavailable: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestWriteReadTextRoundTrip(t *testing.T) {
	c := requireDisplay(t)

	payload := []byte("Hello, clipboard!")
	require.NoError(t, c.Write(payload, Text))

	data, err := c.Read(Text)
	require.NoError(t, err)
	assert.Equal(t, payload, data.Bytes())
	assert.Equal(t, Text, data.Format())
}

func TestWriteReadRepeated(t *testing.T) {
	c := requireDisplay(t)

	payload := []byte("repeated reads")
	require.NoError(t, c.Write(payload, Text))
	for i := 0; i < 5; i++ {
		data, err := c.Read(Text)
		require.NoError(t, err, "read %d", i)
		assert.Equal(t, payload, data.Bytes(), "read %d", i)
	}
}

func TestFormatsAfterTextWrite(t *testing.T) {
	c := requireDisplay(t)

	require.NoError(t, c.Write([]byte("format probe"), Text))
	formats, err := c.Formats()
	require.NoError(t, err)
	assert.Contains(t, formats, Text)
}

func TestReadMismatchedFormat(t *testing.T) {
	c := requireDisplay(t)

	require.NoError(t, c.Write([]byte("text only"), Text))
	_, err := c.Read(Image)
	if err == nil {
		t.Skip("another application replaced the clipboard mid-test")
	}
	assert.True(t, errors.Is(err, ErrInvalidData) || errors.Is(err, ErrNoData), "got %v", err)
}

func TestClearLeavesNoData(t *testing.T) {
	c := requireDisplay(t)

	require.NoError(t, c.Write([]byte("to be cleared"), Text))
	require.NoError(t, c.Clear())

	_, err := c.Read(Text)
	if err == nil {
		t.Skip("another application owns the clipboard")
	}
	assert.ErrorIs(t, err, ErrNoData)
}

func TestWriteEmptyPayload(t *testing.T) {
	c := requireDisplay(t)
	assert.ErrorIs(t, c.Write(nil, Text), ErrNoData)
}
