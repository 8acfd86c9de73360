//go:build linux && !android

package clipwire

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionType(t *testing.T) {
	cases := []struct {
		name        string
		sessionType string
		display     string
		want        session
	}{
		{"wayland session", "wayland", "", sessionWayland},
		{"wayland session with display", "wayland", ":0", sessionWayland},
		{"x11 session", "x11", "", sessionX11},
		{"no session type, display set", "", ":0", sessionX11},
		{"tty session, display set", "tty", ":1", sessionX11},
		{"nothing configured", "", "", sessionNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("XDG_SESSION_TYPE", tc.sessionType)
			t.Setenv("DISPLAY", tc.display)
			assert.Equal(t, tc.want, sessionType())
		})
	}
}

func TestNewUnsupportedWithoutSession(t *testing.T) {
	t.Setenv("XDG_SESSION_TYPE", "")
	t.Setenv("DISPLAY", "")
	t.Setenv("WAYLAND_DISPLAY", "")
	_, err := New()
	assert.ErrorIs(t, err, ErrUnsupportedPlatform)
}

func TestComputeChunkSize(t *testing.T) {
	// Request sizes below the floor clamp to 4096.
	assert.Equal(t, 4096, computeChunkSize(0, 0))
	assert.Equal(t, 4096, computeChunkSize(0, 16000))
	// The larger of the two advertised sizes wins.
	assert.Equal(t, 65536, computeChunkSize(262144, 65536))
	assert.Equal(t, 1048576, computeChunkSize(4194304, 65536))
}

func TestIncrChunksPartition(t *testing.T) {
	const chunk = 4096

	// Payload equal to the chunk size stays single-shot on the wire; the
	// owner only streams when the payload exceeds it.
	assert.Equal(t, []int{chunk}, incrChunks(chunk, chunk))
	assert.Equal(t, []int{chunk, 1}, incrChunks(chunk+1, chunk))

	chunks := incrChunks(1_000_000, chunk)
	total := 0
	for _, n := range chunks {
		require.LessOrEqual(t, n, chunk)
		require.Positive(t, n)
		total += n
	}
	assert.Equal(t, 1_000_000, total)
}

func TestParseOwnerWindow(t *testing.T) {
	w, err := parseOwnerWindow("ok 4194305")
	require.NoError(t, err)
	assert.Equal(t, xWindow(4194305), w)

	_, err = parseOwnerWindow("ok")
	assert.ErrorIs(t, err, ErrWriteFailed)
	_, err = parseOwnerWindow("ok not-a-window")
	assert.ErrorIs(t, err, ErrWriteFailed)
	_, err = parseOwnerWindow("")
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestServeEnvelopeRoundTrip(t *testing.T) {
	payload := []byte{0x89, 'P', 'N', 'G', 0, 1, 2, 0xff}
	encoded, err := encodeServeEnvelope(serveEnvelope{Backend: serveBackendX11, Format: Image, Payload: payload})
	require.NoError(t, err)

	decoded, err := decodeServeEnvelope(strings.NewReader(string(encoded)))
	require.NoError(t, err)
	assert.Equal(t, serveBackendX11, decoded.Backend)
	assert.Equal(t, Image, decoded.Format)
	assert.Equal(t, payload, decoded.Payload)
}

func TestServeEnvelopeRejectsBadInput(t *testing.T) {
	_, err := decodeServeEnvelope(strings.NewReader(`{"backend":"cocoa","format":0,"payload":"aGk="}`))
	assert.ErrorIs(t, err, ErrWriteFailed)

	_, err = decodeServeEnvelope(strings.NewReader(`{"backend":"x11","format":0,"payload":""}`))
	assert.ErrorIs(t, err, ErrWriteFailed)

	_, err = decodeServeEnvelope(strings.NewReader("not json"))
	assert.ErrorIs(t, err, ErrWriteFailed)
}

func TestAwaitHelperReady(t *testing.T) {
	ready, err := awaitHelperReady(io.NopCloser(strings.NewReader("ok 77\n")))
	require.NoError(t, err)
	assert.Equal(t, "ok 77", ready)
}

func TestAwaitHelperReadyFailure(t *testing.T) {
	_, err := awaitHelperReady(io.NopCloser(strings.NewReader("err selection refused\n")))
	require.ErrorIs(t, err, ErrWriteFailed)
	assert.Contains(t, err.Error(), "selection refused")

	// Helper exiting without a report reads as EOF.
	_, err = awaitHelperReady(io.NopCloser(strings.NewReader("")))
	assert.ErrorIs(t, err, ErrWriteFailed)
}
