package attachment

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1ureka/wavelength/internal/protocol"
)

func writeFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestPrepare(t *testing.T) {
	path := writeFile(t, "note.txt", []byte("hello wavelength"))

	env, err := Prepare(context.Background(), path, 88, "alice", 0)
	require.NoError(t, err)

	assert.Equal(t, protocol.TypeAttachment, env.Type())
	assert.Equal(t, "note.txt", env.Text("name"))
	assert.Equal(t, "alice", env.Text("from"))
	assert.Contains(t, env.Text("mime"), "text/plain")
	assert.Equal(t, "be46140a77038fc3846bce551de8adf5b7b1dea71114070913d67d0f2ecbe9f9", env.Text("sha256"))

	freq, err := protocol.FrequencyOf(env)
	require.NoError(t, err)
	assert.Equal(t, protocol.Frequency(88), freq)

	var size int
	require.NoError(t, env.Decode("size", &size))
	assert.Equal(t, 16, size)

	data, err := Verify(env)
	require.NoError(t, err)
	assert.Equal(t, "hello wavelength", string(data))
}

func TestPrepareRejects(t *testing.T) {
	small := writeFile(t, "a.bin", make([]byte, 10))

	tests := []struct {
		name string
		path string
		freq protocol.Frequency
		max  int64
	}{
		{"missing file", filepath.Join(t.TempDir(), "nope"), 100, 0},
		{"directory", t.TempDir(), 100, 0},
		{"too large", small, 100, 9},
		{"bad frequency", small, 12, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Prepare(context.Background(), tt.path, tt.freq, "bob", tt.max)
			assert.Error(t, err)
			assert.True(t, env.IsZero())
		})
	}
}

func TestPrepareCanceled(t *testing.T) {
	path := writeFile(t, "a.bin", make([]byte, 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Prepare(ctx, path, 100, "bob", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestVerifyTampered(t *testing.T) {
	path := writeFile(t, "a.bin", []byte{1, 2, 3})
	env, err := Prepare(context.Background(), path, 100, "bob", 0)
	require.NoError(t, err)

	tampered, err := env.With("data", "AAAA")
	require.NoError(t, err)
	_, err = Verify(tampered)
	assert.ErrorContains(t, err, "checksum mismatch")

	_, err = Verify(protocol.MustEncode(protocol.TypeMessage, nil))
	assert.Error(t, err)
}

// TestPrepareThroughQueue runs preparation as queued work, the way the
// client submits attachments.
func TestPrepareThroughQueue(t *testing.T) {
	path := writeFile(t, "pic.png", []byte("\x89PNG fake"))
	q := newTestQueue(t, 2, QueueOptions{})

	var out protocol.Envelope
	task := q.Submit(func(ctx context.Context) error {
		env, err := Prepare(ctx, path, 250, "carol", 0)
		out = env
		return err
	})
	require.NoError(t, waitDone(t, task).Err)
	assert.Equal(t, "image/png", out.Text("mime"))
	_, err := Verify(out)
	assert.NoError(t, err)
}
