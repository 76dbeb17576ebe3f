package attachment

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"

	"github.com/1ureka/wavelength/internal/protocol"
)

// DefaultMaxBytes is the largest file Prepare accepts by default.
const DefaultMaxBytes = 4 << 20

// Prepare reads the file at path and returns it as an attachment envelope
// addressed to freq: name, size, mime, sha256 (hex) and the base64 data.
// Files larger than maxBytes are refused; maxBytes <= 0 uses DefaultMaxBytes.
func Prepare(ctx context.Context, path string, freq protocol.Frequency, sender string, maxBytes int64) (protocol.Envelope, error) {
	if err := freq.Validate(); err != nil {
		return protocol.Envelope{}, err
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	f, err := os.Open(path)
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("open attachment: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("stat attachment: %w", err)
	}
	if info.IsDir() {
		return protocol.Envelope{}, fmt.Errorf("attachment %s is a directory", path)
	}
	if info.Size() > maxBytes {
		return protocol.Envelope{}, fmt.Errorf("attachment %s is %d bytes, limit %d", path, info.Size(), maxBytes)
	}

	// Read one byte past the limit in case the file grew since Stat.
	data, err := io.ReadAll(io.LimitReader(ctxReader{ctx, f}, maxBytes+1))
	if err != nil {
		return protocol.Envelope{}, fmt.Errorf("read attachment: %w", err)
	}
	if int64(len(data)) > maxBytes {
		return protocol.Envelope{}, fmt.Errorf("attachment %s exceeds %d bytes", path, maxBytes)
	}

	sum := sha256.Sum256(data)
	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	return protocol.Encode(protocol.TypeAttachment, map[string]any{
		"frequency": int(freq),
		"from":      sender,
		"name":      name,
		"size":      len(data),
		"mime":      mimeType,
		"sha256":    hex.EncodeToString(sum[:]),
		"data":      base64.StdEncoding.EncodeToString(data),
	})
}

// Verify decodes an attachment envelope's data and checks it against its
// sha256 field.
func Verify(env protocol.Envelope) ([]byte, error) {
	if env.Type() != protocol.TypeAttachment {
		return nil, fmt.Errorf("envelope type %q is not an attachment", env.Type())
	}
	want := env.Text("sha256")
	if want == "" {
		return nil, errors.New("attachment has no sha256")
	}
	data, err := base64.StdEncoding.DecodeString(env.Text("data"))
	if err != nil {
		return nil, fmt.Errorf("decode attachment data: %w", err)
	}
	sum := sha256.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != want {
		return nil, fmt.Errorf("attachment checksum mismatch: got %s, want %s", got, want)
	}
	return data, nil
}

// ctxReader stops a read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
