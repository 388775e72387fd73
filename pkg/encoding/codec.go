package encoding

import (
	"bytes"
	"fmt"
	"io"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// BrotliLevel is the brotli quality used when encoding.
// Higher levels are very CPU-expensive for dynamic content.
const BrotliLevel = 4

// Codec converts in-memory buffers between Identity and another encoding.
type Codec interface {
	// Encode encodes identity bytes into e.
	Encode(e Encoding, identity []byte) ([]byte, error)
	// Decode decodes bytes in e back to identity.
	Decode(e Encoding, encoded []byte) ([]byte, error)
}

// Default is the codec backed by the stream codecs of this package.
var Default Codec = streamCodec{}

type streamCodec struct{}

func (streamCodec) Encode(e Encoding, identity []byte) ([]byte, error) {
	if e == Identity {
		return identity, nil
	}
	var buf bytes.Buffer
	w, err := NewWriter(e, &buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(identity); err != nil {
		w.Close()
		return nil, fmt.Errorf("encode %s: %w", e, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("encode %s: %w", e, err)
	}
	return buf.Bytes(), nil
}

func (streamCodec) Decode(e Encoding, encoded []byte) ([]byte, error) {
	if e == Identity {
		return encoded, nil
	}
	r, err := NewReader(e, bytes.NewReader(encoded))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	identity, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", e, err)
	}
	return identity, nil
}

// NewWriter returns a writer that encodes everything written to it into w.
// Close must be called to flush the final frame; it does not close w.
func NewWriter(e Encoding, w io.Writer) (io.WriteCloser, error) {
	switch e {
	case Identity:
		return nopWriteCloser{w}, nil
	case Brotli:
		return brotli.NewWriterLevel(w, BrotliLevel), nil
	case Deflate:
		return zlib.NewWriter(w), nil
	case GZip:
		return gzip.NewWriter(w), nil
	case Zstandard:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupported, int(e))
}

// NewReader returns a reader that decodes r.
// Close releases the decoder; it does not close r.
func NewReader(e Encoding, r io.Reader) (io.ReadCloser, error) {
	switch e {
	case Identity:
		return io.NopCloser(r), nil
	case Brotli:
		return io.NopCloser(brotli.NewReader(r)), nil
	case Deflate:
		zr, err := zlib.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("deflate reader: %w", err)
		}
		return zr, nil
	case GZip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip reader: %w", err)
		}
		return gr, nil
	case Zstandard:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return zstdReadCloser{dec}, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnsupported, int(e))
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type zstdReadCloser struct {
	*zstd.Decoder
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}
