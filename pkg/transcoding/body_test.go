package transcoding

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/transcache/pkg/encoding"
)

var content = []byte(strings.Repeat("The quick brown fox jumps over the lazy dog. ", 2000))

type closeRecorder struct {
	io.Reader
	closed bool
}

func (c *closeRecorder) Close() error {
	c.closed = true
	return nil
}

func source(data []byte) *closeRecorder {
	return &closeRecorder{Reader: iotest.HalfReader(bytes.NewReader(data))}
}

func TestEncodingRoundTrip(t *testing.T) {
	for _, enc := range encoding.All {
		t.Run(enc.String(), func(t *testing.T) {
			src := source(content[100:])
			body := Encoding(src, content[:100], enc)
			encoded, err := io.ReadAll(body)
			require.NoError(t, err)
			require.NoError(t, body.Close())
			assert.True(t, src.closed)

			decoded, err := encoding.Default.Decode(enc, encoded)
			require.NoError(t, err)
			assert.Equal(t, content, decoded)
			assert.Equal(t, enc, body.Encoding(encoding.Identity))
		})
	}
}

func TestDecoding(t *testing.T) {
	for _, enc := range encoding.All {
		t.Run(enc.String(), func(t *testing.T) {
			encoded, err := encoding.Default.Encode(enc, content)
			require.NoError(t, err)

			body := Decoding(source(encoded[5:]), encoded[:5], enc)
			decoded, err := io.ReadAll(body)
			require.NoError(t, err)
			require.NoError(t, body.Close())
			assert.Equal(t, content, decoded)
			assert.Equal(t, encoding.Identity, body.Encoding(enc))
		})
	}
}

func TestDecodingGarbage(t *testing.T) {
	body := Decoding(source([]byte("definitely not gzip")), nil, encoding.GZip)
	_, err := io.ReadAll(body)
	assert.Error(t, err)
	assert.NoError(t, body.Close())
}

func TestPassthrough(t *testing.T) {
	body := Passthrough(source([]byte("world")), []byte("hello "))
	assert.Equal(t, ModePassthrough, body.Mode())
	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
	assert.Equal(t, encoding.Brotli, body.Encoding(encoding.Brotli))
}

func TestIdentityIsPassthrough(t *testing.T) {
	assert.Equal(t, ModePassthrough, Encoding(nil, nil, encoding.Identity).Mode())
	assert.Equal(t, ModePassthrough, Decoding(nil, nil, encoding.Identity).Mode())
}

func TestEncodingBuffersOneChunk(t *testing.T) {
	body := Encoding(io.NopCloser(bytes.NewReader(content)), nil, encoding.GZip)
	buf := make([]byte, 64)
	for {
		_, err := body.Read(buf)
		assert.LessOrEqual(t, body.pending.Len(), ChunkSize+ChunkSize/2)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
}

func TestTrailerAfterEOF(t *testing.T) {
	trailer := http.Header{"Content-Digest": {"sha-256=:abc=:"}}
	body := Encoding(io.NopCloser(bytes.NewReader(content)), nil, encoding.Brotli).
		WithTrailer(func() http.Header { return trailer })

	_, err := body.Read(make([]byte, 10))
	require.NoError(t, err)
	assert.Nil(t, body.Trailer(), "no trailers before the source is exhausted")

	_, err = io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, trailer, body.Trailer())
}

func TestSourceError(t *testing.T) {
	failure := errors.New("connection reset")
	src := io.NopCloser(io.MultiReader(bytes.NewReader(content[:10]), iotest.ErrReader(failure)))
	body := Encoding(src, nil, encoding.Zstandard)
	_, err := io.ReadAll(body)
	assert.ErrorIs(t, err, failure)
	assert.NoError(t, body.Close())
}

func TestCloseBeforeEOF(t *testing.T) {
	src := source(content)
	body := Encoding(src, nil, encoding.Zstandard)
	_, err := body.Read(make([]byte, 10))
	require.NoError(t, err)
	assert.NoError(t, body.Close())
	assert.True(t, src.closed)
}
