package cache

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/transcache/pkg/encoding"
)

var content = bytes.Repeat([]byte("Hello world, hello cache. "), 400)

type countingCodec struct {
	encodes int
	decodes int
}

func (c *countingCodec) Encode(e encoding.Encoding, identity []byte) ([]byte, error) {
	c.encodes++
	return encoding.Default.Encode(e, identity)
}

func (c *countingCodec) Decode(e encoding.Encoding, encoded []byte) ([]byte, error) {
	c.decodes++
	return encoding.Default.Decode(e, encoded)
}

func (c *countingCodec) calls() int {
	return c.encodes + c.decodes
}

func seededEntry(t *testing.T, enc encoding.Encoding) *Entry {
	t.Helper()
	body, err := encoding.Default.Encode(enc, content)
	require.NoError(t, err)
	return &Entry{
		Status:    http.StatusOK,
		Header:    http.Header{"Content-Type": {"text/plain"}},
		Bodies:    map[encoding.Encoding][]byte{enc: body},
		Encodable: true,
	}
}

func TestCascadeRoundTrip(t *testing.T) {
	for _, from := range encoding.All {
		for _, to := range encoding.All {
			t.Run(from.String()+"-"+to.String(), func(t *testing.T) {
				e := seededEntry(t, from)
				b, _, err := e.Bytes(to, false, nil)
				require.NoError(t, err)
				identity, err := encoding.Default.Decode(to, b)
				require.NoError(t, err)
				assert.Equal(t, content, identity)
			})
		}
	}
}

func TestCascadeAtMostOneTranscode(t *testing.T) {
	for _, to := range encoding.All {
		t.Run(to.String(), func(t *testing.T) {
			codec := &countingCodec{}
			e := seededEntry(t, encoding.GZip)

			first, next, err := e.Bytes(to, false, codec)
			require.NoError(t, err)
			calls := codec.calls()
			if to == encoding.GZip {
				assert.Nil(t, next)
				assert.Zero(t, calls)
				return
			}
			require.NotNil(t, next)
			assert.NotZero(t, calls)

			second, again, err := next.Bytes(to, false, codec)
			require.NoError(t, err)
			assert.Nil(t, again)
			assert.Equal(t, calls, codec.calls())
			assert.Equal(t, first, second)
		})
	}
}

func TestCascadeIsCopyOnWrite(t *testing.T) {
	e := seededEntry(t, encoding.Brotli)
	_, next, err := e.Bytes(encoding.Zstandard, true, nil)
	require.NoError(t, err)

	assert.Len(t, e.Bodies, 1)
	assert.True(t, next.Has(encoding.Brotli))
	assert.True(t, next.Has(encoding.Zstandard))
	assert.True(t, next.Has(encoding.Identity))
}

func TestCascadeStoreIdentity(t *testing.T) {
	e := seededEntry(t, encoding.Deflate)

	_, next, err := e.Bytes(encoding.GZip, false, nil)
	require.NoError(t, err)
	assert.False(t, next.Has(encoding.Identity))

	_, next, err = e.Bytes(encoding.Identity, false, nil)
	require.NoError(t, err)
	assert.True(t, next.Has(encoding.Identity), "requested identity is always kept")
}

func TestCascadePrefersIdentitySource(t *testing.T) {
	codec := &countingCodec{}
	e := seededEntry(t, encoding.Brotli)
	e.Bodies[encoding.Identity] = content

	_, _, err := e.Bytes(encoding.GZip, false, codec)
	require.NoError(t, err)
	assert.Equal(t, 1, codec.encodes)
	assert.Zero(t, codec.decodes)
}

func TestCascadeDecodesCheapestFirst(t *testing.T) {
	codec := &decodeRecorder{}
	e := seededEntry(t, encoding.Brotli)
	zstd, err := encoding.Default.Encode(encoding.Zstandard, content)
	require.NoError(t, err)
	e.Bodies[encoding.Zstandard] = zstd

	_, _, err = e.Bytes(encoding.Identity, false, codec)
	require.NoError(t, err)
	assert.Equal(t, []encoding.Encoding{encoding.Zstandard}, codec.decoded)
}

type decodeRecorder struct {
	decoded []encoding.Encoding
}

func (c *decodeRecorder) Encode(e encoding.Encoding, identity []byte) ([]byte, error) {
	return encoding.Default.Encode(e, identity)
}

func (c *decodeRecorder) Decode(e encoding.Encoding, encoded []byte) ([]byte, error) {
	c.decoded = append(c.decoded, e)
	return encoding.Default.Decode(e, encoded)
}

func TestCascadeFailureLeavesEntry(t *testing.T) {
	e := &Entry{
		Status:    http.StatusOK,
		Header:    http.Header{},
		Bodies:    map[encoding.Encoding][]byte{encoding.GZip: []byte("not gzip at all")},
		Encodable: true,
	}
	b, next, err := e.Bytes(encoding.Brotli, true, nil)
	assert.Error(t, err)
	assert.Nil(t, b)
	assert.Nil(t, next)
	assert.Len(t, e.Bodies, 1)
}

func TestEmptyEntry(t *testing.T) {
	_, _, err := (&Entry{}).Bytes(encoding.Identity, false, nil)
	assert.ErrorIs(t, err, ErrNoEncodings)
}

func upstreamResponse(header http.Header, body io.Reader) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     header,
		Body:       io.NopCloser(body),
	}
}

func TestReadEntryStripsHeaders(t *testing.T) {
	gz, err := encoding.Default.Encode(encoding.GZip, content)
	require.NoError(t, err)
	res := upstreamResponse(http.Header{
		"Content-Type":      {"text/plain"},
		"Content-Encoding":  {"gzip"},
		"Content-Length":    {"1234"},
		"Content-Digest":    {"sha-256=:abc=:"},
		"Etag":              {`"v1"`},
		"Xx-Cache":          {"true"},
		"Xx-Encode":         {"false"},
		"Xx-Cache-Duration": {"60"},
	}, bytes.NewReader(gz))

	before := time.Now()
	e, err := ReadEntry(res, EntryOptions{Encodable: true})
	require.NoError(t, err)

	assert.Equal(t, http.Header{"Content-Type": {"text/plain"}, "Etag": {`"v1"`}}, e.Header)
	assert.Equal(t, gz, e.Bodies[encoding.GZip])
	assert.False(t, e.Encodable)
	assert.WithinDuration(t, before.Add(time.Minute), e.Expires, 5*time.Second)
}

func TestReadEntryUnsupportedEncoding(t *testing.T) {
	res := upstreamResponse(http.Header{"Content-Encoding": {"compress"}}, strings.NewReader("x"))
	_, err := ReadEntry(res, EntryOptions{})
	assert.ErrorIs(t, err, encoding.ErrUnsupported)
}

func TestReadEntryTooLargeKeepsPieces(t *testing.T) {
	res := upstreamResponse(http.Header{}, bytes.NewReader(content))
	_, err := ReadEntry(res, EntryOptions{MaxBodySize: 100})

	var pieces *PiecesError
	require.ErrorAs(t, err, &pieces)
	assert.ErrorIs(t, err, ErrBodyTooLarge)
	body, err := io.ReadAll(pieces.Body())
	require.NoError(t, err)
	assert.Equal(t, content, body)
}

func TestReadEntryReadErrorKeepsPieces(t *testing.T) {
	failure := errors.New("connection reset")
	res := upstreamResponse(http.Header{}, io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(failure)))
	_, err := ReadEntry(res, EntryOptions{})

	var pieces *PiecesError
	require.ErrorAs(t, err, &pieces)
	assert.ErrorIs(t, err, failure)
	assert.Equal(t, []byte("partial"), pieces.Read)
}

func TestPrepare(t *testing.T) {
	res := upstreamResponse(http.Header{}, bytes.NewReader(content))
	e, err := NewEntry(res, encoding.GZip, EntryOptions{Encodable: true})
	require.NoError(t, err)
	assert.True(t, e.Has(encoding.GZip))
	assert.False(t, e.Has(encoding.Identity), "identity is only stored when asked to")

	res = upstreamResponse(http.Header{}, bytes.NewReader(content))
	e, err = NewEntry(res, encoding.GZip, EntryOptions{Encodable: true, StoreIdentity: true})
	require.NoError(t, err)
	assert.True(t, e.Has(encoding.GZip))
	assert.True(t, e.Has(encoding.Identity))

	res = upstreamResponse(http.Header{}, bytes.NewReader(content))
	e, err = NewEntry(res, encoding.GZip, EntryOptions{Encodable: false})
	require.NoError(t, err)
	assert.Equal(t, []encoding.Encoding{encoding.Identity}, keys(e))
}

func keys(e *Entry) []encoding.Encoding {
	var encs []encoding.Encoding
	for _, enc := range encoding.All {
		if e.Has(enc) {
			encs = append(encs, enc)
		}
	}
	return encs
}

func TestResponse(t *testing.T) {
	e := seededEntry(t, encoding.Identity)
	res, next, err := e.Response(encoding.Brotli, false, nil)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, "br", res.Header.Get("Content-Encoding"))
	assert.Equal(t, "text/plain", res.Header.Get("Content-Type"))
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, int64(len(body)), res.ContentLength)
	identity, err := encoding.Default.Decode(encoding.Brotli, body)
	require.NoError(t, err)
	assert.Equal(t, content, identity)
	assert.Empty(t, e.Header.Get("Content-Encoding"), "stored header is not modified")

	res, _, err = next.Response(encoding.Identity, false, nil)
	require.NoError(t, err)
	assert.Empty(t, res.Header.Values("Content-Encoding"))
}

func TestResponseNotEncodable(t *testing.T) {
	e := seededEntry(t, encoding.Deflate)
	e.Encodable = false
	res, next, err := e.Response(encoding.Brotli, false, nil)
	require.NoError(t, err)
	assert.Nil(t, next)
	assert.Equal(t, "deflate", res.Header.Get("Content-Encoding"))
}

func TestExpired(t *testing.T) {
	now := time.Now()
	assert.False(t, (&Entry{}).Expired(now))
	assert.False(t, (&Entry{Expires: now.Add(time.Second)}).Expired(now))
	assert.True(t, (&Entry{Expires: now}).Expired(now))
}

func TestControlHeaders(t *testing.T) {
	h := http.Header{}
	assert.True(t, BoolHeader(h, HeaderCache, true))
	h.Set(HeaderCache, "FALSE")
	assert.False(t, BoolHeader(h, HeaderCache, true))
	h.Set(HeaderCache, "maybe")
	assert.True(t, BoolHeader(h, HeaderCache, true))

	_, ok := DurationHeader(h, HeaderCacheDuration)
	assert.False(t, ok)
	h.Set(HeaderCacheDuration, "90")
	d, ok := DurationHeader(h, HeaderCacheDuration)
	assert.True(t, ok)
	assert.Equal(t, 90*time.Second, d)
	h.Set(HeaderCacheDuration, "1m30s")
	d, _ = DurationHeader(h, HeaderCacheDuration)
	assert.Equal(t, 90*time.Second, d)
	for _, zero := range []string{"0", "0s"} {
		h.Set(HeaderCacheDuration, zero)
		d, ok = DurationHeader(h, HeaderCacheDuration)
		assert.True(t, ok, zero)
		assert.Zero(t, d, zero)
	}
	h.Set(HeaderCacheDuration, "-5s")
	_, ok = DurationHeader(h, HeaderCacheDuration)
	assert.False(t, ok)
}

func TestRecordRoundTrip(t *testing.T) {
	e := seededEntry(t, encoding.Zstandard)
	e.Bodies[encoding.Identity] = content
	e.Expires = time.Now().Add(time.Hour).Round(time.Millisecond)

	data, err := marshalEntry(e)
	require.NoError(t, err)
	back, err := unmarshalEntry(data)
	require.NoError(t, err)
	assert.Equal(t, e.Status, back.Status)
	assert.Equal(t, e.Header, back.Header)
	assert.Equal(t, e.Bodies, back.Bodies)
	assert.True(t, e.Expires.Equal(back.Expires))

	_, err = unmarshalEntry([]byte(`{"status":200,"bodies":{"compress":"eA=="}}`))
	assert.ErrorIs(t, err, ErrNoEncodings)
}
