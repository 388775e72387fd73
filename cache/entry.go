package cache

import (
	"bytes"
	"fmt"
	"io"
	"maps"
	"net/http"
	"strconv"
	"time"
	"unsafe"

	"github.com/always-cache/transcache/pkg/encoding"
)

// Entry is a stored response. It holds one body per stored encoding, all of
// them representing the same content.
//
// Entries are shared between requests and must not be modified once they
// have been put in a cache. Methods deriving a new encoding return a modified
// copy instead, which the caller may put back.
type Entry struct {
	Status int
	// Header excludes the control headers and the encoding-specific headers.
	Header http.Header
	Bodies map[encoding.Encoding][]byte
	// Encodable is false for entries which must be served in the stored encoding.
	Encodable bool
	// Expires is the zero time for entries that only leave the cache by eviction.
	Expires time.Time
}

// EntryOptions control how a response is read into an entry.
type EntryOptions struct {
	// MaxBodySize bounds the body. Zero means unlimited.
	MaxBodySize int64
	// Encodable is the default if the response has no XX-Encode header.
	Encodable bool
	// Duration is the default if the response has no XX-Cache-Duration header.
	// Zero means no expiry.
	Duration time.Duration
	// StoreIdentity keeps identity bodies next to the encoding served.
	StoreIdentity bool
	// Codec is encoding.Default if nil.
	Codec encoding.Codec
}

// ReadEntry reads the full response body into an entry stored in the encoding
// it was received in. The body is closed unless a *PiecesError is returned, in
// which case the error holds the body.
func ReadEntry(res *http.Response, opts EntryOptions) (*Entry, error) {
	enc, ok := encoding.FromHeader(res.Header)
	if !ok {
		return nil, fmt.Errorf("%w: %q", encoding.ErrUnsupported, res.Header.Get("Content-Encoding"))
	}

	body := res.Body
	if body == nil {
		body = http.NoBody
	}
	r := io.Reader(body)
	if opts.MaxBodySize > 0 {
		r = io.LimitReader(body, opts.MaxBodySize+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, &PiecesError{Err: err, Read: data, Rest: body}
	}
	if opts.MaxBodySize > 0 && int64(len(data)) > opts.MaxBodySize {
		return nil, &PiecesError{Err: ErrBodyTooLarge, Read: data, Rest: body}
	}
	body.Close()

	header := res.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	for _, name := range strippedHeaders {
		header.Del(name)
	}

	e := &Entry{
		Status:    res.StatusCode,
		Header:    header,
		Bodies:    map[encoding.Encoding][]byte{enc: data},
		Encodable: BoolHeader(res.Header, HeaderEncode, opts.Encodable),
	}
	duration := opts.Duration
	if d, ok := DurationHeader(res.Header, HeaderCacheDuration); ok && d > 0 {
		duration = d
	}
	if duration > 0 {
		e.Expires = time.Now().Add(duration)
	}
	return e, nil
}

// Prepare returns the entry to store when serving as.
// The body is derived in as if needed. An identity body is only kept when
// StoreIdentity is set or when as is identity.
// On codec failure the error is returned and e is still usable as is.
func (e *Entry) Prepare(as encoding.Encoding, opts EntryOptions) (*Entry, error) {
	if !e.Encodable {
		return e, nil
	}
	if _, ok := e.Bodies[as]; ok {
		return e, nil
	}
	_, next, err := e.Bytes(as, opts.StoreIdentity, opts.Codec)
	if err != nil {
		return nil, err
	}
	if !opts.StoreIdentity && as != encoding.Identity {
		delete(next.Bodies, encoding.Identity)
	}
	return next, nil
}

// NewEntry reads the response into an entry prepared to be served as.
func NewEntry(res *http.Response, as encoding.Encoding, opts EntryOptions) (*Entry, error) {
	e, err := ReadEntry(res, opts)
	if err != nil {
		return nil, err
	}
	return e.Prepare(as, opts)
}

// Encoding returns the stored encoding that is cheapest to decode.
func (e *Entry) Encoding() encoding.Encoding {
	if _, ok := e.Bodies[encoding.Identity]; ok {
		return encoding.Identity
	}
	for _, enc := range encoding.DecodeOrder {
		if _, ok := e.Bodies[enc]; ok {
			return enc
		}
	}
	return encoding.Identity
}

// Has reports whether the body is stored in enc.
func (e *Entry) Has(enc encoding.Encoding) bool {
	_, ok := e.Bodies[enc]
	return ok
}

// Bytes returns the body in enc.
//
// If enc is not stored it is derived from the stored encoding cheapest to
// decode, preferring to only encode a stored identity body. The returned entry
// is then a copy of e with the new encoding added, otherwise it is nil.
// A requested identity body is always added; an identity body decoded on the
// way to another encoding is added only if storeIdentity is set.
//
// e itself is never modified.
func (e *Entry) Bytes(enc encoding.Encoding, storeIdentity bool, codec encoding.Codec) ([]byte, *Entry, error) {
	if b, ok := e.Bodies[enc]; ok {
		return b, nil, nil
	}
	if len(e.Bodies) == 0 {
		return nil, nil, ErrNoEncodings
	}
	if codec == nil {
		codec = encoding.Default
	}

	identity, decoded, err := e.identity(codec)
	if err != nil {
		return nil, nil, err
	}
	next := e.clone()
	if enc == encoding.Identity {
		next.Bodies[encoding.Identity] = identity
		return identity, next, nil
	}

	b, err := codec.Encode(enc, identity)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s: %w", enc, err)
	}
	next.Bodies[enc] = b
	if decoded && storeIdentity {
		next.Bodies[encoding.Identity] = identity
	}
	return b, next, nil
}

// identity returns the identity body, decoding it if not stored.
func (e *Entry) identity(codec encoding.Codec) ([]byte, bool, error) {
	if b, ok := e.Bodies[encoding.Identity]; ok {
		return b, false, nil
	}
	for _, from := range encoding.DecodeOrder {
		if b, ok := e.Bodies[from]; ok {
			identity, err := codec.Decode(from, b)
			if err != nil {
				return nil, false, fmt.Errorf("decode %s: %w", from, err)
			}
			return identity, true, nil
		}
	}
	return nil, false, ErrNoEncodings
}

// clone copies the entry and its body map. Header and bodies are shared.
func (e *Entry) clone() *Entry {
	c := *e
	c.Bodies = maps.Clone(e.Bodies)
	return &c
}

// Response returns the stored response with the body in enc.
// Entries that are not encodable ignore enc. The returned entry is non-nil if
// a new encoding was derived, see Bytes.
func (e *Entry) Response(enc encoding.Encoding, storeIdentity bool, codec encoding.Codec) (*http.Response, *Entry, error) {
	if !e.Encodable {
		enc = e.Encoding()
	}
	b, next, err := e.Bytes(enc, storeIdentity, codec)
	if err != nil {
		return nil, nil, err
	}
	header := e.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	encoding.SetHeader(header, enc)
	header.Set("Content-Length", strconv.Itoa(len(b)))
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status)),
		StatusCode:    e.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(b)),
		ContentLength: int64(len(b)),
	}, next, nil
}

// Expired reports whether the entry must no longer be served.
func (e *Entry) Expired(now time.Time) bool {
	return !e.Expires.IsZero() && !now.Before(e.Expires)
}

// Weight estimates the memory used by the entry.
// It is only meaningful relative to other weights.
func (e *Entry) Weight() int {
	size := int(unsafe.Sizeof(*e))
	for name, values := range e.Header {
		size += len(name)
		for _, v := range values {
			size += len(v)
		}
	}
	for _, b := range e.Bodies {
		size += len(b)
	}
	return size
}
