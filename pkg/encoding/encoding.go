// Package encoding enumerates the content codings the cache can store and convert
// between, and provides byte and stream codecs for each of them.
package encoding

import (
	"errors"
	"net/http"
	"strings"
)

// ErrUnsupported is returned for an encoding value outside of the known set.
var ErrUnsupported = errors.New("unsupported encoding")

// Encoding is a content coding as used in the `Content-Encoding` and `Accept-Encoding` headers.
type Encoding int

const (
	Identity Encoding = iota
	Brotli
	Deflate
	GZip
	Zstandard
)

// All lists every supported encoding.
var All = []Encoding{Identity, Brotli, Deflate, GZip, Zstandard}

// DecodeOrder lists the non-identity encodings from cheapest to most expensive to decode.
var DecodeOrder = []Encoding{Zstandard, Deflate, GZip, Brotli}

// String returns the header token for the encoding.
func (e Encoding) String() string {
	switch e {
	case Identity:
		return "identity"
	case Brotli:
		return "br"
	case Deflate:
		return "deflate"
	case GZip:
		return "gzip"
	case Zstandard:
		return "zstd"
	}
	return "unknown"
}

// Valid reports whether e is one of the known encodings.
func (e Encoding) Valid() bool {
	return e >= Identity && e <= Zstandard
}

// Parse parses a header token, case-insensitively.
func Parse(token string) (Encoding, bool) {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "identity", "":
		return Identity, true
	case "br":
		return Brotli, true
	case "deflate":
		return Deflate, true
	case "gzip", "x-gzip":
		return GZip, true
	case "zstd":
		return Zstandard, true
	}
	return Identity, false
}

// FromHeader returns the encoding declared by the `Content-Encoding` header.
// A missing header means Identity. The boolean is false if the header holds
// a coding we cannot transcode (including stacked codings such as "gzip, br").
func FromHeader(header http.Header) (Encoding, bool) {
	values := header.Values("Content-Encoding")
	switch len(values) {
	case 0:
		return Identity, true
	case 1:
		if strings.Contains(values[0], ",") {
			return Identity, false
		}
		return Parse(values[0])
	}
	return Identity, false
}

// SetHeader sets or removes the `Content-Encoding` header to match e.
func SetHeader(header http.Header, e Encoding) {
	if e == Identity {
		header.Del("Content-Encoding")
		return
	}
	header.Set("Content-Encoding", e.String())
}
