package transcache

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/always-cache/transcache/cache"
	cachekey "github.com/always-cache/transcache/pkg/cache-key"
	"github.com/always-cache/transcache/pkg/encoding"
)

// DefaultMaxBodySize is the largest body stored if Config.MaxBodySize is zero.
const DefaultMaxBodySize = 1 << 20

// DefaultEncodings are the encodings offered if Config.Encodings is empty, in
// order of preference.
var DefaultEncodings = []encoding.Encoding{
	encoding.Brotli,
	encoding.Zstandard,
	encoding.GZip,
	encoding.Deflate,
	encoding.Identity,
}

type Config struct {
	// Storage for cache entries. An in-memory LRU store is used if nil.
	Cache cache.Cache
	// Upstream answers the requests that are not served from the cache.
	// http.DefaultTransport is used if nil. Middleware ignores it.
	Upstream http.RoundTripper
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Name identifies the cache in the Cache-Status header.
	Name string
	// Encodings offered to clients, most preferred first.
	// Ties between equally weighted client preferences go to the first one listed.
	Encodings []encoding.Encoding
	// StoreIdentity keeps the identity body decoded on the way to another
	// encoding, trading memory for fewer decodes.
	StoreIdentity bool
	// Bodies smaller than MinBodySize are not stored.
	MinBodySize int64
	// Bodies larger than MaxBodySize are not stored. Defaults to DefaultMaxBodySize;
	// set it to a negative value for no limit.
	MaxBodySize int64
	// Bodies smaller than MinEncodableSize are served as they are.
	MinEncodableSize int64
	// DefaultDuration is how long responses without an XX-Cache-Duration header
	// are kept. Zero keeps them until evicted.
	DefaultDuration time.Duration
	// Optional hook rewriting the cache key of a request.
	KeyHook cachekey.Hook
	// Optional hook deciding whether a request or response may be cached.
	CacheableHook CacheableHook
	// Optional hook deciding whether a response may be encoded.
	EncodableHook EncodableHook
	// DisableEncodingByDefault only encodes responses with an `XX-Encode: true` header.
	DisableEncodingByDefault bool
	// DisableInvalidation keeps stored responses after unsafe requests to the same URI.
	DisableInvalidation bool
	// Codec transcodes stored bodies. encoding.Default is used if nil.
	Codec encoding.Codec
}
