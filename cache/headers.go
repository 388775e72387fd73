package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Control headers. The upstream sets them on responses, and XX-Cache may also
// be sent by clients to skip the cache. They are never stored.
const (
	// HeaderCache set to "false" disables caching.
	HeaderCache = "XX-Cache"
	// HeaderEncode set to "false" disables encoding.
	HeaderEncode = "XX-Encode"
	// HeaderCacheDuration is the time to keep the response, e.g. "30s" or "30".
	HeaderCacheDuration = "XX-Cache-Duration"
)

// strippedHeaders are removed from responses before storing them.
// Content-Encoding and Content-Length depend on the encoding served.
var strippedHeaders = []string{
	HeaderCache,
	HeaderEncode,
	HeaderCacheDuration,
	"Content-Encoding",
	"Content-Length",
	"Content-Digest",
}

// BoolHeader parses a "true" or "false" header value, case-insensitively.
// Absent or other values return def.
func BoolHeader(header http.Header, name string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(header.Get(name))) {
	case "true":
		return true
	case "false":
		return false
	}
	return def
}

// DurationHeader parses a duration header value.
// Both Go durations ("1m30s") and plain seconds ("90") are accepted.
// Zero is a valid duration: the response must not be kept at all.
func DurationHeader(header http.Header, name string) (time.Duration, bool) {
	value := strings.TrimSpace(header.Get(name))
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.ParseUint(value, 10, 32); err == nil {
		return time.Duration(seconds) * time.Second, true
	}
	if d, err := time.ParseDuration(value); err == nil && d >= 0 {
		return d, true
	}
	return 0, false
}
