package cachekey

import (
	"maps"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"unsafe"
)

// CacheKey identifies the stored response for a request.
// Zero values mean "absent": an empty string, port 0, a nil map or slice.
// A nil Query and an empty Query are different keys (`/a` vs `/a?`).
type CacheKey struct {
	Method string
	// Scheme, Authority, Host and Port are only known for absolute-form
	// requests, which is usually not the case behind a server.
	Scheme    string
	Authority string
	Host      string
	Port      int
	Path      string
	// Query parameters, URL-decoded. For repeated names the last value wins.
	Query map[string]string
	// MediaType, Languages and Extensions are never set by ForRequest.
	// They are reserved for key hooks.
	MediaType  string
	Languages  []string
	Extensions map[string]string
}

// ForRequest creates the key for a request, before any hook is applied.
func ForRequest(r *http.Request) CacheKey {
	key := CacheKey{
		Method: r.Method,
	}
	u := r.URL
	if u == nil {
		return key
	}
	if u.IsAbs() {
		key.Scheme = strings.ToLower(u.Scheme)
		key.Authority = u.Host
		key.Host = u.Hostname()
		if port, err := strconv.Atoi(u.Port()); err == nil {
			key.Port = port
		}
	}
	key.Path = u.EscapedPath()
	if key.Path == "" {
		key.Path = "/"
	}
	if u.RawQuery != "" || u.ForceQuery {
		key.Query = parseQuery(u.RawQuery)
	}
	return key
}

// parseQuery decodes a raw query, dropping pairs that cannot be decoded.
func parseQuery(raw string) map[string]string {
	query := make(map[string]string)
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		name, value, _ := strings.Cut(pair, "=")
		name, err := url.QueryUnescape(name)
		if err != nil {
			continue
		}
		value, err = url.QueryUnescape(value)
		if err != nil {
			continue
		}
		query[name] = value
	}
	return query
}

// SetLanguages sets the languages of the key in sorted order.
func (k *CacheKey) SetLanguages(languages ...string) {
	k.Languages = slices.Sorted(slices.Values(languages))
}

// SetExtension sets an opaque extension value.
func (k *CacheKey) SetExtension(name, value string) {
	if k.Extensions == nil {
		k.Extensions = make(map[string]string)
	}
	k.Extensions[name] = value
}

// Equal reports whether two keys address the same entry.
func (k CacheKey) Equal(other CacheKey) bool {
	return k.Method == other.Method &&
		k.Scheme == other.Scheme &&
		k.Authority == other.Authority &&
		k.Host == other.Host &&
		k.Port == other.Port &&
		k.Path == other.Path &&
		(k.Query == nil) == (other.Query == nil) &&
		maps.Equal(k.Query, other.Query) &&
		k.MediaType == other.MediaType &&
		slices.Equal(sortedLanguages(k.Languages), sortedLanguages(other.Languages)) &&
		(k.Extensions == nil) == (other.Extensions == nil) &&
		maps.Equal(k.Extensions, other.Extensions)
}

// String returns the fingerprint of the key.
// Keys are equal if and only if their fingerprints are equal,
// which is what stores use as the storage key.
func (k CacheKey) String() string {
	var b strings.Builder
	b.WriteString(k.Method)
	field := func(s string) {
		b.WriteByte(' ')
		b.WriteString(strconv.Quote(s))
	}
	field(k.Scheme)
	field(k.Authority)
	field(k.Host)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(k.Port))
	field(k.Path)
	optionalMap(&b, k.Query)
	field(k.MediaType)
	escaped := make([]string, 0, len(k.Languages))
	for _, language := range sortedLanguages(k.Languages) {
		escaped = append(escaped, url.QueryEscape(language))
	}
	field(strings.Join(escaped, ","))
	optionalMap(&b, k.Extensions)
	return b.String()
}

func optionalMap(b *strings.Builder, m map[string]string) {
	b.WriteByte(' ')
	if m == nil {
		b.WriteByte('-')
		return
	}
	values := make(url.Values, len(m))
	for name, value := range m {
		values.Set(name, value)
	}
	// Encode sorts by name
	b.WriteString(strconv.Quote(values.Encode()))
}

func sortedLanguages(languages []string) []string {
	if slices.IsSorted(languages) {
		return languages
	}
	return slices.Sorted(slices.Values(languages))
}

// Weight estimates the memory used by the key.
// It is only meaningful relative to other weights.
func (k CacheKey) Weight() int {
	size := int(unsafe.Sizeof(k))
	size += len(k.Method) + len(k.Scheme) + len(k.Authority) + len(k.Host) + len(k.Path) + len(k.MediaType)
	for name, value := range k.Query {
		size += len(name) + len(value)
	}
	for _, language := range k.Languages {
		size += len(language)
	}
	for name, value := range k.Extensions {
		size += len(name) + len(value)
	}
	return size
}
