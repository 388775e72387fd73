package cachekey

import (
	"net/http"
	"strings"
)

// Hook may rewrite the key computed for a request before it is used for lookup.
// The request must be treated as read-only.
type Hook interface {
	ModifyKey(key *CacheKey, r *http.Request)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(key *CacheKey, r *http.Request)

func (f HookFunc) ModifyKey(key *CacheKey, r *http.Request) {
	f(key, r)
}

// Hooks runs the given hooks in order.
func Hooks(hooks ...Hook) Hook {
	return HookFunc(func(key *CacheKey, r *http.Request) {
		for _, h := range hooks {
			if h != nil {
				h.ModifyKey(key, r)
			}
		}
	})
}

// IgnoreQuery removes volatile query parameters (e.g. tracking parameters) from the key.
func IgnoreQuery(names ...string) Hook {
	return HookFunc(func(key *CacheKey, r *http.Request) {
		for _, name := range names {
			delete(key.Query, name)
		}
	})
}

// FromHeaders adds the values of the given request headers to the key extensions.
// Use it e.g. with a `Cache-Key` header set by a fronting proxy.
func FromHeaders(names ...string) Hook {
	return HookFunc(func(key *CacheKey, r *http.Request) {
		for _, name := range names {
			if values := r.Header.Values(name); len(values) > 0 {
				key.SetExtension(strings.ToLower(name), strings.Join(values, ", "))
			}
		}
	})
}
