package transcache

import "net/http"

// CacheableHook decides whether a request may be answered from the cache and
// whether its response may be stored. It is called once with a nil response
// before lookup and once more with the upstream response on a miss.
type CacheableHook interface {
	Cacheable(r *http.Request, res *http.Response) bool
}

type CacheableFunc func(r *http.Request, res *http.Response) bool

func (f CacheableFunc) Cacheable(r *http.Request, res *http.Response) bool {
	return f(r, res)
}

// EncodableHook decides whether a response may be served in another encoding
// than the one it was received in. An XX-Encode response header overrides it.
type EncodableHook interface {
	Encodable(r *http.Request, res *http.Response) bool
}

type EncodableFunc func(r *http.Request, res *http.Response) bool

func (f EncodableFunc) Encodable(r *http.Request, res *http.Response) bool {
	return f(r, res)
}
