// Package rfc9211 renders the Cache-Status response header (RFC 9211).
//
// Lines starting with § are quoted from the RFC.
package rfc9211

import (
	"strconv"
	"strings"
	"time"
)

// §  2.  The Cache-Status HTTP Response Header Field
// §
// §     The Cache-Status HTTP response header field indicates how caches have
// §     handled that response and its corresponding request.
const HeaderName = "Cache-Status"

type Status string

const (
	// §  2.1.  The hit Parameter
	// §
	// §     "hit", when true, indicates that the request was satisfied by the
	// §     cache; that is, it was not forwarded, and the response was obtained
	// §     from the cache.
	StatusHit Status = "hit"
	// §  2.2.  The fwd Parameter
	// §
	// §     "fwd" indicates that the request went forward towards the origin and
	// §     why.
	StatusFwd Status = "fwd"
)

type FwdReason string

const (
	// The cache was configured to not handle this request.
	FwdReasonBypass FwdReason = "bypass"
	// The request method's semantics require the request to be forwarded.
	FwdReasonMethod FwdReason = "method"
	// The cache did not contain any responses that matched the request URI.
	FwdReasonUriMiss FwdReason = "uri-miss"
	// The cache did not contain any responses that could be used to
	// satisfy this request.
	FwdReasonMiss FwdReason = "miss"
	// The cache was able to select a fresh response for the request, but
	// the request's semantics did not allow its use.
	FwdReasonRequest FwdReason = "request"
	// The cache was able to select a partial response for the request, but
	// it did not contain all of the requested ranges.
	FwdReasonPartial FwdReason = "partial"
)

// CacheStatus is one member of the Cache-Status list, describing this cache.
type CacheStatus struct {
	// Cache identifies the cache, e.g. "transcache".
	Cache     string
	Status    Status
	FwdReason FwdReason
	// §  2.3.  The fwd-status Parameter
	// §
	// §     "fwd-status" indicates what status code the next hop server returned
	// §     in response to the forwarded request.
	FwdStatus int
	// §  2.5.  The stored Parameter
	// §
	// §     "stored" indicates whether the cache stored the response (Section 3
	// §     of [HTTP-CACHING]); a true value indicates that it did.
	Stored bool
	// §  2.7.  The key Parameter
	// §
	// §     "key" conveys a representation of the cache key used for the
	// §     response.  Note that this may be implementation specific.
	Key string
	// §  2.8.  The detail Parameter
	// §
	// §     "detail" allows implementations to convey additional information not
	// §     captured in other parameters, such as implementation-specific states
	// §     or other caching-related metrics.
	Detail string

	ttl    int
	hasTTL bool
}

func (cs *CacheStatus) Hit() {
	cs.Status = StatusHit
	cs.FwdReason = ""
}

func (cs *CacheStatus) Forward(reason FwdReason) {
	cs.Status = StatusFwd
	cs.FwdReason = reason
}

// §  2.4.  The ttl Parameter
// §
// §     "ttl" indicates the response's remaining freshness lifetime as
// §     calculated by the cache, as an integer number of seconds, measured
// §     when the response header section is sent by the cache.
func (cs *CacheStatus) TTL(ttl time.Duration) {
	cs.ttl = int(ttl / time.Second)
	cs.hasTTL = true
}

// String serializes the member as a Structured Field list member.
func (cs CacheStatus) String() string {
	var b strings.Builder
	name := cs.Cache
	if name == "" {
		name = "transcache"
	}
	b.WriteString(tokenOrString(name))
	switch cs.Status {
	case StatusHit:
		b.WriteString("; hit")
	case StatusFwd:
		b.WriteString("; fwd=")
		reason := cs.FwdReason
		if reason == "" {
			reason = FwdReasonMiss
		}
		b.WriteString(string(reason))
		if cs.FwdStatus != 0 {
			b.WriteString("; fwd-status=")
			b.WriteString(strconv.Itoa(cs.FwdStatus))
		}
	}
	if cs.hasTTL {
		b.WriteString("; ttl=")
		b.WriteString(strconv.Itoa(cs.ttl))
	}
	if cs.Stored {
		b.WriteString("; stored")
	}
	if cs.Key != "" {
		b.WriteString("; key=")
		b.WriteString(sfString(cs.Key))
	}
	if cs.Detail != "" {
		b.WriteString("; detail=")
		b.WriteString(tokenOrString(cs.Detail))
	}
	return b.String()
}

// tokenOrString uses the sf-token form when possible.
func tokenOrString(s string) string {
	if isToken(s) {
		return s
	}
	return sfString(s)
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	if c := s[0]; !(c == '*' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')) {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case strings.IndexByte("!#$%&'*+-.^_`|~:/", c) >= 0:
		default:
			return false
		}
	}
	return true
}

func sfString(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c < 0x20 || c > 0x7e:
			// not representable in an sf-string
			b.WriteByte('?')
		default:
			b.WriteByte(c)
		}
	}
	b.WriteByte('"')
	return b.String()
}
