// Package rfc9111 implements the parts of HTTP Caching (RFC 9111) the cache
// follows. Freshness and Cache-Control are not among them: stored responses
// live until they are invalidated, evicted or reach their configured duration.
//
// Lines starting with § are quoted from the RFC.
package rfc9111
