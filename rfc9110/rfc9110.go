// Package rfc9110 implements the parts of HTTP Semantics (RFC 9110) needed to
// answer conditional requests from stored responses.
//
// Lines starting with § are quoted from the RFC.
package rfc9110
