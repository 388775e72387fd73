package rfc9110

import (
	"net/http"
)

// Modified reports whether a stored response must be sent in full rather than
// answered with 304 (Not Modified). When the headers do not allow a decision,
// the response is considered modified.
//
// `If-None-Match: *` matches any stored response. Restricting that to GET and
// HEAD requests is left to the caller.
func Modified(requestHeader, responseHeader http.Header) bool {
	// §  13.1.3.  If-Modified-Since
	// §
	// §     A recipient MUST ignore If-Modified-Since if the request contains an
	// §     If-None-Match header field; the condition in If-None-Match is
	// §     considered to be a more accurate replacement for the condition in
	// §     If-Modified-Since, and the two are only combined for the sake of
	// §     interoperating with older intermediaries that might not implement
	// §     If-None-Match.
	if values := requestHeader.Values("If-None-Match"); len(values) > 0 {
		return !noneMatchFails(values, responseHeader)
	}
	if since, ok := DateHeader(requestHeader, "If-Modified-Since"); ok {
		// §     If the selected representation's last modification date is earlier or
		// §     equal to the date provided in the field value, the condition is false.
		if lastModified, ok := DateHeader(responseHeader, "Last-Modified"); ok && !lastModified.After(since) {
			return false
		}
	}
	return true
}

// §  13.1.2.  If-None-Match
// §
// §     If the field value is "*", the condition is false if the origin
// §     server has a current representation for the target resource.
// §
// §     If the field value is a list of entity tags, the condition is false
// §     if one of the listed tags matches the entity tag of the selected
// §     representation.
//
// Only strong comparison is used: a weak stored tag never matches.
func noneMatchFails(values []string, responseHeader http.Header) bool {
	tags, wildcard := ParseETagList(values)
	if wildcard {
		return true
	}
	etag, ok := ParseETag(responseHeader.Get("ETag"))
	if !ok {
		return false
	}
	for _, tag := range tags {
		if tag.StrongMatch(etag) {
			return true
		}
	}
	return false
}
