package rfc9111

import (
	"net/http"
	"net/url"
)

// §  4.4.  Invalidating Stored Responses
// §
// §     Because unsafe request methods (Section 9.2.1 of [HTTP]) such as PUT,
// §     POST, or DELETE have the potential for changing state on the origin
// §     server, intervening caches are required to invalidate stored
// §     responses to keep their contents up to date.
//
// UnsafeMethod reports whether the method is not known to be safe.
func UnsafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	}
	return true
}

// §     A "non-error response" is one with a 2xx (Successful) or 3xx
// §     (Redirection) status code.
func NonErrorStatus(status int) bool {
	return status >= 200 && status < 400
}

// InvalidateURIs returns the URIs whose stored responses must be invalidated
// after the given response to the given request. It returns nil for safe
// requests and for error responses.
// The URIs are in the same form (origin-form or absolute) as the request URI.
//
// §     A cache MUST invalidate the target URI (Section 7.1 of [HTTP]) when
// §     it receives a non-error status code in response to an unsafe request
// §     method (including methods whose safety is unknown).
func InvalidateURIs(req *http.Request, status int, resHeader http.Header) []*url.URL {
	if !UnsafeMethod(req.Method) || !NonErrorStatus(status) {
		return nil
	}
	target := targetURI(req)
	uris := []*url.URL{formOf(req, target)}

	// §     A cache MAY invalidate other URIs when it receives a non-error status
	// §     code in response to an unsafe request method (including methods whose
	// §     safety is unknown).  In particular, the URI(s) in the Location and
	// §     Content-Location response header fields (if present) are candidates
	// §     for invalidation; other URIs might be discovered through mechanisms
	// §     not specified in this document.  However, a cache MUST NOT trigger an
	// §     invalidation under these conditions if the origin (Section 4.3.1 of
	// §     [HTTP]) of the URI to be invalidated differs from that of the target
	// §     URI (Section 7.1 of [HTTP]).  This helps prevent denial-of-service
	// §     attacks.
	for _, name := range []string{"Location", "Content-Location"} {
		value := resHeader.Get(name)
		if value == "" {
			continue
		}
		ref, err := url.Parse(value)
		if err != nil {
			continue
		}
		candidate := target.ResolveReference(ref)
		if candidate.Scheme != target.Scheme || candidate.Host != target.Host {
			continue
		}
		if candidate.String() == target.String() {
			continue
		}
		uris = append(uris, formOf(req, candidate))
	}
	return uris
}

// targetURI reconstructs the absolute target URI of the request.
func targetURI(req *http.Request) *url.URL {
	u := *req.URL
	if !u.IsAbs() {
		u.Scheme = "http"
		if req.TLS != nil {
			u.Scheme = "https"
		}
		u.Host = req.Host
	}
	u.Fragment = ""
	u.RawFragment = ""
	return &u
}

// formOf returns u in origin-form unless the request used the absolute form.
func formOf(req *http.Request, u *url.URL) *url.URL {
	if req.URL.IsAbs() {
		return u
	}
	return &url.URL{Path: u.Path, RawPath: u.RawPath, RawQuery: u.RawQuery, ForceQuery: u.ForceQuery}
}
