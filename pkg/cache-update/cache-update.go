// Package cacheupdate reads the XX-Cache-Invalidate response header, with which
// the upstream names further resources changed by an unsafe request.
package cacheupdate

import (
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/always-cache/transcache/rfc9111"
)

// HeaderName holds one entry per resource, e.g. `/list; delay=5`.
const HeaderName = "XX-Cache-Invalidate"

// CacheUpdate represents a single XX-Cache-Invalidate entry.
type CacheUpdate struct {
	// URL of the resource, resolved against the request URL and in the same
	// form as the request URL.
	URL *url.URL
	// Delay the invalidation by this duration.
	Delay time.Duration
}

var delayPattern = regexp.MustCompile(`(?i)\bdelay=(\d+)`)

// GetCacheUpdates gets the updates specified by the response to an unsafe request.
// Entries pointing to another origin are ignored.
func GetCacheUpdates(req *http.Request, status int, header http.Header) []CacheUpdate {
	if !rfc9111.UnsafeMethod(req.Method) || !rfc9111.NonErrorStatus(status) {
		return nil
	}
	var updates []CacheUpdate
	for _, value := range header.Values(HeaderName) {
		for _, entry := range strings.Split(value, ",") {
			u := getURL(req, entry)
			if u == nil {
				continue
			}
			updates = append(updates, CacheUpdate{URL: u, Delay: getDelay(entry)})
		}
	}
	return updates
}

// getURL returns the URL from the header entry.
// The URL is the first parameter in the entry (separated by a semicolon).
func getURL(r *http.Request, update string) *url.URL {
	possiblyRelativeURL := update
	if i := strings.Index(update, ";"); i != -1 {
		possiblyRelativeURL = update[:i]
	}
	possiblyRelativeURL = strings.TrimSpace(possiblyRelativeURL)
	if possiblyRelativeURL == "" {
		return nil
	}
	ref, err := url.Parse(possiblyRelativeURL)
	if err != nil || ref.Scheme != "" || ref.Host != "" {
		return nil
	}
	u := r.URL.ResolveReference(ref)
	u.Fragment = ""
	u.RawFragment = ""
	return u
}

// getDelay returns the delay of the entry.
// The delay directive syntax is `delay=N`, where N is the number of seconds to wait.
// If no delay directive is found, it returns 0.
func getDelay(update string) time.Duration {
	if matches := delayPattern.FindStringSubmatch(update); matches != nil {
		if delay, err := strconv.Atoi(matches[1]); err == nil {
			return time.Duration(delay) * time.Second
		}
	}
	return 0
}
