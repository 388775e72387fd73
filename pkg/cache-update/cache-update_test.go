package cacheupdate

import (
	"net/http"
	"testing"
	"time"
)

func TestGetCacheUpdates(t *testing.T) {
	req, _ := http.NewRequest("POST", "/posts/1/comments", nil)
	header := http.Header{}
	header.Add(HeaderName, "/posts/1; delay=5, ../list")
	header.Add(HeaderName, "https://elsewhere.example/feed")
	header.Add(HeaderName, "summary?page=2#top")

	updates := GetCacheUpdates(req, http.StatusCreated, header)
	if len(updates) != 3 {
		t.Fatalf("Got %d updates: %+v", len(updates), updates)
	}
	want := []struct {
		url   string
		delay time.Duration
	}{
		{"/posts/1", 5 * time.Second},
		{"/posts/list", 0},
		{"/posts/1/summary?page=2", 0},
	}
	for i, w := range want {
		if got := updates[i].URL.String(); got != w.url {
			t.Errorf("Update %d: URL is %s, expected %s", i, got, w.url)
		}
		if updates[i].Delay != w.delay {
			t.Errorf("Update %d: delay is %s, expected %s", i, updates[i].Delay, w.delay)
		}
	}
}

func TestGetCacheUpdatesIgnoresSafeRequestsAndErrors(t *testing.T) {
	header := http.Header{}
	header.Set(HeaderName, "/list")

	get, _ := http.NewRequest("GET", "/", nil)
	if updates := GetCacheUpdates(get, http.StatusOK, header); updates != nil {
		t.Fatalf("Updates for GET: %+v", updates)
	}
	post, _ := http.NewRequest("POST", "/", nil)
	if updates := GetCacheUpdates(post, http.StatusInternalServerError, header); updates != nil {
		t.Fatalf("Updates for error response: %+v", updates)
	}
}

func TestGetDelay(t *testing.T) {
	tests := map[string]time.Duration{
		"/a":             0,
		"/a; delay=10":   10 * time.Second,
		"/a;DELAY=1":     time.Second,
		"/a; delay=soon": 0,
	}
	for entry, want := range tests {
		if got := getDelay(entry); got != want {
			t.Errorf("getDelay(%q) = %s, expected %s", entry, got, want)
		}
	}
}
