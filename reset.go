package transcache

import (
	"net/http"

	"github.com/always-cache/transcache/cache"
)

// ResetHandler removes all entries from the cache and answers 204 No Content.
func ResetHandler(c cache.Cache) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.InvalidateAll(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
}
