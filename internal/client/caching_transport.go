// Package client builds the HTTP client used for narration object store
// reads. The store serves metadata with Cache-Control headers, so a
// caching transport avoids re-fetching HEAD responses on every playback
// request.
package client

import (
	"net/http"
	"time"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingHTTPClient returns a client with an RFC 7234 caching
// transport. With a cacheDir the cache persists across restarts;
// otherwise responses are cached in memory only.
func NewCachingHTTPClient(cacheDir string) *http.Client {
	var cache httpcache.Cache = httpcache.NewMemoryCache()
	if cacheDir != "" {
		cache = diskcache.New(cacheDir)
	}

	return &http.Client{
		Transport: httpcache.NewTransport(cache),
		Timeout:   30 * time.Second,
	}
}
