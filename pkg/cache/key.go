package cache

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// KeyPrefix namespaces every cache key.
const KeyPrefix = "tmdb"

// CacheKey identifies a cached upstream response.
type CacheKey struct {
	// Endpoint is the request path relative to the API base (e.g. "movie/603").
	Endpoint string

	// QueryParams are the request parameters that change the response.
	// Credentials must not be included.
	QueryParams url.Values
}

// String generates a deterministic cache key string.
// Format: tmdb:endpoint:query1=val1:query2=val2
//
// Example:
//
//	tmdb:movie/603:language=en
func (k CacheKey) String() string {
	parts := []string{KeyPrefix}

	endpoint := strings.Trim(k.Endpoint, "/")
	if endpoint != "" {
		parts = append(parts, endpoint)
	}

	if len(k.QueryParams) > 0 {
		keys := make([]string, 0, len(k.QueryParams))
		for key := range k.QueryParams {
			keys = append(keys, key)
		}
		sort.Strings(keys)

		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.QueryParams.Get(key)))
		}
	}

	return strings.Join(parts, ":")
}

// MovieKey returns the key of a /movie/{id} response.
func MovieKey(id int64, language string) CacheKey {
	key := CacheKey{Endpoint: fmt.Sprintf("movie/%d", id)}
	if language != "" {
		key.QueryParams = url.Values{"language": []string{language}}
	}
	return key
}
