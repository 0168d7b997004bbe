package pagecache

import (
	"fmt"
	"sort"
	"strings"
)

// Key identifies one cached page window. Pages are scoped to a user so a
// cache shared between sessions never leaks rows across identities.
type Key struct {
	// Collection is the collection name (e.g. "opportunities").
	Collection string

	// Offset and Limit describe the page window.
	Offset int
	Limit  int

	// Filters are the backend filters the page was fetched with.
	Filters map[string]string

	// UserID scopes the entry to one identity ("" for anonymous).
	UserID string
}

// String generates a deterministic cache key string.
// Format: crm:pages:collection:offset=N:limit=N:filter1=val1:user=U
//
// Example:
//
//	crm:pages:opportunities:offset=20:limit=20:stage=open:user=u-42
func (k Key) String() string {
	parts := []string{"crm", "pages", k.Collection,
		fmt.Sprintf("offset=%d", k.Offset),
		fmt.Sprintf("limit=%d", k.Limit),
	}

	// Add filters (sorted for determinism)
	if len(k.Filters) > 0 {
		filterKeys := make([]string, 0, len(k.Filters))
		for key := range k.Filters {
			filterKeys = append(filterKeys, key)
		}
		sort.Strings(filterKeys)

		for _, key := range filterKeys {
			parts = append(parts, fmt.Sprintf("%s=%s", key, k.Filters[key]))
		}
	}

	if k.UserID != "" {
		parts = append(parts, "user="+k.UserID)
	}

	return strings.Join(parts, ":")
}

// CollectionPattern returns the Redis key pattern matching every cached
// page of a collection, used for invalidation after mutations.
func CollectionPattern(collection string) string {
	return "crm:pages:" + collection + ":*"
}
