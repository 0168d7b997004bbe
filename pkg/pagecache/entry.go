package pagecache

import (
	"time"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/record"
)

// Entry is one cached page of records.
type Entry struct {
	// Records is the page payload in display order
	Records []record.Record `json:"records"`

	// TotalCount is the remote collection size at fetch time
	TotalCount int `json:"total_count"`

	// FetchedAt is when the page was fetched from the backend
	FetchedAt time.Time `json:"fetched_at"`

	// Expires is when the entry becomes stale
	Expires time.Time `json:"expires"`
}

// NewEntry builds an entry expiring ttl from now.
func NewEntry(records []record.Record, totalCount int, ttl time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Records:    records,
		TotalCount: totalCount,
		FetchedAt:  now,
		Expires:    now.Add(ttl),
	}
}

// IsExpired returns true if the entry has expired.
func (e *Entry) IsExpired() bool {
	return time.Now().After(e.Expires)
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL() time.Duration {
	ttl := time.Until(e.Expires)
	if ttl < 0 {
		return 0
	}
	return ttl
}
