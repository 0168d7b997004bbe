// Package source defines the remote data source boundary: paged reads,
// ID-keyed writes, the failure taxonomy, and a REST implementation.
package source

import (
	"context"

	"github.com/muguira/mailvibes-crm-remix-sub008/pkg/record"
)

// Query identifies one page window of a collection.
type Query struct {
	// Collection is the collection name (e.g. "opportunities").
	Collection string

	// Offset is the zero-based index of the first row requested.
	Offset int

	// Limit is the page size.
	Limit int

	// Filters are backend-interpreted field filters.
	Filters map[string]string
}

// Page is the result of one paged query.
type Page struct {
	Records    []record.Record `json:"records"`
	TotalCount int             `json:"total_count"`
}

// PageReader fetches one page of a collection.
type PageReader interface {
	FetchPage(ctx context.Context, q Query) (Page, error)
}

// Writer persists mutations keyed by record ID.
type Writer interface {
	Insert(ctx context.Context, collection string, rec *record.Record) (*record.Record, error)
	Update(ctx context.Context, collection string, rec *record.Record) (*record.Record, error)
	Delete(ctx context.Context, collection string, ids []string) error
}

// ReadWriter combines paged reads and keyed writes.
type ReadWriter interface {
	PageReader
	Writer
}
