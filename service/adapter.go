// Package service orchestrates SCIM resource operations over pluggable
// storage adapters, finishing in memory whatever query work an adapter
// declines.
package service

import (
	"context"

	"github.com/marcelom97/scimcore/scim"
)

// SortSpec is a sort request: a dotted attribute path and an order of
// "ascending" or "descending".
type SortSpec struct {
	By    string
	Order string
}

// PageSpec is a pagination request with 1-based StartIndex. A Count of
// -1 means unbounded.
type PageSpec struct {
	StartIndex int
	Count      int
}

// Query is the full query handed to an adapter.
type Query struct {
	Filter     scim.Expression
	RawFilter  string
	Sort       *SortSpec
	Page       *PageSpec
	Attributes *scim.AttributeSelection
}

// Residual reports the parts of a Query the adapter did not apply; the
// service finishes them in memory. An adapter that cannot apply the
// full filter must also decline pagination (pagination is only
// meaningful after complete filtering); sorting and attribute
// projection may be declined independently.
type Residual struct {
	Filter     scim.Expression
	Sort       *SortSpec
	Page       *PageSpec
	Attributes *scim.AttributeSelection
}

// QueryResult is an adapter's answer to QueryResources. TotalResults is
// the filtered count before pagination and is only meaningful when the
// adapter applied both the filter and the pagination itself (Residual
// .Filter and .Page are nil); otherwise the service recomputes it.
type QueryResult struct {
	Resources    []scim.Resource
	TotalResults int
	Residual     Residual
}

// Adapter is the five-operation storage contract. Implementations must
// be safe for concurrent use and should propagate ctx cancellation into
// their I/O. Adapters report failures with the typed errors in package
// scim; anything else is wrapped by the service as an internal error.
type Adapter interface {
	// GetResource fetches one resource by id. The attribute selection
	// is an optimization hint; the service applies projection itself.
	GetResource(ctx context.Context, id string, attrs *scim.AttributeSelection) (scim.Resource, error)

	// QueryResources runs a query, applying any subset of it natively
	// and returning the rest in the result's Residual.
	QueryResources(ctx context.Context, q Query) (QueryResult, error)

	// CreateResource stores a new resource, assigning id and meta. A
	// client-supplied id that is already taken is a conflict.
	CreateResource(ctx context.Context, resource scim.Resource) (scim.Resource, error)

	// UpdateResource replaces a stored resource, preserving the
	// original id, meta.created and advancing meta.version.
	UpdateResource(ctx context.Context, id string, resource scim.Resource) (scim.Resource, error)

	// DeleteResource removes a resource by id.
	DeleteResource(ctx context.Context, id string) error
}
