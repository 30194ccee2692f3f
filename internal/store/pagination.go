package store

import (
	"encoding/base64"
	"fmt"
	"sort"
)

// Page size bounds.
const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// PaginationParams contains pagination request parameters.
type PaginationParams struct {
	Limit  int    // Items per page (defaults to 100, at most 500)
	Cursor string // Opaque cursor for the next page (empty for the first page)
}

// PaginatedResult contains one page of items.
type PaginatedResult[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"nextCursor,omitempty"` // Empty if no more pages
	HasMore    bool   `json:"hasMore"`
	Total      int    `json:"total"`
}

// DefaultPaginationParams returns the first page with the default size.
func DefaultPaginationParams() PaginationParams {
	return PaginationParams{Limit: DefaultPageSize}
}

// Validate clamps the limit into range.
func (p *PaginationParams) Validate() {
	if p.Limit <= 0 {
		p.Limit = DefaultPageSize
	}
	if p.Limit > MaxPageSize {
		p.Limit = MaxPageSize
	}
}

// EncodeCursor creates an opaque cursor from a sort key.
func EncodeCursor(key string) string {
	if key == "" {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

// DecodeCursor decodes a cursor back to a sort key.
func DecodeCursor(cursor string) (string, error) {
	if cursor == "" {
		return "", nil
	}
	decoded, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}
	return string(decoded), nil
}

// paginate returns the page of items that follows the cursor. Items must be sorted by key
// in ascending order. The cursor is the key of the last item of the previous page, so a page
// stays stable when items before it are removed.
func paginate[T any](items []T, key func(T) string, params PaginationParams) (*PaginatedResult[T], error) {
	params.Validate()
	after, err := DecodeCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	start := 0
	if after != "" {
		start = sort.Search(len(items), func(i int) bool { return key(items[i]) > after })
	}

	end := min(start+params.Limit, len(items))
	page := &PaginatedResult[T]{
		Items:   items[start:end],
		HasMore: end < len(items),
		Total:   len(items),
	}
	if page.HasMore {
		page.NextCursor = EncodeCursor(key(items[end-1]))
	}
	return page, nil
}
