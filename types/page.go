package types

// PageLink is a bounded cursor over a store listing. The fan-out dispatcher
// walks related edges page by page so that no more than one page is resident
// at a time.
type PageLink struct {
	PageSize int
	Page     int
}

// DefaultPageSize bounds fan-out cursor pages unless configured otherwise.
const DefaultPageSize = 1000

// NewPageLink returns a cursor positioned at the first page. A non-positive
// size falls back to DefaultPageSize.
func NewPageLink(size int) PageLink {
	if size <= 0 {
		size = DefaultPageSize
	}
	return PageLink{PageSize: size}
}

// Next returns the cursor advanced to the following page.
func (p PageLink) Next() PageLink {
	p.Page++
	return p
}

// Offset returns the absolute offset of the first element of the page.
func (p PageLink) Offset() int {
	return p.Page * p.PageSize
}

// PageData is one page of results plus a continuation flag.
type PageData[T any] struct {
	Data    []T
	HasNext bool
}
