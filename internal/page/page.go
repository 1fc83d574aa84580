// Package page computes offset/limit windows and page counts for list reads.
package page

import (
	"fmt"
	"math"

	"agrireg/internal/model"
)

// MaxSize is the largest page a caller may request.
const MaxSize = 1000

// Request is a caller's page selection. Index is zero-based.
type Request struct {
	Index int `json:"pageIndex"`
	Size  int `json:"pageSize"`
}

// Validate checks Index >= 0, 0 < Size <= MaxSize and that the page's
// offset fits in an int.
func (r Request) Validate() error {
	if r.Index < 0 {
		return &model.ValidationError{Field: "pageIndex", Reason: fmt.Sprintf("must be >= 0, got %d", r.Index)}
	}
	if r.Size <= 0 {
		return &model.ValidationError{Field: "pageSize", Reason: fmt.Sprintf("must be > 0, got %d", r.Size)}
	}
	if r.Size > MaxSize {
		return &model.ValidationError{Field: "pageSize", Reason: fmt.Sprintf("must be <= %d, got %d", MaxSize, r.Size)}
	}
	if r.Index > math.MaxInt/r.Size {
		return &model.ValidationError{Field: "pageIndex", Reason: fmt.Sprintf("%d is out of range for page size %d", r.Index, r.Size)}
	}
	return nil
}

// Offset is the number of records skipped before this page.
func (r Request) Offset() int {
	return r.Index * r.Size
}

// Limit is the maximum number of records on this page.
func (r Request) Limit() int {
	return r.Size
}

// Count returns max(1, ceil(total/size)); a list always has at least one page.
func Count(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 1
	}
	n := int((total + int64(size) - 1) / int64(size))
	if n < 1 {
		return 1
	}
	return n
}

// Meta describes the page a result belongs to.
type Meta struct {
	Index     int   `json:"pageIndex"`
	Size      int   `json:"pageSize"`
	Total     int64 `json:"total"`
	PageCount int   `json:"pageCount"`
}

// NewMeta derives page metadata from a request and an independently counted total.
func NewMeta(r Request, total int64) Meta {
	return Meta{
		Index:     r.Index,
		Size:      r.Size,
		Total:     total,
		PageCount: Count(total, r.Size),
	}
}
