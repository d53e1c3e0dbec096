// Package utils holds small parsing helpers shared by the HTTP layer. They
// carry no domain logic.
package utils

import "strconv"

// Bounds is the accepted range of a numeric query parameter. Max <= 0
// leaves the upper end open.
type Bounds struct {
	Default int
	Min     int
	Max     int
}

// Pagination bounds used by every paged listing.
var (
	PageBounds     = Bounds{Default: 1, Min: 1}
	PageSizeBounds = Bounds{Default: 20, Min: 1, Max: 100}
)

// Clamp parses s as a base-10 integer and pulls it into range. Empty or
// malformed input yields the default.
//
//	PageSizeBounds.Clamp("")    // 20
//	PageSizeBounds.Clamp("500") // 100
//	PageSizeBounds.Clamp("0")   // 1
func (b Bounds) Clamp(s string) int {
	n := b.Default
	if s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			n = v
		}
	}
	if n < b.Min {
		n = b.Min
	}
	if b.Max > 0 && n > b.Max {
		n = b.Max
	}
	return n
}

// Page parses raw page and page_size values.
func Page(page, pageSize string) (int, int) {
	return PageBounds.Clamp(page), PageSizeBounds.Clamp(pageSize)
}
