// Package utils holds small helpers shared by the HTTP layer for parsing
// query parameters and shaping paginated responses. Nothing here knows about
// routines or logs.
package utils

import (
	"strconv"
	"strings"
)

// AtoiDefault parses s with strconv.Atoi, returning def when s is empty or
// not an integer. Whitespace is not trimmed.
func AtoiDefault(s string, def int) int {
	if s == "" {
		return def
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return def
}

// ClampPage bounds a requested page and page size: page >= 1, and
// 1 <= size <= maxSize, with defSize used for size <= 0.
func ClampPage(page, size, defSize, maxSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defSize
	}
	if size > maxSize {
		size = maxSize
	}
	return page, size
}

// TotalPages is ceil(total/size); 0 for an empty result.
func TotalPages(total int64, size int) int {
	if size <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(size) - 1) / int64(size))
}

// SplitList flattens repeated and comma-separated query values
// ("?s=a,b&s=c") into trimmed, lowercased, de-duplicated items in first-seen
// order.
func SplitList(vals []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, v := range vals {
		for _, p := range strings.Split(v, ",") {
			p = strings.ToLower(strings.TrimSpace(p))
			if p == "" {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			out = append(out, p)
		}
	}
	return out
}
