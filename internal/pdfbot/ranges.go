package pdfbot

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePageRanges resolves a range spec like "2-4,7,9-" against a page
// count. Terms are N, N-M, or the open form N- meaning "through the last
// page". Pages are returned 1-based, deduplicated, in first-occurrence
// order. Any explicit bound outside [1, totalPages] is an error.
func ParsePageRanges(spec string, totalPages int) ([]int, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, E(KindInvalidPageRange, "empty page range")
	}

	var pages []int
	seen := make(map[int]bool)
	add := func(n int) {
		if !seen[n] {
			seen[n] = true
			pages = append(pages, n)
		}
	}

	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if strings.Contains(part, "-") {
			first, rest, _ := strings.Cut(part, "-")
			first, rest = strings.TrimSpace(first), strings.TrimSpace(rest)
			if first == "" {
				return nil, E(KindInvalidPageRange, "bad range %q: missing start", part)
			}
			start, err := strconv.Atoi(first)
			if err != nil {
				return nil, E(KindInvalidPageRange, "bad range %q: %q is not a number", part, first)
			}
			end := totalPages
			if rest != "" {
				end, err = strconv.Atoi(rest)
				if err != nil {
					return nil, E(KindInvalidPageRange, "bad range %q: %q is not a number", part, rest)
				}
				if err := checkBounds(end, totalPages); err != nil {
					return nil, err
				}
			}
			if err := checkBounds(start, totalPages); err != nil {
				return nil, err
			}
			if end < start {
				return nil, E(KindInvalidPageRange, "bad range %q: end before start", part)
			}
			for n := start; n <= end; n++ {
				add(n)
			}
		} else {
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, E(KindInvalidPageRange, "%q is not a page number", part)
			}
			if err := checkBounds(n, totalPages); err != nil {
				return nil, err
			}
			add(n)
		}
	}

	if len(pages) == 0 {
		return nil, E(KindInvalidPageRange, "no pages selected")
	}
	return pages, nil
}

func checkBounds(n, totalPages int) error {
	if n < 1 || n > totalPages {
		return E(KindInvalidPageRange, "page %d is outside 1-%d", n, totalPages)
	}
	return nil
}

// CompactRanges renders an ascending page list in compact form, e.g.
// [1 2 3 7] becomes "1-3,7".
func CompactRanges(pages []int) string {
	if len(pages) == 0 {
		return ""
	}
	var parts []string
	start, end := pages[0], pages[0]
	emit := func() {
		if start == end {
			parts = append(parts, strconv.Itoa(start))
		} else {
			parts = append(parts, fmt.Sprintf("%d-%d", start, end))
		}
	}
	for _, n := range pages[1:] {
		if n == end+1 {
			end = n
			continue
		}
		emit()
		start, end = n, n
	}
	emit()
	return strings.Join(parts, ",")
}
