package pagination

// Ellipsis marks a gap of one or more hidden pages in a window.
const Ellipsis = 0

// Window returns the page buttons for current page p of totalPages.
// Out-of-range input is clamped to [1, totalPages].
func Window(p, totalPages int) []int {
	if totalPages < 1 {
		totalPages = 1
	}
	if p < 1 {
		p = 1
	}
	if p > totalPages {
		p = totalPages
	}

	window := make([]int, 0, 7)
	window = append(window, 1)

	if p > 3 {
		window = append(window, Ellipsis)
	}

	for n := max(2, p-1); n <= min(totalPages-1, p+1); n++ {
		window = append(window, n)
	}

	if p < totalPages-2 {
		window = append(window, Ellipsis)
	}

	if totalPages > 1 {
		window = append(window, totalPages)
	}

	return window
}

// TotalPages returns the number of pages needed for total items of pageSize,
// never less than one.
func TotalPages(total, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 1
	}
	return (total + pageSize - 1) / pageSize
}

// Contains reports whether page n is a valid page of totalPages.
func Contains(n, totalPages int) bool {
	return n >= 1 && n <= totalPages
}
