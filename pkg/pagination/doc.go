// Package pagination derives the page-button window shown under a result list.
//
// The window always contains the first and the last page, the current page
// and one neighbour on each side. Gaps are marked with Ellipsis:
//
//	pagination.Window(5, 10) // [1 … 4 5 6 … 10]
//	pagination.Window(1, 10) // [1 2 … 10]
//	pagination.Window(1, 1)  // [1]
//
// Page numbers are 1-based; Ellipsis is 0 so it can never collide with a page.
package pagination
