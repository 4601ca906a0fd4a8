package testutil

import (
	"fmt"

	"github.com/Sternrassler/pagedsearch/pkg/record"
)

// PurchaseRows generates n purchase rows spread over the given stores.
// Row i has id "PO-<i>", storeId stores[i%len(stores)], productId "P<i%3>"
// and supplierId "SUP-<i%2>".
func PurchaseRows(n int, stores ...string) []record.Row {
	if len(stores) == 0 {
		stores = []string{"S1"}
	}

	rows := make([]record.Row, 0, n)
	for i := 1; i <= n; i++ {
		rows = append(rows, record.Row{
			"id":         fmt.Sprintf("PO-%d", i),
			"storeId":    stores[i%len(stores)],
			"productId":  fmt.Sprintf("P%d", i%3),
			"supplierId": fmt.Sprintf("SUP-%d", i%2),
			"quantity":   float64(i),
		})
	}
	return rows
}

// Slice returns the rows of a 1-based page.
func Slice(rows []record.Row, page, pageSize int) []record.Row {
	start := (page - 1) * pageSize
	if start >= len(rows) || start < 0 {
		return []record.Row{}
	}
	end := start + pageSize
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

// PageOf returns the record.Page for a 1-based page of rows.
func PageOf(rows []record.Row, page, pageSize int) record.Page {
	return record.Page{
		Items:      Slice(rows, page, pageSize),
		TotalItems: len(rows),
	}
}
