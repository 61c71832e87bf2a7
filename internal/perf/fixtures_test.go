package perf

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-receivables/internal/ar"
	"github.com/odyssey-erp/odyssey-receivables/internal/money"
)

var asOf = time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)

// portfolio builds n pending invoices spread over 200 customers and 150 days
// of due dates, plus one receipt per ten invoices.
func portfolio(n int) []ar.Document {
	docs := make([]ar.Document, 0, n+n/10)
	for i := 0; i < n; i++ {
		due := asOf.AddDate(0, 0, 30-i%150)
		amount := money.MustParse(fmt.Sprintf("%d.%02d", 100+i%900, i%100))
		docs = append(docs, ar.Document{
			ID:             int64(i + 1),
			CustomerID:     int64(i%200 + 1),
			DocumentType:   ar.DocumentInvoice,
			DocumentNumber: fmt.Sprintf("INV-%06d", i+1),
			DocumentDate:   due.AddDate(0, 0, -30),
			DueDate:        &due,
			CurrencyCode:   "USD",
			OriginalAmount: amount,
			BalanceAmount:  amount,
			Status:         ar.StatusPending,
		})
		if i%10 == 0 {
			docs = append(docs, ar.Document{
				ID:             int64(n + i + 1),
				CustomerID:     int64(i%200 + 1),
				DocumentType:   ar.DocumentReceipt,
				DocumentNumber: fmt.Sprintf("REC-%06d", i+1),
				DocumentDate:   due,
				CurrencyCode:   "USD",
				OriginalAmount: money.MustParse("50"),
				BalanceAmount:  money.MustParse("50"),
				Status:         ar.StatusPending,
			})
		}
	}
	return docs
}
