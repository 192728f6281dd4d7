package domain

// CatalogItem is the template the daily rollover materializes stock from.
// It is administered externally; this service only reads it.
type CatalogItem struct {
	ID            string
	Name          string
	UnitPrice     int64 // cents
	DailyQuantity int   // stock pool size per day
	Active        bool
}
