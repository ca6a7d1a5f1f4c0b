package extract

import (
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultCategory is assigned to every scanned draft.
	DefaultCategory = "Other"
	// ScanNotes marks expenses that started life as a receipt scan.
	ScanNotes = "Scanned from receipt"
)

// Draft is an extracted, not yet reviewed expense. Amount and Merchant are
// empty when nothing suitable was found; Date is always set.
type Draft struct {
	Amount   string `json:"amount"`
	Merchant string `json:"merchant"`
	Date     string `json:"date"`
	Category string `json:"category"`
	Notes    string `json:"notes"`
}

// Compose builds a Draft from extractor results. A missing date falls back
// to the day of now.
func Compose(amount, merchant, date string, now time.Time) Draft {
	if date == "" {
		date = now.Format(isoDate)
	}
	return Draft{
		Amount:   amount,
		Merchant: merchant,
		Date:     date,
		Category: DefaultCategory,
		Notes:    ScanNotes,
	}
}

// Extract runs the full pipeline over raw OCR text.
func Extract(raw string, now time.Time) Draft {
	lines := Lines(raw)

	var amount, merchant, date string
	var g errgroup.Group
	g.Go(func() error { amount = Amount(lines); return nil })
	g.Go(func() error { merchant = Merchant(lines); return nil })
	g.Go(func() error { date = Date(lines); return nil })
	_ = g.Wait() // extractors never fail

	return Compose(amount, merchant, date, now)
}
