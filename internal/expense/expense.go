package expense

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/zombor/expense-tracker/internal/extract"
)

const dateLayout = "2006-01-02"

// Categories an expense can be filed under
var Categories = []string{"Food", "Transport", "Shopping", "Bills", "Entertainment", "Other"}

var (
	ErrNotFound     = errors.New("expense not found")
	ErrInvalidInput = errors.New("invalid expense")
)

// Expense is a saved spending record
type Expense struct {
	ID        string          `json:"id"`
	Amount    decimal.Decimal `json:"amount"`
	Category  string          `json:"category"`
	Merchant  string          `json:"merchant"`
	Date      string          `json:"date"` // YYYY-MM-DD
	Notes     string          `json:"notes"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// MarshalJSON renders the amount with exactly two decimals
func (e Expense) MarshalJSON() ([]byte, error) {
	type alias Expense
	return json.Marshal(struct {
		alias
		Amount string `json:"amount"`
	}{
		alias:  alias(e),
		Amount: e.Amount.StringFixed(2),
	})
}

// Input is an expense as submitted by a client or a confirmed scan
type Input struct {
	Amount   string `json:"amount"`
	Category string `json:"category"`
	Merchant string `json:"merchant"`
	Date     string `json:"date"`
	Notes    string `json:"notes"`
}

// UnmarshalJSON accepts the amount as a JSON string or number
func (in *Input) UnmarshalJSON(data []byte) error {
	type alias Input
	var raw struct {
		alias
		Amount any `json:"amount"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*in = Input(raw.alias)

	switch v := raw.Amount.(type) {
	case nil:
		in.Amount = ""
	case string:
		in.Amount = v
	case float64:
		in.Amount = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Errorf("amount must be a string or number, got %T", v)
	}
	return nil
}

// InputFromDraft turns a reviewed draft into an expense input
func InputFromDraft(d extract.Draft) Input {
	return Input{
		Amount:   d.Amount,
		Category: d.Category,
		Merchant: d.Merchant,
		Date:     d.Date,
		Notes:    d.Notes,
	}
}

type validInput struct {
	amount   decimal.Decimal
	category string
	merchant string
	date     string
	notes    string
}

func (in Input) validate() (validInput, error) {
	var v validInput

	amount := strings.TrimPrefix(strings.TrimSpace(in.Amount), "$")
	if amount == "" {
		return v, fmt.Errorf("%w: amount is required", ErrInvalidInput)
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return v, fmt.Errorf("%w: amount %q is not a number", ErrInvalidInput, in.Amount)
	}
	if d.IsNegative() {
		return v, fmt.Errorf("%w: amount cannot be negative", ErrInvalidInput)
	}
	v.amount = d.Round(2)

	date := strings.TrimSpace(in.Date)
	if date == "" {
		return v, fmt.Errorf("%w: date is required", ErrInvalidInput)
	}
	if _, err := time.Parse(dateLayout, date); err != nil {
		return v, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidInput, in.Date)
	}
	v.date = date

	v.category, err = normalizeCategory(in.Category)
	if err != nil {
		return v, err
	}

	v.merchant = strings.TrimSpace(in.Merchant)
	v.notes = strings.TrimSpace(in.Notes)
	return v, nil
}

func normalizeCategory(category string) (string, error) {
	category = strings.TrimSpace(category)
	if category == "" {
		return extract.DefaultCategory, nil
	}
	for _, c := range Categories {
		if strings.EqualFold(c, category) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: unknown category %q", ErrInvalidInput, category)
}

func (v validInput) apply(e *Expense) {
	e.Amount = v.amount
	e.Category = v.category
	e.Merchant = v.merchant
	e.Date = v.date
	e.Notes = v.notes
}
