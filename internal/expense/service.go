package expense

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// IDGenerator generates unique IDs for expenses
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles expense operations
type Service struct {
	db          DB
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUID ids and the wall clock
func NewService(db DB) *Service {
	return NewServiceWithDeps(db, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// CreateExpense validates and saves a new expense
func (s *Service) CreateExpense(ctx context.Context, in Input) (*Expense, error) {
	v, err := in.validate()
	if err != nil {
		return nil, err
	}

	now := s.timeSource.Now().UTC()
	expense := &Expense{
		ID:        s.idGenerator.Generate(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	v.apply(expense)

	if err := s.db.SaveExpense(ctx, expense); err != nil {
		return nil, fmt.Errorf("saving expense to database: %w", err)
	}

	slog.Info("Expense created", "id", expense.ID, "amount", expense.Amount.StringFixed(2), "category", expense.Category)
	return expense, nil
}

// GetExpense retrieves an expense by ID
func (s *Service) GetExpense(ctx context.Context, id string) (*Expense, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	expense, err := s.db.GetExpense(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return expense, nil
}

// ListExpenses returns all expenses, newest date first
func (s *Service) ListExpenses(ctx context.Context) ([]*Expense, error) {
	expenses, err := s.db.ListExpenses(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return expenses, nil
}

// UpdateExpense replaces the editable fields of an existing expense
func (s *Service) UpdateExpense(ctx context.Context, id string, in Input) (*Expense, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	v, err := in.validate()
	if err != nil {
		return nil, err
	}

	expense, err := s.db.GetExpense(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting expense for update: %w", err)
	}
	v.apply(expense)
	expense.UpdatedAt = s.timeSource.Now().UTC()

	if err := s.db.SaveExpense(ctx, expense); err != nil {
		return nil, fmt.Errorf("saving expense to database: %w", err)
	}
	return expense, nil
}

// DeleteExpense removes an expense and returns what was deleted
func (s *Service) DeleteExpense(ctx context.Context, id string) (*Expense, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	expense, err := s.db.GetExpense(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting expense for deletion: %w", err)
	}

	if err := s.db.DeleteExpense(ctx, id); err != nil {
		return nil, fmt.Errorf("deleting expense from database: %w", err)
	}

	slog.Info("Expense deleted", "id", id)
	return expense, nil
}

// CategoryTotal is the spend in one category
type CategoryTotal struct {
	Category string `json:"category"`
	Total    string `json:"total"`
	Count    int    `json:"count"`
}

// DateTotal is the spend on one day
type DateTotal struct {
	Date  string `json:"date"`
	Total string `json:"total"`
}

// Summary aggregates expenses for charts
type Summary struct {
	Total      string          `json:"total"`
	Count      int             `json:"count"`
	ByCategory []CategoryTotal `json:"by_category"`
	ByDate     []DateTotal     `json:"by_date"`
}

// Summarize totals all expenses by category (largest first) and by date (oldest first)
func (s *Service) Summarize(ctx context.Context) (*Summary, error) {
	expenses, err := s.ListExpenses(ctx)
	if err != nil {
		return nil, err
	}

	var total decimal.Decimal
	byCategory := make(map[string]decimal.Decimal)
	countByCategory := make(map[string]int)
	byDate := make(map[string]decimal.Decimal)
	for _, e := range expenses {
		total = total.Add(e.Amount)
		byCategory[e.Category] = byCategory[e.Category].Add(e.Amount)
		countByCategory[e.Category]++
		byDate[e.Date] = byDate[e.Date].Add(e.Amount)
	}

	categories := make([]string, 0, len(byCategory))
	for c := range byCategory {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool {
		if cmp := byCategory[categories[i]].Cmp(byCategory[categories[j]]); cmp != 0 {
			return cmp > 0
		}
		return categories[i] < categories[j]
	})

	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	summary := &Summary{
		Total:      total.StringFixed(2),
		Count:      len(expenses),
		ByCategory: make([]CategoryTotal, 0, len(categories)),
		ByDate:     make([]DateTotal, 0, len(dates)),
	}
	for _, c := range categories {
		summary.ByCategory = append(summary.ByCategory, CategoryTotal{
			Category: c,
			Total:    byCategory[c].StringFixed(2),
			Count:    countByCategory[c],
		})
	}
	for _, d := range dates {
		summary.ByDate = append(summary.ByDate, DateTotal{Date: d, Total: byDate[d].StringFixed(2)})
	}
	return summary, nil
}

// checkID rejects ids that could never have been generated
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}
