package expense

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrations embed.FS

// pgxIface is the part of *pgxpool.Pool the store uses
type pgxIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresDB implements the DB interface on PostgreSQL
type PostgresDB struct {
	pool  pgxIface
	sqlDB *sql.DB
}

// NewPostgresDB connects to dsn, applies pending migrations and returns the store
func NewPostgresDB(ctx context.Context, dsn string) (*PostgresDB, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	cfg.MaxConnLifetime = 1 * time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.ConnConfig.RuntimeParams["application_name"] = "expense-tracker"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	sqlDB := stdlib.OpenDBFromPool(pool)
	if err := migrate(ctx, sqlDB); err != nil {
		sqlDB.Close()
		pool.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	slog.Info("Connected to PostgreSQL", "host", cfg.ConnConfig.Host, "database", cfg.ConnConfig.Database)
	return &PostgresDB{pool: pool, sqlDB: sqlDB}, nil
}

func newPostgresDB(pool pgxIface) *PostgresDB {
	return &PostgresDB{pool: pool}
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectPostgres, db, fsys)
	if err != nil {
		return fmt.Errorf("creating migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return err
	}
	slog.Info("Migrations applied", "count", len(results))
	return nil
}

const expenseColumns = `id::text, amount::text, category, merchant, to_char(date, 'YYYY-MM-DD'), notes, created_at, updated_at`

// SaveExpense inserts or replaces an expense
func (p *PostgresDB) SaveExpense(ctx context.Context, expense *Expense) error {
	query := `
		INSERT INTO expenses (id, amount, category, merchant, date, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::date, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			amount = EXCLUDED.amount,
			category = EXCLUDED.category,
			merchant = EXCLUDED.merchant,
			date = EXCLUDED.date,
			notes = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
	`
	_, err := p.pool.Exec(ctx, query,
		expense.ID,
		expense.Amount.StringFixed(2),
		expense.Category,
		expense.Merchant,
		expense.Date,
		expense.Notes,
		expense.CreatedAt,
		expense.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("saving expense: %w", err)
	}
	return nil
}

// GetExpense retrieves an expense by ID
func (p *PostgresDB) GetExpense(ctx context.Context, id string) (*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = $1`

	expense, err := scanExpense(p.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting expense: %w", err)
	}
	return expense, nil
}

// ListExpenses returns all expenses ordered by date, then creation time, newest first
func (p *PostgresDB) ListExpenses(ctx context.Context) ([]*Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses ORDER BY date DESC, created_at DESC`

	rows, err := p.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	defer rows.Close()

	expenses := make([]*Expense, 0)
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing expenses: %w", err)
	}
	return expenses, nil
}

// DeleteExpense removes an expense
func (p *PostgresDB) DeleteExpense(ctx context.Context, id string) error {
	result, err := p.pool.Exec(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting expense: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the connection pool
func (p *PostgresDB) Close() error {
	if p.sqlDB != nil {
		p.sqlDB.Close()
	}
	p.pool.Close()
	return nil
}

func scanExpense(row pgx.Row) (*Expense, error) {
	var (
		e      Expense
		amount string
	)
	if err := row.Scan(&e.ID, &amount, &e.Category, &e.Merchant, &e.Date, &e.Notes, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parsing amount %q: %w", amount, err)
	}
	e.Amount = d
	return &e, nil
}
