package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	domain "github.com/yhchiang-dev/shopledger/internal/domain/product"
)

type ProductRepository struct {
	db *sql.DB
}

func NewProductRepository(db *sql.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

func (r *ProductRepository) Create(ctx context.Context, p *domain.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, name, stock, alert_threshold, threshold_set, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.Name, p.Stock, p.AlertThreshold, p.ThresholdSet, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *ProductRepository) Get(ctx context.Context, productID string) (*domain.Product, error) {
	return scanProduct(r.db.QueryRowContext(ctx,
		`SELECT id, name, stock, alert_threshold, threshold_set, created_at, updated_at
		 FROM products WHERE id = $1`, productID))
}

// Update locks the product row, runs fn against the current state, and
// commits the stock value together with any history record fn returns.
func (r *ProductRepository) Update(ctx context.Context, productID string, fn func(p *domain.Product) (*domain.HistoryRecord, error)) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	p, err := scanProduct(tx.QueryRowContext(ctx,
		`SELECT id, name, stock, alert_threshold, threshold_set, created_at, updated_at
		 FROM products WHERE id = $1 FOR UPDATE`, productID))
	if err != nil {
		return err
	}

	record, err := fn(p)
	if err != nil {
		return err
	}
	if record != nil && !record.Consistent() {
		return fmt.Errorf("inconsistent history record for %s", productID)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE products SET name = $2, stock = $3, alert_threshold = $4, threshold_set = $5, updated_at = $6
		 WHERE id = $1`,
		p.ID, p.Name, p.Stock, p.AlertThreshold, p.ThresholdSet, p.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update product: %w", err)
	}

	if record != nil {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stock_history (id, product_id, delta, direction, reason, reference, previous_stock, new_stock, recorded_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			record.ID, record.ProductID, record.Delta, string(record.Direction), string(record.Reason),
			record.Reference, record.PreviousStock, record.NewStock, record.RecordedAt,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *ProductRepository) History(ctx context.Context, productID string) ([]domain.HistoryRecord, error) {
	if _, err := r.Get(ctx, productID); err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, product_id, delta, direction, reason, reference, previous_stock, new_stock, recorded_at
		 FROM stock_history WHERE product_id = $1 ORDER BY recorded_at, id`, productID)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []domain.HistoryRecord
	for rows.Next() {
		var rec domain.HistoryRecord
		if err := rows.Scan(&rec.ID, &rec.ProductID, &rec.Delta, &rec.Direction, &rec.Reason,
			&rec.Reference, &rec.PreviousStock, &rec.NewStock, &rec.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Stock, &p.AlertThreshold, &p.ThresholdSet, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan product: %w", err)
	}
	return &p, nil
}
