package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	domain "github.com/yhchiang-dev/shopledger/internal/domain/order"
	"github.com/yhchiang-dev/shopledger/internal/domain/payment"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO orders (id, customer_id, total_amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.CustomerID, o.TotalAmount, string(o.Status), o.CreatedAt, o.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrConflict
		}
		return fmt.Errorf("insert order: %w", err)
	}
	if o.Payment != nil {
		if err := upsertPayment(ctx, tx, o.Payment); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *OrderRepository) Get(ctx context.Context, orderID string) (*domain.Order, error) {
	o, err := scanOrder(r.db.QueryRowContext(ctx,
		`SELECT id, customer_id, total_amount, status, created_at, updated_at
		 FROM orders WHERE id = $1`, orderID))
	if err != nil {
		return nil, err
	}
	o.Payment, err = paymentForOrder(ctx, r.db, orderID)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func (r *OrderRepository) FindByPaymentID(ctx context.Context, paymentID string) (*domain.Order, error) {
	var orderID string
	err := r.db.QueryRowContext(ctx,
		`SELECT order_id FROM payments WHERE id = $1`, paymentID).Scan(&orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find by payment: %w", err)
	}
	return r.Get(ctx, orderID)
}

// Update locks the order row (and its payment row, when present), runs fn,
// and commits the order status and payment writes as one unit. The UNIQUE
// constraint on payments.order_id backstops the duplicate-payment check
// even against writers outside this process.
func (r *OrderRepository) Update(ctx context.Context, orderID string, fn func(o *domain.Order) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	o, err := scanOrder(tx.QueryRowContext(ctx,
		`SELECT id, customer_id, total_amount, status, created_at, updated_at
		 FROM orders WHERE id = $1 FOR UPDATE`, orderID))
	if err != nil {
		return err
	}
	o.Payment, err = paymentForOrderLocked(ctx, tx, orderID)
	if err != nil {
		return err
	}

	if err := fn(o); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE orders SET status = $2, updated_at = $3 WHERE id = $1`,
		o.ID, string(o.Status), o.UpdatedAt,
	); err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if o.Payment != nil {
		if err := upsertPayment(ctx, tx, o.Payment); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertPayment(ctx context.Context, tx execer, p *payment.Payment) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO payments (id, order_id, amount, method, status, transaction_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (id) DO UPDATE
		 SET status = EXCLUDED.status, transaction_id = EXCLUDED.transaction_id, updated_at = EXCLUDED.updated_at`,
		p.ID, p.OrderID, p.Amount, string(p.Method), string(p.Status), p.TransactionID, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrDuplicatePayment
		}
		return fmt.Errorf("upsert payment: %w", err)
	}
	return nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func paymentForOrder(ctx context.Context, q querier, orderID string) (*payment.Payment, error) {
	return scanPayment(q.QueryRowContext(ctx,
		`SELECT id, order_id, amount, method, status, transaction_id, created_at, updated_at
		 FROM payments WHERE order_id = $1`, orderID))
}

func paymentForOrderLocked(ctx context.Context, q querier, orderID string) (*payment.Payment, error) {
	return scanPayment(q.QueryRowContext(ctx,
		`SELECT id, order_id, amount, method, status, transaction_id, created_at, updated_at
		 FROM payments WHERE order_id = $1 FOR UPDATE`, orderID))
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.TotalAmount, &o.Status, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

func scanPayment(row *sql.Row) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Amount, &p.Method, &p.Status, &p.TransactionID, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return &p, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
