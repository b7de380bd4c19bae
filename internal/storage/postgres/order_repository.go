package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/upside/order-processing/internal/domain"
)

const (
	opTimeout = 5 * time.Second
	// streamBuffer — размер буфера канала при потоковой выдаче строк.
	streamBuffer = 64
)

const orderColumns = `id, order_number, status, total_amount, customer_id, product_id, quantity, version, created_at, updated_at`

type orderRepository struct {
	db *sql.DB
}

// NewOrderRepository создаёт PostgreSQL-реализацию OrderRepository.
func NewOrderRepository(store *Store) domain.OrderRepository {
	return &orderRepository{db: store.DB()}
}

// Save создаёт заказ (при нулевом ID) или перезаписывает его с учётом optimistic locking.
func (r *orderRepository) Save(ctx context.Context, order domain.Order) (domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if order.ID == 0 {
		return r.insert(opCtx, order)
	}
	return r.update(opCtx, order)
}

func (r *orderRepository) insert(ctx context.Context, order domain.Order) (domain.Order, error) {
	now := time.Now().UTC()
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO orders (
			order_number, status, total_amount, customer_id, product_id, quantity, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,1,$7,$7)
		RETURNING id, version, created_at, updated_at
	`,
		order.OrderNumber, string(order.Status), order.TotalAmount,
		order.CustomerID, order.ProductID, order.Quantity, now,
	).Scan(&order.ID, &order.Version, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Order{}, domain.ErrOrderVersionConflict
		}
		return domain.Order{}, fmt.Errorf("%w: insert order: %v", domain.ErrPersistence, err)
	}
	return order, nil
}

func (r *orderRepository) update(ctx context.Context, order domain.Order) (domain.Order, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders
		SET status = $1,
		    total_amount = $2,
		    customer_id = $3,
		    product_id = $4,
		    quantity = $5,
		    version = version + 1,
		    updated_at = $6
		WHERE id = $7
		  AND version = $8
	`,
		string(order.Status), order.TotalAmount, order.CustomerID,
		order.ProductID, order.Quantity, now, order.ID, order.Version,
	)
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: update order: %v", domain.ErrPersistence, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: rows affected: %v", domain.ErrPersistence, err)
	}
	if affected == 0 {
		exists, err := r.orderExists(ctx, order.ID)
		if err != nil {
			return domain.Order{}, err
		}
		if !exists {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	order.Version++
	order.UpdatedAt = now
	return order, nil
}

// FindByID возвращает заказ или ErrOrderNotFound.
func (r *orderRepository) FindByID(ctx context.Context, id int64) (domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(opCtx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE id = $1
	`, id)
	return scanOrder(row)
}

// FindByOrderNumber возвращает заказ по внешнему номеру или ErrOrderNotFound.
func (r *orderRepository) FindByOrderNumber(ctx context.Context, number string) (domain.Order, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	row := r.db.QueryRowContext(opCtx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE order_number = $1
	`, number)
	return scanOrder(row)
}

// StreamByStatus лениво отдаёт заказы в порядке возрастания id (естественный
// порядок вставки). Продюсер останавливается при отмене ctx; ряды закрываются
// в любом случае.
func (r *orderRepository) StreamByStatus(ctx context.Context, status domain.OrderStatus, limit int) (<-chan domain.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		ORDER BY id ASC
	`

	var (
		rows *sql.Rows
		err  error
	)
	if limit > 0 {
		rows, err = r.db.QueryContext(ctx, query+" LIMIT $2", string(status), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, query, string(status))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: stream orders: %v", domain.ErrPersistence, err)
	}

	out := make(chan domain.Order, streamBuffer)
	go func() {
		defer close(out)
		defer rows.Close()
		for rows.Next() {
			order, scanErr := scanOrderRows(rows)
			if scanErr != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case out <- order:
			}
		}
	}()

	return out, nil
}

// UpdateStatus выполняет условное обновление статуса и возвращает число затронутых строк.
func (r *orderRepository) UpdateStatus(ctx context.Context, id int64, status domain.OrderStatus) (int64, error) {
	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	res, err := r.db.ExecContext(opCtx, `
		UPDATE orders
		SET status = $1,
		    version = version + 1,
		    updated_at = $2
		WHERE id = $3
	`, string(status), time.Now().UTC(), id)
	if err != nil {
		return 0, fmt.Errorf("%w: update status: %v", domain.ErrPersistence, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: rows affected: %v", domain.ErrPersistence, err)
	}
	return affected, nil
}

func (r *orderRepository) orderExists(ctx context.Context, id int64) (bool, error) {
	var found int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = $1`, id).Scan(&found)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("%w: check order exists: %v", domain.ErrPersistence, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	order, err := scanOrderRows(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Order{}, domain.ErrOrderNotFound
		}
		return domain.Order{}, fmt.Errorf("%w: select order: %v", domain.ErrPersistence, err)
	}
	return order, nil
}

func scanOrderRows(row rowScanner) (domain.Order, error) {
	var order domain.Order
	var status string
	err := row.Scan(
		&order.ID, &order.OrderNumber, &status, &order.TotalAmount,
		&order.CustomerID, &order.ProductID, &order.Quantity,
		&order.Version, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}
	order.Status = domain.OrderStatus(status)
	return order, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

var _ domain.OrderRepository = (*orderRepository)(nil)
