package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/yidafu/AquaRush-sub000/internal/domain"
	"github.com/yidafu/AquaRush-sub000/internal/event"
)

const orderColumns = `id, order_number, user_id, product_id, address_id, amount, status,
	delivery_worker_id, payment_transaction_id, updated_at`

// OrderStore implements domain.OrderRepository and domain.DeliveryService.
// MarkPaid and Cancel are outbox writers: the order change and its event
// record commit in one transaction.
type OrderStore struct {
	db *DB
}

var (
	_ domain.OrderRepository = (*OrderStore)(nil)
	_ domain.DeliveryService = (*OrderStore)(nil)
)

func NewOrderStore(db *DB) *OrderStore {
	return &OrderStore{db: db}
}

func (s *OrderStore) FindByID(ctx context.Context, id int64) (*domain.Order, error) {
	return findOrder(ctx, s.db.db, id)
}

func findOrder(ctx context.Context, q queryer, id int64) (*domain.Order, error) {
	row := q.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, domain.ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", id, err)
	}
	return o, nil
}

func (s *OrderStore) FindByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE status = ? ORDER BY id
	`, string(status))
	if err != nil {
		return nil, fmt.Errorf("find orders by status: %w", err)
	}
	defer rows.Close()

	var out []*domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return out, nil
}

// Save inserts or replaces the order.
func (s *OrderStore) Save(ctx context.Context, o *domain.Order) error {
	o.UpdatedAt = time.Now().UTC()
	var worker sql.NullInt64
	if o.DeliveryWorkerID != nil {
		worker = sql.NullInt64{Int64: *o.DeliveryWorkerID, Valid: true}
	}
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			order_number = excluded.order_number,
			user_id = excluded.user_id,
			product_id = excluded.product_id,
			address_id = excluded.address_id,
			amount = excluded.amount,
			status = excluded.status,
			delivery_worker_id = excluded.delivery_worker_id,
			payment_transaction_id = excluded.payment_transaction_id,
			updated_at = excluded.updated_at
	`, o.ID, o.OrderNumber, o.UserID, o.ProductID, o.AddressID, o.Amount, string(o.Status),
		worker, nullString(o.PaymentTransactionID), toNanos(o.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save order %d: %w", o.ID, err)
	}
	return nil
}

func (s *OrderStore) OnlineWorkers(ctx context.Context) ([]domain.DeliveryWorker, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT id, name, phone, is_online FROM delivery_workers WHERE is_online = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list online workers: %w", err)
	}
	defer rows.Close()

	var out []domain.DeliveryWorker
	for rows.Next() {
		var w domain.DeliveryWorker
		if err := rows.Scan(&w.ID, &w.Name, &w.Phone, &w.IsOnline); err != nil {
			return nil, fmt.Errorf("scan worker: %w", err)
		}
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate workers: %w", err)
	}
	return out, nil
}

// SaveWorker inserts or replaces a courier.
func (s *OrderStore) SaveWorker(ctx context.Context, w domain.DeliveryWorker) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO delivery_workers (id, name, phone, is_online) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, phone = excluded.phone, is_online = excluded.is_online
	`, w.ID, w.Name, w.Phone, w.IsOnline)
	if err != nil {
		return fmt.Errorf("save worker %d: %w", w.ID, err)
	}
	return nil
}

// AssignWorker implements domain.DeliveryService with a conditional update:
// only a PENDING_DELIVERY order without a courier is changed.
func (s *OrderStore) AssignWorker(ctx context.Context, orderID, workerID int64) error {
	return s.db.withTx(ctx, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM delivery_workers WHERE id = ?`, workerID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("worker %d: %w", workerID, domain.ErrWorkerNotFound)
		}
		if err != nil {
			return fmt.Errorf("load worker %d: %w", workerID, err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, delivery_worker_id = ?, updated_at = ?
			WHERE id = ? AND status = ? AND delivery_worker_id IS NULL
		`, string(domain.OrderDelivering), workerID, toNanos(time.Now()), orderID, string(domain.OrderPendingDelivery))
		if err != nil {
			return fmt.Errorf("assign worker to order %d: %w", orderID, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return nil
		}

		o, err := findOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.DeliveryWorkerID != nil {
			return fmt.Errorf("order %d: %w", orderID, domain.ErrAlreadyAssigned)
		}
		return fmt.Errorf("order %d is %s: %w", orderID, o.Status, domain.ErrInvalidTransition)
	})
}

// MarkPaid records the payment and appends ORDER_PAID in the same transaction.
func (s *OrderStore) MarkPaid(ctx context.Context, orderID int64, transactionID string) (*event.Record, error) {
	var rec *event.Record
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		o, err := findOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderPendingPayment {
			return fmt.Errorf("pay order %d in status %s: %w", orderID, o.Status, domain.ErrInvalidTransition)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, payment_transaction_id = ?, updated_at = ? WHERE id = ?
		`, string(domain.OrderPendingDelivery), transactionID, toNanos(time.Now()), orderID); err != nil {
			return fmt.Errorf("mark order %d paid: %w", orderID, err)
		}

		rec, err = event.New(event.TypeOrderPaid, event.Payload{
			"orderId":              strconv.FormatInt(o.ID, 10),
			"orderNumber":          o.OrderNumber,
			"userId":               strconv.FormatInt(o.UserID, 10),
			"paymentTransactionId": transactionID,
		})
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Cancel cancels an order that has not left for delivery and appends
// ORDER_CANCELLED. A refund is owed when the order was already paid.
func (s *OrderStore) Cancel(ctx context.Context, orderID int64, reason string) (*event.Record, error) {
	var rec *event.Record
	err := s.db.withTx(ctx, func(tx *sql.Tx) error {
		o, err := findOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderPendingPayment && o.Status != domain.OrderPendingDelivery {
			return fmt.Errorf("cancel order %d in status %s: %w", orderID, o.Status, domain.ErrInvalidTransition)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE orders SET status = ?, updated_at = ? WHERE id = ?
		`, string(domain.OrderCancelled), toNanos(time.Now()), orderID); err != nil {
			return fmt.Errorf("cancel order %d: %w", orderID, err)
		}

		paid := o.Status == domain.OrderPendingDelivery && o.PaymentTransactionID != ""
		rec, err = event.New(event.TypeOrderCancelled, event.Payload{
			"orderId":              strconv.FormatInt(o.ID, 10),
			"orderNumber":          o.OrderNumber,
			"userId":               strconv.FormatInt(o.UserID, 10),
			"shouldRefund":         paid,
			"paymentTransactionId": o.PaymentTransactionID,
			"reason":               reason,
		})
		if err != nil {
			return err
		}
		return appendEvent(ctx, tx, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func scanOrder(row scanner) (*domain.Order, error) {
	var (
		o         domain.Order
		status    string
		worker    sql.NullInt64
		txID      sql.NullString
		updatedAt int64
	)
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.ProductID, &o.AddressID, &o.Amount,
		&status, &worker, &txID, &updatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = domain.OrderStatus(status)
	if worker.Valid {
		w := worker.Int64
		o.DeliveryWorkerID = &w
	}
	o.PaymentTransactionID = txID.String
	o.UpdatedAt = fromNanos(updatedAt)
	return &o, nil
}

// AddressStore implements domain.AddressRepository.
type AddressStore struct {
	db *DB
}

var _ domain.AddressRepository = (*AddressStore)(nil)

func NewAddressStore(db *DB) *AddressStore {
	return &AddressStore{db: db}
}

func (s *AddressStore) FindByID(ctx context.Context, id int64) (*domain.Address, error) {
	var a domain.Address
	err := s.db.db.QueryRowContext(ctx, `
		SELECT id, user_id, province, city, district, detail FROM addresses WHERE id = ?
	`, id).Scan(&a.ID, &a.UserID, &a.Province, &a.City, &a.District, &a.Detail)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("address %d: %w", id, domain.ErrAddressNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load address %d: %w", id, err)
	}
	return &a, nil
}

// Save inserts or replaces the address.
func (s *AddressStore) Save(ctx context.Context, a domain.Address) error {
	_, err := s.db.db.ExecContext(ctx, `
		INSERT INTO addresses (id, user_id, province, city, district, detail) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET user_id = excluded.user_id, province = excluded.province,
			city = excluded.city, district = excluded.district, detail = excluded.detail
	`, a.ID, a.UserID, a.Province, a.City, a.District, a.Detail)
	if err != nil {
		return fmt.Errorf("save address %d: %w", a.ID, err)
	}
	return nil
}
