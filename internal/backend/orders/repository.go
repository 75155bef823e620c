package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type Repository interface {
	FindByIdempotencyKey(ctx context.Context, key string) (*Record, error)
	Get(ctx context.Context, id string) (*Record, error)
	ListByUser(ctx context.Context, userID string) ([]Record, error)
	// CreateWithEvent stores the order and its outbox event atomically.
	CreateWithEvent(ctx context.Context, rec *Record, ev OutboxEvent) error
	UnprocessedEvents(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkProcessed(ctx context.Context, id string) error
}

const paymentIDConstraint = "orders_payment_id_key"

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type orderRow struct {
	ID              string          `db:"id"`
	UserID          string          `db:"user_id"`
	IdempotencyKey  string          `db:"idempotency_key"`
	Status          string          `db:"status"`
	PaymentMethod   string          `db:"payment_method"`
	PaymentInfo     []byte          `db:"payment_info"`
	CouponCode      string          `db:"coupon_code"`
	Items           []byte          `db:"items"`
	ShippingAddress []byte          `db:"shipping_address"`
	Subtotal        decimal.Decimal `db:"subtotal"`
	Tax             decimal.Decimal `db:"tax"`
	Shipping        decimal.Decimal `db:"shipping"`
	Discount        decimal.Decimal `db:"discount"`
	Total           decimal.Decimal `db:"total"`
	Currency        string          `db:"currency"`
	CreatedAt       time.Time       `db:"created_at"`
}

const orderColumns = `id, user_id, idempotency_key, status, payment_method, payment_info, coupon_code,
	items, shipping_address, subtotal, tax, shipping, discount, total, currency, created_at`

func (r orderRow) record() (*Record, error) {
	rec := &Record{
		ID:        r.ID,
		UserID:    r.UserID,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		Order: domain.Order{
			IdempotencyKey: r.IdempotencyKey,
			PaymentMethod:  domain.PaymentMethod(r.PaymentMethod),
			CouponCode:     r.CouponCode,
			Subtotal:       r.Subtotal,
			Tax:            r.Tax,
			Shipping:       r.Shipping,
			Discount:       r.Discount,
			Total:          r.Total,
			Currency:       r.Currency,
			CreatedAt:      r.CreatedAt,
		},
	}
	if err := json.Unmarshal(r.Items, &rec.Order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	if err := json.Unmarshal(r.ShippingAddress, &rec.Order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("unmarshal shipping address: %w", err)
	}
	if len(r.PaymentInfo) > 0 && string(r.PaymentInfo) != "null" {
		var pi domain.PaymentInfo
		if err := json.Unmarshal(r.PaymentInfo, &pi); err != nil {
			return nil, fmt.Errorf("unmarshal payment info: %w", err)
		}
		rec.Order.PaymentInfo = &pi
	}
	return rec, nil
}

func (p *PostgresRepository) getOne(ctx context.Context, where string, arg any) (*Record, error) {
	var row orderRow
	err := p.db.GetContext(ctx, &row, `SELECT `+orderColumns+` FROM orders WHERE `+where+` = $1`, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order: %w", err)
	}
	return row.record()
}

func (p *PostgresRepository) FindByIdempotencyKey(ctx context.Context, key string) (*Record, error) {
	return p.getOne(ctx, "idempotency_key", key)
}

func (p *PostgresRepository) Get(ctx context.Context, id string) (*Record, error) {
	return p.getOne(ctx, "id", id)
}

func (p *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]Record, error) {
	var rows []orderRow
	err := p.db.SelectContext(ctx, &rows,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders by user id: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.record()
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

func (p *PostgresRepository) CreateWithEvent(ctx context.Context, rec *Record, ev OutboxEvent) (err error) {
	items, err := json.Marshal(rec.Order.Items)
	if err != nil {
		return fmt.Errorf("marshal order items: %w", err)
	}
	addr, err := json.Marshal(rec.Order.ShippingAddress)
	if err != nil {
		return fmt.Errorf("marshal shipping address: %w", err)
	}
	// jsonb parameters go as text; lib/pq would send []byte as bytea
	var payment, paymentID any
	if rec.Order.PaymentInfo != nil {
		paymentID = rec.Order.PaymentInfo.PaymentID
		pi, err := json.Marshal(rec.Order.PaymentInfo)
		if err != nil {
			return fmt.Errorf("marshal payment info: %w", err)
		}
		payment = string(pi)
	}

	tx, err := p.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	o := rec.Order
	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, user_id, idempotency_key, status, payment_method, payment_info, coupon_code,
			items, shipping_address, subtotal, tax, shipping, discount, total, currency, created_at, payment_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		rec.ID, rec.UserID, o.IdempotencyKey, rec.Status, string(o.PaymentMethod), payment, o.CouponCode,
		string(items), string(addr), o.Subtotal, o.Tax, o.Shipping, o.Discount, o.Total, o.Currency, rec.CreatedAt,
		paymentID,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			if pqErr.Constraint == paymentIDConstraint {
				return ErrPaymentUsed
			}
			return ErrDuplicateKey
		}
		return fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox_events (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.AggregateID, ev.EventType, string(ev.Payload), ev.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type eventRow struct {
	ID          string    `db:"id"`
	AggregateID string    `db:"aggregate_id"`
	EventType   string    `db:"event_type"`
	Payload     []byte    `db:"payload"`
	CreatedAt   time.Time `db:"created_at"`
}

func (p *PostgresRepository) UnprocessedEvents(ctx context.Context, limit int) ([]OutboxEvent, error) {
	var rows []eventRow
	err := p.db.SelectContext(ctx, &rows, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM outbox_events
		WHERE processed_at IS NULL
		ORDER BY created_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox events: %w", err)
	}
	out := make([]OutboxEvent, 0, len(rows))
	for _, r := range rows {
		out = append(out, OutboxEvent(r))
	}
	return out, nil
}

func (p *PostgresRepository) MarkProcessed(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE outbox_events SET processed_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}
