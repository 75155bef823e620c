// Package addresses is the per-user shipping address book.
package addresses

import (
	"context"
	"fmt"
	"time"

	"github.com/fjod/go_storefront/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

type Repository interface {
	List(ctx context.Context, userID string) ([]domain.Address, error)
	Create(ctx context.Context, userID string, a domain.Address) (domain.Address, error)
}

type row struct {
	ID        string    `db:"id"`
	UserID    string    `db:"user_id"`
	Name      string    `db:"name"`
	Phone     string    `db:"phone"`
	Line1     string    `db:"line1"`
	Line2     string    `db:"line2"`
	Line3     string    `db:"line3"`
	City      string    `db:"city"`
	State     string    `db:"state"`
	Pincode   string    `db:"pincode"`
	Landmark  string    `db:"landmark"`
	Label     string    `db:"label"`
	IsDefault bool      `db:"is_default"`
	CreatedAt time.Time `db:"created_at"`
}

func (r row) toDomain() domain.Address {
	return domain.Address{
		ID:        r.ID,
		Name:      r.Name,
		Phone:     r.Phone,
		Line1:     r.Line1,
		Line2:     r.Line2,
		Line3:     r.Line3,
		City:      r.City,
		State:     r.State,
		Pincode:   r.Pincode,
		Landmark:  r.Landmark,
		Label:     domain.AddressLabel(r.Label),
		IsDefault: r.IsDefault,
	}.Normalize()
}

type PostgresRepository struct {
	db *sqlx.DB
}

func NewPostgresRepository(db *sqlx.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const listQuery = `
	SELECT id, user_id, name, phone, line1, line2, line3, city, state, pincode, landmark, label, is_default, created_at
	FROM addresses
	WHERE user_id = $1
	ORDER BY is_default DESC, created_at ASC`

// List returns the user's addresses, the default one first.
func (r *PostgresRepository) List(ctx context.Context, userID string) ([]domain.Address, error) {
	var rows []row
	if err := r.db.SelectContext(ctx, &rows, listQuery, userID); err != nil {
		return nil, fmt.Errorf("failed to list addresses: %w", err)
	}
	out := make([]domain.Address, 0, len(rows))
	for _, rw := range rows {
		out = append(out, rw.toDomain())
	}
	return out, nil
}

// Create stores a normalized address. A user's first address is always the
// default; a new default replaces the previous one in the same transaction.
func (r *PostgresRepository) Create(ctx context.Context, userID string, a domain.Address) (out domain.Address, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return domain.Address{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM addresses WHERE user_id = $1)`, userID); err != nil {
		return domain.Address{}, fmt.Errorf("failed to check addresses: %w", err)
	}
	if !exists {
		a.IsDefault = true
	}

	if a.IsDefault && exists {
		if _, err = tx.ExecContext(ctx, `UPDATE addresses SET is_default = FALSE WHERE user_id = $1 AND is_default`, userID); err != nil {
			return domain.Address{}, fmt.Errorf("failed to reset default address: %w", err)
		}
	}

	a.ID = uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO addresses (id, user_id, name, phone, line1, line2, line3, city, state, pincode, landmark, label, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, userID, a.Name, a.Phone, a.Line1, a.Line2, a.Line3, a.City, a.State, a.Pincode, a.Landmark, string(a.Label), a.IsDefault,
	)
	if err != nil {
		return domain.Address{}, fmt.Errorf("failed to insert address: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return domain.Address{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return a, nil
}
