package coupons

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	ErrCouponNotFound = errors.New("coupon not found")
	ErrUsageExhausted = errors.New("coupon usage limit reached")
)

type Repository interface {
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// Redeem atomically counts one use, failing once the limit is reached.
	Redeem(ctx context.Context, code string) error
	Upsert(ctx context.Context, c *Coupon) error
}

type MongoRepository struct {
	collection *mongo.Collection
}

func NewMongoRepository(db *mongo.Database) *MongoRepository {
	return &MongoRepository{collection: db.Collection("coupons")}
}

func (m *MongoRepository) FindByCode(ctx context.Context, code string) (*Coupon, error) {
	var c Coupon
	err := m.collection.FindOne(ctx, bson.M{"code": code}).Decode(&c)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCouponNotFound
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return &c, nil
}

func (m *MongoRepository) Redeem(ctx context.Context, code string) error {
	filter := bson.M{
		"code": code,
		"$or": bson.A{
			bson.M{"usage_limit": 0},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$used_count", "$usage_limit"}}},
		},
	}
	update := bson.M{"$inc": bson.M{"used_count": 1}}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to redeem coupon: %w", err)
	}
	if result.MatchedCount == 0 {
		if _, err := m.FindByCode(ctx, code); err != nil {
			return err
		}
		return ErrUsageExhausted
	}
	return nil
}

// Upsert writes the coupon terms. used_count is only set on insert so a
// reseed does not hand back redemptions.
func (m *MongoRepository) Upsert(ctx context.Context, c *Coupon) error {
	update := bson.M{
		"$set": bson.M{
			"discount_type":       c.DiscountType,
			"value":               c.Value,
			"min_order_amount":    c.MinOrderAmount,
			"max_discount_amount": c.MaxDiscountAmount,
			"usage_limit":         c.UsageLimit,
			"expires_at":          c.ExpiresAt,
			"active":              c.Active,
		},
		"$setOnInsert": bson.M{"used_count": c.UsedCount},
	}
	opts := options.Update().SetUpsert(true)
	_, err := m.collection.UpdateOne(ctx, bson.M{"code": c.Code}, update, opts)
	if err != nil {
		return fmt.Errorf("failed to upsert coupon: %w", err)
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	_, err := m.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "code", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
