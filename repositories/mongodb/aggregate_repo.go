package mongodb

import (
	// Go Internal Packages
	"context"

	// Local Packages
	errors "kirana-ledger/errors"
	models "kirana-ledger/models"

	// External Packages
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AggregateRepository struct {
	db *mongo.Database
}

func NewAggregateRepository(client *mongo.Client, database string) *AggregateRepository {
	return &AggregateRepository{db: client.Database(database)}
}

func (r *AggregateRepository) aggregates() *mongo.Collection {
	return r.db.Collection(aggregatesCollection)
}

func (r *AggregateRepository) GetAggregate(ctx context.Context, shopkeeperID string) (*models.CreditAggregate, error) {
	var agg models.CreditAggregate
	err := r.aggregates().FindOne(ctx, bson.M{"_id": shopkeeperID}).Decode(&agg)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFoundErr("aggregate", shopkeeperID)
	}
	if err != nil {
		return nil, err
	}
	if agg.ComponentTotals == nil {
		agg.ComponentTotals = map[string]models.Component{}
	}
	return &agg, nil
}

// SaveAggregate writes the folded fields if the stored version still equals expected.
// The first write (expected == 0) inserts and loses to any concurrent insert.
func (r *AggregateRepository) SaveAggregate(ctx context.Context, agg *models.CreditAggregate, expected int64) error {
	if expected == 0 {
		_, err := r.aggregates().InsertOne(ctx, agg)
		if mongo.IsDuplicateKeyError(err) {
			return errors.ConflictErr(agg.ShopkeeperID, expected, err)
		}
		return err
	}

	filter := bson.M{"_id": agg.ShopkeeperID, "version": expected}
	update := bson.M{"$set": bson.M{
		"score":            agg.Score,
		"component_totals": agg.ComponentTotals,
		"version":          agg.Version,
		"applied_events":   agg.AppliedEvents,
		"updated_at":       agg.UpdatedAt,
	}}
	res, err := r.aggregates().UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errors.ConflictErr(agg.ShopkeeperID, expected, nil)
	}
	return nil
}

// SetAnchor records an anchored snapshot unless a newer one is already stored.
func (r *AggregateRepository) SetAnchor(ctx context.Context, shopkeeperID, ref string, version int64) error {
	filter := bson.M{"_id": shopkeeperID, "last_anchored_version": bson.M{"$lt": version}}
	update := bson.M{"$set": bson.M{"last_anchored_reference": ref, "last_anchored_version": version}}
	_, err := r.aggregates().UpdateOne(ctx, filter, update)
	return err
}

func (r *AggregateRepository) ListAnchorDue(ctx context.Context, every int64, limit int) ([]models.CreditAggregate, error) {
	filter := bson.M{"$expr": bson.M{"$gte": bson.A{
		bson.M{"$subtract": bson.A{"$version", "$last_anchored_version"}},
		every,
	}}}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cursor, err := r.aggregates().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []models.CreditAggregate
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
