package mongodb

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
	models "kirana-ledger/models"

	// External Packages
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// LinkRepository stores ledger links. Links are only ever created or updated, never removed.
type LinkRepository struct {
	db *mongo.Database
}

func NewLinkRepository(client *mongo.Client, database string) *LinkRepository {
	return &LinkRepository{db: client.Database(database)}
}

func (r *LinkRepository) links() *mongo.Collection {
	return r.db.Collection(linksCollection)
}

// EnsureLink returns the event's link, creating it on the first submission attempt.
func (r *LinkRepository) EnsureLink(ctx context.Context, eventID string, at time.Time) (*models.LedgerLink, error) {
	update := bson.M{"$setOnInsert": bson.M{
		"submission_attempts":       0,
		"ledger_reference":          nil,
		"confirmed_at_block_height": nil,
		"last_error":                nil,
		"next_attempt_at":           nil,
		"created_at":                at,
		"updated_at":                at,
	}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	return r.findOneAndUpdate(ctx, eventID, update, opts)
}

func (r *LinkRepository) GetLink(ctx context.Context, eventID string) (*models.LedgerLink, error) {
	var link models.LedgerLink
	err := r.links().FindOne(ctx, bson.M{"_id": eventID}).Decode(&link)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFoundErr("ledger link", eventID)
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// RecordAttempt counts a submission before it is sent, so a crash mid-call still counts.
func (r *LinkRepository) RecordAttempt(ctx context.Context, eventID string, at time.Time) (*models.LedgerLink, error) {
	update := bson.M{
		"$inc": bson.M{"submission_attempts": 1},
		"$set": bson.M{"updated_at": at},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	return r.findOneAndUpdate(ctx, eventID, update, opts)
}

func (r *LinkRepository) RecordFailure(ctx context.Context, eventID, msg string, next *time.Time, at time.Time) error {
	update := bson.M{"$set": bson.M{"last_error": msg, "next_attempt_at": next, "updated_at": at}}
	res, err := r.links().UpdateOne(ctx, bson.M{"_id": eventID}, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errors.NotFoundErr("ledger link", eventID)
	}
	return nil
}

// SetReference records the ledger reference unless one is already stored, and returns the
// stored link either way.
func (r *LinkRepository) SetReference(ctx context.Context, eventID, ref string, height int64, at time.Time) (*models.LedgerLink, error) {
	filter := bson.M{"_id": eventID, "ledger_reference": nil}
	update := bson.M{"$set": bson.M{
		"ledger_reference":          ref,
		"confirmed_at_block_height": height,
		"last_error":                nil,
		"next_attempt_at":           nil,
		"updated_at":                at,
	}}
	if _, err := r.links().UpdateOne(ctx, filter, update); err != nil {
		return nil, err
	}
	return r.GetLink(ctx, eventID)
}

func (r *LinkRepository) findOneAndUpdate(ctx context.Context, eventID string, update bson.M, opts *options.FindOneAndUpdateOptions) (*models.LedgerLink, error) {
	var link models.LedgerLink
	err := r.links().FindOneAndUpdate(ctx, bson.M{"_id": eventID}, update, opts).Decode(&link)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFoundErr("ledger link", eventID)
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}
