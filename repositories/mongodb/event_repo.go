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

const (
	eventsCollection     = "events"
	linksCollection      = "ledger_links"
	aggregatesCollection = "credit_aggregates"
	storesCollection     = "stores"
)

// historyStatuses are the states whose events count as the shopkeeper's track record.
var historyStatuses = []models.Status{
	models.StatusRecorded, models.StatusSubmitting, models.StatusPendingRetry, models.StatusConfirmed,
}

type EventRepository struct {
	db *mongo.Database
}

func NewEventRepository(client *mongo.Client, database string) *EventRepository {
	return &EventRepository{db: client.Database(database)}
}

func (r *EventRepository) events() *mongo.Collection {
	return r.db.Collection(eventsCollection)
}

// InsertEvent inserts a new event; a duplicate raw payload hash comes back as a Conflict.
func (r *EventRepository) InsertEvent(ctx context.Context, ev *models.Event) error {
	_, err := r.events().InsertOne(ctx, ev)
	if mongo.IsDuplicateKeyError(err) {
		return errors.E(errors.Conflict, "duplicate event", err)
	}
	return err
}

func (r *EventRepository) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	return r.findOne(ctx, bson.M{"_id": id}, "event", id)
}

func (r *EventRepository) FindEventByKey(ctx context.Context, key string) (*models.Event, error) {
	return r.findOne(ctx, bson.M{"raw_payload_hash": key}, "event with key", key)
}

func (r *EventRepository) findOne(ctx context.Context, filter bson.M, what, id string) (*models.Event, error) {
	var ev models.Event
	err := r.events().FindOne(ctx, filter).Decode(&ev)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errors.NotFoundErr(what, id)
	}
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

// ScoreEvent stores the assessment and moves the event from received to scored.
func (r *EventRepository) ScoreEvent(ctx context.Context, id string, a models.Assessment, at time.Time) error {
	set := bson.M{
		"status":     models.StatusScored,
		"risk_score": a.Score,
		"risk_level": a.Level,
		"eligible":   a.Eligible,
		"updated_at": at,
	}
	return r.conditionalSet(ctx, id, []models.Status{models.StatusReceived}, models.StatusScored, set)
}

// TransitionEvent moves the event to `to` only while its status is one of `from`.
func (r *EventRepository) TransitionEvent(ctx context.Context, id string, to models.Status, at time.Time, from ...models.Status) error {
	return r.conditionalSet(ctx, id, from, to, bson.M{"status": to, "updated_at": at})
}

func (r *EventRepository) DisputeEvent(ctx context.Context, id, reason string, at time.Time, from ...models.Status) error {
	set := bson.M{"status": models.StatusDisputed, "dispute_reason": reason, "updated_at": at}
	return r.conditionalSet(ctx, id, from, models.StatusDisputed, set)
}

func (r *EventRepository) conditionalSet(ctx context.Context, id string, from []models.Status, to models.Status, set bson.M) error {
	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	res, err := r.events().UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		cur, err := r.GetEvent(ctx, id)
		if err != nil {
			return err
		}
		return errors.TransitionErr(id, string(cur.Status), string(to))
	}
	return nil
}

func (r *EventRepository) MarkNotified(ctx context.Context, id string, at time.Time) error {
	res, err := r.events().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"notified": true, "updated_at": at}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errors.NotFoundErr("event", id)
	}
	return nil
}

func (r *EventRepository) ListEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error) {
	filter := bson.M{}
	if len(f.Statuses) > 0 {
		filter["status"] = bson.M{"$in": f.Statuses}
	}
	if !f.UpdatedBefore.IsZero() {
		filter["updated_at"] = bson.M{"$lt": f.UpdatedBefore}
	}
	if f.Notified != nil {
		filter["notified"] = *f.Notified
	}

	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}, {Key: "_id", Value: 1}})
	if f.Limit > 0 {
		opts.SetLimit(int64(f.Limit))
	}
	cursor, err := r.events().Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var out []models.Event
	if err := cursor.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *EventRepository) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}
	cursor, err := r.events().Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Status models.Status `bson:"_id"`
		Count  int64         `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	counts := make(map[models.Status]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}

type historyFacets struct {
	Overall []struct {
		Count int64 `bson:"count"`
		Total int64 `bson:"total"`
		Max   int64 `bson:"max"`
	} `bson:"overall"`
	Recent []struct {
		N int64 `bson:"n"`
	} `bson:"recent"`
	Credit []struct {
		Kind models.Kind `bson:"_id"`
		Sum  int64       `bson:"sum"`
	} `bson:"credit"`
}

// History summarises the shopkeeper's persisted events, excluding ev itself, in one aggregation.
func (r *EventRepository) History(ctx context.Context, ev models.Event, since time.Time) (models.History, error) {
	match := bson.D{
		{Key: "shopkeeper_id", Value: ev.ShopkeeperID},
		{Key: "_id", Value: bson.D{{Key: "$ne", Value: ev.ID}}},
		{Key: "status", Value: bson.D{{Key: "$in", Value: historyStatuses}}},
	}
	facets := bson.D{
		{Key: "overall", Value: bson.A{
			bson.D{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: nil},
				{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
				{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
				{Key: "max", Value: bson.D{{Key: "$max", Value: "$amount"}}},
			}}},
		}},
		{Key: "recent", Value: bson.A{
			bson.D{{Key: "$match", Value: bson.D{{Key: "occurred_at", Value: bson.D{{Key: "$gte", Value: since}}}}}},
			bson.D{{Key: "$count", Value: "n"}},
		}},
		{Key: "credit", Value: bson.A{
			bson.D{{Key: "$match", Value: bson.D{
				{Key: "customer_id", Value: ev.CustomerID},
				{Key: "kind", Value: bson.D{{Key: "$in", Value: bson.A{models.KindCredit, models.KindRepayment}}}},
			}}},
			bson.D{{Key: "$group", Value: bson.D{
				{Key: "_id", Value: "$kind"},
				{Key: "sum", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
			}}},
		}},
	}
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$facet", Value: facets}},
	}

	cursor, err := r.events().Aggregate(ctx, pipeline)
	if err != nil {
		return models.History{}, err
	}
	var rows []historyFacets
	if err := cursor.All(ctx, &rows); err != nil {
		return models.History{}, err
	}

	var h models.History
	if len(rows) > 0 {
		f := rows[0]
		if len(f.Overall) > 0 {
			h.Count = f.Overall[0].Count
			h.TotalAmount = f.Overall[0].Total
			h.MaxAmount = f.Overall[0].Max
		}
		if len(f.Recent) > 0 {
			h.RecentCount = f.Recent[0].N
		}
		for _, c := range f.Credit {
			switch c.Kind {
			case models.KindCredit:
				h.OutstandingCredit += c.Sum
			case models.KindRepayment:
				h.OutstandingCredit -= c.Sum
			}
		}
		h.OutstandingCredit = max(h.OutstandingCredit, 0)
	}

	profile, err := r.profile(ctx, ev.ShopkeeperID)
	if err != nil {
		return models.History{}, err
	}
	h.Profile = profile
	return h, nil
}

// profile reads store metadata owned by the dashboard service. A missing store is not an error.
func (r *EventRepository) profile(ctx context.Context, shopkeeperID string) (models.StoreProfile, error) {
	var p models.StoreProfile
	err := r.db.Collection(storesCollection).FindOne(ctx, bson.M{"_id": shopkeeperID}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return models.StoreProfile{ShopkeeperID: shopkeeperID}, nil
	}
	return p, err
}
