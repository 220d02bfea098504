package mongodb

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	errors "disburse-engine/errors"
	models "disburse-engine/models"

	// External Packages
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// BatchRepo persists sealed batches. Open batches live in the builder's
// memory; a batch is first written when it closes, with its final member
// list, and only its status and counters change afterwards.
type BatchRepo struct {
	client     *mongo.Client
	collection string
	logger     *zap.Logger
}

func NewBatchRepo(client *mongo.Client, logger *zap.Logger) *BatchRepo {
	return &BatchRepo{client: client, collection: "batches", logger: logger}
}

type batchDoc struct {
	BatchID        string    `bson:"_id"`
	BatchNumber    string    `bson:"batch_number"`
	ProviderID     string    `bson:"provider_id"`
	BenefitCycleID string    `bson:"benefit_cycle_id"`
	TransactionIDs []string  `bson:"transaction_ids"`
	DeclaredTotal  string    `bson:"declared_total"`
	Currency       string    `bson:"currency"`
	Status         string    `bson:"status"`
	CutoffTime     time.Time `bson:"cutoff_time"`
	SettledCount   int       `bson:"settled_count"`
	RejectedCount  int       `bson:"rejected_count"`
	PendingCount   int       `bson:"pending_count"`
	CreatedAt      time.Time `bson:"created_at"`
	ClosedAt       time.Time `bson:"closed_at,omitempty"`
	CompletedAt    time.Time `bson:"completed_at,omitempty"`
}

func toBatchDoc(b models.Batch) batchDoc {
	return batchDoc{
		BatchID:        b.BatchID,
		BatchNumber:    b.BatchNumber,
		ProviderID:     b.ProviderID,
		BenefitCycleID: b.BenefitCycleID,
		TransactionIDs: b.TransactionIDs,
		DeclaredTotal:  b.DeclaredTotal.String(),
		Currency:       b.Currency,
		Status:         string(b.Status),
		CutoffTime:     b.CutoffTime,
		SettledCount:   b.SettledCount,
		RejectedCount:  b.RejectedCount,
		PendingCount:   b.PendingCount,
		CreatedAt:      b.CreatedAt,
		ClosedAt:       b.ClosedAt,
		CompletedAt:    b.CompletedAt,
	}
}

func (d batchDoc) toModel() models.Batch {
	total, _ := decimal.NewFromString(d.DeclaredTotal)
	return models.Batch{
		BatchID:        d.BatchID,
		BatchNumber:    d.BatchNumber,
		ProviderID:     d.ProviderID,
		BenefitCycleID: d.BenefitCycleID,
		TransactionIDs: d.TransactionIDs,
		DeclaredTotal:  total,
		Currency:       d.Currency,
		Status:         models.BatchStatus(d.Status),
		CutoffTime:     d.CutoffTime,
		SettledCount:   d.SettledCount,
		RejectedCount:  d.RejectedCount,
		PendingCount:   d.PendingCount,
		CreatedAt:      d.CreatedAt,
		ClosedAt:       d.ClosedAt,
		CompletedAt:    d.CompletedAt,
	}
}

func (r *BatchRepo) col() *mongo.Collection {
	return r.client.Database(Database).Collection(r.collection)
}

// Insert writes a freshly closed batch.
func (r *BatchRepo) Insert(ctx context.Context, batch models.Batch) error {
	_, err := r.col().InsertOne(ctx, toBatchDoc(batch))
	if err != nil {
		return errors.LedgerUnavailableErr(err)
	}
	return nil
}

// UpdateStatus advances the batch status with a compare-and-set.
func (r *BatchRepo) UpdateStatus(ctx context.Context, batchID string, from, to models.BatchStatus) error {
	set := bson.M{"status": string(to)}
	if to == models.BatchCompleted {
		set["completed_at"] = time.Now().UTC()
	}
	res, err := r.col().UpdateOne(ctx,
		bson.M{"_id": batchID, "status": string(from)},
		bson.M{"$set": set})
	if err != nil {
		return errors.LedgerUnavailableErr(err)
	}
	if res.MatchedCount == 0 {
		return errors.StaleTransitionErr(batchID, string(from), string(to))
	}
	return nil
}

// UpdateCounts records the settled/rejected/pending member tallies.
func (r *BatchRepo) UpdateCounts(ctx context.Context, batchID string, settled, rejected, pending int) error {
	_, err := r.col().UpdateOne(ctx, bson.M{"_id": batchID}, bson.M{"$set": bson.M{
		"settled_count":  settled,
		"rejected_count": rejected,
		"pending_count":  pending,
	}})
	if err != nil {
		return errors.LedgerUnavailableErr(err)
	}
	return nil
}

// Get fetches one batch by id.
func (r *BatchRepo) Get(ctx context.Context, batchID string) (models.Batch, error) {
	var doc batchDoc
	err := r.col().FindOne(ctx, bson.M{"_id": batchID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return models.Batch{}, errors.E(errors.NotFound, "batch not found: "+batchID, nil)
	}
	if err != nil {
		return models.Batch{}, errors.LedgerUnavailableErr(err)
	}
	return doc.toModel(), nil
}

// FindByStatus lists batches in a given status, oldest first.
func (r *BatchRepo) FindByStatus(ctx context.Context, status models.BatchStatus) ([]models.Batch, error) {
	cursor, err := r.col().Find(ctx, bson.M{"status": string(status)})
	if err != nil {
		return nil, errors.LedgerUnavailableErr(err)
	}
	defer cursor.Close(ctx)

	var batches []models.Batch
	for cursor.Next(ctx) {
		var doc batchDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.LedgerUnavailableErr(err)
		}
		batches = append(batches, doc.toModel())
	}
	return batches, cursor.Err()
}
