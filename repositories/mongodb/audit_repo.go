package mongodb

import (
	// Go Internal Packages
	"context"
	"time"

	// Local Packages
	errors "disburse-engine/errors"
	models "disburse-engine/models"

	// External Packages
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// AuditRepo is insert-only. There is deliberately no update or delete
// method: audit history is never rewritten.
type AuditRepo struct {
	client     *mongo.Client
	collection string
	logger     *zap.Logger
}

func NewAuditRepo(client *mongo.Client, logger *zap.Logger) *AuditRepo {
	return &AuditRepo{client: client, collection: "audit_events", logger: logger}
}

type auditDoc struct {
	TransactionID  string    `bson:"transaction_id"`
	BenefitCycleID string    `bson:"benefit_cycle_id"`
	FromState      string    `bson:"from_state"`
	ToState        string    `bson:"to_state"`
	Actor          string    `bson:"actor"`
	Reason         string    `bson:"reason,omitempty"`
	PayloadDigest  string    `bson:"payload_digest,omitempty"`
	Timestamp      time.Time `bson:"timestamp"`
}

func toAuditDoc(ev models.AuditEvent) auditDoc {
	return auditDoc{
		TransactionID:  ev.TransactionID,
		BenefitCycleID: ev.BenefitCycleID,
		FromState:      string(ev.FromState),
		ToState:        string(ev.ToState),
		Actor:          ev.Actor,
		Reason:         ev.Reason,
		PayloadDigest:  ev.PayloadDigest,
		Timestamp:      ev.Timestamp,
	}
}

func (d auditDoc) toModel() models.AuditEvent {
	return models.AuditEvent{
		TransactionID:  d.TransactionID,
		BenefitCycleID: d.BenefitCycleID,
		FromState:      models.TxState(d.FromState),
		ToState:        models.TxState(d.ToState),
		Actor:          d.Actor,
		Reason:         d.Reason,
		PayloadDigest:  d.PayloadDigest,
		Timestamp:      d.Timestamp,
	}
}

func (r *AuditRepo) col() *mongo.Collection {
	return r.client.Database(Database).Collection(r.collection)
}

// Append writes one audit event.
func (r *AuditRepo) Append(ctx context.Context, ev models.AuditEvent) error {
	_, err := r.col().InsertOne(ctx, toAuditDoc(ev))
	if err != nil {
		return errors.E(errors.Unavailable, "audit append failed", err)
	}
	return nil
}

// ByCycle returns a cycle's audit trail in append order (insertion order
// by object id, which is monotonic per writer).
func (r *AuditRepo) ByCycle(ctx context.Context, cycleID string) ([]models.AuditEvent, error) {
	return r.findSorted(ctx, bson.M{"benefit_cycle_id": cycleID})
}

// ByTransaction returns one transaction's audit trail in append order.
func (r *AuditRepo) ByTransaction(ctx context.Context, transactionID string) ([]models.AuditEvent, error) {
	return r.findSorted(ctx, bson.M{"transaction_id": transactionID})
}

func (r *AuditRepo) findSorted(ctx context.Context, filter bson.M) ([]models.AuditEvent, error) {
	cursor, err := r.col().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, errors.E(errors.Unavailable, "audit query failed", err)
	}
	defer cursor.Close(ctx)

	var events []models.AuditEvent
	for cursor.Next(ctx) {
		var doc auditDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.E(errors.Unavailable, "audit decode failed", err)
		}
		events = append(events, doc.toModel())
	}
	return events, cursor.Err()
}
