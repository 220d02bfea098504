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

// ReconRepo persists reconciliation exceptions and ingested settlement
// records. Exceptions require explicit operator resolution; the engine
// never adjusts ledger totals from here.
type ReconRepo struct {
	client      *mongo.Client
	exceptions  string
	settlements string
	logger      *zap.Logger
}

func NewReconRepo(client *mongo.Client, logger *zap.Logger) *ReconRepo {
	return &ReconRepo{
		client:      client,
		exceptions:  "recon_exceptions",
		settlements: "settlement_records",
		logger:      logger,
	}
}

type exceptionDoc struct {
	ExceptionID   string     `bson:"_id"`
	TransactionID string     `bson:"transaction_id,omitempty"`
	ProviderID    string     `bson:"provider_id"`
	ProviderRef   string     `bson:"provider_ref,omitempty"`
	Type          string     `bson:"type"`
	Severity      string     `bson:"severity"`
	Detail        string     `bson:"detail"`
	DetectedAt    time.Time  `bson:"detected_at"`
	ResolvedAt    *time.Time `bson:"resolved_at,omitempty"`
	ResolvedBy    string     `bson:"resolved_by,omitempty"`
}

type settlementDoc struct {
	ProviderID    string    `bson:"provider_id"`
	ProviderRef   string    `bson:"provider_ref"`
	SettledAmount string    `bson:"settled_amount"`
	Currency      string    `bson:"currency"`
	SettledAt     time.Time `bson:"settled_at"`
	RawPayload    string    `bson:"raw_payload"`
	IngestedAt    time.Time `bson:"ingested_at"`
}

func (r *ReconRepo) exceptionsCol() *mongo.Collection {
	return r.client.Database(Database).Collection(r.exceptions)
}

func (r *ReconRepo) settlementsCol() *mongo.Collection {
	return r.client.Database(Database).Collection(r.settlements)
}

// InsertException records a durable discrepancy.
func (r *ReconRepo) InsertException(ctx context.Context, ex models.ReconciliationException) error {
	doc := exceptionDoc{
		ExceptionID:   ex.ExceptionID,
		TransactionID: ex.TransactionID,
		ProviderID:    ex.ProviderID,
		ProviderRef:   ex.ProviderRef,
		Type:          string(ex.Type),
		Severity:      string(ex.Severity),
		Detail:        ex.Detail,
		DetectedAt:    ex.DetectedAt,
		ResolvedAt:    ex.ResolvedAt,
		ResolvedBy:    ex.ResolvedBy,
	}
	_, err := r.exceptionsCol().InsertOne(ctx, doc)
	if err != nil {
		return errors.E(errors.Unavailable, "exception insert failed", err)
	}
	return nil
}

// ResolveException marks an exception resolved exactly once.
func (r *ReconRepo) ResolveException(ctx context.Context, exceptionID, resolvedBy string) error {
	now := time.Now().UTC()
	res, err := r.exceptionsCol().UpdateOne(ctx,
		bson.M{"_id": exceptionID, "resolved_at": nil},
		bson.M{"$set": bson.M{"resolved_at": now, "resolved_by": resolvedBy}})
	if err != nil {
		return errors.E(errors.Unavailable, "exception resolve failed", err)
	}
	if res.MatchedCount == 0 {
		return errors.E(errors.NotFound, "no open exception: "+exceptionID, nil)
	}
	return nil
}

// ListOpen returns unresolved exceptions, most severe recorded first is
// left to the caller; order here is detection time.
func (r *ReconRepo) ListOpen(ctx context.Context) ([]models.ReconciliationException, error) {
	cursor, err := r.exceptionsCol().Find(ctx, bson.M{"resolved_at": nil})
	if err != nil {
		return nil, errors.E(errors.Unavailable, "exception query failed", err)
	}
	defer cursor.Close(ctx)

	var out []models.ReconciliationException
	for cursor.Next(ctx) {
		var doc exceptionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.E(errors.Unavailable, "exception decode failed", err)
		}
		out = append(out, models.ReconciliationException{
			ExceptionID:   doc.ExceptionID,
			TransactionID: doc.TransactionID,
			ProviderID:    doc.ProviderID,
			ProviderRef:   doc.ProviderRef,
			Type:          models.DiscrepancyType(doc.Type),
			Severity:      models.Severity(doc.Severity),
			Detail:        doc.Detail,
			DetectedAt:    doc.DetectedAt,
			ResolvedAt:    doc.ResolvedAt,
			ResolvedBy:    doc.ResolvedBy,
		})
	}
	return out, cursor.Err()
}

// InsertSettlements retains ingested settlement rows for audit.
func (r *ReconRepo) InsertSettlements(ctx context.Context, records []models.SettlementRecord) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]interface{}, len(records))
	for i, rec := range records {
		docs[i] = settlementDoc{
			ProviderID:    rec.ProviderID,
			ProviderRef:   rec.ProviderRef,
			SettledAmount: rec.SettledAmount.String(),
			Currency:      rec.Currency,
			SettledAt:     rec.SettledAt,
			RawPayload:    rec.RawPayload,
			IngestedAt:    rec.IngestedAt,
		}
	}
	_, err := r.settlementsCol().InsertMany(ctx, docs)
	if err != nil {
		return errors.E(errors.Unavailable, "settlement insert failed", err)
	}
	return nil
}

// SettlementsByRef returns retained settlement rows for one provider reference.
func (r *ReconRepo) SettlementsByRef(ctx context.Context, providerID, providerRef string) ([]models.SettlementRecord, error) {
	cursor, err := r.settlementsCol().Find(ctx, bson.M{"provider_id": providerID, "provider_ref": providerRef})
	if err != nil {
		return nil, errors.E(errors.Unavailable, "settlement query failed", err)
	}
	defer cursor.Close(ctx)

	var out []models.SettlementRecord
	for cursor.Next(ctx) {
		var doc settlementDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.E(errors.Unavailable, "settlement decode failed", err)
		}
		amount, _ := decimal.NewFromString(doc.SettledAmount)
		out = append(out, models.SettlementRecord{
			ProviderID:    doc.ProviderID,
			ProviderRef:   doc.ProviderRef,
			SettledAmount: amount,
			Currency:      doc.Currency,
			SettledAt:     doc.SettledAt,
			RawPayload:    doc.RawPayload,
			IngestedAt:    doc.IngestedAt,
		})
	}
	return out, cursor.Err()
}
