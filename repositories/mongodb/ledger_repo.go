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
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// LedgerRepo is the durable transaction store. The unique index on
// idempotency_key is the single mechanism preventing duplicate payments:
// reservation and transaction creation are one constrained insert.
type LedgerRepo struct {
	client     *mongo.Client
	collection string
	logger     *zap.Logger
}

func NewLedgerRepo(client *mongo.Client, logger *zap.Logger) *LedgerRepo {
	return &LedgerRepo{client: client, collection: "transactions", logger: logger}
}

// txDoc is the BSON projection of a transaction. Amounts are stored as
// decimal strings, never floats.
type txDoc struct {
	TransactionID    string    `bson:"_id"`
	IdempotencyKey   string    `bson:"idempotency_key"`
	InternalRef      string    `bson:"internal_ref"`
	BeneficiaryID    string    `bson:"beneficiary_id"`
	BenefitCycleID   string    `bson:"benefit_cycle_id"`
	ProviderID       string    `bson:"provider_id"`
	BatchID          string    `bson:"batch_id,omitempty"`
	Amount           string    `bson:"amount"`
	Currency         string    `bson:"currency"`
	State            string    `bson:"state"`
	ProviderRef      string    `bson:"provider_ref,omitempty"`
	FailureReason    string    `bson:"failure_reason,omitempty"`
	Fee              string    `bson:"fee,omitempty"`
	RecipientAccount string    `bson:"recipient_account,omitempty"`
	RecipientName    string    `bson:"recipient_name,omitempty"`
	RecipientMobile  string    `bson:"recipient_mobile,omitempty"`
	AttemptCount     int       `bson:"attempt_count"`
	CreatedAt        time.Time `bson:"created_at"`
	LastTransitionAt time.Time `bson:"last_transition_at"`
}

func toTxDoc(tx models.Transaction) txDoc {
	return txDoc{
		TransactionID:    tx.TransactionID,
		IdempotencyKey:   tx.IdempotencyKey,
		InternalRef:      tx.InternalRef,
		BeneficiaryID:    tx.BeneficiaryID,
		BenefitCycleID:   tx.BenefitCycleID,
		ProviderID:       tx.ProviderID,
		BatchID:          tx.BatchID,
		Amount:           tx.Amount.String(),
		Currency:         tx.Currency,
		State:            string(tx.State),
		ProviderRef:      tx.ProviderRef,
		FailureReason:    tx.FailureReason,
		Fee:              tx.Fee.String(),
		RecipientAccount: tx.RecipientAccount,
		RecipientName:    tx.RecipientName,
		RecipientMobile:  tx.RecipientMobile,
		AttemptCount:     tx.AttemptCount,
		CreatedAt:        tx.CreatedAt,
		LastTransitionAt: tx.LastTransitionAt,
	}
}

func (d txDoc) toModel() models.Transaction {
	amount, _ := decimal.NewFromString(d.Amount)
	fee := decimal.Zero
	if d.Fee != "" {
		fee, _ = decimal.NewFromString(d.Fee)
	}
	return models.Transaction{
		TransactionID:    d.TransactionID,
		IdempotencyKey:   d.IdempotencyKey,
		InternalRef:      d.InternalRef,
		BeneficiaryID:    d.BeneficiaryID,
		BenefitCycleID:   d.BenefitCycleID,
		ProviderID:       d.ProviderID,
		BatchID:          d.BatchID,
		Amount:           amount,
		Currency:         d.Currency,
		State:            models.TxState(d.State),
		ProviderRef:      d.ProviderRef,
		FailureReason:    d.FailureReason,
		Fee:              fee,
		RecipientAccount: d.RecipientAccount,
		RecipientName:    d.RecipientName,
		RecipientMobile:  d.RecipientMobile,
		AttemptCount:     d.AttemptCount,
		CreatedAt:        d.CreatedAt,
		LastTransitionAt: d.LastTransitionAt,
	}
}

func (r *LedgerRepo) col() *mongo.Collection {
	return r.client.Database(Database).Collection(r.collection)
}

// EnsureIndexes creates the uniqueness constraint backing the idempotency
// ledger plus the lookup indexes.
func (r *LedgerRepo) EnsureIndexes(ctx context.Context) error {
	_, err := r.col().Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "idempotency_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "provider_id", Value: 1}, {Key: "provider_ref", Value: 1}}},
		{Keys: bson.D{{Key: "beneficiary_id", Value: 1}, {Key: "benefit_cycle_id", Value: 1}}},
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "last_transition_at", Value: 1}}},
	})
	return err
}

// Reserve atomically creates the transaction under its idempotency key.
// Concurrent callers racing on the same key observe exactly one Created;
// the rest get AlreadyExists with the winner's transaction id. Any other
// storage failure is surfaced as Unavailable so the caller fails closed.
func (r *LedgerRepo) Reserve(ctx context.Context, tx models.Transaction) (models.ReserveResult, error) {
	doc := toTxDoc(tx)
	doc.State = string(models.StateReserved)

	_, err := r.col().InsertOne(ctx, doc)
	if err == nil {
		return models.ReserveResult{Created: true, TransactionID: tx.TransactionID}, nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return models.ReserveResult{}, errors.LedgerUnavailableErr(err)
	}

	var existing txDoc
	findErr := r.col().FindOne(ctx, bson.M{"idempotency_key": tx.IdempotencyKey}).Decode(&existing)
	if findErr != nil {
		return models.ReserveResult{}, errors.LedgerUnavailableErr(findErr)
	}
	return models.ReserveResult{Created: false, TransactionID: existing.TransactionID}, nil
}

// Transition advances a transaction with a compare-and-set on its current
// state. Re-applying an already-recorded terminal state is a no-op; any
// other miss returns a Conflict for the caller to re-evaluate.
func (r *LedgerRepo) Transition(ctx context.Context, id string, from, to models.TxState, upd models.TransitionUpdate) error {
	set := bson.M{
		"state":              string(to),
		"last_transition_at": time.Now().UTC(),
	}
	if upd.ProviderRef != "" {
		set["provider_ref"] = upd.ProviderRef
	}
	if upd.FailureReason != "" {
		set["failure_reason"] = upd.FailureReason
	}
	if upd.Fee.IsPositive() {
		set["fee"] = upd.Fee.String()
	}

	update := bson.M{"$set": set}
	if upd.IncAttempt {
		update["$inc"] = bson.M{"attempt_count": 1}
	}

	res, err := r.col().UpdateOne(ctx, bson.M{"_id": id, "state": string(from)}, update)
	if err != nil {
		return errors.LedgerUnavailableErr(err)
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// CAS miss: distinguish the idempotent terminal re-apply from a
	// genuinely stale transition.
	current, getErr := r.Get(ctx, id)
	if getErr != nil {
		return getErr
	}
	if current.State == to && to.Terminal() {
		return nil
	}
	return errors.StaleTransitionErr(id, string(current.State), string(to))
}

// IncrementAttempt bumps the attempt counter outside a state change
// (a dispatch that keeps the transaction in its current state).
func (r *LedgerRepo) IncrementAttempt(ctx context.Context, id string) error {
	_, err := r.col().UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"attempt_count": 1}})
	if err != nil {
		return errors.LedgerUnavailableErr(err)
	}
	return nil
}

// AssignBatch stamps the batch id on the given member transactions.
func (r *LedgerRepo) AssignBatch(ctx context.Context, ids []string, batchID string) error {
	_, err := r.col().UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": ids}},
		bson.M{"$set": bson.M{"batch_id": batchID}})
	if err != nil {
		return errors.LedgerUnavailableErr(err)
	}
	return nil
}

// Get fetches one transaction by id.
func (r *LedgerRepo) Get(ctx context.Context, id string) (models.Transaction, error) {
	var doc txDoc
	err := r.col().FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return models.Transaction{}, errors.TransactionNotFoundErr(id)
	}
	if err != nil {
		return models.Transaction{}, errors.LedgerUnavailableErr(err)
	}
	return doc.toModel(), nil
}

// GetByProviderRef resolves a provider reference to the internal transaction.
func (r *LedgerRepo) GetByProviderRef(ctx context.Context, providerID, providerRef string) (models.Transaction, error) {
	var doc txDoc
	err := r.col().FindOne(ctx, bson.M{"provider_id": providerID, "provider_ref": providerRef}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return models.Transaction{}, errors.TransactionNotFoundErr(providerRef)
	}
	if err != nil {
		return models.Transaction{}, errors.LedgerUnavailableErr(err)
	}
	return doc.toModel(), nil
}

// FindByBeneficiary lists a beneficiary's transactions, optionally scoped
// to one benefit cycle.
func (r *LedgerRepo) FindByBeneficiary(ctx context.Context, beneficiaryID, cycleID string) ([]models.Transaction, error) {
	filter := bson.M{"beneficiary_id": beneficiaryID}
	if cycleID != "" {
		filter["benefit_cycle_id"] = cycleID
	}
	return r.find(ctx, filter)
}

// FindByBatch lists a batch's member transactions.
func (r *LedgerRepo) FindByBatch(ctx context.Context, batchID string) ([]models.Transaction, error) {
	return r.find(ctx, bson.M{"batch_id": batchID})
}

// FindByCycleStates lists a cycle's transactions currently in one of the
// given states, for cancellation sweeps.
func (r *LedgerRepo) FindByCycleStates(ctx context.Context, cycleID string, states []models.TxState) ([]models.Transaction, error) {
	stateStrs := make([]string, len(states))
	for i, s := range states {
		stateStrs[i] = string(s)
	}
	return r.find(ctx, bson.M{
		"benefit_cycle_id": cycleID,
		"state":            bson.M{"$in": stateStrs},
	})
}

// FindStale lists non-terminal transactions whose last transition is older
// than the cutoff, for the expiry sweep.
func (r *LedgerRepo) FindStale(ctx context.Context, states []models.TxState, olderThan time.Time) ([]models.Transaction, error) {
	stateStrs := make([]string, len(states))
	for i, s := range states {
		stateStrs[i] = string(s)
	}
	return r.find(ctx, bson.M{
		"state":              bson.M{"$in": stateStrs},
		"last_transition_at": bson.M{"$lt": olderThan},
	})
}

func (r *LedgerRepo) find(ctx context.Context, filter bson.M) ([]models.Transaction, error) {
	cursor, err := r.col().Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, errors.LedgerUnavailableErr(err)
	}
	defer cursor.Close(ctx)

	var txs []models.Transaction
	for cursor.Next(ctx) {
		var doc txDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.LedgerUnavailableErr(err)
		}
		txs = append(txs, doc.toModel())
	}
	if err := cursor.Err(); err != nil {
		return nil, errors.LedgerUnavailableErr(err)
	}
	return txs, nil
}
