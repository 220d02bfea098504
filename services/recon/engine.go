package recon

import (
	// Go Internal Packages
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	// Local Packages
	errors "disburse-engine/errors"
	models "disburse-engine/models"
	providers "disburse-engine/providers"

	// External Packages
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Ledger is the slice of the transaction store reconciliation reads.
type Ledger interface {
	GetByProviderRef(ctx context.Context, providerID, providerRef string) (models.Transaction, error)
	FindStale(ctx context.Context, states []models.TxState, olderThan time.Time) ([]models.Transaction, error)
}

// Exceptions persists discrepancies.
type Exceptions interface {
	InsertException(ctx context.Context, ex models.ReconciliationException) error
	ResolveException(ctx context.Context, exceptionID, resolvedBy string) error
	ListOpen(ctx context.Context) ([]models.ReconciliationException, error)
}

// Settlements retains ingested report rows.
type Settlements interface {
	InsertSettlements(ctx context.Context, records []models.SettlementRecord) error
	SettlementsByRef(ctx context.Context, providerID, providerRef string) ([]models.SettlementRecord, error)
}

// Quarantine keeps malformed rows for manual review.
type Quarantine interface {
	Add(ctx context.Context, providerID, rawLine, reason string) error
}

// Lifecycle applies settlement outcomes to the state machine.
type Lifecycle interface {
	Apply(ctx context.Context, ev providers.Event) error
}

// AdapterSource resolves adapters for forced status queries.
type AdapterSource interface {
	Get(code string) (providers.Adapter, error)
}

// Engine compares provider settlement truth against the internal ledger.
// It records discrepancies and applies clean settlements; it never
// adjusts ledger totals.
type Engine struct {
	ledger      Ledger
	exceptions  Exceptions
	settlements Settlements
	quarantine  Quarantine
	lifecycle   Lifecycle
	adapters    AdapterSource
	grace       time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

func NewEngine(ledger Ledger, exceptions Exceptions, settlements Settlements, quarantine Quarantine,
	lifecycle Lifecycle, adapters AdapterSource, grace time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		ledger:      ledger,
		exceptions:  exceptions,
		settlements: settlements,
		quarantine:  quarantine,
		lifecycle:   lifecycle,
		adapters:    adapters,
		grace:       grace,
		logger:      logger,
		now:         time.Now,
	}
}

// Summary reports one ingestion run.
type Summary struct {
	RowsRead    int
	Quarantined int
	Applied     int
	Exceptions  int
}

// IngestReport parses one delimited settlement report for a provider.
// Expected columns: provider_reference, amount, currency, settled_at
// (RFC 3339). Malformed rows are quarantined, never silently dropped.
func (e *Engine) IngestReport(ctx context.Context, providerID string, r io.Reader) (Summary, error) {
	var summary Summary

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var records []models.SettlementRecord
	byRef := make(map[string][]models.SettlementRecord)

	first := true
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			summary.RowsRead++
			summary.Quarantined++
			if qerr := e.quarantine.Add(ctx, providerID, flattenRow(row), err.Error()); qerr != nil {
				return summary, qerr
			}
			continue
		}

		if first {
			first = false
			if isHeader(row) {
				continue
			}
		}
		summary.RowsRead++

		rec, perr := parseRow(providerID, row, e.now())
		if perr != nil {
			summary.Quarantined++
			if qerr := e.quarantine.Add(ctx, providerID, flattenRow(row), perr.Error()); qerr != nil {
				return summary, qerr
			}
			continue
		}

		records = append(records, rec)
		byRef[rec.ProviderRef] = append(byRef[rec.ProviderRef], rec)
	}

	for ref, group := range byRef {
		if len(group) > 1 {
			summary.Exceptions++
			if err := e.raise(ctx, models.DuplicateSettlement, "", providerID, ref,
				fmt.Sprintf("%d settlement rows for one reference", len(group))); err != nil {
				return summary, err
			}
			continue
		}
		applied, raised, err := e.match(ctx, group[0])
		if err != nil {
			return summary, err
		}
		if applied {
			summary.Applied++
		}
		summary.Exceptions += raised
	}

	if err := e.settlements.InsertSettlements(ctx, records); err != nil {
		return summary, err
	}

	e.logger.Info("settlement report ingested",
		zap.String("provider", providerID),
		zap.Int("rows", summary.RowsRead),
		zap.Int("quarantined", summary.Quarantined),
		zap.Int("applied", summary.Applied),
		zap.Int("exceptions", summary.Exceptions))
	return summary, nil
}

// match reconciles one settlement record against the ledger.
func (e *Engine) match(ctx context.Context, rec models.SettlementRecord) (applied bool, raised int, err error) {
	tx, err := e.ledger.GetByProviderRef(ctx, rec.ProviderID, rec.ProviderRef)
	if err != nil {
		if errors.Is(err, errors.NotFound) {
			// Possible double payment of public funds: highest severity.
			return false, 1, e.raise(ctx, models.MissingInternally, "", rec.ProviderID, rec.ProviderRef,
				"settlement of "+rec.SettledAmount.String()+" has no internal transaction")
		}
		return false, 0, err
	}

	if !rec.SettledAmount.Equal(tx.Amount) {
		// The transaction is left untouched; the discrepancy goes to an
		// operator.
		return false, 1, e.raise(ctx, models.AmountMismatch, tx.TransactionID, rec.ProviderID, rec.ProviderRef,
			fmt.Sprintf("ledger %s vs settled %s", tx.Amount.String(), rec.SettledAmount.String()))
	}

	if tx.State == models.StateSettled {
		prior, err := e.settlements.SettlementsByRef(ctx, rec.ProviderID, rec.ProviderRef)
		if err != nil {
			return false, 0, err
		}
		if len(prior) > 0 {
			// The reference settled once already; a later report settling it
			// again is a possible double payment, not a replay.
			return false, 1, e.raise(ctx, models.DuplicateSettlement, tx.TransactionID, rec.ProviderID, rec.ProviderRef,
				fmt.Sprintf("reference settled again across reports (%d rows retained)", len(prior)))
		}
		return false, 0, nil
	}

	// Clean match: settlement drives the state machine; conflicting
	// terminal states are handled there.
	applyErr := e.lifecycle.Apply(ctx, providers.Event{
		ProviderID:    rec.ProviderID,
		ProviderRef:   rec.ProviderRef,
		TransactionID: tx.TransactionID,
		Status:        providers.EventSettled,
		At:            rec.SettledAt,
		Raw:           []byte(rec.RawPayload),
	})
	if applyErr != nil {
		return false, 0, applyErr
	}
	return true, 0, nil
}

// SweepMissing finds in-flight transactions with no settlement after the
// grace period, raises MissingAtProvider and forces a status query.
func (e *Engine) SweepMissing(ctx context.Context) {
	cutoff := e.now().Add(-e.grace)
	stale, err := e.ledger.FindStale(ctx,
		[]models.TxState{models.StateSubmitted, models.StateAcknowledged}, cutoff)
	if err != nil {
		e.logger.Error("missing-settlement sweep failed", zap.Error(err))
		return
	}

	for _, tx := range stale {
		if tx.ProviderRef == "" {
			continue
		}
		rows, err := e.settlements.SettlementsByRef(ctx, tx.ProviderID, tx.ProviderRef)
		if err != nil {
			e.logger.Error("settlement lookup failed",
				zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			continue
		}
		if len(rows) > 0 {
			continue
		}

		if err := e.raise(ctx, models.MissingAtProvider, tx.TransactionID, tx.ProviderID, tx.ProviderRef,
			"no settlement after grace period"); err != nil {
			e.logger.Error("failed to record missing-at-provider",
				zap.String("transaction_id", tx.TransactionID), zap.Error(err))
			continue
		}
		e.forceQuery(ctx, tx)
	}
}

func (e *Engine) forceQuery(ctx context.Context, tx models.Transaction) {
	adapter, err := e.adapters.Get(tx.ProviderID)
	if err != nil {
		e.logger.Error("no adapter for forced query", zap.String("provider", tx.ProviderID), zap.Error(err))
		return
	}
	res, err := adapter.QueryStatus(ctx, tx.ProviderRef)
	if err != nil || !res.Found {
		return
	}
	_ = e.lifecycle.Apply(ctx, providers.Event{
		ProviderID:    tx.ProviderID,
		ProviderRef:   tx.ProviderRef,
		TransactionID: tx.TransactionID,
		Status:        res.Status,
		Reason:        res.Reason,
		At:            e.now(),
	})
}

// Resolve marks an exception resolved by an operator.
func (e *Engine) Resolve(ctx context.Context, exceptionID, resolvedBy string) error {
	return e.exceptions.ResolveException(ctx, exceptionID, resolvedBy)
}

// OpenExceptions lists unresolved discrepancies.
func (e *Engine) OpenExceptions(ctx context.Context) ([]models.ReconciliationException, error) {
	return e.exceptions.ListOpen(ctx)
}

func (e *Engine) raise(ctx context.Context, t models.DiscrepancyType, transactionID, providerID, providerRef, detail string) error {
	e.logger.Warn("reconciliation exception",
		zap.String("type", string(t)),
		zap.String("provider", providerID),
		zap.String("provider_ref", providerRef),
		zap.String("detail", detail))
	return e.exceptions.InsertException(ctx, models.ReconciliationException{
		ExceptionID:   uuid.NewString(),
		TransactionID: transactionID,
		ProviderID:    providerID,
		ProviderRef:   providerRef,
		Type:          t,
		Severity:      models.SeverityOf(t),
		Detail:        detail,
		DetectedAt:    e.now().UTC(),
	})
}

func parseRow(providerID string, row []string, ingestedAt time.Time) (models.SettlementRecord, error) {
	if len(row) < 4 {
		return models.SettlementRecord{}, fmt.Errorf("expected 4 columns, got %d", len(row))
	}

	ref := strings.TrimSpace(row[0])
	if ref == "" {
		return models.SettlementRecord{}, fmt.Errorf("empty provider reference")
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(row[1]))
	if err != nil {
		return models.SettlementRecord{}, fmt.Errorf("bad amount %q: %w", row[1], err)
	}
	if !amount.IsPositive() {
		return models.SettlementRecord{}, fmt.Errorf("non-positive amount %q", row[1])
	}

	settledAt, err := time.Parse(time.RFC3339, strings.TrimSpace(row[3]))
	if err != nil {
		return models.SettlementRecord{}, fmt.Errorf("bad settled_at %q: %w", row[3], err)
	}

	return models.SettlementRecord{
		ProviderID:    providerID,
		ProviderRef:   ref,
		SettledAmount: amount,
		Currency:      strings.TrimSpace(row[2]),
		SettledAt:     settledAt,
		RawPayload:    flattenRow(row),
		IngestedAt:    ingestedAt,
	}, nil
}

func isHeader(row []string) bool {
	return len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "provider_reference")
}

func flattenRow(row []string) string {
	return strings.Join(row, ",")
}

// RunSweep runs SweepMissing on an interval.
func (e *Engine) RunSweep(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SweepMissing(ctx)
		}
	}
}
