package server

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	// Local Packages
	errors "disburse-engine/errors"
	models "disburse-engine/models"

	// External Packages
	"go.uber.org/zap"
)

// Intake accepts disbursement requests.
type Intake interface {
	Accept(ctx context.Context, req models.DisbursementRequest) (models.Transaction, error)
}

// QueryLedger serves transaction lookups.
type QueryLedger interface {
	Get(ctx context.Context, id string) (models.Transaction, error)
	FindByBeneficiary(ctx context.Context, beneficiaryID, cycleID string) ([]models.Transaction, error)
}

// Recon exposes exception listing and resolution.
type Recon interface {
	Resolve(ctx context.Context, exceptionID, resolvedBy string) error
	OpenExceptions(ctx context.Context) ([]models.ReconciliationException, error)
}

// Requeuer is the operator path back from Expired.
type Requeuer interface {
	RequeueExpired(ctx context.Context, tx models.Transaction, actor string) (models.TxState, error)
}

// RetryQueue schedules requeued transactions.
type RetryQueue interface {
	Schedule(ctx context.Context, transactionID string, at time.Time) error
}

// Guard releases dispatch guards for requeued transactions.
type Guard interface {
	Release(ctx context.Context, key string) error
}

// Auditor exports audit trails.
type Auditor interface {
	Export(ctx context.Context, cycleID string, w io.Writer) error
}

// Canceller applies a benefit-cycle hold.
type Canceller interface {
	Cancel(ctx context.Context, cycleID string) (rejected, attempted int, err error)
}

// Server is the operational HTTP surface: synchronous intake, provider
// webhooks, state queries, exception resolution, audit export and the
// Prometheus endpoint.
type Server struct {
	intake    Intake
	ledger    QueryLedger
	recon     Recon
	requeuer  Requeuer
	queue     RetryQueue
	guard     Guard
	audit     Auditor
	canceller Canceller
	webhooks  map[string]http.Handler
	metrics   http.Handler
	logger    *zap.Logger
}

func New(intake Intake, ledger QueryLedger, recon Recon, requeuer Requeuer, queue RetryQueue,
	guard Guard, audit Auditor, canceller Canceller, webhooks map[string]http.Handler,
	metrics http.Handler, logger *zap.Logger) *Server {
	return &Server{
		intake:    intake,
		ledger:    ledger,
		recon:     recon,
		requeuer:  requeuer,
		queue:     queue,
		guard:     guard,
		audit:     audit,
		canceller: canceller,
		webhooks:  webhooks,
		metrics:   metrics,
		logger:    logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/disbursement-requests", s.handleAccept)
	mux.HandleFunc("GET /v1/transactions", s.handleQuery)
	mux.HandleFunc("GET /v1/transactions/{id}", s.handleGet)
	mux.HandleFunc("POST /v1/transactions/{id}/requeue", s.handleRequeue)
	mux.HandleFunc("GET /v1/exceptions", s.handleExceptions)
	mux.HandleFunc("POST /v1/exceptions/{id}/resolve", s.handleResolve)
	mux.HandleFunc("GET /v1/cycles/{cycle}/audit", s.handleAuditExport)
	mux.HandleFunc("POST /v1/cycles/{cycle}/cancel", s.handleCancelCycle)
	mux.HandleFunc("POST /v1/webhooks/{provider}", s.handleWebhook)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run serves until the context ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", zap.String("addr", addr))
	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleAccept(w http.ResponseWriter, r *http.Request) {
	var req models.DisbursementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, errors.InvalidBodyErr(err))
		return
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}

	tx, err := s.intake.Accept(r.Context(), req)
	if err != nil {
		if errors.Is(err, errors.Conflict) {
			s.writeJSON(w, http.StatusConflict, map[string]string{
				"error":          "DuplicateRequest",
				"transaction_id": tx.TransactionID,
			})
			return
		}
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{
		"transaction_id": tx.TransactionID,
		"internal_ref":   tx.InternalRef,
		"state":          string(tx.State),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	beneficiary := r.URL.Query().Get("beneficiary")
	if beneficiary == "" {
		s.writeError(w, errors.EmptyParamErr("beneficiary"))
		return
	}
	cycle := r.URL.Query().Get("cycle")

	txs, err := s.ledger.FindByBeneficiary(r.Context(), beneficiary, cycle)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, txs)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	tx, err := s.ledger.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tx, err := s.ledger.Get(ctx, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	target, err := s.requeuer.RequeueExpired(ctx, tx, models.ActorOperator)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if target == models.StateReserved {
		// The transaction never dispatched; free its guard so the next
		// submit attempt is not dropped as a duplicate.
		if err := s.guard.Release(ctx, "submit:"+tx.TransactionID); err != nil {
			s.logger.Error("guard release failed",
				zap.String("transaction_id", tx.TransactionID), zap.Error(err))
		}
	}
	if err := s.queue.Schedule(ctx, tx.TransactionID, time.Now()); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"transaction_id": tx.TransactionID,
		"state":          string(target),
	})
}

func (s *Server) handleExceptions(w http.ResponseWriter, r *http.Request) {
	exs, err := s.recon.OpenExceptions(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, exs)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ResolvedBy == "" {
		s.writeError(w, errors.EmptyParamErr("resolved_by"))
		return
	}

	if err := s.recon.Resolve(r.Context(), r.PathValue("id"), body.ResolvedBy); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/x-ndjson")
	if err := s.audit.Export(r.Context(), r.PathValue("cycle"), w); err != nil {
		s.logger.Error("audit export failed", zap.Error(err))
	}
}

func (s *Server) handleCancelCycle(w http.ResponseWriter, r *http.Request) {
	rejected, attempted, err := s.canceller.Cancel(r.Context(), r.PathValue("cycle"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{
		"rejected_locally":  rejected,
		"cancels_attempted": attempted,
	})
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	handler, ok := s.webhooks[r.PathValue("provider")]
	if !ok {
		http.Error(w, "unknown provider", http.StatusNotFound)
		return
	}
	handler.ServeHTTP(w, r)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch errors.KindOf(err) {
	case errors.Invalid:
		status = http.StatusBadRequest
	case errors.NotFound:
		status = http.StatusNotFound
	case errors.Conflict:
		status = http.StatusConflict
	case errors.Unavailable:
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}
