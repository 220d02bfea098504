package providers

import (
	// Go Internal Packages
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	// External Packages
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SignatureHeader carries the hex HMAC-SHA256 of the callback body.
const SignatureHeader = "X-Wallet-Signature"

type walletEntry struct {
	item   SubmitItem
	status EventStatus
	reason string
}

// MockWallet is the webhook reference adapter. Submissions are always
// acknowledged; terminal outcomes arrive as signed callbacks posted to
// the engine's webhook receiver.
type MockWallet struct {
	code   string
	secret []byte

	mu       sync.Mutex
	payments map[string]*walletEntry
	logger   *zap.Logger
}

func NewMockWallet(code, secret string, logger *zap.Logger) *MockWallet {
	return &MockWallet{
		code:     code,
		secret:   []byte(secret),
		payments: make(map[string]*walletEntry),
		logger:   logger,
	}
}

func (w *MockWallet) Code() string      { return w.code }
func (w *MockWallet) Kind() AdapterKind { return KindWebhook }

func (w *MockWallet) Healthy(ctx context.Context) bool { return true }

func (w *MockWallet) Submit(ctx context.Context, batch SubmitBatch) (SubmissionResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	res := SubmissionResult{Acks: make([]ItemAck, 0, len(batch.Items))}
	for _, item := range batch.Items {
		ref := w.code + "-" + strings.ToUpper(uuid.NewString()[:8])
		w.payments[ref] = &walletEntry{item: item, status: EventAcknowledged}
		res.Acks = append(res.Acks, ItemAck{
			TransactionID: item.TransactionID,
			ProviderRef:   ref,
			Status:        EventAcknowledged,
		})
	}
	return res, nil
}

// QueryStatus serves forced confirmations (expiry, reconciliation); the
// normal path for this adapter is the webhook.
func (w *MockWallet) QueryStatus(ctx context.Context, providerRef string) (StatusResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.payments[providerRef]
	if !ok {
		return StatusResult{ProviderRef: providerRef, Found: false}, nil
	}
	return StatusResult{
		ProviderRef: providerRef,
		Found:       true,
		Status:      entry.status,
		Reason:      entry.reason,
	}, nil
}

func (w *MockWallet) Cancel(ctx context.Context, providerRef string) (CancelResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, ok := w.payments[providerRef]
	if !ok {
		return CancelResult{Cancelled: false, Reason: "PAYMENT_NOT_FOUND"}, nil
	}
	if entry.status == EventSettled {
		return CancelResult{Cancelled: false, Reason: "ALREADY_SETTLED"}, nil
	}
	entry.status = EventRejected
	entry.reason = "CANCELLED"
	return CancelResult{Cancelled: true}, nil
}

// walletCallback is the wire shape of a wallet webhook.
type walletCallback struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
	Fee       string `json:"fee,omitempty"`
	SettledAt string `json:"settled_at,omitempty"`
}

// WebhookHandler validates the callback signature and pushes the
// normalized event into the engine. Unsigned or tampered callbacks are
// rejected before they can reach the state machine.
func (w *MockWallet) WebhookHandler(events chan<- Event) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			http.Error(rw, "unreadable body", http.StatusBadRequest)
			return
		}

		if !w.VerifySignature(body, req.Header.Get(SignatureHeader)) {
			w.logger.Warn("rejected webhook with bad signature", zap.String("provider", w.code))
			http.Error(rw, "invalid signature", http.StatusUnauthorized)
			return
		}

		var cb walletCallback
		if err := json.Unmarshal(body, &cb); err != nil {
			http.Error(rw, "malformed callback", http.StatusBadRequest)
			return
		}

		status, ok := parseCallbackStatus(cb.Status)
		if !ok {
			http.Error(rw, "unknown status", http.StatusBadRequest)
			return
		}

		fee := decimal.Zero
		if cb.Fee != "" {
			if parsed, err := decimal.NewFromString(cb.Fee); err == nil {
				fee = parsed
			}
		}

		w.mu.Lock()
		if entry, found := w.payments[cb.Reference]; found {
			entry.status = status
			entry.reason = cb.Reason
		}
		w.mu.Unlock()

		events <- Event{
			ProviderID:  w.code,
			ProviderRef: cb.Reference,
			Status:      status,
			Reason:      cb.Reason,
			Fee:         fee,
			At:          time.Now(),
			Raw:         body,
		}
		rw.WriteHeader(http.StatusAccepted)
	})
}

// VerifySignature checks the hex HMAC-SHA256 of body against the header value.
func (w *MockWallet) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, w.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Sign computes the signature a caller must attach to a callback body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func parseCallbackStatus(s string) (EventStatus, bool) {
	switch strings.ToLower(s) {
	case "acknowledged", "processing":
		return EventAcknowledged, true
	case "settled", "completed":
		return EventSettled, true
	case "rejected", "failed":
		return EventRejected, true
	}
	return "", false
}
