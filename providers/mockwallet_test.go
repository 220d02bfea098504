package providers

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMockWalletSubmitAcknowledges(t *testing.T) {
	t.Parallel()

	wallet := NewMockWallet("MOCKWALLET", "secret", zap.NewNop())
	res, err := wallet.Submit(context.Background(), SubmitBatch{Items: []SubmitItem{
		{TransactionID: "tx-1", Amount: decimal.RequireFromString("100"), Currency: "PHP"},
	}})
	require.NoError(t, err)
	require.Len(t, res.Acks, 1)
	assert.Equal(t, EventAcknowledged, res.Acks[0].Status)
	assert.NotEmpty(t, res.Acks[0].ProviderRef)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	wallet := NewMockWallet("MOCKWALLET", "secret", zap.NewNop())
	events := make(chan Event, 1)
	handler := wallet.WebhookHandler(events)

	body := []byte(`{"reference":"MOCKWALLET-0001","status":"settled"}`)

	req := httptest.NewRequest("POST", "/v1/webhooks/MOCKWALLET", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, "deadbeef")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, 401, rec.Code)

	req = httptest.NewRequest("POST", "/v1/webhooks/MOCKWALLET", bytes.NewReader(body))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, 401, rec.Code, "missing signature is rejected")

	assert.Empty(t, events)
}

func TestWebhookAcceptsSignedCallback(t *testing.T) {
	t.Parallel()

	wallet := NewMockWallet("MOCKWALLET", "secret", zap.NewNop())
	events := make(chan Event, 1)
	handler := wallet.WebhookHandler(events)

	body := []byte(`{"reference":"MOCKWALLET-0001","status":"settled","fee":"2.50"}`)
	req := httptest.NewRequest("POST", "/v1/webhooks/MOCKWALLET", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, Sign([]byte("secret"), body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, 202, rec.Code)

	ev := <-events
	assert.Equal(t, "MOCKWALLET", ev.ProviderID)
	assert.Equal(t, "MOCKWALLET-0001", ev.ProviderRef)
	assert.Equal(t, EventSettled, ev.Status)
	assert.True(t, ev.Fee.Equal(decimal.RequireFromString("2.50")))
	assert.Equal(t, body, ev.Raw)
}

func TestWebhookRejectsMalformedCallback(t *testing.T) {
	t.Parallel()

	wallet := NewMockWallet("MOCKWALLET", "secret", zap.NewNop())
	events := make(chan Event, 1)
	handler := wallet.WebhookHandler(events)

	body := []byte(`{"reference":"MOCKWALLET-0001","status":"exploded"}`)
	req := httptest.NewRequest("POST", "/v1/webhooks/MOCKWALLET", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, Sign([]byte("secret"), body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, 400, rec.Code)
	assert.Empty(t, events)
}

func TestParseCallbackStatus(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]EventStatus{
		"acknowledged": EventAcknowledged,
		"processing":   EventAcknowledged,
		"settled":      EventSettled,
		"COMPLETED":    EventSettled,
		"rejected":     EventRejected,
		"failed":       EventRejected,
	} {
		got, ok := parseCallbackStatus(in)
		require.True(t, ok, in)
		assert.Equal(t, want, got)
	}

	_, ok := parseCallbackStatus("unknown")
	assert.False(t, ok)
}
