package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test"

func newTestStripeClient(t *testing.T, handler http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return newStripeClientWithBackends("sk_test_123", testWebhookSecret, backends)
}

func TestStripeClient_CreatePaymentIntent(t *testing.T) {
	var gotPath, gotIdem, gotAmount, gotMeta string
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotPath = r.URL.Path
		gotIdem = r.Header.Get("Idempotency-Key")
		gotAmount = r.PostForm.Get("amount")
		gotMeta = r.PostForm.Get("metadata[paymentId]")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_123","object":"payment_intent","client_secret":"pi_123_secret_x","status":"requires_payment_method","amount":999,"currency":"usd","metadata":{"paymentId":"7"}}`))
	})

	intent, err := client.CreatePaymentIntent(context.Background(), IntentParams{
		AmountCents:    999,
		Currency:       "usd",
		IdempotencyKey: "idem-1",
		Metadata:       map[string]string{MetaPaymentID: "7"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/v1/payment_intents", gotPath)
	assert.Equal(t, "idem-1", gotIdem)
	assert.Equal(t, "999", gotAmount)
	assert.Equal(t, "7", gotMeta)
	assert.Equal(t, "pi_123", intent.ID)
	assert.Equal(t, "pi_123_secret_x", intent.ClientSecret)
	assert.Equal(t, "requires_payment_method", intent.Status)
	assert.Equal(t, "7", intent.Metadata[MetaPaymentID])
}

func TestStripeClient_AuthErrorIsConfiguration(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Invalid API Key provided"}}`))
	})

	_, err := client.CreatePaymentIntent(context.Background(), IntentParams{AmountCents: 999, Currency: "usd"})
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}

func TestStripeClient_ServerErrorIsProviderFailure(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Amount must be at least 50 cents"}}`))
	})

	_, err := client.GetPaymentIntent(context.Background(), "pi_1")
	assert.ErrorIs(t, err, ErrProviderFailure)
}

func TestStripeClient_ParseWebhook(t *testing.T) {
	client := newTestStripeClient(t, func(w http.ResponseWriter, r *http.Request) {})

	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        "payment_intent.succeeded",
		"api_version": "2020-08-27",
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_123",
				"object":   "payment_intent",
				"status":   "succeeded",
				"amount":   999,
				"metadata": map[string]string{"paymentId": "7"},
			},
		},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})

	event, err := client.ParseWebhook(payload, signed.Header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventIntentSucceeded, event.Type)
	assert.Equal(t, "pi_123", event.Intent.ID)
	assert.Equal(t, "succeeded", event.Intent.Status)
	assert.Equal(t, "7", event.Intent.Metadata[MetaPaymentID])

	_, err = client.ParseWebhook(payload, "t=1,v1=deadbeef")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tampered := append([]byte{}, payload...)
	tampered[len(tampered)-2] = ' '
	_, err = client.ParseWebhook(tampered, signed.Header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeClient_ParseWebhookWithoutSecret(t *testing.T) {
	client := &StripeClient{}
	_, err := client.ParseWebhook([]byte(`{}`), "t=1,v1=00")
	assert.ErrorIs(t, err, ErrProviderNotConfigured)
}
