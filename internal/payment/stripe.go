package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"
)

// StripeClient implements StripeGateway with stripe-go.
type StripeClient struct {
	api           *client.API
	webhookSecret string
}

// NewStripeClient creates a Stripe client. Library logs go through log.
func NewStripeClient(secretKey, webhookSecret string, log *zap.Logger) *StripeClient {
	backends := stripe.NewBackendsWithConfig(&stripe.BackendConfig{
		LeveledLogger: log.Named("stripe").Sugar(),
	})
	return &StripeClient{api: client.New(secretKey, backends), webhookSecret: webhookSecret}
}

// newStripeClientWithBackends is used by tests to point the client at a fake API.
func newStripeClientWithBackends(secretKey, webhookSecret string, backends *stripe.Backends) *StripeClient {
	return &StripeClient{api: client.New(secretKey, backends), webhookSecret: webhookSecret}
}

// CreatePaymentIntent creates a card PaymentIntent.
func (c *StripeClient) CreatePaymentIntent(ctx context.Context, p IntentParams) (*Intent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(p.AmountCents),
		Currency: stripe.String(p.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if p.Description != "" {
		params.Description = stripe.String(p.Description)
	}
	if p.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(p.ReceiptEmail)
	}
	for k, v := range p.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	pi, err := c.api.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return intentFromStripe(pi), nil
}

// GetPaymentIntent fetches the live state of a PaymentIntent.
func (c *StripeClient) GetPaymentIntent(ctx context.Context, id string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := c.api.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return intentFromStripe(pi), nil
}

// Refund refunds a PaymentIntent, fully when AmountCents is zero.
func (c *StripeClient) Refund(ctx context.Context, p RefundParams) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(p.IntentID),
	}
	if p.AmountCents > 0 {
		params.Amount = stripe.Int64(p.AmountCents)
	}
	if p.Reason != "" {
		params.Reason = stripe.String(p.Reason)
	}
	params.Context = ctx
	if p.IdempotencyKey != "" {
		params.SetIdempotencyKey(p.IdempotencyKey)
	}

	r, err := c.api.Refunds.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &RefundResult{ID: r.ID, Status: string(r.Status)}, nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the
// PaymentIntent carried by the event. Events for other objects are returned
// with an empty Intent.
func (c *StripeClient) ParseWebhook(payload []byte, signature string) (*WebhookEvent, error) {
	if c.webhookSecret == "" {
		return nil, ErrProviderNotConfigured
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, c.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return out, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("failed to decode event object: %w", err)
	}
	if pi.Object == "payment_intent" {
		out.Intent = *intentFromStripe(&pi)
	}
	return out, nil
}

func intentFromStripe(pi *stripe.PaymentIntent) *Intent {
	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountCents:  pi.Amount,
		Metadata:     pi.Metadata,
	}
}

// mapStripeError separates credential problems from other provider failures.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.HTTPStatusCode == http.StatusUnauthorized || stripeErr.HTTPStatusCode == http.StatusForbidden {
			return fmt.Errorf("%w: %s", ErrProviderNotConfigured, stripeErr.Msg)
		}
		return fmt.Errorf("%w: %s", ErrProviderFailure, stripeErr.Msg)
	}
	return fmt.Errorf("%w: %v", ErrProviderFailure, err)
}
