package payment

import (
	"context"
	"fmt"
	"strings"

	"github.com/plutov/paypal/v4"
)

// PayPalClient implements PayPalGateway with the PayPal Orders v2 API.
type PayPalClient struct {
	client *paypal.Client
}

// NewPayPalClient creates a PayPal client for mode "live" or "sandbox".
func NewPayPalClient(clientID, secret, mode string) (*PayPalClient, error) {
	base := paypal.APIBaseSandBox
	if mode == "live" {
		base = paypal.APIBaseLive
	}
	return newPayPalClientWithBase(clientID, secret, base)
}

func newPayPalClientWithBase(clientID, secret, base string) (*PayPalClient, error) {
	c, err := paypal.NewClient(clientID, secret, base)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal client: %w", err)
	}
	return &PayPalClient{client: c}, nil
}

// CreateOrder creates a CAPTURE order and returns its approval link.
func (c *PayPalClient) CreateOrder(ctx context.Context, p OrderParams) (*Order, error) {
	units := []paypal.PurchaseUnitRequest{{
		ReferenceID: p.ReferenceID,
		CustomID:    p.CustomID,
		Description: p.Description,
		Amount: &paypal.PurchaseUnitAmount{
			Currency: strings.ToUpper(p.Currency),
			Value:    formatAmount(p.AmountCents),
		},
	}}
	order, err := c.client.CreateOrder(ctx, paypal.OrderIntentCapture, units, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	out := &Order{ID: order.ID, Status: order.Status}
	for _, link := range order.Links {
		if link.Rel == "approve" || link.Rel == "payer-action" {
			out.ApproveURL = link.Href
			break
		}
	}
	return out, nil
}

// CaptureOrder captures an approved order.
func (c *PayPalClient) CaptureOrder(ctx context.Context, orderID string) (*Capture, error) {
	resp, err := c.client.CaptureOrder(ctx, orderID, paypal.CaptureOrderRequest{})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}
	return &Capture{OrderID: resp.ID, Status: resp.Status}, nil
}

// formatAmount renders cents as a decimal string, e.g. 999 -> "9.99".
func formatAmount(cents int64) string {
	return fmt.Sprintf("%d.%02d", cents/100, cents%100)
}
