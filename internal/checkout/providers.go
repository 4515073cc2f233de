package checkout

import (
	"context"
	"net/url"

	"github.com/google/uuid"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/market"
)

const (
	Stripe = "stripe"
	PayPal = "paypal"
)

// StripeProvider runs Stripe Checkout sessions created by the backend.
type StripeProvider struct {
	Client *api.Client
	// PublishableKey is handed to templates that load Stripe.js.
	PublishableKey string
}

func (StripeProvider) Name() string { return Stripe }

type stripeSession struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (p StripeProvider) Begin(ctx context.Context, req Request) (Session, error) {
	out, err := api.Post[stripeSession](ctx, p.Client, "/payments/stripe/checkout", map[string]string{
		"scriptId":   req.ScriptID,
		"successUrl": req.SuccessURL,
		"cancelUrl":  req.CancelURL,
	}, api.WithIdempotencyKey(idempotencyKey(req)))
	if err != nil {
		return Session{}, err
	}
	return Session{ID: out.ID, URL: out.URL, Provider: Stripe}, nil
}

func (p StripeProvider) Confirm(ctx context.Context, id string) (market.Payment, error) {
	return api.Get[market.Payment](ctx, p.Client, "/payments/stripe/checkout/"+url.PathEscape(id))
}

// PayPalProvider runs PayPal orders: create, buyer approval, capture.
type PayPalProvider struct {
	Client   *api.Client
	ClientID string
}

func (PayPalProvider) Name() string { return PayPal }

type paypalOrder struct {
	ID         string `json:"id"`
	ApproveURL string `json:"approveUrl"`
}

func (p PayPalProvider) Begin(ctx context.Context, req Request) (Session, error) {
	order, err := api.Post[paypalOrder](ctx, p.Client, "/payments/paypal/orders", map[string]string{
		"scriptId":  req.ScriptID,
		"returnUrl": req.SuccessURL,
		"cancelUrl": req.CancelURL,
	}, api.WithIdempotencyKey(idempotencyKey(req)))
	if err != nil {
		return Session{}, err
	}
	return Session{ID: order.ID, URL: order.ApproveURL, Provider: PayPal}, nil
}

func (p PayPalProvider) Confirm(ctx context.Context, id string) (market.Payment, error) {
	return api.Post[market.Payment](ctx, p.Client, "/payments/paypal/orders/"+url.PathEscape(id)+"/capture", nil,
		api.WithIdempotencyKey("capture-"+id))
}

func idempotencyKey(req Request) string {
	if req.IdempotencyKey != "" {
		return req.IdempotencyKey
	}
	return uuid.NewString()
}
