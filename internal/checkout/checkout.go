// Package checkout starts and confirms hosted payment flows. Card and wallet
// details never touch the storefront: each provider asks the backend for a
// hosted page, redirects the buyer there and confirms the payment with the
// backend once the buyer comes back.
package checkout

import (
	"context"
	"errors"
	"sort"

	"github.com/briangreenhill/scriptmarket/internal/market"
)

var ErrUnknownProvider = errors.New("unknown payment provider")

type Request struct {
	ScriptID   string
	SuccessURL string
	CancelURL  string
	// IdempotencyKey is sent with the create call; a fresh one is generated
	// when empty.
	IdempotencyKey string
}

// Session is a started checkout. URL is where the buyer is redirected.
type Session struct {
	ID       string
	URL      string
	Provider string
}

type Provider interface {
	Name() string
	// Begin creates a hosted checkout for req.
	Begin(ctx context.Context, req Request) (Session, error)
	// Confirm settles the checkout with id after the buyer returns and
	// reports the recorded payment.
	Confirm(ctx context.Context, id string) (market.Payment, error)
}

// Registry holds the providers enabled by configuration. It is filled at
// startup and read-only afterwards.
type Registry struct {
	providers map[string]Provider
}

func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider)}
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

func (r *Registry) Register(p Provider) {
	r.providers[p.Name()] = p
}

func (r *Registry) Get(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, ErrUnknownProvider
	}
	return p, nil
}

// List returns the registered provider names in sorted order.
func (r *Registry) List() []string {
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
