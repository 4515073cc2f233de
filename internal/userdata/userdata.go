// Package userdata loads the signed-in user's account data through the TTL
// cache.
package userdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/cache"
	"github.com/briangreenhill/scriptmarket/internal/market"
)

// Backend endpoints, relative to the API base URL. The bearer token on the
// request context decides whose data comes back.
const (
	ProfileEndpoint  = "/users/me"
	LicensesEndpoint = "/licenses/me"
	PaymentsEndpoint = "/payments/me"
	ActivityEndpoint = "/activity/me"
)

const DefaultTTL = 5 * time.Minute

type Doer interface {
	Do(ctx context.Context, method, endpoint string, body any, opts ...api.RequestOption) (api.Result, error)
}

type Fetcher struct {
	client Doer
	cache  *cache.TTL
	ttl    time.Duration
	logger zerolog.Logger
	group  singleflight.Group
}

type Option func(*Fetcher)

func WithTTL(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.ttl = d
		}
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

func New(client Doer, c *cache.TTL, opts ...Option) *Fetcher {
	f := &Fetcher{
		client: client,
		cache:  c,
		ttl:    DefaultTTL,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Key is the cache key for one of a user's resources.
func Key(userID, resource string) string {
	return "user-" + userID + ":" + resource
}

func (f *Fetcher) Profile(ctx context.Context, userID string) (market.User, error) {
	return load(ctx, f, userID, "profile", ProfileEndpoint, decodeOne[market.User])
}

func (f *Fetcher) Licenses(ctx context.Context, userID string) ([]market.License, error) {
	return load(ctx, f, userID, "licenses", LicensesEndpoint, decodeList[market.License])
}

func (f *Fetcher) Payments(ctx context.Context, userID string) ([]market.Payment, error) {
	return load(ctx, f, userID, "payments", PaymentsEndpoint, decodeList[market.Payment])
}

func (f *Fetcher) Activity(ctx context.Context, userID string) ([]market.Activity, error) {
	return load(ctx, f, userID, "activity", ActivityEndpoint, decodeList[market.Activity])
}

// Dashboard loads all of a user's resources concurrently. The first failure
// is returned.
func (f *Fetcher) Dashboard(ctx context.Context, userID string) (market.Dashboard, error) {
	var d market.Dashboard
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		d.Profile, err = f.Profile(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		d.Licenses, err = f.Licenses(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		d.Payments, err = f.Payments(gctx, userID)
		return err
	})
	g.Go(func() (err error) {
		d.Activity, err = f.Activity(gctx, userID)
		return err
	})
	if err := g.Wait(); err != nil {
		return market.Dashboard{}, err
	}
	return d, nil
}

// Invalidate drops every cached resource of one user.
func (f *Fetcher) Invalidate(userID string) {
	n := f.cache.ClearPattern("user-" + userID + ":")
	f.logger.Debug().Str("user", userID).Int("evicted", n).Msg("invalidated user cache")
}

// InvalidateAll drops cached data for every user.
func (f *Fetcher) InvalidateAll() {
	f.cache.ClearPattern("user-")
}

func load[T any](ctx context.Context, f *Fetcher, userID, resource, endpoint string, decode func(api.Result) (T, error)) (T, error) {
	key := Key(userID, resource)
	if v, ok := cache.GetAs[T](f.cache, key); ok {
		return v, nil
	}

	// The flight outlives any one caller: it keeps ctx values (the token)
	// but not its cancellation, and each caller stops waiting on its own ctx.
	flightCtx := context.WithoutCancel(ctx)
	ch := f.group.DoChan(key, func() (any, error) {
		res, err := f.client.Do(flightCtx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		out, err := decode(res)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", resource, err)
		}
		f.cache.Set(key, out, f.ttl)
		return out, nil
	})

	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		if r.Shared {
			f.logger.Debug().Str("key", key).Msg("shared in-flight load")
		}
		return r.Val.(T), nil
	}
}

func decodeOne[T any](res api.Result) (T, error) {
	var out T
	err := res.Into(&out)
	return out, err
}

// decodeList treats a reply that is not a list as empty.
func decodeList[T any](res api.Result) ([]T, error) {
	raw, ok := res.List()
	if !ok {
		return []T{}, nil
	}
	var out []T
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []T{}
	}
	return out, nil
}
