// Package fetch binds a backend GET endpoint to a piece of observable state.
//
// A Resource is mounted by the view that needs it, optionally polls while
// mounted, and can be refreshed on demand. Requests are never cancelled when a
// newer one starts: overlapping fetches all complete and the last one to
// finish wins.
package fetch

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/briangreenhill/scriptmarket/internal/api"
)

// Skip is the endpoint value meaning "do not fetch".
const Skip = ""

// Getter is the slice of api.Client a Resource needs.
type Getter interface {
	Get(ctx context.Context, endpoint string, out any, opts ...api.RequestOption) error
}

// State is a snapshot of a Resource.
type State[T any] struct {
	Data      T
	Loading   bool
	Err       error
	UpdatedAt time.Time
}

type Options[T any] struct {
	// Immediate fetches on Mount and whenever the endpoint changes.
	Immediate bool
	// RefreshInterval > 0 polls the endpoint while mounted.
	RefreshInterval time.Duration
	// OnChange is called after every state transition, one call at a time
	// and in the order the transitions were applied. It may read State but
	// must not call methods that fetch.
	OnChange func(State[T])
	// RequestOptions are passed to every GET.
	RequestOptions []api.RequestOption
	Logger         *zerolog.Logger
}

type Resource[T any] struct {
	client Getter
	opts   Options[T]
	logger zerolog.Logger

	// notifyMu spans a state change and its OnChange call.
	notifyMu sync.Mutex

	mu       sync.Mutex
	endpoint string
	interval time.Duration
	state    State[T]
	mounted  bool
	baseCtx  context.Context
	stop     context.CancelFunc
	polls    sync.WaitGroup
}

func New[T any](client Getter, endpoint string, opts Options[T]) *Resource[T] {
	r := &Resource[T]{
		client:   client,
		opts:     opts,
		logger:   zerolog.Nop(),
		endpoint: endpoint,
		interval: opts.RefreshInterval,
	}
	if opts.Logger != nil {
		r.logger = *opts.Logger
	}
	return r
}

// State returns a copy of the current state.
func (r *Resource[T]) State() State[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Resource[T]) Endpoint() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endpoint
}

// Mount activates the resource. With Immediate set it fetches once before
// returning and reports that fetch's error; polling, if configured, runs until
// Unmount. ctx bounds the lifetime of the polling goroutine.
func (r *Resource[T]) Mount(ctx context.Context) error {
	r.mu.Lock()
	if r.mounted {
		r.mu.Unlock()
		return nil
	}
	r.mounted = true
	r.baseCtx = ctx
	endpoint := r.endpoint
	r.startPollingLocked()
	r.mu.Unlock()

	if r.opts.Immediate && endpoint != Skip {
		return r.load(ctx, endpoint)
	}
	return nil
}

// Unmount stops polling and waits for the poll loop to exit.
func (r *Resource[T]) Unmount() {
	r.mu.Lock()
	r.mounted = false
	r.stopPollingLocked()
	r.mu.Unlock()
	r.polls.Wait()
}

// SetEndpoint switches the resource to a new endpoint. When mounted with
// Immediate set, a changed endpoint is fetched right away.
func (r *Resource[T]) SetEndpoint(ctx context.Context, endpoint string) error {
	r.mu.Lock()
	if endpoint == r.endpoint {
		r.mu.Unlock()
		return nil
	}
	r.endpoint = endpoint
	fetchNow := r.mounted && r.opts.Immediate && endpoint != Skip
	r.mu.Unlock()

	if fetchNow {
		return r.load(ctx, endpoint)
	}
	return nil
}

// SetRefreshInterval replaces the polling interval, restarting the timer.
func (r *Resource[T]) SetRefreshInterval(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d == r.interval {
		return
	}
	r.interval = d
	r.stopPollingLocked()
	if r.mounted {
		r.startPollingLocked()
	}
}

// Refresh re-issues the GET for the current endpoint.
func (r *Resource[T]) Refresh(ctx context.Context) error {
	endpoint := r.Endpoint()
	if endpoint == Skip {
		return nil
	}
	return r.load(ctx, endpoint)
}

func (r *Resource[T]) startPollingLocked() {
	if r.interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(r.baseCtx)
	r.stop = cancel
	interval := r.interval
	r.polls.Add(1)
	go func() {
		defer r.polls.Done()
		r.poll(ctx, interval)
	}()
}

func (r *Resource[T]) stopPollingLocked() {
	if r.stop != nil {
		r.stop()
		r.stop = nil
	}
}

// poll fires a GET every interval. Ticks do not wait for the previous fetch,
// so a slow reply can overlap the next one.
func (r *Resource[T]) poll(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			endpoint := r.Endpoint()
			if endpoint == Skip {
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				if err := r.load(ctx, endpoint); err != nil && ctx.Err() == nil {
					r.logger.Debug().Err(err).Str("endpoint", endpoint).Msg("poll failed")
				}
			}()
		}
	}
}

func (r *Resource[T]) load(ctx context.Context, endpoint string) error {
	r.update(func(s *State[T]) {
		s.Loading = true
		s.Err = nil
	})

	var out T
	err := r.client.Get(ctx, endpoint, &out, r.opts.RequestOptions...)

	// a poll cut short by Unmount leaves no trace in state
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		r.update(func(s *State[T]) { s.Loading = false })
		return err
	}

	r.update(func(s *State[T]) {
		s.Loading = false
		if err != nil {
			s.Err = err
			return
		}
		s.Data = out
		s.UpdatedAt = time.Now()
	})
	return err
}

func (r *Resource[T]) update(fn func(*State[T])) {
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()

	r.mu.Lock()
	fn(&r.state)
	snapshot := r.state
	r.mu.Unlock()

	if r.opts.OnChange != nil {
		r.opts.OnChange(snapshot)
	}
}
