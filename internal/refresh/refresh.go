// Package refresh keeps the console resource store in step with the backend.
//
// Refresh requests are fire and forget, they are coalesced per resource and
// fetched with bounded retries.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jpillora/backoff"
	"github.com/metal-toolbox/vmconsole/internal/gateway"
	"github.com/metal-toolbox/vmconsole/internal/metrics"
	"github.com/metal-toolbox/vmconsole/internal/model"
	"github.com/metal-toolbox/vmconsole/internal/store"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const (
	pkgName = "internal/refresh"

	defaultConcurrency = 2
	defaultMaxAttempts = 5
	defaultMinBackoff  = 100 * time.Millisecond
	defaultMaxBackoff  = 5 * time.Second

	waitPollInterval = 10 * time.Millisecond
)

var (
	ErrRefresh    = errors.New("error refreshing resource")
	ErrNotStarted = errors.New("refresher not started")
)

// Options defines the Refresher parameters, zero values are replaced by defaults.
type Options struct {
	Concurrency int
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// Refresher fetches resources from the backend and updates the repository.
type Refresher struct {
	fetcher gateway.Fetcher
	repo    store.Repository
	limiter *Limiter
	logger  *logrus.Logger
	opts    Options

	mu sync.Mutex
	// queued holds the refs waiting to be dispatched, order keeps them in request order.
	queued map[model.ResourceRef]bool
	order  []model.ResourceRef
	// inflight holds the refs being fetched.
	inflight map[model.ResourceRef]bool
	started  bool
	stopped  bool

	ctx    context.Context
	cancel context.CancelFunc
	wakeCh chan struct{}
	doneCh chan struct{}
}

// New returns a Refresher, Start must be invoked for requests to be processed.
func New(fetcher gateway.Fetcher, repo store.Repository, opts Options, logger *logrus.Logger) *Refresher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}

	if opts.MinBackoff <= 0 {
		opts.MinBackoff = defaultMinBackoff
	}

	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = defaultMaxBackoff
	}

	return &Refresher{
		fetcher:  fetcher,
		repo:     repo,
		limiter:  NewLimiter(opts.Concurrency),
		logger:   logger,
		opts:     opts,
		queued:   map[model.ResourceRef]bool{},
		inflight: map[model.ResourceRef]bool{},
		wakeCh:   make(chan struct{}, 1),
		doneCh:   make(chan struct{}),
	}
}

// Start begins processing refresh requests until the context is canceled or StopWait is invoked.
func (r *Refresher) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}

	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	go r.loop()

	r.wake()
}

// Request queues a refresh of the resource, it never blocks.
//
// A request for a resource already queued is coalesced with the queued one,
// a request for a resource being fetched is queued to run after that fetch.
func (r *Refresher) Request(connection string, id uuid.UUID) {
	ref := model.ResourceRef{ConnectionName: connection, ID: id}

	r.mu.Lock()
	defer r.mu.Unlock()

	le := r.logger.WithFields(logrus.Fields{"resourceID": id.String(), "connection": connection})

	if r.stopped {
		le.Debug("refresher stopped, request dropped")
		return
	}

	if r.queued[ref] {
		metrics.RefreshCounter.WithLabelValues("coalesced").Inc()
		le.Trace("refresh coalesced")

		return
	}

	r.queued[ref] = true
	r.order = append(r.order, ref)

	le.Trace("refresh queued")

	r.wake()
}

// Pending returns the count of queued and in flight refreshes.
func (r *Refresher) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.order) + len(r.inflight)
}

// Wait blocks until no refresh is queued or in flight, or the context is done.
func (r *Refresher) Wait(ctx context.Context) error {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	if !started {
		return ErrNotStarted
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()

	for r.Pending() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.doneCh:
			return nil
		case <-ticker.C:
		}
	}

	return nil
}

// StopWait drops queued requests, cancels pending retries and waits for in flight fetches to return.
func (r *Refresher) StopWait() {
	r.mu.Lock()

	if r.stopped {
		r.mu.Unlock()
		return
	}

	r.stopped = true
	started := r.started

	if dropped := len(r.order); dropped > 0 {
		r.logger.WithField("count", dropped).Debug("queued refreshes dropped")
	}

	r.order = nil
	r.queued = map[model.ResourceRef]bool{}

	if started {
		r.cancel()
	}

	r.mu.Unlock()

	if started {
		<-r.doneCh
	}

	r.limiter.StopWait()
}

func (r *Refresher) wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

func (r *Refresher) loop() {
	defer close(r.doneCh)

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.wakeCh:
			r.dispatch()
		}
	}
}

// dispatch starts fetches for queued refs until the limiter is saturated.
func (r *Refresher) dispatch() {
	r.mu.Lock()
	defer r.mu.Unlock()

	remaining := r.order[:0]

	for idx, ref := range r.order {
		// one fetch per resource at a time
		if r.inflight[ref] {
			remaining = append(remaining, ref)
			continue
		}

		ref := ref

		err := r.limiter.Dispatch(func() {
			r.refresh(ref)

			r.mu.Lock()
			delete(r.inflight, ref)
			r.mu.Unlock()

			r.wake()
		})

		if err != nil {
			// retried once a running fetch returns
			remaining = append(remaining, r.order[idx:]...)
			break
		}

		delete(r.queued, ref)
		r.inflight[ref] = true
	}

	r.order = remaining
}

func (r *Refresher) refresh(ref model.ResourceRef) {
	ctx, span := otel.Tracer(pkgName).Start(r.ctx, "Refresher.refresh")
	defer span.End()

	startTS := time.Now()

	le := r.logger.WithFields(logrus.Fields{"resourceID": ref.ID.String(), "connection": ref.ConnectionName})

	outcome, err := r.fetch(ctx, ref, le)
	if err != nil {
		le.WithError(err).Warn("resource refresh failed")
	}

	metrics.RefreshCounter.WithLabelValues(outcome).Inc()
	metrics.RefreshRunTimeSummary.WithLabelValues(outcome).Observe(time.Since(startTS).Seconds())
}

func (r *Refresher) fetch(ctx context.Context, ref model.ResourceRef, le *logrus.Entry) (string, error) {
	b := &backoff.Backoff{
		Min:    r.opts.MinBackoff,
		Max:    r.opts.MaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error

	for attempt := 1; attempt <= r.opts.MaxAttempts; attempt++ {
		res, err := r.fetcher.Resource(ctx, ref)

		switch {
		case err == nil:
			if err := r.repo.Put(ctx, res); err != nil {
				return "failed", errors.Wrap(ErrRefresh, err.Error())
			}

			le.Debug("resource refreshed")

			return "updated", nil

		case errors.Is(err, model.ErrResourceNotFound):
			if err := r.repo.Remove(ctx, ref.ID); err != nil {
				return "failed", errors.Wrap(ErrRefresh, err.Error())
			}

			le.Debug("resource removed")

			return "removed", nil
		}

		lastErr = err

		if attempt == r.opts.MaxAttempts {
			break
		}

		le.WithError(err).WithField("attempt", attempt).Debug("resource fetch failed, retrying")

		select {
		case <-ctx.Done():
			return "failed", errors.Wrap(ErrRefresh, ctx.Err().Error())
		case <-time.After(b.Duration()):
		}
	}

	return "failed", errors.Wrapf(ErrRefresh, "giving up after %d attempts: %s", r.opts.MaxAttempts, lastErr)
}
