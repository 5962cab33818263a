// Package loader resolves image identifiers through the memory, disk and
// network tiers, running at most one resolution chain per identifier.
//
// Lookup order for Load:
//
//  1. decoded tier: delivered without touching the pending map
//  2. compressed tier: decoded and pre-rasterized on the worker pool
//  3. disk store: decoded, promoted to the compressed tier
//  4. network: gated by the download limiter, written through to the
//     compressed tier and the disk store
//
// Every path after the decoded tier registers the caller as a waiter of the
// identifier's pending entry. Only the caller that creates the entry starts a
// chain; the others wait for its flush. Callbacks always run on a dedicated
// completion goroutine, one at a time.
package loader

import (
	"context"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iTrooz/imagecache/internal/cache"
	"github.com/iTrooz/imagecache/internal/config"
	"github.com/iTrooz/imagecache/internal/decode"
	"github.com/iTrooz/imagecache/internal/limiter"
	"github.com/iTrooz/imagecache/internal/metrics"
	"github.com/iTrooz/imagecache/internal/workers"

	"github.com/sirupsen/logrus"
)

// Callback receives the result of a load, nil when it failed
type Callback func(img image.Image)

// CancelFunc withdraws one waiter. Calling it after delivery is a no-op.
type CancelFunc func()

type waiter struct {
	seq      uint64
	callback Callback
}

// pending is one resolution chain and the callers waiting on it
type pending struct {
	waiters []waiter
	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
}

// Loader is the request coordinator
type Loader struct {
	compressed cache.Tier[[]byte]
	decoded    cache.Tier[image.Image]
	disk       cache.GenericCache
	transport  Transport
	decoder    decode.Decoder
	limiter    *limiter.Limiter
	decodePool *workers.Pool
	completion *workers.Pool
	metrics    *metrics.Metrics

	// set while a callback runs on the completion goroutine
	inCallback atomic.Bool

	mu      sync.Mutex
	pending map[string]*pending
	seq     uint64
	closed  bool
}

// Option customises a Loader built by New
type Option func(*Loader)

// WithTransport replaces the HTTP transport
func WithTransport(t Transport) Option {
	return func(l *Loader) { l.transport = t }
}

// WithDecoder replaces the format registry decoder
func WithDecoder(d decode.Decoder) Option {
	return func(l *Loader) { l.decoder = d }
}

// WithDiskStore replaces the file store built from the cache folder
func WithDiskStore(s cache.GenericCache) Option {
	return func(l *Loader) { l.disk = s }
}

// WithMetrics records into m instead of unregistered instruments
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Loader) { l.metrics = m }
}

// New creates a loader from the cache and loader sections of cfg
func New(cfg *config.Config, opts ...Option) (*Loader, error) {
	compressed, err := cache.NewMemory[[]byte]("compressed", cfg.Cache.CompressedEntries)
	if err != nil {
		return nil, err
	}
	decoded, err := cache.NewMemory[image.Image]("decoded", cfg.Cache.DecodedEntries)
	if err != nil {
		return nil, err
	}

	l := &Loader{
		compressed: compressed,
		decoded:    decoded,
		decoder:    decode.Registry{},
		limiter:    limiter.New(cfg.Loader.MaxConcurrentDownloads),
		pending:    make(map[string]*pending),
	}
	for _, opt := range opts {
		opt(l)
	}

	if l.disk == nil {
		ttl, err := cfg.GetDiskTTL()
		if err != nil {
			return nil, fmt.Errorf("invalid disk TTL: %w", err)
		}
		l.disk = cache.NewDisk(cfg.Cache.Folder, ttl)
	}
	if err := l.disk.Init(); err != nil {
		// The disk tier is best-effort, loads still work without it
		logrus.Warnf("Failed to initialise disk store: %v", err)
	}

	if l.transport == nil {
		timeout, err := cfg.GetFetchTimeout()
		if err != nil {
			return nil, fmt.Errorf("invalid fetch timeout: %w", err)
		}
		l.transport = NewHTTPTransport(timeout)
	}
	if l.metrics == nil {
		l.metrics = metrics.New(nil)
	}

	l.decodePool = workers.NewPool(cfg.Loader.DecodeWorkers)
	l.completion = workers.NewPool(1)
	return l, nil
}

// Load resolves id and calls onResult exactly once unless the returned
// CancelFunc runs first. Load never blocks on I/O.
func (l *Loader) Load(id string, onResult Callback) CancelFunc {
	l.metrics.Requests.Inc()

	if img, ok := l.decoded.Get(id); ok {
		l.metrics.Hits.WithLabelValues(metrics.TierDecoded).Inc()
		l.deliver(onResult, img)
		return func() {}
	}
	payload, warm := l.compressed.Get(id)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		go onResult(nil)
		return func() {}
	}
	p, running := l.pending[id]
	if !running {
		ctx, cancel := context.WithCancel(context.Background())
		p = &pending{ctx: ctx, cancel: cancel, started: time.Now()}
		l.pending[id] = p
		l.metrics.Pending.Inc()
	}
	l.seq++
	seq := l.seq
	p.waiters = append(p.waiters, waiter{seq: seq, callback: onResult})
	waiting := len(p.waiters)
	l.mu.Unlock()

	switch {
	case running:
		logrus.WithField("id", id).Debugf("Joined pending load (%d waiters)", waiting)
	case warm:
		l.metrics.Hits.WithLabelValues(metrics.TierCompressed).Inc()
		l.decodeAndFlush(id, p, payload, false)
	default:
		go l.resolve(id, p)
	}

	return func() { l.cancel(id, p, seq) }
}

// cancel removes one waiter. When it was the last one the entry goes away
// and the chain's context is cancelled, aborting a fetch in flight.
func (l *Loader) cancel(id string, p *pending, seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending[id] != p {
		return
	}
	for i, w := range p.waiters {
		if w.seq == seq {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			break
		}
	}
	if len(p.waiters) == 0 {
		delete(l.pending, id)
		l.metrics.Pending.Dec()
		p.cancel()
		logrus.WithField("id", id).Debugf("Last waiter cancelled, abandoning load")
	}
}

// flush hands img to every waiter of p and retires the entry
func (l *Loader) flush(id string, p *pending, img image.Image) {
	l.mu.Lock()
	if l.pending[id] == p {
		delete(l.pending, id)
		l.metrics.Pending.Dec()
	}
	waiters := p.waiters
	p.waiters = nil
	l.mu.Unlock()

	p.cancel()
	logrus.WithFields(logrus.Fields{
		"id":      id,
		"waiters": len(waiters),
		"ok":      img != nil,
	}).Debugf("Resolved in %s", time.Since(p.started))

	for _, w := range waiters {
		l.deliver(w.callback, img)
	}
}

func (l *Loader) deliver(cb Callback, img image.Image) {
	task := func() {
		l.inCallback.Store(true)
		defer l.inCallback.Store(false)
		cb(img)
	}
	if !l.completion.Submit(task) {
		go cb(img)
	}
}

// resolve runs the disk and network steps of a chain
func (l *Loader) resolve(id string, p *pending) {
	data, err := l.disk.Get(id)
	if err != nil {
		l.report(persistenceError(id, err))
	}
	if data != nil {
		l.metrics.Hits.WithLabelValues(metrics.TierDisk).Inc()
		l.decodeAndFlush(id, p, data, true)
		return
	}
	l.fetch(id, p)
}

// fetch downloads id under a limiter permit. The permit is released as soon
// as the exchange completes so decoding never holds a download slot.
func (l *Loader) fetch(id string, p *pending) {
	if err := ValidateIdentifier(id); err != nil {
		l.report(err)
		l.flush(id, p, nil)
		return
	}

	release, err := l.limiter.Acquire(p.ctx)
	if err != nil {
		// Every waiter left while queued for a permit
		l.flush(id, p, nil)
		return
	}
	l.metrics.Fetches.Inc()
	data, err := l.transport.Fetch(p.ctx, id)
	release()

	if err != nil && p.ctx.Err() != nil {
		logrus.WithField("id", id).Debugf("Fetch aborted: %v", err)
		l.flush(id, p, nil)
		return
	}
	if err != nil {
		l.report(transportError(id, err))
		l.flush(id, p, nil)
		return
	}
	if len(data) == 0 {
		l.report(transportError(id, fmt.Errorf("empty payload")))
		l.flush(id, p, nil)
		return
	}

	l.compressed.Set(id, data)
	if err := l.disk.Set(id, data); err != nil {
		l.report(persistenceError(id, err))
	}
	l.decodeAndFlush(id, p, data, false)
}

// decodeAndFlush decodes on the worker pool, fills the decoded tier and
// flushes. promote also stores data in the compressed tier on success.
func (l *Loader) decodeAndFlush(id string, p *pending, data []byte, promote bool) {
	task := func() {
		img, err := l.decoder.Decode(data)
		if err == nil && img == nil {
			err = fmt.Errorf("decoder returned no image")
		}
		if err != nil {
			l.report(decodeError(id, err))
			l.flush(id, p, nil)
			return
		}

		if promote {
			l.compressed.Set(id, data)
		}
		img = decode.Prerasterize(img)
		l.decoded.Set(id, img)
		l.flush(id, p, img)
	}

	if !l.decodePool.Submit(task) {
		l.flush(id, p, nil)
	}
}

// Get is Load with a blocking, context-aware result. It returns ErrNoResult
// when the load resolved without an image.
func (l *Loader) Get(ctx context.Context, id string) (image.Image, error) {
	results := make(chan image.Image, 1)
	cancel := l.Load(id, func(img image.Image) { results <- img })

	select {
	case img := <-results:
		if img == nil {
			return nil, ErrNoResult
		}
		return img, nil
	case <-ctx.Done():
		cancel()
		return nil, ctx.Err()
	}
}

// SetMaxConcurrentDownloads resizes the download gate. Permits already held
// are unaffected.
func (l *Loader) SetMaxConcurrentDownloads(n int) {
	l.limiter.Resize(n)
}

// MaxConcurrentDownloads returns the current download gate size
func (l *Loader) MaxConcurrentDownloads() int {
	return l.limiter.Size()
}

// ClearDecoded empties the decoded tier. Decoded images are the most
// expensive entries and are rebuilt from the compressed tier.
func (l *Loader) ClearDecoded() {
	l.decoded.Clear()
	l.metrics.Purges.WithLabelValues("decoded").Inc()
}

// ClearAllCaches empties both memory tiers. The disk store is kept.
func (l *Loader) ClearAllCaches() {
	l.compressed.Clear()
	l.decoded.Clear()
	l.metrics.Purges.WithLabelValues("all").Inc()
	logrus.Infof("Cleared memory caches")
}

// Stats is a point-in-time view of the loader
type Stats struct {
	CompressedEntries      int `json:"compressed_entries"`
	DecodedEntries         int `json:"decoded_entries"`
	PendingIdentifiers     int `json:"pending_identifiers"`
	MaxConcurrentDownloads int `json:"max_concurrent_downloads"`
}

func (l *Loader) Stats() Stats {
	l.mu.Lock()
	pendingCount := len(l.pending)
	l.mu.Unlock()

	return Stats{
		CompressedEntries:      l.compressed.Len(),
		DecodedEntries:         l.decoded.Len(),
		PendingIdentifiers:     pendingCount,
		MaxConcurrentDownloads: l.limiter.Size(),
	}
}

// Close abandons pending chains and stops the worker goroutines. Waiters of
// abandoned chains receive nil. Close may be called from a callback; the
// completion goroutine then finishes its queue after Close returns.
func (l *Loader) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, p := range l.pending {
		p.cancel()
	}
	l.mu.Unlock()

	l.decodePool.Close()
	if l.inCallback.Load() {
		// Waiting here would block on the goroutine running this callback
		go l.completion.Close()
		return
	}
	l.completion.Close()
}
