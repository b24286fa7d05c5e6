package waveform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"waveform.click/internal/audio"
	"waveform.click/internal/media"
	"waveform.click/internal/mediatime"
)

// Cache errors
var (
	ErrNoAsset   = errors.New("no asset bound to waveform cache")
	ErrNotCached = errors.New("waveform range not cached")
)

// SourceOpener creates the sample reader for an asset
type SourceOpener func(asset media.Asset) (SampleReader, error)

// BandHandler receives one band: the channel, pixel column, peak amplitude
// and the timestamp of the column's left edge
type BandHandler func(channel, x int, amplitude float32, timestamp mediatime.Time)

// Option configures a Cache
type Option func(*Cache)

// WithMaxWorkers bounds the number of concurrent extractions
func WithMaxWorkers(n int) Option {
	return func(c *Cache) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithHook adds a hook called for every ReadTimeRange outcome
func WithHook(hook ExtractionHook) Option {
	return func(c *Cache) {
		if hook != nil {
			c.hooks = append(c.hooks, hook)
		}
	}
}

// WithChannelSelector sets the initial channel selector
func WithChannelSelector(sel media.ChannelSelector) Option {
	return func(c *Cache) {
		c.selector = sel
	}
}

// WithSourceOpener replaces how assets are opened
func WithSourceOpener(opener SourceOpener) Option {
	return func(c *Cache) {
		if opener != nil {
			c.opener = opener
		}
	}
}

// Stats counts cache activity since creation
type Stats struct {
	Entries       int
	Extractions   int64
	Hits          int64
	Coalesced     int64
	Failures      int64
	Cancellations int64
}

type entry struct {
	bands    *Bands
	duration mediatime.Time
	channels int
}

// generation is everything that is discarded together on invalidation
type generation struct {
	id      uint64
	ctx     context.Context
	cancel  context.CancelFunc
	group   singleflight.Group
	entries map[string]*entry // guarded by Cache.mu

	srcMu  sync.Mutex
	src    SampleReader
	srcErr error
}

// Cache memoizes aggregated bands for one asset. At most one extraction runs
// per key; concurrent callers for the same key share its result.
type Cache struct {
	registry   *audio.DecoderRegistry
	opener     SourceOpener
	hooks      []ExtractionHook
	maxWorkers int
	sem        *semaphore.Weighted

	mu       sync.RWMutex
	asset    media.Asset
	selector media.ChannelSelector
	gen      *generation
	genCount uint64
	last     *entry

	extractions   atomic.Int64
	hits          atomic.Int64
	coalesced     atomic.Int64
	failures      atomic.Int64
	cancellations atomic.Int64
}

// NewCache creates an empty cache with no asset bound
func NewCache(registry *audio.DecoderRegistry, opts ...Option) *Cache {
	if registry == nil {
		registry = audio.NewDefaultRegistry()
	}

	c := &Cache{
		registry:   registry,
		maxWorkers: runtime.NumCPU(),
		selector:   media.AllChannels,
	}
	c.opener = func(asset media.Asset) (SampleReader, error) {
		src, err := media.Open(asset, c.registry)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	for _, opt := range opts {
		opt(c)
	}

	c.sem = semaphore.NewWeighted(int64(c.maxWorkers))
	c.gen = c.newGeneration()

	slog.Debug("waveform cache created",
		"max_workers", c.maxWorkers,
		"channels", c.selector.String(),
		"hooks", len(c.hooks))

	return c
}

func (c *Cache) newGeneration() *generation {
	c.genCount++
	ctx, cancel := context.WithCancel(context.Background())
	return &generation{
		id:      c.genCount,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

// resetLocked replaces the generation and returns the old one, which the
// caller cancels after releasing the lock. Caller holds c.mu.
func (c *Cache) resetLocked() *generation {
	old := c.gen
	c.gen = c.newGeneration()
	c.last = nil
	return old
}

// SetAsset binds the cache to asset and discards everything computed for
// the previous one. In-flight extractions are cancelled.
func (c *Cache) SetAsset(asset media.Asset) {
	c.mu.Lock()
	old := c.resetLocked()
	c.asset = asset
	c.mu.Unlock()

	old.cancel()

	if asset != nil {
		slog.Info("waveform cache bound to asset", "asset_id", asset.ID())
	} else {
		slog.Info("waveform cache unbound")
	}
}

// Asset returns the bound asset, nil if none
func (c *Cache) Asset() media.Asset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.asset
}

// SetChannelSelector changes the selector used for future requests.
// Existing entries are kept; requests with the new selector are new keys.
func (c *Cache) SetChannelSelector(sel media.ChannelSelector) {
	c.mu.Lock()
	c.selector = sel
	c.mu.Unlock()
	slog.Debug("waveform cache channel selector changed", "channels", sel.String())
}

// SetMaxChannels selects the first n channels, see media.MaxChannels
func (c *Cache) SetMaxChannels(n int) {
	c.SetChannelSelector(media.MaxChannels(n))
}

// ChannelSelector returns the selector used for new requests
func (c *Cache) ChannelSelector() media.ChannelSelector {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.selector
}

// Invalidate discards all entries and cancels in-flight extractions
func (c *Cache) Invalidate() {
	c.mu.Lock()
	old := c.resetLocked()
	dropped := len(old.entries)
	c.mu.Unlock()

	old.cancel()

	slog.Info("waveform cache invalidated", "generation", old.id, "dropped_entries", dropped)
}

// Close cancels in-flight extractions. The cache stays usable.
func (c *Cache) Close() {
	c.Invalidate()
}

// snapshot returns the current asset, selector, generation and key
func (c *Cache) snapshot(r mediatime.TimeRange, width int) (media.Asset, *generation, Key, *entry) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.asset == nil {
		return nil, c.gen, Key{}, nil
	}
	key := Key{
		AssetID:  c.asset.ID(),
		Range:    r,
		Width:    NormalizeWidth(width),
		Channels: c.selector,
	}
	return c.asset, c.gen, key, c.gen.entries[key.String()]
}

// ReadTimeRange makes sure bands for r at width are cached, extracting them
// if needed. It blocks until the bands are available or ctx is done. A
// caller giving up does not stop an extraction other callers wait on.
func (c *Cache) ReadTimeRange(ctx context.Context, r mediatime.TimeRange, width int) error {
	started := time.Now()
	asset, gen, key, cached := c.snapshot(r, width)
	if asset == nil {
		return ErrNoAsset
	}

	if cached != nil {
		c.hits.Add(1)
		c.remember(gen, cached)
		c.emit(asset, key, StatusHit, started, nil)
		slog.Debug("waveform cache hit", "key", key.String())
		return nil
	}

	ks := key.String()
	leader := false
	ch := gen.group.DoChan(ks, func() (any, error) {
		leader = true
		return c.extract(gen, asset, key, ks)
	})

	select {
	case res := <-ch:
		if !leader {
			c.coalesced.Add(1)
			slog.Debug("joined in-flight extraction", "key", ks, "error", res.Err)
			c.emit(asset, key, StatusCoalesced, started, res.Err)
		}
		return res.Err
	case <-ctx.Done():
		err := fmt.Errorf("%w: %w", media.ErrCancelledExtraction, context.Cause(ctx))
		slog.Debug("caller stopped waiting for extraction", "key", ks, "error", err)
		c.emit(asset, key, StatusCancelled, started, err)
		return err
	}
}

// extract runs once per key and generation inside the singleflight group
func (c *Cache) extract(gen *generation, asset media.Asset, key Key, ks string) (*Bands, error) {
	started := time.Now()

	// A call finishing between snapshot and DoChan may already have stored it
	c.mu.RLock()
	existing := gen.entries[ks]
	c.mu.RUnlock()
	if existing != nil {
		c.hits.Add(1)
		c.emit(asset, key, StatusHit, started, nil)
		return existing.bands, nil
	}

	if err := c.sem.Acquire(gen.ctx, 1); err != nil {
		return nil, c.cancelledExtraction(asset, key, started, err)
	}
	defer c.sem.Release(1)

	slog.Debug("extracting waveform bands", "key", ks, "generation", gen.id)

	src, err := c.source(gen, asset)
	if err != nil {
		return nil, c.failedExtraction(asset, key, started, err)
	}

	c.extractions.Add(1)
	bands, err := Aggregate(gen.ctx, src, key.Range, key.Width, key.Channels)
	if err != nil {
		if gen.ctx.Err() != nil || media.IsCancelled(err) {
			return nil, c.cancelledExtraction(asset, key, started, err)
		}
		return nil, c.failedExtraction(asset, key, started, err)
	}

	e := &entry{bands: bands, duration: src.ActualDuration(), channels: src.Channels()}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return nil, c.cancelledExtraction(asset, key, started, errors.New("cache invalidated"))
	}
	gen.entries[ks] = e
	c.last = e
	c.mu.Unlock()

	slog.Info("waveform bands extracted",
		"asset_id", key.AssetID,
		"range", bands.Range.String(),
		"width", bands.Width,
		"channels", bands.Channels.String(),
		"elapsed", time.Since(started))

	c.emit(asset, key, StatusCompleted, started, nil)
	return bands, nil
}

func (c *Cache) cancelledExtraction(asset media.Asset, key Key, started time.Time, cause error) error {
	err := cause
	if !errors.Is(err, media.ErrCancelledExtraction) {
		err = fmt.Errorf("%w: %w", media.ErrCancelledExtraction, cause)
	}
	c.cancellations.Add(1)
	slog.Debug("extraction abandoned", "key", key.String(), "error", err)
	c.emit(asset, key, StatusCancelled, started, err)
	return err
}

func (c *Cache) failedExtraction(asset media.Asset, key Key, started time.Time, err error) error {
	c.failures.Add(1)
	slog.Error("waveform extraction failed", "key", key.String(), "error", err)
	c.emit(asset, key, StatusFailed, started, err)
	return err
}

// source opens the asset once per generation. Unreadable assets are
// remembered; I/O failures are retried on the next request.
func (c *Cache) source(gen *generation, asset media.Asset) (SampleReader, error) {
	gen.srcMu.Lock()
	defer gen.srcMu.Unlock()

	if gen.src != nil {
		return gen.src, nil
	}
	if gen.srcErr != nil {
		return nil, gen.srcErr
	}

	src, err := c.opener(asset)
	if err != nil {
		if errors.Is(err, media.ErrUnreadableAsset) {
			gen.srcErr = err
		}
		return nil, err
	}
	gen.src = src
	return src, nil
}

// remember records e as the most recently served entry if gen is current
func (c *Cache) remember(gen *generation, e *entry) {
	c.mu.Lock()
	if c.gen == gen {
		c.last = e
	}
	c.mu.Unlock()
}

func (c *Cache) emit(asset media.Asset, key Key, status Status, started time.Time, err error) {
	if len(c.hooks) == 0 {
		return
	}
	event := ExtractionEvent{
		AssetID:   key.AssetID,
		AssetName: asset.Name(),
		Range:     key.Range,
		Width:     key.Width,
		Channels:  key.Channels.Key(),
		Status:    status,
		Elapsed:   time.Since(started),
		Err:       err,
	}
	for _, hook := range c.hooks {
		hook(event)
	}
}

// Lookup returns cached bands for r at width with the current selector
func (c *Cache) Lookup(r mediatime.TimeRange, width int) (*Bands, bool) {
	asset, _, _, e := c.snapshot(r, width)
	if asset == nil || e == nil {
		return nil, false
	}
	return e.bands, true
}

// ReadRange delivers cached bands for the columns in pixels to handler in
// ascending column order, every channel of a column before the next column.
// It never extracts; ErrNotCached is returned when ReadTimeRange has not
// populated the key.
func (c *Cache) ReadRange(r mediatime.TimeRange, width int, pixels PixelRange, handler BandHandler) error {
	asset, gen, key, e := c.snapshot(r, width)
	if asset == nil {
		return ErrNoAsset
	}
	if e == nil {
		return fmt.Errorf("%w: %s", ErrNotCached, key.String())
	}
	c.remember(gen, e)

	bands := e.bands
	span := pixels.clamp(bands.Width)
	for x := span.Start; x < span.End; x++ {
		ts := bands.PixelTime(x)
		for ch := bands.Channels.First; ch <= bands.Channels.Last; ch++ {
			handler(ch, x, bands.peaks[ch-bands.Channels.First][x], ts)
		}
	}
	return nil
}

// Prefetch extracts several ranges concurrently, bounded by the worker pool.
// The first error cancels the remaining requests.
func (c *Cache) Prefetch(ctx context.Context, ranges []mediatime.TimeRange, width int) error {
	slog.Debug("prefetching waveform ranges", "count", len(ranges), "width", width)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.maxWorkers)
	for _, r := range ranges {
		g.Go(func() error {
			return c.ReadTimeRange(gctx, r, width)
		})
	}
	return g.Wait()
}

// TimePerPixel of the most recently served range, zero before any
func (c *Cache) TimePerPixel() mediatime.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return mediatime.Zero
	}
	return c.last.bands.TimePerPixel
}

// ActualAssetDuration as known after the most recent extraction, zero before any
func (c *Cache) ActualAssetDuration() mediatime.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return mediatime.Zero
	}
	return c.last.duration
}

// ActualNumberOfChannels of the asset, zero before any extraction
func (c *Cache) ActualNumberOfChannels() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.last == nil {
		return 0
	}
	return c.last.channels
}

// Stats returns activity counters
func (c *Cache) Stats() Stats {
	c.mu.RLock()
	entries := len(c.gen.entries)
	c.mu.RUnlock()

	return Stats{
		Entries:       entries,
		Extractions:   c.extractions.Load(),
		Hits:          c.hits.Load(),
		Coalesced:     c.coalesced.Load(),
		Failures:      c.failures.Load(),
		Cancellations: c.cancellations.Load(),
	}
}
