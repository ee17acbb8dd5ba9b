package settings

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Source is the raw read-only key/value lookup, typically backed by the
// application's settings table.
type Source interface {
	Get(ctx context.Context, key string) (string, error)
}

type cacheEntry struct {
	value     string
	ok        bool
	fetchedAt time.Time
}

// Provider caches Source reads with a bounded staleness TTL. Workers are
// expected to tolerate values up to TTL old. Constructor-injected, one
// instance per process.
type Provider struct {
	src   Source
	ttl   time.Duration
	now   func() time.Time
	log   *zap.Logger
	mu    sync.RWMutex
	cache map[string]cacheEntry
}

func NewProvider(src Source, ttl time.Duration, log *zap.Logger) *Provider {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Provider{
		src:   src,
		ttl:   ttl,
		now:   time.Now,
		log:   log.With(zap.String("component", "settings")),
		cache: make(map[string]cacheEntry),
	}
}

// WithClock replaces the time source, for tests.
func (p *Provider) WithClock(now func() time.Time) *Provider {
	p.now = now
	return p
}

// Get returns the cached value while fresh, otherwise re-reads the
// source. A failed re-read falls back to def rather than surfacing an
// error: settings are advisory for the workers.
func (p *Provider) Get(ctx context.Context, key, def string) string {
	p.mu.RLock()
	e, hit := p.cache[key]
	p.mu.RUnlock()

	if hit && p.now().Sub(e.fetchedAt) < p.ttl {
		if !e.ok {
			return def
		}
		return e.value
	}

	v, err := p.src.Get(ctx, key)
	if err != nil {
		p.log.Warn("settings read failed", zap.String("key", key), zap.Error(err))
		p.store(key, cacheEntry{ok: false, fetchedAt: p.now()})
		return def
	}
	p.store(key, cacheEntry{value: v, ok: true, fetchedAt: p.now()})
	return v
}

func (p *Provider) GetBool(ctx context.Context, key string, def bool) bool {
	v := p.Get(ctx, key, strconv.FormatBool(def))
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func (p *Provider) GetInt(ctx context.Context, key string, def int) int {
	v := p.Get(ctx, key, strconv.Itoa(def))
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func (p *Provider) GetDuration(ctx context.Context, key string, def time.Duration) time.Duration {
	v := p.Get(ctx, key, def.String())
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func (p *Provider) store(key string, e cacheEntry) {
	p.mu.Lock()
	p.cache[key] = e
	p.mu.Unlock()
}
