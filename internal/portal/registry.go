package portal

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/wenwu/saas-platform/statement-portal/internal/config"
	"github.com/wenwu/saas-platform/statement-portal/internal/metrics"
	"github.com/wenwu/saas-platform/statement-portal/internal/storage"
)

// Registry keeps one Portal per visitor id. A visitor idle for longer than
// the session TTL is evicted; its persisted keys stay in the store and are
// restored on the next visit.
type Registry struct {
	ctx     context.Context
	cfg     *config.Config
	store   storage.Store
	metrics *metrics.Metrics
	log     *zap.Logger

	mu      sync.Mutex
	portals *cache.Cache
}

func NewRegistry(ctx context.Context, cfg *config.Config, store storage.Store, m *metrics.Metrics, log *zap.Logger) *Registry {
	ttl := cfg.Session.IdleTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	r := &Registry{
		ctx:     ctx,
		cfg:     cfg,
		store:   store,
		metrics: m,
		log:     log.Named("registry"),
		portals: cache.New(ttl, ttl/4),
	}
	r.portals.OnEvicted(func(id string, v interface{}) {
		if p, ok := v.(*Portal); ok {
			go p.Close()
		}
		if r.metrics != nil {
			r.metrics.Visitors.Dec()
		}
		r.log.Debug("visitor evicted", zap.String("visitor", id))
	})
	return r
}

// NewID returns a fresh visitor id.
func NewID() string {
	return uuid.NewString()
}

// Get returns the portal of visitor id, creating and hydrating it on first
// use. Every access extends its idle lifetime.
func (r *Registry) Get(ctx context.Context, id string) *Portal {
	r.mu.Lock()
	if v, ok := r.portals.Get(id); ok {
		r.portals.SetDefault(id, v)
		r.mu.Unlock()
		return v.(*Portal)
	}
	p := New(r.ctx, id, r.cfg, r.store, r.metrics, r.log)
	r.portals.SetDefault(id, p)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Visitors.Inc()
	}
	p.Start(ctx)
	return p
}

// Len returns the number of live visitors.
func (r *Registry) Len() int {
	return r.portals.ItemCount()
}

// Close stops every visitor's background work.
func (r *Registry) Close() {
	for _, item := range r.portals.Items() {
		if p, ok := item.Object.(*Portal); ok {
			p.Close()
		}
	}
	r.portals.Flush()
}
