// Package catalog serves the master-entity list through a time-boxed cache.
// The list changes rarely, so a fresh pull is only made when the cached
// envelope has aged past an hour or the caller forces one.
package catalog

import (
	"context"
	"time"

	"weektally/internal/log"
	"weektally/internal/model"
	"weektally/internal/store/durable"
)

const cacheTTLMinutes = 60

// Provider is the reference-entity collaborator.
type Provider interface {
	FetchMasterEntities(ctx context.Context) ([]model.MasterEntity, error)
}

// Static is a fixed-list Provider, used when no remote sheet is configured
// and in tests.
type Static []model.MasterEntity

// FetchMasterEntities returns the fixed list.
func (s Static) FetchMasterEntities(context.Context) ([]model.MasterEntity, error) {
	return []model.MasterEntity(s), nil
}

// Cache fronts a Provider with a durable cache envelope.
type Cache struct {
	provider Provider
	store    *durable.Store
	now      func() time.Time
}

// New builds a Cache. now may be nil (time.Now).
func New(provider Provider, store *durable.Store, now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{provider: provider, store: store, now: now}
}

// Get returns the master-entity list. A valid cache envelope short-circuits
// the provider unless forceRefresh is set. Provider failure propagates and
// leaves the cache untouched: a stale-but-valid list is never replaced with
// a partial or empty one.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) ([]model.MasterEntity, error) {
	now := c.now()

	if !forceRefresh {
		env, ok, err := c.store.LoadEntityCache(now)
		if err != nil {
			log.Error("entity cache read failed", err)
		} else if ok {
			log.Debug("entity cache hit", "count", len(env.Payload))
			return env.Payload, nil
		}
	}

	entities, err := c.provider.FetchMasterEntities(ctx)
	if err != nil {
		return nil, err
	}

	env := model.CacheEnvelope[[]model.MasterEntity]{
		Payload:    entities,
		CachedAt:   now,
		TTLMinutes: cacheTTLMinutes,
	}
	if err := c.store.SaveEntityCache(env); err != nil {
		// The fresh list is still good; only the cache write failed.
		log.Error("entity cache write failed", err)
	}

	log.Info("master entities refreshed", "count", len(entities))
	return entities, nil
}

// Invalidate drops the cached list so the next Get pulls fresh.
func (c *Cache) Invalidate() error {
	return c.store.ClearEntityCache()
}
