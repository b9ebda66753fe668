// Package cache is the listing cache sitting in front of driver.List
// calls, grounded on github.com/patrickmn/go-cache (already part of
// the teacher's dependency surface for other short-lived caches) with
// a default TTL plus a per-mount override, per spec §9's listing-cache
// open question: resolved in favor of both a global default and an
// optional per-mount override rather than picking one.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/arkstor/gatewayfs/driver"
)

// ListCache caches driver.List results keyed by "mountID:innerPath".
type ListCache struct {
	c          *gocache.Cache
	defaultTTL time.Duration
}

// New builds a ListCache with defaultTTL applied to entries whose
// mount doesn't specify its own override. Expired entries are purged
// every cleanupInterval.
func New(defaultTTL, cleanupInterval time.Duration) *ListCache {
	return &ListCache{
		c:          gocache.New(defaultTTL, cleanupInterval),
		defaultTTL: defaultTTL,
	}
}

func key(mountID, innerPath string) string { return mountID + ":" + innerPath }

// Get returns the cached listing for mountID/innerPath, if present and
// unexpired.
func (lc *ListCache) Get(mountID, innerPath string) ([]driver.Entry, bool) {
	v, ok := lc.c.Get(key(mountID, innerPath))
	if !ok {
		return nil, false
	}
	entries, ok := v.([]driver.Entry)
	return entries, ok
}

// Set stores a listing, using ttl if positive or the cache's default
// otherwise (ttl <= 0 means "use default", mirroring go-cache's own
// DefaultExpiration sentinel).
func (lc *ListCache) Set(mountID, innerPath string, entries []driver.Entry, ttl time.Duration) {
	exp := gocache.DefaultExpiration
	if ttl > 0 {
		exp = ttl
	}
	lc.c.Set(key(mountID, innerPath), entries, exp)
}

// Invalidate drops the cached listing for one path (e.g. after a
// write, delete, or rename lands there).
func (lc *ListCache) Invalidate(mountID, innerPath string) {
	lc.c.Delete(key(mountID, innerPath))
}

// InvalidatePrefix drops every cached listing under a mount whose
// inner path starts with prefix, used when a recursive delete or move
// touches an entire subtree and per-path invalidation would miss
// descendants.
func (lc *ListCache) InvalidatePrefix(mountID, prefix string) {
	for k := range lc.c.Items() {
		if len(k) > len(mountID) && k[:len(mountID)] == mountID && k[len(mountID)] == ':' {
			inner := k[len(mountID)+1:]
			if inner == prefix || (len(inner) > len(prefix) && inner[:len(prefix)] == prefix) {
				lc.c.Delete(k)
			}
		}
	}
}

// InvalidateMount drops every cached listing belonging to mountID,
// used on unmount and reconfigure.
func (lc *ListCache) InvalidateMount(mountID string) {
	lc.InvalidatePrefix(mountID, "")
}

// Flush drops everything.
func (lc *ListCache) Flush() { lc.c.Flush() }
