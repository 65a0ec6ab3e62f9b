package cache

import (
	"time"

	"github.com/karlseguin/ccache"

	"github.com/edgefleet/otawatch/pkg/ota"
)

const cacheTimeout = time.Second * 15

// LastCache provides access to the last event observed for a given state.
type LastCache interface {
	Last(*ota.Event) *ota.Event
	Record(*ota.Event)
}

type lastCache struct {
	cache *ccache.Cache
}

// NewLastCache creates a general cache suitable for storing and retrieving
// the last observed event for each state.
func NewLastCache() LastCache {
	return &lastCache{
		cache: ccache.New(ccache.Configure().MaxSize(1000).ItemsToPrune(100)),
	}
}

// Last returns the most recent event recorded for the same state as ev.
func (c *lastCache) Last(ev *ota.Event) *ota.Event {
	if ev == nil {
		return nil
	}
	val := c.cache.Get(ev.State.String())
	if val == nil {
		return nil
	}
	if val.Expired() {
		return nil
	}
	last, ok := val.Value().(*ota.Event)
	if !ok {
		return nil
	}

	// Copy to protect against misuse of the cached in-memory event.
	return last.Clone()
}

// Record caches ev as the most recent event observed for its state.
func (c *lastCache) Record(ev *ota.Event) {
	if ev == nil {
		return
	}
	c.cache.Set(ev.State.String(), ev.Clone(), cacheTimeout)
}
