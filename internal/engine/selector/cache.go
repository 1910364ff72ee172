package selector

import (
	"sync"
	"time"

	"option_bot/pkg/clock"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// ttlCache — кеш в памяти процесса. Параллельные промахи могут посчитать
// значение дважды, это допустимо: данные всё равно устаревают.
type ttlCache[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	clock clock.Clock
	items map[string]entry[V]
}

func newTTLCache[V any](ttl time.Duration, c clock.Clock) *ttlCache[V] {
	return &ttlCache[V]{ttl: ttl, clock: c, items: make(map[string]entry[V])}
}

func (c *ttlCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || !c.clock.Now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

func (c *ttlCache[V]) Set(key string, v V) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.items[key] = entry[V]{value: v, expires: c.clock.Now().Add(c.ttl)}
	c.mu.Unlock()
}

func (c *ttlCache[V]) Purge() {
	c.mu.Lock()
	c.items = make(map[string]entry[V])
	c.mu.Unlock()
}
