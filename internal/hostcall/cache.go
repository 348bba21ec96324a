package hostcall

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rnts08/eth-riskradar/internal/metrics"
)

// maxEntries bounds each TTL store; the least recently used key goes first.
const maxEntries = 4096

// Cache memoizes successful results for a fixed TTL. Failures are never stored.
type Cache struct {
	mu       sync.Mutex
	stores   map[time.Duration]*expirable.LRU[string, any]
	inflight map[string]*flight
	metrics  *metrics.RadarMetrics
}

// flight serializes computes of one key. It lives only while callers hold it.
type flight struct {
	mu   sync.Mutex
	refs int
}

func NewCache(m *metrics.RadarMetrics) *Cache {
	return &Cache{
		stores:   make(map[time.Duration]*expirable.LRU[string, any]),
		inflight: make(map[string]*flight),
		metrics:  m,
	}
}

// Key derives a cache key from a function name, its positional arguments and
// its keyword arguments. Keyword order does not matter.
func Key(fn string, args []any, kwargs map[string]any) string {
	var b strings.Builder
	b.WriteString(fn)
	for _, a := range args {
		fmt.Fprintf(&b, "|%v", a)
	}
	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, kwargs[k])
	}
	return b.String()
}

func (c *Cache) store(ttl time.Duration) *expirable.LRU[string, any] {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.stores[ttl]
	if !ok {
		s = expirable.NewLRU[string, any](maxEntries, nil, ttl)
		c.stores[ttl] = s
	}
	return s
}

func (c *Cache) acquire(key string) *flight {
	c.mu.Lock()
	f, ok := c.inflight[key]
	if !ok {
		f = &flight{}
		c.inflight[key] = f
	}
	f.refs++
	c.mu.Unlock()

	f.mu.Lock()
	return f
}

func (c *Cache) release(key string, f *flight) {
	f.mu.Unlock()
	c.mu.Lock()
	f.refs--
	if f.refs == 0 {
		delete(c.inflight, key)
	}
	c.mu.Unlock()
}

// Len reports stored values plus keys with a compute in progress.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.inflight)
	for _, s := range c.stores {
		n += s.Len()
	}
	return n
}

// Memoize returns the cached value for key if still fresh, otherwise runs
// compute and stores its result for ttl. Concurrent callers of one key
// serialize so compute runs once per expiry.
func Memoize[T any](c *Cache, key string, ttl time.Duration, compute func() (T, error)) (T, error) {
	s := c.store(ttl)
	f := c.acquire(key)
	defer c.release(key, f)

	if cached, ok := s.Get(key); ok {
		if v, ok := cached.(T); ok {
			if c.metrics != nil {
				c.metrics.CacheHits.Inc()
			}
			return v, nil
		}
	}
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}

	v, err := compute()
	if err != nil {
		var zero T
		return zero, err
	}
	s.Add(key, v)
	return v, nil
}
