package sstp

import (
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/time/rate"
)

// senderIdleTTL is how long a sender's limiter survives without traffic.
const senderIdleTTL = 10 * time.Minute

// connLimiter caps concurrent connections. A nil limiter or max <= 0 admits all.
type connLimiter struct {
	max    int
	mu     sync.Mutex
	active int
}

func newConnLimiter(max int) *connLimiter {
	return &connLimiter{max: max}
}

func (l *connLimiter) Acquire() bool {
	if l == nil || l.max <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active >= l.max {
		return false
	}
	l.active++
	return true
}

func (l *connLimiter) Release() {
	if l == nil || l.max <= 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active > 0 {
		l.active--
	}
}

// senderLimiter keeps one token bucket per Sender header. Buckets of senders
// that stay quiet for senderIdleTTL are evicted.
type senderLimiter struct {
	limit rate.Limit
	burst int

	mu    sync.Mutex
	cache *ttlcache.Cache[string, *rate.Limiter]
}

// newSenderLimiter returns nil when r <= 0, which admits everything.
func newSenderLimiter(r float64, burst int) *senderLimiter {
	if r <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	c := ttlcache.New[string, *rate.Limiter](
		ttlcache.WithTTL[string, *rate.Limiter](senderIdleTTL),
	)
	go c.Start()
	return &senderLimiter{limit: rate.Limit(r), burst: burst, cache: c}
}

// Allow reports whether sender may make a request now.
func (l *senderLimiter) Allow(sender string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	var lim *rate.Limiter
	if item := l.cache.Get(sender); item != nil {
		lim = item.Value()
	} else {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.cache.Set(sender, lim, ttlcache.DefaultTTL)
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (l *senderLimiter) Len() int {
	if l == nil {
		return 0
	}
	return l.cache.Len()
}

func (l *senderLimiter) Stop() {
	if l != nil {
		l.cache.Stop()
	}
}
