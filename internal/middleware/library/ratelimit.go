package library

import (
	"container/list"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/forattini-dev/raffel/internal/envelope"
	"github.com/forattini-dev/raffel/internal/errs"
	"github.com/forattini-dev/raffel/internal/middleware"
)

// rateLimitDetails fills in the Details spec.md §4.6 requires on a
// RESOURCE_EXHAUSTED error, which the HTTP adapter translates into
// X-RateLimit-*/Retry-After response headers.
func rateLimitDetails(limit int, remaining int, resetAt time.Time, retryAfter time.Duration) map[string]any {
	if remaining < 0 {
		remaining = 0
	}
	return map[string]any{
		"limit":      limit,
		"remaining":  remaining,
		"resetAt":    resetAt.UTC().Format(time.RFC3339),
		"retryAfter": retryAfter.Seconds(),
	}
}

// RateLimitAlgorithm selects between the two strategies spec.md §4.6 names.
type RateLimitAlgorithm string

const (
	TokenBucket RateLimitAlgorithm = "token-bucket"
	FixedWindow RateLimitAlgorithm = "fixed-window"
)

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	Algorithm RateLimitAlgorithm
	// Rate is sustained requests per second (token-bucket) or requests per
	// Window (fixed-window).
	Rate  float64
	Burst int
	// Window is the fixed-window's bucket length; ignored for token-bucket.
	Window time.Duration
	// KeyFunc extracts the rate-limit key (e.g. ctx.Auth.Principal or a
	// caller IP stashed in env.Metadata); defaults to a single global key.
	KeyFunc func(env *envelope.Envelope, ctx *envelope.Context) string
	// MaxUniqueKeys bounds the number of distinct keys tracked at once; the
	// least-recently-used key is evicted once the bound is reached, per
	// spec.md §4.6 "maxUniqueKeys eviction".
	MaxUniqueKeys int
}

func (o RateLimitOptions) normalized() RateLimitOptions {
	if o.Algorithm == "" {
		o.Algorithm = TokenBucket
	}
	if o.Rate <= 0 {
		o.Rate = 10
	}
	if o.Burst <= 0 {
		o.Burst = int(o.Rate)
	}
	if o.Window <= 0 {
		o.Window = time.Second
	}
	if o.KeyFunc == nil {
		o.KeyFunc = func(*envelope.Envelope, *envelope.Context) string { return "*" }
	}
	if o.MaxUniqueKeys <= 0 {
		o.MaxUniqueKeys = 10_000
	}
	return o
}

// RateLimit enforces per-key request throughput using either a
// golang.org/x/time/rate token bucket (grounded on the mini-rpc reference
// server's use of the same package for request throttling,
// other_examples/2027f93f_BX-D-mini-RPC__server-server.go.go) or a fixed
// window counter, evicting the least-recently-used key once MaxUniqueKeys is
// exceeded.
func RateLimit(opts RateLimitOptions) middleware.Interceptor {
	o := opts.normalized()
	lru := newLRUKeyset(o.MaxUniqueKeys)

	var mu sync.Mutex
	buckets := make(map[string]*rate.Limiter)
	windows := make(map[string]*fixedWindowCounter)

	return func(env *envelope.Envelope, ctx *envelope.Context, next middleware.Next) (any, error) {
		key := o.KeyFunc(env, ctx)

		mu.Lock()
		evicted := lru.touch(key)
		if evicted != "" {
			delete(buckets, evicted)
			delete(windows, evicted)
		}

		var allowed bool
		var details map[string]any
		switch o.Algorithm {
		case FixedWindow:
			w, ok := windows[key]
			if !ok {
				w = &fixedWindowCounter{windowStart: time.Now()}
				windows[key] = w
			}
			allowed = w.allow(o.Window, int(o.Rate))
			resetAt := w.windowStart.Add(o.Window)
			details = rateLimitDetails(int(o.Rate), int(o.Rate)-w.count, resetAt, time.Until(resetAt))
		default:
			l, ok := buckets[key]
			if !ok {
				l = rate.NewLimiter(rate.Limit(o.Rate), o.Burst)
				buckets[key] = l
			}
			allowed = l.Allow()
			retryAfter := time.Duration(float64(time.Second) / o.Rate)
			details = rateLimitDetails(o.Burst, int(l.Tokens()), time.Now().Add(retryAfter), retryAfter)
		}
		mu.Unlock()

		if !allowed {
			return nil, errs.New(errs.ResourceExhausted, "rate limit exceeded").WithDetails(details)
		}
		return next()
	}
}

type fixedWindowCounter struct {
	windowStart time.Time
	count       int
}

func (w *fixedWindowCounter) allow(window time.Duration, limit int) bool {
	now := time.Now()
	if now.Sub(w.windowStart) >= window {
		w.windowStart = now
		w.count = 0
	}
	if w.count >= limit {
		return false
	}
	w.count++
	return true
}

// lruKeyset tracks at most capacity keys in least-recently-used order.
type lruKeyset struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newLRUKeyset(capacity int) *lruKeyset {
	return &lruKeyset{capacity: capacity, order: list.New(), index: make(map[string]*list.Element)}
}

// touch records key as most-recently-used and returns the evicted key, if
// adding key pushed the set past capacity.
func (l *lruKeyset) touch(key string) string {
	if el, ok := l.index[key]; ok {
		l.order.MoveToFront(el)
		return ""
	}
	l.index[key] = l.order.PushFront(key)
	if l.order.Len() <= l.capacity {
		return ""
	}
	oldest := l.order.Back()
	l.order.Remove(oldest)
	evicted := oldest.Value.(string)
	delete(l.index, evicted)
	return evicted
}
