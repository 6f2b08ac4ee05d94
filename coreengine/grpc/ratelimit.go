package grpc

import (
	"context"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// bucketsPerWindow is how finely a window is sliced.
const bucketsPerWindow = 10

// =============================================================================
// Sliding Window
// =============================================================================

// slidingWindow counts events in the trailing window using fixed sub-buckets.
// Not safe for concurrent use; RateLimiter serializes access.
type slidingWindow struct {
	bucketSize time.Duration
	buckets    map[int64]int
}

func newSlidingWindow(window time.Duration) *slidingWindow {
	size := window / bucketsPerWindow
	if size <= 0 {
		size = 1
	}
	return &slidingWindow{bucketSize: size, buckets: make(map[int64]int)}
}

func (w *slidingWindow) bucket(now time.Time) int64 {
	return now.UnixNano() / int64(w.bucketSize)
}

// prune drops buckets that have slid out of the window and returns the count
// of what remains.
func (w *slidingWindow) prune(now time.Time) int {
	oldest := w.bucket(now) - bucketsPerWindow + 1
	count := 0
	for b, n := range w.buckets {
		if b < oldest {
			delete(w.buckets, b)
			continue
		}
		count += n
	}
	return count
}

func (w *slidingWindow) record(now time.Time) {
	w.buckets[w.bucket(now)]++
}

// retryAfter is how long until the oldest bucket leaves the window.
func (w *slidingWindow) retryAfter(now time.Time) time.Duration {
	oldest := int64(-1)
	for b := range w.buckets {
		if oldest < 0 || b < oldest {
			oldest = b
		}
	}
	if oldest < 0 {
		return 0
	}
	expires := time.Unix(0, (oldest+bucketsPerWindow)*int64(w.bucketSize))
	if d := expires.Sub(now); d > 0 {
		return d
	}
	return 0
}

// =============================================================================
// Rate Limiter
// =============================================================================

// RateLimiter admits at most limit calls per key in any trailing window.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*slidingWindow
	lastSweep time.Time
}

// NewRateLimiter creates a limiter. A limit below 1 admits everything.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:   limit,
		window:  window,
		now:     time.Now,
		windows: make(map[string]*slidingWindow),
	}
}

// Allow records a call for key if it is within the limit. When it is not,
// Allow returns false and how long the caller should wait.
func (r *RateLimiter) Allow(key string) (bool, time.Duration) {
	if r.limit < 1 {
		return true, 0
	}
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastSweep) >= r.window {
		r.sweepLocked(now)
	}

	w, ok := r.windows[key]
	if !ok {
		w = newSlidingWindow(r.window)
		r.windows[key] = w
	}
	if w.prune(now) >= r.limit {
		return false, w.retryAfter(now)
	}
	w.record(now)
	return true, 0
}

// Keys returns the number of keys with a live window.
func (r *RateLimiter) Keys() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

// sweepLocked forgets keys with no calls left in the window.
func (r *RateLimiter) sweepLocked(now time.Time) {
	for key, w := range r.windows {
		if w.prune(now) == 0 {
			delete(r.windows, key)
		}
	}
	r.lastSweep = now
}

// =============================================================================
// RATE LIMIT INTERCEPTOR
// =============================================================================

// MutatingMethods are the KernelService calls that change process state.
var MutatingMethods = []string{
	fullMethod("KillProcess"),
	fullMethod("ChangeLevel"),
	fullMethod("SetWeight"),
	fullMethod("SetWeightAll"),
}

// RateLimitInterceptor rejects calls to methods over the limiter's budget
// with ResourceExhausted. Calls are keyed by peer host and method; methods
// not listed pass through.
func RateLimitInterceptor(limiter *RateLimiter, methods ...string) grpc.UnaryServerInterceptor {
	limited := make(map[string]bool, len(methods))
	for _, m := range methods {
		limited[m] = true
	}

	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if !limited[info.FullMethod] {
			return handler(ctx, req)
		}
		if ok, retry := limiter.Allow(peerHost(ctx) + " " + info.FullMethod); !ok {
			return nil, status.Errorf(codes.ResourceExhausted,
				"rate limit exceeded for %s, retry in %s", info.FullMethod, retry.Round(time.Millisecond))
		}
		return handler(ctx, req)
	}
}

// peerHost is the caller's address without the port, so that every
// connection from one host shares a budget.
func peerHost(ctx context.Context) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(p.Addr.String())
	if err != nil {
		return p.Addr.String()
	}
	return host
}
