package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kind names a rate-limited operation.
type Kind string

const (
	KindStart Kind = "start"
	KindSend  Kind = "send"
)

// Defaults calibrated for the reference deployment.
const (
	DefaultWindow     = 60 * time.Second
	DefaultStartLimit = 5
	DefaultSendLimit  = 20
)

// Config tunes the limiter. A limit <= 0 disables that kind.
type Config struct {
	Window time.Duration
	Limits map[Kind]int
}

// DefaultConfig returns the reference limits.
func DefaultConfig() Config {
	return Config{
		Window: DefaultWindow,
		Limits: map[Kind]int{
			KindStart: DefaultStartLimit,
			KindSend:  DefaultSendLimit,
		},
	}
}

type bucketKey struct {
	kind   Kind
	client string
}

// window holds accept timestamps in ascending order.
type window struct {
	mu    sync.Mutex
	times []time.Time
	// dead is set once Sweep has unlinked the window from the map.
	dead bool
}

// Limiter is an in-memory sliding-window counter keyed by (kind, client).
// It is process-local: counts reset on restart and are not shared between replicas.
type Limiter struct {
	window time.Duration
	limits map[Kind]int
	now    func() time.Time
	logger *zap.Logger

	mu      sync.RWMutex
	buckets map[bucketKey]*window
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger attaches a logger for denials and sweeps.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger.Named("ratelimit") }
}

// New builds a Limiter from cfg.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	limits := make(map[Kind]int, len(cfg.Limits))
	for k, v := range cfg.Limits {
		limits[k] = v
	}

	l := &Limiter{
		window:  cfg.Window,
		limits:  limits,
		now:     time.Now,
		logger:  zap.NewNop(),
		buckets: make(map[bucketKey]*window),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Allow records an operation of kind for client if the window has room.
// A denied call is not recorded.
func (l *Limiter) Allow(kind Kind, client string) bool {
	limit, ok := l.limits[kind]
	if !ok || limit <= 0 {
		return true
	}

	key := bucketKey{kind: kind, client: client}
	for {
		w := l.bucket(key)
		w.mu.Lock()
		if w.dead {
			w.mu.Unlock()
			continue
		}
		allowed := l.record(w, kind, client, limit)
		w.mu.Unlock()
		return allowed
	}
}

// record applies the sliding-window check. Caller holds w.mu.
func (l *Limiter) record(w *window, kind Kind, client string, limit int) bool {
	now := l.now()
	w.purge(now.Add(-l.window))
	if len(w.times) >= limit {
		l.logger.Debug("rate limit exceeded",
			zap.String("kind", string(kind)),
			zap.String("client", client),
			zap.Int("limit", limit))
		return false
	}
	w.times = append(w.times, now)
	return true
}

// Remaining reports how many more operations client may perform right now.
func (l *Limiter) Remaining(kind Kind, client string) int {
	limit, ok := l.limits[kind]
	if !ok || limit <= 0 {
		return -1
	}

	l.mu.RLock()
	w, ok := l.buckets[bucketKey{kind: kind, client: client}]
	l.mu.RUnlock()
	if !ok {
		return limit
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.purge(l.now().Add(-l.window))
	if n := limit - len(w.times); n > 0 {
		return n
	}
	return 0
}

func (l *Limiter) bucket(key bucketKey) *window {
	l.mu.RLock()
	w, ok := l.buckets[key]
	l.mu.RUnlock()
	if ok {
		return w
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if w, ok = l.buckets[key]; ok {
		return w
	}
	w = &window{}
	l.buckets[key] = w
	return w
}

// purge drops timestamps at or before cutoff. Caller holds w.mu.
func (w *window) purge(cutoff time.Time) {
	i := 0
	for i < len(w.times) && !w.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.times = append(w.times[:0], w.times[i:]...)
	}
}

// Sweep removes buckets whose windows have fully expired and returns how many were dropped.
func (l *Limiter) Sweep() int {
	cutoff := l.now().Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.buckets {
		w.mu.Lock()
		w.purge(cutoff)
		empty := len(w.times) == 0
		if empty {
			w.dead = true
		}
		w.mu.Unlock()
		if empty {
			delete(l.buckets, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked buckets.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}

// Run sweeps idle buckets every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = l.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.logger.Debug("swept idle buckets", zap.Int("removed", n))
			}
		}
	}
}
