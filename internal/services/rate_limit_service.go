package services

import (
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/calder-ross/bastion/internal/config"
	"github.com/calder-ross/bastion/internal/models"
)

const rateLimitShardCount = 32

// rateLimitEntry tracks one key's sliding window. The window resets lazily:
// when the first-attempt timestamp has aged past the window at check time.
type rateLimitEntry struct {
	count        int
	windowStart  time.Time
	blockedUntil time.Time
}

type rateLimitShard struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

// RateLimitService is a sliding-window throttle keyed by an arbitrary
// identifier (IP address or account). Keys are spread over shards so
// unrelated traffic never contends on a single lock.
type RateLimitService struct {
	shards [rateLimitShardCount]*rateLimitShard
	config config.RateLimitConfig
	logger *slog.Logger
	now    func() time.Time
}

// NewRateLimitService creates a new RateLimitService
func NewRateLimitService(cfg config.RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return NewRateLimitServiceWithClock(cfg, logger, time.Now)
}

// NewRateLimitServiceWithClock creates a RateLimitService with an injected
// clock, for deterministic tests.
func NewRateLimitServiceWithClock(cfg config.RateLimitConfig, logger *slog.Logger, clock func() time.Time) *RateLimitService {
	s := &RateLimitService{
		config: cfg,
		logger: logger,
		now:    clock,
	}
	for i := range s.shards {
		s.shards[i] = &rateLimitShard{entries: make(map[string]*rateLimitEntry)}
	}
	return s
}

// CheckAndRecord counts one attempt against the key. Returns a
// *models.RateLimitError carrying the retry-after duration once the key
// exceeds its budget or is inside a block window.
func (s *RateLimitService) CheckAndRecord(key, action string) error {
	now := s.now()
	shard := s.shardFor(key)

	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok {
		shard.entries[key] = &rateLimitEntry{count: 1, windowStart: now}
		return nil
	}

	// Inside a block window: fail fast with the remaining cool-down
	if entry.blockedUntil.After(now) {
		return &models.RateLimitError{RetryAfter: entry.blockedUntil.Sub(now)}
	}

	// Lazy window rollover
	if now.Sub(entry.windowStart) >= s.config.Window {
		entry.count = 1
		entry.windowStart = now
		entry.blockedUntil = time.Time{}
		return nil
	}

	entry.count++
	if entry.count > s.config.MaxAttemptsPerWindow {
		entry.blockedUntil = now.Add(s.config.BlockDuration)
		s.logger.Warn("rate limit exceeded",
			slog.String("key", key),
			slog.String("action", action),
			slog.Int("attempts", entry.count))
		return &models.RateLimitError{RetryAfter: s.config.BlockDuration}
	}

	return nil
}

// Sweep evicts entries whose window and block have both aged out. Correctness
// never depends on this running; it only bounds memory.
func (s *RateLimitService) Sweep() int {
	now := s.now()
	cutoff := now.Add(-s.config.Window)
	removed := 0

	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.windowStart.Before(cutoff) && !entry.blockedUntil.After(now) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}

	if removed > 0 {
		s.logger.Info("rate limit entries swept", slog.Int("removed", removed))
	}
	return removed
}

func (s *RateLimitService) shardFor(key string) *rateLimitShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return s.shards[h.Sum32()%rateLimitShardCount]
}
