package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var errTenantRequired = errors.New("tenantID is required")

// New creates a new cache based on configuration.
// For Community tier: returns LRU cache.
// For Pro tier with two-phase: returns TwoPhaseCache wrapping LRU + Redis.
// For Pro tier without two-phase: returns Redis cache.
// "none" disables caching; every lookup misses.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory":
		return NewLRUCache(cfg.LocalMaxSize), nil

	case "redis":
		if cfg.EnableTwoPhase {
			return NewTwoPhaseCache(cfg)
		}
		return NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	case "none", "":
		return NoopCache{}, nil

	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

func makeKey(tenantID, key string) string {
	return tenantID + ":" + key
}

func scoreKey(fingerprint string) string {
	return "score:" + fingerprint
}

// Scored profiles are stored as msgpack; they sit on the hot path of every
// cache hit and are never read by anything but Kestrel.
func encodeScore(score *domain.ScoredProfile) ([]byte, error) {
	if score == nil {
		return nil, errors.New("score is required")
	}
	data, err := msgpack.Marshal(score)
	if err != nil {
		return nil, fmt.Errorf("failed to encode score: %w", err)
	}
	return data, nil
}

func decodeScore(data []byte) (*domain.ScoredProfile, error) {
	var s domain.ScoredProfile
	if err := msgpack.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode score: %w", err)
	}
	if s.Flags == nil {
		s.Flags = []domain.RiskFlag{}
	}
	return &s, nil
}

// TwoPhaseCache implements the two-phase caching strategy.
// L1: Local LRU cache for fast reads
// L2: Redis for distributed caching and persistence
type TwoPhaseCache struct {
	local  domain.Cache
	remote domain.Cache
	l1TTL  time.Duration
}

// NewTwoPhaseCache creates a two-phase cache with LRU + Redis.
func NewTwoPhaseCache(cfg domain.CacheConfig) (*TwoPhaseCache, error) {
	remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create redis cache: %w", err)
	}
	return newTwoPhase(NewLRUCache(cfg.LocalMaxSize), remote, cfg.LocalTTL), nil
}

func newTwoPhase(local, remote domain.Cache, l1TTL time.Duration) *TwoPhaseCache {
	if l1TTL <= 0 {
		l1TTL = 5 * time.Minute
	}
	return &TwoPhaseCache{
		local:  local,
		remote: remote,
		l1TTL:  l1TTL,
	}
}

// localTTL caps the L1 lifetime at the configured L1 TTL.
func (c *TwoPhaseCache) localTTL(ttl time.Duration) time.Duration {
	if ttl <= 0 || ttl > c.l1TTL {
		return c.l1TTL
	}
	return ttl
}

// Get retrieves from L1 first, then L2. Populates L1 on L2 hit.
func (c *TwoPhaseCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	val, err := c.local.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		return val, nil
	}

	val, err = c.remote.Get(ctx, tenantID, key)
	if err != nil {
		return nil, err
	}
	if val != nil {
		_ = c.local.Set(ctx, tenantID, key, val, c.l1TTL)
	}

	return val, nil
}

// Set writes to both L1 and L2.
func (c *TwoPhaseCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	if err := c.local.Set(ctx, tenantID, key, value, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.Set(ctx, tenantID, key, value, ttl)
}

// Delete removes from both L1 and L2.
func (c *TwoPhaseCache) Delete(ctx context.Context, tenantID string, key string) error {
	if err := c.local.Delete(ctx, tenantID, key); err != nil {
		return err
	}
	return c.remote.Delete(ctx, tenantID, key)
}

// GetScore retrieves a scored profile from L1, then L2.
func (c *TwoPhaseCache) GetScore(ctx context.Context, tenantID string, fingerprint string) (*domain.ScoredProfile, error) {
	score, err := c.local.GetScore(ctx, tenantID, fingerprint)
	if err != nil {
		return nil, err
	}
	if score != nil {
		return score, nil
	}

	score, err = c.remote.GetScore(ctx, tenantID, fingerprint)
	if err != nil {
		return nil, err
	}
	if score != nil {
		_ = c.local.SetScore(ctx, tenantID, fingerprint, score, c.l1TTL)
	}

	return score, nil
}

// SetScore caches a scored profile in both L1 and L2.
func (c *TwoPhaseCache) SetScore(ctx context.Context, tenantID string, fingerprint string, score *domain.ScoredProfile, ttl time.Duration) error {
	if err := c.local.SetScore(ctx, tenantID, fingerprint, score, c.localTTL(ttl)); err != nil {
		return err
	}
	return c.remote.SetScore(ctx, tenantID, fingerprint, score, ttl)
}

// Ping checks both L1 and L2 health.
func (c *TwoPhaseCache) Ping(ctx context.Context) error {
	if err := c.local.Ping(ctx); err != nil {
		return fmt.Errorf("L1 ping failed: %w", err)
	}
	if err := c.remote.Ping(ctx); err != nil {
		return fmt.Errorf("L2 ping failed: %w", err)
	}
	return nil
}

// Close closes both L1 and L2.
func (c *TwoPhaseCache) Close() error {
	_ = c.local.Close()
	return c.remote.Close()
}

// NoopCache never stores anything.
type NoopCache struct{}

func (NoopCache) Get(ctx context.Context, tenantID string, key string) ([]byte, error) {
	return nil, nil
}

func (NoopCache) Set(ctx context.Context, tenantID string, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (NoopCache) Delete(ctx context.Context, tenantID string, key string) error { return nil }

func (NoopCache) GetScore(ctx context.Context, tenantID string, fingerprint string) (*domain.ScoredProfile, error) {
	return nil, nil
}

func (NoopCache) SetScore(ctx context.Context, tenantID string, fingerprint string, score *domain.ScoredProfile, ttl time.Duration) error {
	return nil
}

func (NoopCache) Ping(ctx context.Context) error { return nil }
func (NoopCache) Close() error                   { return nil }
