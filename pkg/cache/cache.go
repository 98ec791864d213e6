// Package cache puts a read-through TTL cache in front of audit fetchers so
// repeated audits within a window do not hit vendor rate limits.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/resource"
)

// Store is a byte cache with per-entry expiry. Get reports a miss with
// found=false and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RedisConfig configures the Redis store.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisStore keeps entries in Redis under a key prefix.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects and pings Redis.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "hth:fetch"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis fetch cache: %w", err)
	}
	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix)}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.client.Get(ctx, s.prefix+":"+key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.client.Set(ctx, s.prefix+":"+key, value, ttl).Err()
}

// Close releases the connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }

// MemoryStore is an in-process Store, used when no Redis is configured.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// NewMemoryStore returns an empty store on the system clock.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]memoryEntry{}, now: time.Now}
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{value: value, expires: m.now().Add(ttl)}
	return nil
}

// CachedFetcher serves fetches from Store while they are fresh. Store
// failures are logged and fall through to the wrapped fetcher; fetch
// errors are never cached.
type CachedFetcher struct {
	Fetcher audit.Fetcher
	Store   Store
	Vendor  string
	TTL     time.Duration
	Logger  *slog.Logger
}

// Wrap returns f unchanged when store is nil or ttl is not positive.
func Wrap(f audit.Fetcher, store Store, vendor string, ttl time.Duration, logger *slog.Logger) audit.Fetcher {
	if store == nil || ttl <= 0 {
		return f
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedFetcher{Fetcher: f, Store: store, Vendor: vendor, TTL: ttl, Logger: logger}
}

// Key is the cache key for one vendor/kind snapshot.
func Key(vendor string, kind resource.Kind) string {
	return vendor + "/" + string(kind)
}

func (c *CachedFetcher) Fetch(ctx context.Context, kind resource.Kind) ([]resource.Record, error) {
	key := Key(c.Vendor, kind)
	if b, ok, err := c.Store.Get(ctx, key); err != nil {
		c.Logger.Warn("cache read failed", "key", key, "error", err)
	} else if ok {
		records, err := decodeRecords(b)
		if err == nil {
			c.Logger.Debug("cache hit", "key", key, "count", len(records))
			return records, nil
		}
		c.Logger.Warn("discarding corrupt cache entry", "key", key, "error", err)
	}

	records, err := c.Fetcher.Fetch(ctx, kind)
	if err != nil {
		return nil, err
	}
	b, err := encodeRecords(records)
	if err == nil {
		err = c.Store.Set(ctx, key, b, c.TTL)
	}
	if err != nil {
		c.Logger.Warn("cache write failed", "key", key, "error", err)
	}
	return records, nil
}

// Kinds forwards to the wrapped fetcher when it reports its kinds.
func (c *CachedFetcher) Kinds() []resource.Kind {
	if k, ok := c.Fetcher.(interface{ Kinds() []resource.Kind }); ok {
		return k.Kinds()
	}
	return nil
}

type cachedRecord struct {
	Vendor     string                `json:"vendor"`
	Kind       resource.Kind         `json:"kind"`
	ID         string                `json:"id"`
	Name       string                `json:"name,omitempty"`
	CreatedAt  *time.Time            `json:"created_at,omitempty"`
	LastUsed   *time.Time            `json:"last_used,omitempty"`
	LastSeen   *time.Time            `json:"last_seen,omitempty"`
	Scopes     []string              `json:"scopes,omitempty"`
	Attributes map[string]typedValue `json:"attributes,omitempty"`
}

func encodeRecords(records []resource.Record) ([]byte, error) {
	out := make([]cachedRecord, len(records))
	for i, r := range records {
		attrs, err := encodeMap(r.Attributes)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		out[i] = cachedRecord{
			Vendor: r.Vendor, Kind: r.Kind, ID: r.ID, Name: r.Name,
			CreatedAt: r.CreatedAt, LastUsed: r.LastUsed, LastSeen: r.LastSeen,
			Scopes: r.Scopes, Attributes: attrs,
		}
	}
	return json.Marshal(out)
}

// decodeRecords restores records with their attribute types intact, so
// rules see the same values on a hit as on a miss.
func decodeRecords(b []byte) ([]resource.Record, error) {
	var in []cachedRecord
	if err := json.Unmarshal(b, &in); err != nil {
		return nil, err
	}
	out := make([]resource.Record, len(in))
	for i, r := range in {
		attrs, err := decodeMap(r.Attributes)
		if err != nil {
			return nil, fmt.Errorf("record %s: %w", r.ID, err)
		}
		out[i] = resource.Record{
			Vendor: r.Vendor, Kind: r.Kind, ID: r.ID, Name: r.Name,
			CreatedAt: r.CreatedAt, LastUsed: r.LastUsed, LastSeen: r.LastSeen,
			Scopes: r.Scopes, Attributes: attrs,
		}
	}
	return out, nil
}
