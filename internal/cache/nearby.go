// Package cache caches nearby POI query results in Redis.
//
// Entries are namespaced by a generation counter. Invalidate bumps the
// counter, which orphans every cached entry at once; orphans expire through
// their TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"propmarket/server/config"
	"propmarket/server/internal/models"
)

const generationKey = "nearby:generation"

// NewRedisClient connects to the Redis server of cfg.
func NewRedisClient(cfg config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NearbyCache stores nearby query results per listing and query.
type NearbyCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *logrus.Logger
}

// NewNearbyCache creates a new nearby cache
func NewNearbyCache(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *NearbyCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &NearbyCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached rows, and false on a miss.
func (c *NearbyCache) Get(ctx context.Context, listingID uint, q models.NearbyQuery) ([]models.NearbyPOI, bool, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return nil, false, err
	}
	return c.getAt(ctx, gen, listingID, q)
}

// Set stores rows under the current generation.
func (c *NearbyCache) Set(ctx context.Context, listingID uint, q models.NearbyQuery, rows []models.NearbyPOI) error {
	gen, err := c.generation(ctx)
	if err != nil {
		return err
	}
	return c.setAt(ctx, gen, listingID, q, rows)
}

func (c *NearbyCache) getAt(ctx context.Context, gen int64, listingID uint, q models.NearbyQuery) ([]models.NearbyPOI, bool, error) {
	raw, err := c.client.Get(ctx, key(gen, listingID, q)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read nearby cache: %w", err)
	}

	var rows []models.NearbyPOI
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, false, fmt.Errorf("failed to decode nearby cache entry: %w", err)
	}
	return rows, true, nil
}

func (c *NearbyCache) setAt(ctx context.Context, gen int64, listingID uint, q models.NearbyQuery, rows []models.NearbyPOI) error {
	raw, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("failed to encode nearby cache entry: %w", err)
	}
	if err := c.client.Set(ctx, key(gen, listingID, q), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write nearby cache: %w", err)
	}
	return nil
}

// Invalidate drops every cached entry by moving to the next generation.
func (c *NearbyCache) Invalidate(ctx context.Context) error {
	gen, err := c.client.Incr(ctx, generationKey).Result()
	if err != nil {
		return fmt.Errorf("failed to bump nearby cache generation: %w", err)
	}
	c.logger.WithField("generation", gen).Debug("Nearby cache invalidated")
	return nil
}

func (c *NearbyCache) generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to read nearby cache generation: %w", err)
	}
	return gen, nil
}

func key(gen int64, listingID uint, q models.NearbyQuery) string {
	return fmt.Sprintf("nearby:%d:%d:%s", gen, listingID, fingerprint(q))
}

// fingerprint renders q canonically: category order does not matter.
func fingerprint(q models.NearbyQuery) string {
	categories := make([]string, 0, len(q.Categories))
	for _, c := range q.Categories {
		categories = append(categories, string(c))
	}
	sort.Strings(categories)

	return strings.Join([]string{
		strconv.FormatFloat(q.MaxDistanceKm, 'f', -1, 64),
		strings.Join(categories, ","),
		string(q.Tier),
		strconv.Itoa(q.Limit),
	}, "|")
}

// NearbySource answers nearby queries from the fact table.
type NearbySource interface {
	NearbyPOIs(ctx context.Context, listingID uint, q models.NearbyQuery) ([]models.NearbyPOI, error)
}

// CachedNearby serves nearby queries through the cache. Cache failures are
// logged and fall through to the source.
type CachedNearby struct {
	source NearbySource
	cache  *NearbyCache
}

func NewCachedNearby(source NearbySource, cache *NearbyCache) *CachedNearby {
	return &CachedNearby{source: source, cache: cache}
}

// NearbyPOIs reads the generation once, so rows loaded from the source while
// an invalidation lands are stored under the old generation and never served.
func (n *CachedNearby) NearbyPOIs(ctx context.Context, listingID uint, q models.NearbyQuery) ([]models.NearbyPOI, error) {
	log := n.cache.logger.WithField("listing_id", listingID)

	gen, err := n.cache.generation(ctx)
	if err != nil {
		log.WithError(err).Warn("Nearby cache read failed")
		return n.source.NearbyPOIs(ctx, listingID, q)
	}

	rows, hit, err := n.cache.getAt(ctx, gen, listingID, q)
	if err != nil {
		log.WithError(err).Warn("Nearby cache read failed")
	}
	if hit {
		return rows, nil
	}

	rows, err = n.source.NearbyPOIs(ctx, listingID, q)
	if err != nil {
		return nil, err
	}
	if err := n.cache.setAt(ctx, gen, listingID, q, rows); err != nil {
		log.WithError(err).Warn("Nearby cache write failed")
	}
	return rows, nil
}
