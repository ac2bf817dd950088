package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/helios/helios/internal/models"
)

const (
	publicAgentsKey = "helios:agents:public"
	versionKey      = "helios:agents:public:version"
)

// ErrStale is returned by SetPublicAgents when the catalogue was invalidated
// after the version was read. Nothing is written.
var ErrStale = errors.New("public agent catalogue changed")

// AgentCache holds the public agent catalogue. Every invalidation bumps a
// version; a fill only lands if the version it was loaded under is current.
type AgentCache interface {
	// PublicAgents returns the cached catalogue and the current version; ok is false on a miss
	PublicAgents(ctx context.Context) (agents []*models.Agent, version int64, ok bool, err error)
	SetPublicAgents(ctx context.Context, agents []*models.Agent, version int64) error
	Invalidate(ctx context.Context) error
	Close() error
}

// Config holds Redis connection settings
type Config struct {
	RedisURL      string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// RedisCache implements AgentCache on Redis
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(config *Config) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.RedisURL,
		Password: config.RedisPassword,
		DB:       config.RedisDB,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	ttl := config.TTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &RedisCache{client: client, ttl: ttl}, nil
}

// New returns a Redis cache when a URL is configured and a no-op cache otherwise
func New(config *Config) (AgentCache, error) {
	if config == nil || config.RedisURL == "" {
		return Nop{}, nil
	}
	return NewRedisCache(config)
}

func (c *RedisCache) PublicAgents(ctx context.Context) ([]*models.Agent, int64, bool, error) {
	values, err := c.client.MGet(ctx, publicAgentsKey, versionKey).Result()
	if err != nil {
		return nil, 0, false, fmt.Errorf("failed to read public agents: %w", err)
	}

	version, err := parseVersion(values[1])
	if err != nil {
		return nil, 0, false, err
	}

	data, ok := values[0].(string)
	if !ok {
		return nil, version, false, nil
	}

	var agents []*models.Agent
	if err := json.Unmarshal([]byte(data), &agents); err != nil {
		// Corrupt entry, treat as a miss
		c.client.Del(ctx, publicAgentsKey)
		return nil, version, false, nil
	}
	return agents, version, true, nil
}

func (c *RedisCache) SetPublicAgents(ctx context.Context, agents []*models.Agent, version int64) error {
	if agents == nil {
		agents = []*models.Agent{}
	}
	data, err := json.Marshal(agents)
	if err != nil {
		return fmt.Errorf("failed to marshal public agents: %w", err)
	}

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, versionKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if v, err := parseVersion(current); err != nil || v != version {
			return ErrStale
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, publicAgentsKey, data, c.ttl)
			return nil
		})
		return err
	}, versionKey)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStale), errors.Is(err, redis.TxFailedErr):
		return ErrStale
	default:
		return fmt.Errorf("failed to cache public agents: %w", err)
	}
}

func (c *RedisCache) Invalidate(ctx context.Context) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, versionKey)
		pipe.Del(ctx, publicAgentsKey)
		return nil
	})
	return err
}

func parseVersion(v any) (int64, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case string:
		if v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid catalogue version %q: %w", v, err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected catalogue version %T", v)
	}
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Nop is an AgentCache that never hits
type Nop struct{}

func (Nop) PublicAgents(context.Context) ([]*models.Agent, int64, bool, error) {
	return nil, 0, false, nil
}
func (Nop) SetPublicAgents(context.Context, []*models.Agent, int64) error { return nil }
func (Nop) Invalidate(context.Context) error                              { return nil }
func (Nop) Close() error                                                  { return nil }
