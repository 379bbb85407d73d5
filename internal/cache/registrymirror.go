// Package cache provides the optional cross-pod Registry snapshot mirror:
// when Custard runs as more than one gateway pod, each pod's in-memory
// Registry only knows about the agent sessions attached to *that* pod.
// The mirror lets a pod answer "is this agent live anywhere" by reading a
// Redis set the owning pod maintains, rather than only the sessions it
// holds locally. Disabling the mirror makes it a no-op, and every pod
// falls back to local-only Registry knowledge.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds Redis connection parameters for the mirror.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// RegistryMirror publishes one pod's live agent_ids into a shared Redis set
// keyed by pod ID, and can read the union across all pods.
type RegistryMirror struct {
	client *redis.Client
	podID  string
}

const mirrorKeyPrefix = "custard:registry:pod:"

// NewRegistryMirror connects to Redis, or returns a disabled mirror (every
// method becomes a no-op) when config.Enabled is false — single-pod
// deployments never need this.
func NewRegistryMirror(config Config, podID string) (*RegistryMirror, error) {
	if !config.Enabled {
		return &RegistryMirror{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RegistryMirror{client: client, podID: podID}, nil
}

// Enabled reports whether the mirror is backed by a live Redis connection.
func (m *RegistryMirror) Enabled() bool { return m.client != nil }

// Close releases the Redis connection.
func (m *RegistryMirror) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

// PublishSnapshot replaces this pod's published set of live agent_ids with
// agentIDs, with ttl so a crashed pod's stale entry expires even if it
// never calls Clear.
func (m *RegistryMirror) PublishSnapshot(ctx context.Context, agentIDs []string, ttl time.Duration) error {
	if !m.Enabled() {
		return nil
	}
	key := mirrorKeyPrefix + m.podID

	pipe := m.client.TxPipeline()
	pipe.Del(ctx, key)
	if len(agentIDs) > 0 {
		members := make([]interface{}, len(agentIDs))
		for i, id := range agentIDs {
			members[i] = id
		}
		pipe.SAdd(ctx, key, members...)
	}
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("publish registry snapshot: %w", err)
	}
	return nil
}

// Clear removes this pod's published set, used on graceful shutdown so
// other pods stop considering its agents live immediately rather than
// waiting out the TTL.
func (m *RegistryMirror) Clear(ctx context.Context) error {
	if !m.Enabled() {
		return nil
	}
	return m.client.Del(ctx, mirrorKeyPrefix+m.podID).Err()
}

// LiveElsewhere reports whether agentID appears in any other pod's
// published snapshot, scanning pod keys by the shared prefix.
func (m *RegistryMirror) LiveElsewhere(ctx context.Context, agentID string) (bool, error) {
	if !m.Enabled() {
		return false, nil
	}

	iter := m.client.Scan(ctx, 0, mirrorKeyPrefix+"*", 0).Iterator()
	ownKey := mirrorKeyPrefix + m.podID
	for iter.Next(ctx) {
		key := iter.Val()
		if key == ownKey {
			continue
		}
		isMember, err := m.client.SIsMember(ctx, key, agentID).Result()
		if err != nil {
			return false, fmt.Errorf("check membership on %s: %w", key, err)
		}
		if isMember {
			return true, nil
		}
	}
	if err := iter.Err(); err != nil {
		return false, fmt.Errorf("scan pod keys: %w", err)
	}
	return false, nil
}
