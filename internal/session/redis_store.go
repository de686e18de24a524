package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"redline/api/internal/trackchanges"
)

const (
	fieldEnabled   = "enabled"
	fieldAuthor    = "author"
	fieldUpdatedAt = "updated_at"

	// Sessions of documents nobody touches for this long are dropped and
	// fall back to the default session.
	defaultIdleTTL = 30 * 24 * time.Hour
)

// RedisStore keeps each session in a hash under tracking:<documentID>.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	idleTTL time.Duration
	now     func() time.Time
}

// NewRedisStore connects to redisURL and verifies the connection.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisStoreWithClient(client), nil
}

func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:  client,
		prefix:  "tracking:",
		idleTTL: defaultIdleTTL,
		now:     time.Now,
	}
}

func (s *RedisStore) key(documentID string) string {
	return s.prefix + documentID
}

func (s *RedisStore) Load(ctx context.Context, documentID string) (trackchanges.SessionState, bool, error) {
	values, err := s.client.HGetAll(ctx, s.key(documentID)).Result()
	if errors.Is(err, redis.Nil) || (err == nil && len(values) == 0) {
		return trackchanges.SessionState{}, false, nil
	}
	if err != nil {
		return trackchanges.SessionState{}, false, fmt.Errorf("load tracking session: %w", err)
	}
	enabled, err := strconv.ParseBool(values[fieldEnabled])
	if err != nil {
		return trackchanges.SessionState{}, false, fmt.Errorf("decode tracking session %s: %w", documentID, err)
	}
	return trackchanges.SessionState{Enabled: enabled, Author: values[fieldAuthor]}, true, nil
}

func (s *RedisStore) Save(ctx context.Context, documentID string, state trackchanges.SessionState) error {
	key := s.key(documentID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldEnabled, strconv.FormatBool(state.Enabled),
			fieldAuthor, state.Author,
			fieldUpdatedAt, s.now().UTC().Format(time.RFC3339),
		)
		pipe.Expire(ctx, key, s.idleTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save tracking session: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, documentID string) error {
	if err := s.client.Del(ctx, s.key(documentID)).Err(); err != nil {
		return fmt.Errorf("delete tracking session: %w", err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
