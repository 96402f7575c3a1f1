package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/dialectica/dialectica/pkg/models"
)

const sessionIndexKey = "dialectica:sessions:index"

// RedisStore persists sessions as JSON values with a createdAt-scored sorted
// set as the listing index.
type RedisStore struct {
	client *redis.Client
}

// OpenRedis connects to the redis instance at redisURL and verifies the
// connection.
func OpenRedis(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Wrap(err, "ping redis")
	}

	return &RedisStore{client: client}, nil
}

func sessionKey(id string) string {
	return fmt.Sprintf("dialectica:session:%s", id)
}

func (s *RedisStore) Put(ctx context.Context, session *models.DebateSession) error {
	if err := session.Validate(); err != nil {
		return errors.Wrap(err, "invalid session")
	}

	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrapf(err, "marshal session %s", session.ID)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.ID), data, 0)
	pipe.ZAdd(ctx, sessionIndexKey, redis.Z{
		Score:  float64(session.CreatedAt.UnixMilli()),
		Member: session.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrapf(err, "put session %s", session.ID)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.DebateSession, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, errors.Wrapf(err, "get session %s", id)
	}

	var session models.DebateSession
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, errors.Wrapf(err, "unmarshal session %s", id)
	}
	return &session, nil
}

func (s *RedisStore) List(ctx context.Context) ([]models.DebateSession, error) {
	ids, err := s.client.ZRange(ctx, sessionIndexKey, 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list session ids")
	}

	sessions := make([]models.DebateSession, 0, len(ids))
	for _, id := range ids {
		session, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, ErrSessionNotFound) {
				// Index entry without a value; skip it.
				continue
			}
			return nil, err
		}
		sessions = append(sessions, *session)
	}
	return sessions, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	removed, err := s.client.Del(ctx, sessionKey(id)).Result()
	if err != nil {
		return errors.Wrapf(err, "delete session %s", id)
	}
	if err := s.client.ZRem(ctx, sessionIndexKey, id).Err(); err != nil {
		return errors.Wrapf(err, "remove session %s from index", id)
	}
	if removed == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
