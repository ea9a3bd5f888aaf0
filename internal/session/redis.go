package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/sitesmith/sitesmith/pkg/models"
)

const indexKey = "sessions:index"

func sessionKey(id string) string { return "session:" + id }
func logsKey(id string) string    { return "session:" + id + ":logs" }

// RedisStore implements Store using go-redis/v9. Session records and their
// log lists share a retention TTL derived from the session type.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore from a Redis URL.
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisStore{client: redis.NewClient(opts)}, nil
}

// NewRedisStoreFromClient wraps an existing client, sharing its connection pool.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) Create(ctx context.Context, sess *models.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, sessionKey(sess.ID), data, TTLFor(sess.Type)).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	if !ok {
		return ErrSessionExists
	}

	if err := s.client.SAdd(ctx, indexKey, sess.ID).Err(); err != nil {
		return fmt.Errorf("index session: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*models.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}

	count, err := s.client.LLen(ctx, logsKey(id)).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("count session logs: %w", err)
	}
	sess.LogCount = int(count)

	return &sess, nil
}

func (s *RedisStore) Put(ctx context.Context, sess *models.Session) error {
	stored, err := s.Get(ctx, sess.ID)
	if err != nil {
		return err
	}
	if stored.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", ErrSessionFinalized, stored.Status)
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	// Full overwrite, keeping the TTL set at creation.
	if err := s.client.Set(ctx, sessionKey(sess.ID), data, redis.KeepTTL).Err(); err != nil {
		return fmt.Errorf("put session: %w", err)
	}
	return nil
}

func (s *RedisStore) AppendLog(ctx context.Context, id string, entry models.LogEntry) error {
	exists, err := s.client.Exists(ctx, sessionKey(id)).Result()
	if err != nil {
		return fmt.Errorf("check session: %w", err)
	}
	if exists == 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, logsKey(id), data)
	pipe.ExpireNX(ctx, logsKey(id), RetentionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append session log: %w", err)
	}
	return nil
}

func (s *RedisStore) Logs(ctx context.Context, id string) ([]models.LogEntry, error) {
	raw, err := s.client.LRange(ctx, logsKey(id), 0, -1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("read session logs: %w", err)
	}

	entries := make([]models.LogEntry, 0, len(raw))
	for _, item := range raw {
		var entry models.LogEntry
		if err := json.Unmarshal([]byte(item), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (s *RedisStore) ListByStatus(ctx context.Context, status models.SessionStatus) ([]*models.Session, error) {
	all, err := s.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	matched := all[:0]
	for _, sess := range all {
		if sess.Status == status {
			matched = append(matched, sess)
		}
	}
	return matched, nil
}

func (s *RedisStore) ListAll(ctx context.Context) ([]*models.Session, error) {
	ids, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list session ids: %w", err)
	}

	sessions := make([]*models.Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.Get(ctx, id)
		if err == ErrNotFound {
			// Expired underneath the index; drop the stale reference.
			s.client.SRem(ctx, indexKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, sessionKey(id), logsKey(id))
	pipe.SRem(ctx, indexKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
