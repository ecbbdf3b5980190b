package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore implements Store on Redis. Each session is one JSON value
// under session:<id> with a sliding TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(redisURL string, ttl time.Duration) (*RedisStore, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

func (r *RedisStore) sessionKey(sessionID string) string {
	return "session:" + sessionID
}

// LoadSession loads a session from Redis, returning an empty session when
// none is stored yet.
func (r *RedisStore) LoadSession(ctx context.Context, sessionID string) (*SessionData, error) {
	data, err := r.client.Get(ctx, r.sessionKey(sessionID)).Result()
	if err == redis.Nil {
		now := time.Now()
		return &SessionData{
			SessionID: sessionID,
			Messages:  []Message{},
			Metadata:  Metadata{StartedAt: now, LastActivity: now},
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading session from Redis: %w", err)
	}

	var sess SessionData
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("parsing session data: %w", err)
	}
	return &sess, nil
}

// SaveMessage appends a message and writes the session back with a fresh
// TTL.
func (r *RedisStore) SaveMessage(ctx context.Context, sessionID, userID string, msg Message) error {
	sess, err := r.LoadSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.UserID == "" {
		sess.UserID = userID
	}
	sess.Messages = append(sess.Messages, msg)
	sess.Metadata.LastActivity = time.Now()
	sess.Metadata.MessageCount = len(sess.Messages)
	if sess.Metadata.MessageCount == 1 {
		sess.Metadata.StartedAt = msg.Timestamp
	}
	return r.saveSession(ctx, sess)
}

func (r *RedisStore) saveSession(ctx context.Context, sess *SessionData) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshaling session: %w", err)
	}
	if err := r.client.Set(ctx, r.sessionKey(sess.SessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("saving session to Redis: %w", err)
	}
	return nil
}

// ClearSession removes a session from Redis.
func (r *RedisStore) ClearSession(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	return nil
}

// SessionExists checks if a session exists in Redis.
func (r *RedisStore) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	exists, err := r.client.Exists(ctx, r.sessionKey(sessionID)).Result()
	if err != nil {
		return false, fmt.Errorf("checking session existence: %w", err)
	}
	return exists > 0, nil
}

// Ping verifies the Redis connection is alive.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
