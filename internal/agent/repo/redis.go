package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"github.com/vayu-advisor/server/internal/agent/model"
	errx "github.com/vayu-advisor/server/internal/core/error"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

// RedisSessionStore keeps the session snapshot (without messages) under one
// key and the message history in an append-only list.
type RedisSessionStore struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewRedisSessionStore(rdb redis.Cmdable, ttl time.Duration) *RedisSessionStore {
	return &RedisSessionStore{rdb: rdb, ttl: ttl}
}

func (r *RedisSessionStore) stateKey(sessionID string) string {
	return fmt.Sprintf("session:%s:state", sessionID)
}

func (r *RedisSessionStore) messagesKey(sessionID string) string {
	return fmt.Sprintf("session:%s:messages", sessionID)
}

func (r *RedisSessionStore) Load(ctx context.Context, sessionID string) (*model.AgentState, error) {
	key := r.stateKey(sessionID)
	raw, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errx.ErrSessionNotFound
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to load session state from redis")
		return nil, errx.WrapRedis(err)
	}

	var state model.AgentState
	if err := json.Unmarshal(raw, &state); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to unmarshal session state")
		return nil, fmt.Errorf("unmarshal session state: %w", err)
	}

	msgs, err := r.loadMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	state.Messages = msgs

	r.touch(ctx, key, r.messagesKey(sessionID))
	return &state, nil
}

func (r *RedisSessionStore) loadMessages(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	key := r.messagesKey(sessionID)
	rows, err := r.rdb.LRange(ctx, key, 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", key).Msg("failed to load messages from redis")
		return nil, errx.WrapRedis(err)
	}

	msgs := make([]*schema.Message, 0, len(rows))
	for i, s := range rows {
		var m schema.Message
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			logx.Error().Err(err).Str("session_id", sessionID).Int("index", i).Msg("failed to unmarshal message")
			return nil, fmt.Errorf("unmarshal message at index %d: %w", i, err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, nil
}

// Save writes the snapshot and appends the messages not yet stored. A
// history shorter than the stored list (clear history, logout) rewrites
// the list.
func (r *RedisSessionStore) Save(ctx context.Context, state *model.AgentState) error {
	snapshot := *state
	snapshot.Messages = nil
	b, err := json.Marshal(&snapshot)
	if err != nil {
		logx.Error().Err(err).Str("session_id", state.SessionID).Msg("failed to marshal session state")
		return fmt.Errorf("marshal session state: %w", err)
	}

	stateKey := r.stateKey(state.SessionID)
	msgKey := r.messagesKey(state.SessionID)

	stored, err := r.rdb.LLen(ctx, msgKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		logx.Error().Err(err).Str("key", msgKey).Msg("failed to count messages in redis")
		return errx.WrapRedis(err)
	}

	from := int(stored)
	rewrite := from > len(state.Messages)
	if rewrite {
		from = 0
	}
	pending := make([]any, 0, len(state.Messages)-from)
	for _, m := range state.Messages[from:] {
		mb, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message: %w", err)
		}
		pending = append(pending, mb)
	}

	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, stateKey, b, r.ttl)
		if rewrite {
			pipe.Del(ctx, msgKey)
		}
		if len(pending) > 0 {
			pipe.RPush(ctx, msgKey, pending...)
		}
		if r.ttl > 0 {
			pipe.Expire(ctx, msgKey, r.ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", stateKey).Msg("failed to save session to redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, r.stateKey(sessionID), r.messagesKey(sessionID)).Err(); err != nil {
		logx.Error().Err(err).Str("session_id", sessionID).Msg("failed to delete session from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

// extend TTL on touch
func (r *RedisSessionStore) touch(ctx context.Context, keys ...string) {
	if r.ttl <= 0 {
		return
	}
	for _, key := range keys {
		if ok, err := r.rdb.Expire(ctx, key, r.ttl).Result(); err != nil {
			logx.Warn().Err(err).Str("key", key).Msg("failed to set expire")
		} else if !ok {
			logx.Debug().Str("key", key).Dur("ttl", r.ttl).Msg("no TTL set on missing key")
		}
	}
}

var _ model.SessionStore = (*RedisSessionStore)(nil)
