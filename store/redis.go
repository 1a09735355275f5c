package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/reclip/reclip/types"
)

// Redis 键布局
const (
	sessionKeyPrefix = "session:"
	sessionsSetKey   = "sessions"
)

// RedisConfig 配置热状态存储.
type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// TerminalTTL 终态会话的保留时长，0 表示永不过期。
	TerminalTTL time.Duration `yaml:"terminal_ttl" json:"terminal_ttl"`
}

// DefaultRedisConfig 返回默认 Redis 配置.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "localhost:6379",
		TerminalTTL: 7 * 24 * time.Hour,
	}
}

// RedisStore 以 Redis 哈希持久化会话热状态，实现 engine.SessionStore。
type RedisStore struct {
	rdb    *redis.Client
	cfg    RedisConfig
	logger *zap.Logger
}

// NewRedisStore 基于已建立的客户端创建热状态存储.
func NewRedisStore(rdb *redis.Client, cfg RedisConfig, logger *zap.Logger) *RedisStore {
	return &RedisStore{rdb: rdb, cfg: cfg, logger: logger}
}

// Connect 建立 Redis 连接并创建热状态存储.
func Connect(ctx context.Context, cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("redis connected", zap.String("addr", cfg.Addr))
	return NewRedisStore(rdb, cfg, logger), nil
}

// Client 暴露底层客户端，供设置存储等复用同一连接.
func (s *RedisStore) Client() *redis.Client { return s.rdb }

// Close 关闭底层连接.
func (s *RedisStore) Close() error { return s.rdb.Close() }

// SaveSession 写入会话快照。哈希同时保存完整 JSON 与
// 便于人工排查的摘要字段。
func (s *RedisStore) SaveSession(ctx context.Context, sess types.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	key := sessionKeyPrefix + sess.ID
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"data":       string(data),
		"status":     string(sess.Status),
		"progress":   strconv.FormatFloat(sess.Progress, 'f', 1, 64),
		"updated_at": sess.UpdatedAt.Format(time.RFC3339),
	})
	pipe.SAdd(ctx, sessionsSetKey, sess.ID)
	if sess.Status.Terminal() && s.cfg.TerminalTTL > 0 {
		pipe.Expire(ctx, key, s.cfg.TerminalTTL)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session %s: %w", sess.ID, err)
	}
	return nil
}

// LoadSession 读取会话；不存在时返回 (nil, nil)。
func (s *RedisStore) LoadSession(ctx context.Context, id string) (*types.Session, error) {
	data, err := s.rdb.HGet(ctx, sessionKeyPrefix+id, "data").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}

	var sess types.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

// DeleteSession 删除会话并移出索引.
func (s *RedisStore) DeleteSession(ctx context.Context, id string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, sessionKeyPrefix+id)
	pipe.SRem(ctx, sessionsSetKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete session %s: %w", id, err)
	}
	return nil
}

// ListSessions 返回索引中仍存在的全部会话。
// TTL 过期的会话顺带从索引中清理。
func (s *RedisStore) ListSessions(ctx context.Context) ([]types.Session, error) {
	ids, err := s.rdb.SMembers(ctx, sessionsSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}

	out := make([]types.Session, 0, len(ids))
	var stale []any
	for _, id := range ids {
		sess, err := s.LoadSession(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess == nil {
			stale = append(stale, id)
			continue
		}
		out = append(out, *sess)
	}

	if len(stale) > 0 {
		if err := s.rdb.SRem(ctx, sessionsSetKey, stale...).Err(); err != nil {
			s.logger.Warn("failed to prune stale session index entries", zap.Error(err))
		}
	}
	return out, nil
}

// Ping 健康检查.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
