// Package redismem persists conversation turns in Redis, one list per
// device, trimmed to a configured depth.
package redismem

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vocalis-ai/vocalis/config"
	"github.com/vocalis-ai/vocalis/provider"
	"github.com/vocalis-ai/vocalis/types"
)

// ProviderName is the registry key for the Redis memory provider.
const ProviderName = "redis"

// Register adds the Redis memory factory.
func Register(r *provider.Registry) {
	r.RegisterMemory(ProviderName, func(cfg *config.Config, logger *zap.Logger) (provider.Memory, error) {
		return New(cfg.Redis, logger)
	})
}

// Memory stores the most recent exchanges per device in a Redis list.
type Memory struct {
	client   *redis.Client
	maxTurns int
	logger   *zap.Logger
}

// record is the stored shape of one completed exchange.
type record struct {
	UserText      string    `json:"user_text"`
	AssistantText string    `json:"assistant_text"`
	At            time.Time `json:"at"`
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg config.RedisConfig, logger *zap.Logger) (*Memory, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr must be set")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.NewError(types.ErrMemory, "redis ping failed").
			WithProvider(ProviderName).WithCause(err)
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 20
	}
	return &Memory{
		client:   client,
		maxTurns: maxTurns,
		logger:   logger.With(zap.String("component", "redis_memory")),
	}, nil
}

// Name implements provider.Memory.
func (m *Memory) Name() string { return ProviderName }

func key(deviceID string) string {
	return "vocalis:history:" + deviceID
}

// Remember implements provider.Memory. The newest exchange goes to the head
// of the list and the tail is trimmed to the configured depth.
func (m *Memory) Remember(ctx context.Context, deviceID, userText, assistantText string) error {
	data, err := json.Marshal(record{
		UserText:      userText,
		AssistantText: assistantText,
		At:            time.Now().UTC(),
	})
	if err != nil {
		return types.NewError(types.ErrMemory, "failed to marshal record").
			WithProvider(ProviderName).WithCause(err)
	}

	pipe := m.client.TxPipeline()
	pipe.LPush(ctx, key(deviceID), data)
	pipe.LTrim(ctx, key(deviceID), 0, int64(m.maxTurns-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return types.NewError(types.ErrMemory, "failed to persist exchange").
			WithProvider(ProviderName).WithRetryable(true).WithCause(err)
	}
	return nil
}

// Recall returns up to maxTurns stored exchanges for the device as chat
// messages, oldest first, for seeding a fresh session's history.
func (m *Memory) Recall(ctx context.Context, deviceID string) ([]provider.Message, error) {
	raw, err := m.client.LRange(ctx, key(deviceID), 0, int64(m.maxTurns-1)).Result()
	if err != nil {
		return nil, types.NewError(types.ErrMemory, "failed to load history").
			WithProvider(ProviderName).WithRetryable(true).WithCause(err)
	}

	// Stored newest first; replay oldest first.
	messages := make([]provider.Message, 0, len(raw)*2)
	for i := len(raw) - 1; i >= 0; i-- {
		var rec record
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			m.logger.Warn("skipping corrupt history record",
				zap.String("device_id", deviceID), zap.Error(err))
			continue
		}
		messages = append(messages,
			provider.Message{Role: "user", Content: rec.UserText},
			provider.Message{Role: "assistant", Content: rec.AssistantText},
		)
	}
	return messages, nil
}

// Close releases the underlying connection pool.
func (m *Memory) Close() error {
	return m.client.Close()
}
