package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/fentz26/conductor/internal/models"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// StreamPrefix namespaces mirrored event streams in Redis.
const StreamPrefix = "conductor:events:"

// RedisMirror appends every published event to a Redis stream named after
// its topic so external tooling can follow workflow progress.
type RedisMirror struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisMirror connects to redisURL and verifies the connection.
func NewRedisMirror(ctx context.Context, redisURL string, logger *zap.Logger) (*RedisMirror, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisMirror{rdb: rdb, logger: logger}, nil
}

// Mirror implements EventSink.
func (m *RedisMirror) Mirror(ctx context.Context, msg models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	stream := StreamPrefix + msg.To
	_, err = m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("mirror to %s: %w", stream, err)
	}

	m.logger.Debug("mirrored event", zap.String("stream", stream), zap.String("from", msg.From))
	return nil
}

// Read returns up to count events from the start of topic's stream.
func (m *RedisMirror) Read(ctx context.Context, topic string, count int64) ([]models.Message, error) {
	entries, err := m.rdb.XRangeN(ctx, StreamPrefix+topic, "-", "+", count).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", topic, err)
	}

	msgs := make([]models.Message, 0, len(entries))
	for _, e := range entries {
		data, ok := e.Values["data"].(string)
		if !ok {
			continue
		}
		var msg models.Message
		if json.Unmarshal([]byte(data), &msg) == nil {
			msgs = append(msgs, msg)
		}
	}
	return msgs, nil
}

// Close shuts down the Redis connection.
func (m *RedisMirror) Close() error {
	return m.rdb.Close()
}
