package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"lanlink/internal/core/domain"
	"lanlink/internal/core/ports"
)

// RedisMessageHistory stores each message as a JSON value keyed by ID, with
// per-peer and global ID lists preserving arrival order.
type RedisMessageHistory struct {
	client *redis.Client
	prefix string
}

func NewRedisMessageHistory(client *redis.Client) ports.MessageHistory {
	return &RedisMessageHistory{
		client: client,
		prefix: "lanlink:history:",
	}
}

func (r *RedisMessageHistory) msgKey(id string) string {
	return r.prefix + "msg:" + id
}

func (r *RedisMessageHistory) peerKey(peerIP string) string {
	return r.prefix + "peer:" + peerIP
}

func (r *RedisMessageHistory) allKey() string {
	return r.prefix + "all"
}

func (r *RedisMessageHistory) Append(ctx context.Context, msg domain.StoredMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, r.msgKey(msg.ID), data, 0)
	pipe.RPush(ctx, r.peerKey(msg.SenderIP), msg.ID)
	pipe.RPush(ctx, r.allKey(), msg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store message in Redis: %w", err)
	}
	return nil
}

func (r *RedisMessageHistory) Query(ctx context.Context, peerIP string, limit int) ([]domain.StoredMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	ids, err := r.client.LRange(ctx, r.peerKey(peerIP), start, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list peer messages: %w", err)
	}
	return r.fetch(ctx, ids)
}

func (r *RedisMessageHistory) MarkRead(ctx context.Context, peerIP string) error {
	messages, err := r.Query(ctx, peerIP, 0)
	if err != nil {
		return err
	}
	for _, msg := range messages {
		if msg.Read {
			continue
		}
		msg.Read = true
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := r.client.Set(ctx, r.msgKey(msg.ID), data, 0).Err(); err != nil {
			return fmt.Errorf("failed to update message in Redis: %w", err)
		}
	}
	return nil
}

func (r *RedisMessageHistory) Stats(ctx context.Context, peerIP string) (domain.MessageStats, error) {
	key := r.allKey()
	if peerIP != "" {
		key = r.peerKey(peerIP)
	}
	ids, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return domain.MessageStats{}, fmt.Errorf("failed to list messages: %w", err)
	}
	messages, err := r.fetch(ctx, ids)
	if err != nil {
		return domain.MessageStats{}, err
	}

	var stats domain.MessageStats
	for _, msg := range messages {
		stats.Total++
		if !msg.Read {
			stats.Unread++
		}
		switch msg.Type {
		case "text":
			stats.Texts++
		case "file":
			stats.Files++
		}
	}
	return stats, nil
}

func (r *RedisMessageHistory) Close() error {
	return r.client.Close()
}

func (r *RedisMessageHistory) fetch(ctx context.Context, ids []string) ([]domain.StoredMessage, error) {
	var out []domain.StoredMessage
	for _, id := range ids {
		data, err := r.client.Get(ctx, r.msgKey(id)).Result()
		if err == redis.Nil {
			// Entry expired or was removed out of band.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get message from Redis: %w", err)
		}
		var msg domain.StoredMessage
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}
		out = append(out, msg)
	}
	return out, nil
}
