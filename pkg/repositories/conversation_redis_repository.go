package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweetline/sales-assistant/pkg/apperrors"
	"github.com/sweetline/sales-assistant/pkg/models"
)

// redisConversationRepository keeps each session as a Redis list of JSON
// turns, so several replicas share history. The list is trimmed in the same
// transaction as the push.
type redisConversationRepository struct {
	client    redis.UniversalClient
	keyPrefix string
	limit     int
	ttl       time.Duration
	now       func() time.Time
}

// NewRedisConversationRepository creates a Redis-backed store. ttl == 0 keeps
// sessions until cleared.
func NewRedisConversationRepository(client redis.UniversalClient, keyPrefix string, limit int, ttl time.Duration) ConversationRepository {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &redisConversationRepository{
		client:    client,
		keyPrefix: keyPrefix,
		limit:     limit,
		ttl:       ttl,
		now:       time.Now,
	}
}

var _ ConversationRepository = (*redisConversationRepository)(nil)

func (r *redisConversationRepository) key(sessionID string) string {
	return r.keyPrefix + "session:" + sessionID
}

func (r *redisConversationRepository) Append(ctx context.Context, sessionID, role, content string) error {
	payload, err := json.Marshal(models.ConversationTurn{
		Role:      role,
		Content:   content,
		Timestamp: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := r.key(sessionID)
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, payload)
		pipe.LTrim(ctx, key, int64(-r.limit), -1)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append turn: %w", err)
	}
	return nil
}

func (r *redisConversationRepository) Recent(ctx context.Context, sessionID string, n int) ([]models.ConversationTurn, error) {
	if n <= 0 {
		return []models.ConversationTurn{}, nil
	}
	values, err := r.client.LRange(ctx, r.key(sessionID), int64(-n), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return decodeTurns(values)
}

func (r *redisConversationRepository) History(ctx context.Context, sessionID string) ([]models.ConversationTurn, error) {
	values, err := r.client.LRange(ctx, r.key(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	// Redis drops empty lists, so an empty range means no session
	if len(values) == 0 {
		return nil, apperrors.ErrSessionNotFound
	}
	return decodeTurns(values)
}

func (r *redisConversationRepository) Clear(ctx context.Context, sessionID string) error {
	deleted, err := r.client.Del(ctx, r.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	if deleted == 0 {
		return apperrors.ErrSessionNotFound
	}
	return nil
}

func decodeTurns(values []string) ([]models.ConversationTurn, error) {
	turns := make([]models.ConversationTurn, 0, len(values))
	for _, v := range values {
		var turn models.ConversationTurn
		if err := json.Unmarshal([]byte(v), &turn); err != nil {
			return nil, fmt.Errorf("failed to decode turn: %w", err)
		}
		turns = append(turns, turn)
	}
	return turns, nil
}
