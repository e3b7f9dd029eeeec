package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"novel-reader/internal/interfaces"
	"novel-reader/internal/models"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.StoryContentSource = (*redisStoryCache)(nil)

// DefaultStoryCacheTTL — время жизни закэшированной истории. Контент
// неизменяем после публикации, TTL защищает только от бесконечного роста.
const DefaultStoryCacheTTL = 6 * time.Hour

// redisStoryCache — read-through кэш поверх другого StoryContentSource.
// Одна история читается каждой сессией целиком, кэш снимает эту нагрузку
// с PostgreSQL.
type redisStoryCache struct {
	client *redis.Client
	next   interfaces.StoryContentSource
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStoryCache оборачивает источник контента кэшем в Redis.
func NewRedisStoryCache(client *redis.Client, next interfaces.StoryContentSource, ttl time.Duration, logger *zap.Logger) interfaces.StoryContentSource {
	if ttl <= 0 {
		ttl = DefaultStoryCacheTTL
	}
	return &redisStoryCache{
		client: client,
		next:   next,
		ttl:    ttl,
		logger: logger.Named("RedisStoryCache"),
	}
}

func storyCacheKey(storyID uuid.UUID) string {
	return fmt.Sprintf("story_content:%s", storyID)
}

// GetStory сначала смотрит в кэш; промах или любая ошибка Redis ведут к
// нижележащему источнику — кэш никогда не превращает деградацию Redis в
// отказ чтения.
func (c *redisStoryCache) GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	key := storyCacheKey(storyID)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		story := &models.Story{}
		if jsonErr := json.Unmarshal(raw, story); jsonErr == nil {
			c.logger.Debug("Story cache hit", zap.Stringer("storyID", storyID))
			return story, nil
		}
		// Нечитаемая запись: выбрасываем и идём к источнику.
		c.logger.Warn("Dropping corrupted story cache entry", zap.Stringer("storyID", storyID))
		c.client.Del(ctx, key)
	case errors.Is(err, redis.Nil):
		// промах
	default:
		c.logger.Warn("Story cache read failed, falling back to source", zap.Error(err))
	}

	story, err := c.next.GetStory(ctx, storyID)
	if err != nil {
		return nil, err
	}

	if raw, jsonErr := json.Marshal(story); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, raw, c.ttl).Err(); setErr != nil {
			c.logger.Warn("Failed to cache story", zap.Error(setErr), zap.Stringer("storyID", storyID))
		}
	}
	return story, nil
}
