package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"novel-reader/internal/interfaces"
	"novel-reader/internal/models"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.StoryContentSource = (*pgStoryRepository)(nil)

type pgStoryRepository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgStoryRepository создаёт источник контента историй поверх PostgreSQL.
// Главы хранятся одним jsonb-документом: контент неизменяем после
// публикации, пословный доступ не нужен.
func NewPgStoryRepository(pool *pgxpool.Pool, logger *zap.Logger) interfaces.StoryContentSource {
	return &pgStoryRepository{
		pool:   pool,
		logger: logger.Named("PgStoryRepo"),
	}
}

const getStoryQuery = `
SELECT id, title, author, cover_image_url, description, default_character_name,
       free_chapter_threshold, unlock_cost, chapters, created_at, updated_at
FROM stories
WHERE id = $1`

// GetStory возвращает опубликованную историю целиком.
func (r *pgStoryRepository) GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error) {
	story := &models.Story{}
	var chaptersJSON []byte

	err := r.pool.QueryRow(ctx, getStoryQuery, storyID).Scan(
		&story.ID,
		&story.Title,
		&story.Author,
		&story.CoverImageURL,
		&story.Description,
		&story.DefaultCharacterName,
		&story.FreeChapterThreshold,
		&story.UnlockCost,
		&chaptersJSON,
		&story.CreatedAt,
		&story.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.Debug("Story not found", zap.Stringer("storyID", storyID))
			return nil, models.ErrStoryNotFound
		}
		r.logger.Error("Failed to get story", zap.Error(err), zap.Stringer("storyID", storyID))
		return nil, fmt.Errorf("ошибка загрузки истории: %w", err)
	}

	if err := json.Unmarshal(chaptersJSON, &story.Chapters); err != nil {
		// Битые главы в БД — ошибка контента, а не транспорта: ретраи бесполезны.
		r.logger.Error("Failed to decode story chapters", zap.Error(err), zap.Stringer("storyID", storyID))
		return nil, fmt.Errorf("%w: chapters payload: %v", models.ErrContentInvalid, err)
	}
	return story, nil
}
