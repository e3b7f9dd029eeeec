package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"novel-reader/internal/interfaces"
	"novel-reader/internal/models"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.ProgressStore = (*pgProgressStore)(nil)

// pgProgressStore — вариант хранилища прогресса для self-hosted развёртываний
// без Firestore. Атомарность цикла чтение-слияние-запись обеспечивает один
// upsert: история решений сливается оператором jsonb ||, разблокированные
// главы объединяются по множеству на стороне БД.
type pgProgressStore struct {
	pool          *pgxpool.Pool
	freeThreshold int
	logger        *zap.Logger
}

// NewPgProgressStore создаёт хранилище прогресса поверх PostgreSQL.
func NewPgProgressStore(pool *pgxpool.Pool, freeThreshold int, logger *zap.Logger) interfaces.ProgressStore {
	if freeThreshold <= 0 {
		freeThreshold = models.DefaultFreeChapterThreshold
	}
	return &pgProgressStore{
		pool:          pool,
		freeThreshold: freeThreshold,
		logger:        logger.Named("PgProgressStore"),
	}
}

const getReaderProgressQuery = `
SELECT current_chapter, unlocked_chapters, chapter_history, character_name, last_read_at
FROM reader_progress
WHERE user_id = $1 AND story_id = $2`

// mergeReaderProgressQuery: NULL в $3/$5/$6 означает "поле не менять".
// $4 — массив для сидирования нового документа, $7 — только дельта
// разблокировок для слияния с существующим.
const mergeReaderProgressQuery = `
INSERT INTO reader_progress (user_id, story_id, current_chapter, unlocked_chapters, chapter_history, character_name, last_read_at)
VALUES ($1, $2, COALESCE($3, 0), $4, COALESCE($5, '{}'::jsonb), COALESCE($6, ''), now())
ON CONFLICT (user_id, story_id) DO UPDATE SET
    current_chapter   = COALESCE($3, reader_progress.current_chapter),
    unlocked_chapters = ARRAY(SELECT DISTINCT unnest(reader_progress.unlocked_chapters || COALESCE($7::int[], '{}'::int[])) ORDER BY 1),
    chapter_history   = reader_progress.chapter_history || COALESCE($5, '{}'::jsonb),
    character_name    = COALESCE($6, reader_progress.character_name),
    last_read_at      = now()`

// GetProgress читает строку прогресса. pgx.ErrNoRows — подтверждённое
// отсутствие, всё остальное — неоднозначный сбой.
func (s *pgProgressStore) GetProgress(ctx context.Context, userID, storyID uuid.UUID) (*models.ReaderProgress, error) {
	progress := &models.ReaderProgress{UserID: userID, StoryID: storyID}
	var (
		unlocked    pq.Int64Array
		historyJSON []byte
	)

	err := s.pool.QueryRow(ctx, getReaderProgressQuery, userID, storyID).Scan(
		&progress.CurrentChapter,
		&unlocked,
		&historyJSON,
		&progress.CharacterName,
		&progress.LastReadAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrProgressNotFound
		}
		s.logger.Warn("Failed to get reader progress", zap.Error(err),
			zap.Stringer("userID", userID), zap.Stringer("storyID", storyID))
		return nil, fmt.Errorf("get reader progress: %w", err)
	}

	progress.UnlockedChapters = make([]int, len(unlocked))
	for i, v := range unlocked {
		progress.UnlockedChapters[i] = int(v)
	}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &progress.ChapterHistory); err != nil {
			return nil, fmt.Errorf("decode chapter history: %w", err)
		}
	}
	return progress, nil
}

// MergeProgress выполняет слияние дельты одним upsert-запросом.
func (s *pgProgressStore) MergeProgress(ctx context.Context, userID, storyID uuid.UUID, delta models.ProgressDelta) error {
	var historyJSON interface{}
	if len(delta.Decisions) > 0 {
		raw, err := json.Marshal(delta.Decisions)
		if err != nil {
			return fmt.Errorf("encode decision delta: %w", err)
		}
		historyJSON = raw
	}

	// Новый документ сидируется бесплатными главами плюс дельтой.
	seed := models.FreeChapterRange(s.freeThreshold)
	for _, ch := range delta.UnlockChapters {
		seeded := false
		for _, existing := range seed {
			if existing == ch {
				seeded = true
				break
			}
		}
		if !seeded {
			seed = append(seed, ch)
		}
	}

	_, err := s.pool.Exec(ctx, mergeReaderProgressQuery,
		userID,
		storyID,
		delta.CurrentChapter,
		pq.Array(seed),
		historyJSON,
		delta.CharacterName,
		pq.Array(delta.UnlockChapters),
	)
	if err != nil {
		s.logger.Warn("Failed to merge reader progress", zap.Error(err),
			zap.Stringer("userID", userID), zap.Stringer("storyID", storyID))
		return fmt.Errorf("merge reader progress: %w", err)
	}
	return nil
}

// MarkChapterUnlocked отражает купленную главу в поле unlocked_chapters.
func (s *pgProgressStore) MarkChapterUnlocked(ctx context.Context, userID, storyID uuid.UUID, chapterIndex int) error {
	return s.MergeProgress(ctx, userID, storyID, models.ProgressDelta{
		UnlockChapters: []int{chapterIndex},
	})
}
