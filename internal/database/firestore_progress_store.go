package database

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"novel-reader/internal/interfaces"
	"novel-reader/internal/models"
)

// Compile-time check to ensure implementation satisfies the interface.
var _ interfaces.ProgressStore = (*firestoreProgressStore)(nil)

const progressCollection = "reader_progress"

// firestoreProgressStore хранит документ прогресса читателя в Firestore.
// Документ на пару (userId, storyId); цикл чтение-слияние-запись выполняется
// внутри транзакции Firestore, так что конкурентные записи с двух устройств
// не теряют чужие ключи. Межустройственной блокировки нет, на уровне
// отдельных полей действует last-write-wins — это принятая модель.
type firestoreProgressStore struct {
	client        *firestore.Client
	freeThreshold int
	logger        *zap.Logger
}

// NewFirestoreProgressStore создаёт хранилище прогресса поверх Firestore.
// freeThreshold нужен для сидирования нового документа: бесплатные главы
// записываются заранее разблокированными.
func NewFirestoreProgressStore(client *firestore.Client, freeThreshold int, logger *zap.Logger) interfaces.ProgressStore {
	if freeThreshold <= 0 {
		freeThreshold = models.DefaultFreeChapterThreshold
	}
	return &firestoreProgressStore{
		client:        client,
		freeThreshold: freeThreshold,
		logger:        logger.Named("FirestoreProgressStore"),
	}
}

func (s *firestoreProgressStore) doc(userID, storyID uuid.UUID) *firestore.DocumentRef {
	return s.client.Collection(progressCollection).Doc(fmt.Sprintf("%s_%s", userID, storyID))
}

// GetProgress читает документ прогресса. ErrProgressNotFound возвращается
// только на подтверждённый codes.NotFound: таймаут или обрыв — обычная
// ошибка, стартовать читателя с нуля по ней нельзя.
func (s *firestoreProgressStore) GetProgress(ctx context.Context, userID, storyID uuid.UUID) (*models.ReaderProgress, error) {
	snap, err := s.doc(userID, storyID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, models.ErrProgressNotFound
		}
		s.logger.Warn("Failed to get reader progress", zap.Error(err),
			zap.Stringer("userID", userID), zap.Stringer("storyID", storyID))
		return nil, fmt.Errorf("get reader progress: %w", err)
	}

	progress := &models.ReaderProgress{}
	if err := snap.DataTo(progress); err != nil {
		return nil, fmt.Errorf("decode reader progress: %w", err)
	}
	progress.UserID = userID
	progress.StoryID = storyID
	return progress, nil
}

// MergeProgress сливает дельту в документ внутри транзакции: решения
// добавляются по ключам, не затрагивая чужие, разблокировки объединяются
// через ArrayUnion, скалярные поля пишутся только если присутствуют в
// дельте. Отсутствующий документ создаётся с дефолтами.
func (s *firestoreProgressStore) MergeProgress(ctx context.Context, userID, storyID uuid.UUID, delta models.ProgressDelta) error {
	ref := s.doc(userID, storyID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		_, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) != codes.NotFound {
				return err
			}
			return tx.Set(ref, s.seedDocument(delta))
		}

		updates := []firestore.Update{
			{Path: "lastReadAt", Value: firestore.ServerTimestamp},
		}
		if delta.CurrentChapter != nil {
			updates = append(updates, firestore.Update{Path: "currentChapter", Value: *delta.CurrentChapter})
		}
		if delta.CharacterName != nil {
			updates = append(updates, firestore.Update{Path: "characterName", Value: *delta.CharacterName})
		}
		for key, rec := range delta.Decisions {
			updates = append(updates, firestore.Update{
				FieldPath: firestore.FieldPath{"chapterHistory", key},
				Value:     rec,
			})
		}
		if len(delta.UnlockChapters) > 0 {
			values := make([]interface{}, len(delta.UnlockChapters))
			for i, ch := range delta.UnlockChapters {
				values[i] = ch
			}
			updates = append(updates, firestore.Update{
				Path:  "unlockedChapters",
				Value: firestore.ArrayUnion(values...),
			})
		}
		return tx.Update(ref, updates)
	})
	if err != nil {
		s.logger.Warn("Failed to merge reader progress", zap.Error(err),
			zap.Stringer("userID", userID), zap.Stringer("storyID", storyID))
		return fmt.Errorf("merge reader progress: %w", err)
	}
	return nil
}

// MarkChapterUnlocked — удалённая отметка купленной главы. Выражается через
// то же атомарное слияние: разблокировки живут в поле unlockedChapters
// документа прогресса.
func (s *firestoreProgressStore) MarkChapterUnlocked(ctx context.Context, userID, storyID uuid.UUID, chapterIndex int) error {
	return s.MergeProgress(ctx, userID, storyID, models.ProgressDelta{
		UnlockChapters: []int{chapterIndex},
	})
}

// seedDocument собирает новый документ прогресса: бесплатные главы заранее
// разблокированы, история решений пуста, поверх — переданная дельта.
func (s *firestoreProgressStore) seedDocument(delta models.ProgressDelta) map[string]interface{} {
	currentChapter := 0
	if delta.CurrentChapter != nil {
		currentChapter = *delta.CurrentChapter
	}
	characterName := ""
	if delta.CharacterName != nil {
		characterName = *delta.CharacterName
	}
	unlocked := models.FreeChapterRange(s.freeThreshold)
	for _, ch := range delta.UnlockChapters {
		found := false
		for _, existing := range unlocked {
			if existing == ch {
				found = true
				break
			}
		}
		if !found {
			unlocked = append(unlocked, ch)
		}
	}
	history := make(map[string]models.DecisionRecord, len(delta.Decisions))
	for k, rec := range delta.Decisions {
		history[k] = rec
	}
	return map[string]interface{}{
		"currentChapter":   currentChapter,
		"characterName":    characterName,
		"unlockedChapters": unlocked,
		"chapterHistory":   history,
		"lastReadAt":       firestore.ServerTimestamp,
	}
}
