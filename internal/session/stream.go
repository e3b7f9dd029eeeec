package session

import (
	"fmt"

	"go.uber.org/zap"

	"novel-reader/internal/models"
)

// StreamEntry — один элемент отображаемого потока: сегмент плюс, для точек
// выбора, запись о сделанном выборе (nil, пока выбор не сделан).
type StreamEntry struct {
	Key     models.DecisionKey
	Segment models.Segment
	// Content — готовый к показу текст для текстовых сегментов,
	// с уже подставленным именем персонажа.
	Content string
	// Answer заполнен для отвеченных точек выбора.
	Answer *models.DecisionRecord
}

// IsDecision сообщает, является ли элемент точкой выбора.
func (e *StreamEntry) IsDecision() bool {
	return e.Segment.Type == models.SegmentTypeDecision
}

// AppendStatus описывает, чем закончилось добавление главы в поток.
type AppendStatus int

const (
	// AppendNoop — глава уже была добавлена ранее.
	AppendNoop AppendStatus = iota
	// AppendHalted — поток остановлен на первой неотвеченной точке выбора.
	AppendHalted
	// AppendChapterComplete — глава выложена целиком, следующей главы нет.
	AppendChapterComplete
	// AppendNextAvailable — глава выложена целиком и есть следующая глава.
	AppendNextAvailable
)

// AppendResult — результат AppendChapter/ResolveDecision.
type AppendResult struct {
	Status AppendStatus
	// HaltedAt указывает неотвеченную точку выбора при Status==AppendHalted.
	HaltedAt *models.DecisionKey
}

// StreamBuilder разворачивает главы истории в плоский отображаемый поток.
// Единственное условие остановки посреди главы — неотвеченная точка выбора.
// Создаётся только от уже гидрированной истории решений: это API-гарантия
// порядка "load progress → hydrate → build", без неё ранее отвеченные
// решения заблокировали бы поток.
type StreamBuilder struct {
	story         *models.Story
	history       *DecisionHistory
	characterName string
	logger        *zap.Logger

	entries []StreamEntry
	// cursors[c] — индекс следующего невыложенного сегмента главы c.
	cursors map[int]int
	// appended защищает AppendChapter от дублирования главы.
	appended map[int]bool
	// complete[c] — глава выложена до конца.
	complete map[int]bool
	// pending — текущая блокирующая точка выбора, если есть.
	pending *models.DecisionKey
}

// NewStreamBuilder создаёт построитель потока. Возвращает ошибку, если история
// решений ещё не гидрирована — построение потока до гидрации это гонка,
// которую мы запрещаем на уровне конструктора.
func NewStreamBuilder(story *models.Story, history *DecisionHistory, characterName string, logger *zap.Logger) (*StreamBuilder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if story == nil {
		return nil, fmt.Errorf("%w: nil story", models.ErrContentInvalid)
	}
	if history == nil || !history.Hydrated() {
		return nil, models.ErrHistoryNotHydrated
	}
	return &StreamBuilder{
		story:         story,
		history:       history,
		characterName: characterName,
		logger:        logger.Named("StreamBuilder"),
		cursors:       make(map[int]int),
		appended:      make(map[int]bool),
		complete:      make(map[int]bool),
	}, nil
}

// SetCharacterName меняет имя персонажа. Уже выложенные текстовые сегменты
// перерендериваются: глава 0 выкладывается при открытии сессии, то есть до
// того, как читатель успел ввести имя. Пустое имя допустимо: тогда
// используется имя из контента истории.
func (b *StreamBuilder) SetCharacterName(name string) {
	b.characterName = name
	if name == "" {
		name = b.story.DefaultCharacterName
	}
	for i := range b.entries {
		if b.entries[i].Segment.Type == models.SegmentTypeText {
			b.entries[i].Content = b.entries[i].Segment.Text.Render(name)
		}
	}
}

// Entries возвращает снимок текущего видимого потока. Внутренний срез
// мутируется при ResolveDecision и advance, поэтому наружу уходит копия.
func (b *StreamBuilder) Entries() []StreamEntry {
	out := make([]StreamEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// PendingDecision возвращает блокирующую точку выбора, если поток остановлен.
func (b *StreamBuilder) PendingDecision() (models.DecisionKey, bool) {
	if b.pending == nil {
		return models.DecisionKey{}, false
	}
	return *b.pending, true
}

// ChapterComplete сообщает, выложена ли глава целиком.
func (b *StreamBuilder) ChapterComplete(chapterIndex int) bool {
	return b.complete[chapterIndex]
}

// AppendChapter добавляет сегменты главы в поток. Повторный вызов для уже
// добавленной главы — no-op (проверяется до любых мутаций). Глава без
// сегментов — ошибка контента.
func (b *StreamBuilder) AppendChapter(chapterIndex int) (AppendResult, error) {
	if chapterIndex < 0 || chapterIndex >= len(b.story.Chapters) {
		return AppendResult{}, fmt.Errorf("%w: chapter %d of %d", models.ErrChapterOutOfRange, chapterIndex, len(b.story.Chapters))
	}
	if b.appended[chapterIndex] {
		b.logger.Debug("Chapter already appended, skipping", zap.Int("chapter", chapterIndex))
		return AppendResult{Status: AppendNoop}, nil
	}
	if len(b.story.Chapters[chapterIndex].Segments) == 0 {
		return AppendResult{}, fmt.Errorf("%w: chapter %d has no segments", models.ErrContentInvalid, chapterIndex)
	}
	b.appended[chapterIndex] = true
	return b.advance(chapterIndex)
}

// ResolveDecision аннотирует уже выложенную точку выбора записью о выборе и
// продолжает выкладку главы со следующего сегмента.
func (b *StreamBuilder) ResolveDecision(key models.DecisionKey, rec models.DecisionRecord) (AppendResult, error) {
	if !b.appended[key.Chapter] {
		return AppendResult{}, fmt.Errorf("%w: chapter %d is not in the stream", models.ErrChapterOutOfRange, key.Chapter)
	}
	// Ищем с конца: блокирующая точка выбора всегда ближе к хвосту потока.
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Key == key && b.entries[i].IsDecision() {
			if b.entries[i].Answer == nil {
				recCopy := rec
				b.entries[i].Answer = &recCopy
			}
			break
		}
	}
	if b.pending != nil && *b.pending == key {
		b.pending = nil
	}
	return b.advance(key.Chapter)
}

// advance выкладывает сегменты главы начиная с текущего курсора до конца
// главы или до первой неотвеченной точки выбора.
func (b *StreamBuilder) advance(chapterIndex int) (AppendResult, error) {
	chapter := b.story.Chapters[chapterIndex]
	name := b.characterName
	if name == "" {
		name = b.story.DefaultCharacterName
	}

	for i := b.cursors[chapterIndex]; i < len(chapter.Segments); i++ {
		seg := chapter.Segments[i]
		key := models.DecisionKey{Chapter: chapterIndex, Segment: i}

		switch seg.Type {
		case models.SegmentTypeText:
			b.entries = append(b.entries, StreamEntry{
				Key:     key,
				Segment: seg,
				Content: seg.Text.Render(name),
			})
			b.cursors[chapterIndex] = i + 1

		case models.SegmentTypeDecision:
			entry := StreamEntry{Key: key, Segment: seg}
			if rec, answered := b.history.Answer(key); answered {
				// Отвеченная точка выбора никогда не блокирует поток.
				entry.Answer = &rec
				b.entries = append(b.entries, entry)
				b.cursors[chapterIndex] = i + 1
				continue
			}
			b.entries = append(b.entries, entry)
			b.cursors[chapterIndex] = i + 1
			b.pending = &key
			b.logger.Debug("Stream halted at unanswered decision", zap.String("key", key.String()))
			return AppendResult{Status: AppendHalted, HaltedAt: &key}, nil

		default:
			// Валидация контента отсекает такие сегменты раньше, но молча
			// пропускать их здесь нельзя: курсор бы не сдвинулся и сегмент
			// обрабатывался бы заново при каждом advance.
			return AppendResult{}, fmt.Errorf("%w: chapter %d segment %d has unknown type %q",
				models.ErrContentInvalid, chapterIndex, i, seg.Type)
		}
	}

	b.complete[chapterIndex] = true
	if chapterIndex+1 < len(b.story.Chapters) {
		return AppendResult{Status: AppendNextAvailable}, nil
	}
	return AppendResult{Status: AppendChapterComplete}, nil
}
