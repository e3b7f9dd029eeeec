package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DecisionKey — адресуемая идентичность точки выбора во всей истории:
// индекс главы плюс индекс сегмента внутри главы.
type DecisionKey struct {
	Chapter int
	Segment int
}

// String возвращает ключ в формате "глава_сегмент" — в этом виде ключ
// хранится в карте chapterHistory удалённого документа прогресса.
func (k DecisionKey) String() string {
	return fmt.Sprintf("%d_%d", k.Chapter, k.Segment)
}

// ParseDecisionKey разбирает строковый ключ из удалённого документа.
func ParseDecisionKey(s string) (DecisionKey, error) {
	parts := strings.SplitN(s, "_", 2)
	if len(parts) != 2 {
		return DecisionKey{}, fmt.Errorf("malformed decision key %q", s)
	}
	chapter, err := strconv.Atoi(parts[0])
	if err != nil {
		return DecisionKey{}, fmt.Errorf("malformed decision key %q: %w", s, err)
	}
	segment, err := strconv.Atoi(parts[1])
	if err != nil {
		return DecisionKey{}, fmt.Errorf("malformed decision key %q: %w", s, err)
	}
	if chapter < 0 || segment < 0 {
		return DecisionKey{}, fmt.Errorf("malformed decision key %q: negative index", s)
	}
	return DecisionKey{Chapter: chapter, Segment: segment}, nil
}

// DecisionRecord — сделанный выбор и текст ответа на него.
// Инвариант: запись по ключу неизменяема на время сессии, выбор нельзя отозвать.
type DecisionRecord struct {
	Choice    string    `json:"choice" firestore:"choice"`
	Response  string    `json:"response" firestore:"response"`
	Timestamp time.Time `json:"timestamp" firestore:"timestamp"`
}

// ReaderProgress — удалённый документ прогресса читателя по одной истории.
// Ключ документа — пара (userId, storyId).
type ReaderProgress struct {
	UserID           uuid.UUID                 `json:"userId" firestore:"-"`
	StoryID          uuid.UUID                 `json:"storyId" firestore:"-"`
	CurrentChapter   int                       `json:"currentChapter" firestore:"currentChapter"`
	UnlockedChapters []int                     `json:"unlockedChapters" firestore:"unlockedChapters"`
	ChapterHistory   map[string]DecisionRecord `json:"chapterHistory" firestore:"chapterHistory"`
	CharacterName    string                    `json:"characterName" firestore:"characterName"`
	LastReadAt       time.Time                 `json:"lastReadAt" firestore:"lastReadAt"`
}

// ProgressDelta — локальное изменение прогресса, подлежащее слиянию с
// удалённым документом. nil-поля означают "не трогать" соответствующее
// поле документа; карты и списки сливаются, а не перезаписываются.
type ProgressDelta struct {
	CurrentChapter *int
	CharacterName  *string
	Decisions      map[string]DecisionRecord
	UnlockChapters []int
}

// IsEmpty сообщает, что дельта не несёт никаких изменений.
func (d *ProgressDelta) IsEmpty() bool {
	return d.CurrentChapter == nil && d.CharacterName == nil &&
		len(d.Decisions) == 0 && len(d.UnlockChapters) == 0
}

// Merge вливает other поверх d: позднее значение скалярных полей побеждает,
// решения и разблокировки объединяются. Используется реконсилятором для
// накопления неотправленных дельт после сбоя персистенции.
func (d *ProgressDelta) Merge(other ProgressDelta) {
	if other.CurrentChapter != nil {
		d.CurrentChapter = other.CurrentChapter
	}
	if other.CharacterName != nil {
		d.CharacterName = other.CharacterName
	}
	if len(other.Decisions) > 0 {
		if d.Decisions == nil {
			d.Decisions = make(map[string]DecisionRecord, len(other.Decisions))
		}
		for k, rec := range other.Decisions {
			// first-write-wins действует и здесь: уже накопленная запись
			// по ключу не затирается повторной.
			if _, exists := d.Decisions[k]; !exists {
				d.Decisions[k] = rec
			}
		}
	}
	for _, ch := range other.UnlockChapters {
		if !containsInt(d.UnlockChapters, ch) {
			d.UnlockChapters = append(d.UnlockChapters, ch)
		}
	}
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

// FreeChapterRange возвращает индексы заранее разблокированных бесплатных глав
// для сидирования нового документа прогресса.
func FreeChapterRange(threshold int) []int {
	if threshold <= 0 {
		return nil
	}
	out := make([]int, threshold)
	for i := range out {
		out[i] = i
	}
	return out
}
