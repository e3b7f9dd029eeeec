package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Значения по умолчанию для экономики истории. Могут быть переопределены
// для конкретной истории в её конфигурации (поля Story ниже).
const (
	DefaultFreeChapterThreshold = 5
	DefaultUnlockCost           = 5
)

// SegmentType определяет вид сегмента главы.
type SegmentType string

const (
	SegmentTypeText     SegmentType = "text"
	SegmentTypeDecision SegmentType = "decisionPoint"
)

// characterNamePlaceholders — синонимичные маркеры в тексте сегмента,
// которые заменяются на выбранное читателем имя персонажа.
var characterNamePlaceholders = []string{"{playerName}", "{characterName}", "%name%"}

// Story — неизменяемое представление опубликованной истории.
// Загружается один раз на сессию чтения и после этого не мутируется.
type Story struct {
	ID                   uuid.UUID `json:"id"`
	Title                string    `json:"title"`
	Author               string    `json:"author"`
	CoverImageURL        string    `json:"coverImageUrl,omitempty"`
	Description          string    `json:"description,omitempty"`
	DefaultCharacterName string    `json:"defaultCharacterName,omitempty"`
	// FreeChapterThreshold и UnlockCost — настройки экономики конкретной
	// истории. Ноль означает "использовать значение по умолчанию".
	FreeChapterThreshold int       `json:"freeChapterThreshold,omitempty"`
	UnlockCost           int       `json:"unlockCost,omitempty"`
	Chapters             []Chapter `json:"chapters"`
	CreatedAt            time.Time `json:"createdAt,omitempty"`
	UpdatedAt            time.Time `json:"updatedAt,omitempty"`
}

// FreeChapters возвращает порог бесплатных глав с учётом значения по умолчанию.
func (s *Story) FreeChapters() int {
	if s.FreeChapterThreshold > 0 {
		return s.FreeChapterThreshold
	}
	return DefaultFreeChapterThreshold
}

// ChapterUnlockCost возвращает стоимость разблокировки главы в монетах.
func (s *Story) ChapterUnlockCost() int {
	if s.UnlockCost > 0 {
		return s.UnlockCost
	}
	return DefaultUnlockCost
}

// Validate проверяет, что контент истории пригоден для чтения.
// Пустая история или глава без сегментов — ошибка контента, а не пустой поток.
func (s *Story) Validate() error {
	if len(s.Chapters) == 0 {
		return fmt.Errorf("%w: story %s has no chapters", ErrContentInvalid, s.ID)
	}
	for i, ch := range s.Chapters {
		if len(ch.Segments) == 0 {
			return fmt.Errorf("%w: chapter %d (%q) has no segments", ErrContentInvalid, i, ch.Title)
		}
		for j, seg := range ch.Segments {
			if err := seg.validate(); err != nil {
				return fmt.Errorf("%w: chapter %d segment %d: %v", ErrContentInvalid, i, j, err)
			}
		}
	}
	return nil
}

// Chapter — упорядоченный список сегментов. Идентичность главы для прогресса —
// её индекс внутри Story.Chapters (с нуля).
type Chapter struct {
	ID       string    `json:"id,omitempty"`
	Title    string    `json:"title"`
	Segments []Segment `json:"segments"`
}

// Segment — размеченное объединение: либо текстовый блок, либо точка выбора.
// Ровно одно из полей Text/Decision не равно nil, в соответствии с Type.
type Segment struct {
	Type     SegmentType
	Text     *TextSegment
	Decision *DecisionSegment
}

// TextSegment — текстовый блок повествования.
type TextSegment struct {
	Content string `json:"content"`
}

// Render возвращает текст сегмента с подставленным именем персонажа.
func (t *TextSegment) Render(characterName string) string {
	out := t.Content
	for _, placeholder := range characterNamePlaceholders {
		out = strings.ReplaceAll(out, placeholder, characterName)
	}
	return out
}

// DecisionSegment — точка выбора с фиксированными ответами.
type DecisionSegment struct {
	Choices   []string          `json:"choices"`
	Responses map[string]string `json:"responses,omitempty"`
}

// ResponseFor возвращает текст ответа для выбранного варианта.
// Если ответ не задан в контенте, синтезируется дефолтный — ответ никогда
// не остаётся пустым.
func (d *DecisionSegment) ResponseFor(choice string) string {
	if resp, ok := d.Responses[choice]; ok && resp != "" {
		return resp
	}
	return fmt.Sprintf("You chose: %s", choice)
}

// HasChoice проверяет, что вариант действительно есть в точке выбора.
func (d *DecisionSegment) HasChoice(choice string) bool {
	for _, c := range d.Choices {
		if c == choice {
			return true
		}
	}
	return false
}

func (s *Segment) validate() error {
	switch s.Type {
	case SegmentTypeText:
		if s.Text == nil {
			return fmt.Errorf("text segment has no payload")
		}
	case SegmentTypeDecision:
		if s.Decision == nil {
			return fmt.Errorf("decision segment has no payload")
		}
		if len(s.Decision.Choices) == 0 {
			return fmt.Errorf("decision segment has no choices")
		}
	default:
		return fmt.Errorf("unknown segment type %q", s.Type)
	}
	return nil
}

// segmentJSON — промежуточная форма для (де)сериализации Segment.
// В хранилище сегмент лежит плоско: {"type": "...", поля обоих вариантов}.
type segmentJSON struct {
	Type      SegmentType       `json:"type"`
	Content   string            `json:"content,omitempty"`
	Choices   []string          `json:"choices,omitempty"`
	Responses map[string]string `json:"responses,omitempty"`
}

// UnmarshalJSON разбирает плоскую форму сегмента в размеченное объединение.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var raw segmentJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch raw.Type {
	case SegmentTypeText:
		s.Type = SegmentTypeText
		s.Text = &TextSegment{Content: raw.Content}
		s.Decision = nil
	case SegmentTypeDecision:
		s.Type = SegmentTypeDecision
		s.Decision = &DecisionSegment{Choices: raw.Choices, Responses: raw.Responses}
		s.Text = nil
	default:
		return fmt.Errorf("unknown segment type %q", raw.Type)
	}
	return nil
}

// MarshalJSON сериализует сегмент обратно в плоскую форму.
func (s Segment) MarshalJSON() ([]byte, error) {
	raw := segmentJSON{Type: s.Type}
	switch s.Type {
	case SegmentTypeText:
		if s.Text != nil {
			raw.Content = s.Text.Content
		}
	case SegmentTypeDecision:
		if s.Decision != nil {
			raw.Choices = s.Decision.Choices
			raw.Responses = s.Decision.Responses
		}
	default:
		return nil, fmt.Errorf("unknown segment type %q", s.Type)
	}
	return json.Marshal(raw)
}

// NewTextSegment — конструктор текстового сегмента (удобно в тестах и сидерах).
func NewTextSegment(content string) Segment {
	return Segment{Type: SegmentTypeText, Text: &TextSegment{Content: content}}
}

// NewDecisionSegment — конструктор точки выбора.
func NewDecisionSegment(choices []string, responses map[string]string) Segment {
	return Segment{Type: SegmentTypeDecision, Decision: &DecisionSegment{Choices: choices, Responses: responses}}
}
