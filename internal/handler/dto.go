package handler

import (
	"time"

	"novel-reader/internal/models"
	"novel-reader/internal/session"
)

// --- Запросы ---

type selectChoiceRequest struct {
	Chapter int    `json:"chapter"`
	Segment int    `json:"segment"`
	Choice  string `json:"choice" binding:"required"`
}

type unlockChapterRequest struct {
	Chapter int `json:"chapter"`
}

type setCharacterNameRequest struct {
	Name string `json:"name" binding:"required"`
}

// --- Ответы ---

// streamEntryDTO — один элемент ленты чтения в том виде, в котором его
// потребляет мобильный клиент: плоская форма без вложенного union.
type streamEntryDTO struct {
	Key     string   `json:"key"`
	Type    string   `json:"type"`
	Content string   `json:"content,omitempty"`
	Choices []string `json:"choices,omitempty"`
	// Answer заполнен только для отвеченных точек выбора.
	Answer *decisionAnswerDTO `json:"answer,omitempty"`
}

type decisionAnswerDTO struct {
	Choice    string    `json:"choice"`
	Response  string    `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}

type sessionStateResponse struct {
	StoryID        string           `json:"storyId"`
	Title          string           `json:"title"`
	CurrentChapter int              `json:"currentChapter"`
	CharacterName  string           `json:"characterName"`
	CoinBalance    int              `json:"coinBalance"`
	Stream         []streamEntryDTO `json:"stream"`
}

type nextChapterResponse struct {
	Status       string           `json:"status"`
	ChapterIndex int              `json:"chapterIndex,omitempty"`
	UnlockCost   int              `json:"unlockCost,omitempty"`
	Stream       []streamEntryDTO `json:"stream,omitempty"`
}

type unlockChapterResponse struct {
	Chapter     int              `json:"chapter"`
	CoinBalance int              `json:"coinBalance"`
	Stream      []streamEntryDTO `json:"stream"`
}

func toStreamDTO(entries []session.StreamEntry) []streamEntryDTO {
	out := make([]streamEntryDTO, 0, len(entries))
	for _, e := range entries {
		dto := streamEntryDTO{
			Key:  e.Key.String(),
			Type: string(e.Segment.Type),
		}
		switch e.Segment.Type {
		case models.SegmentTypeText:
			dto.Content = e.Content
		case models.SegmentTypeDecision:
			dto.Choices = e.Segment.Decision.Choices
			if e.Answer != nil {
				dto.Answer = &decisionAnswerDTO{
					Choice:    e.Answer.Choice,
					Response:  e.Answer.Response,
					Timestamp: e.Answer.Timestamp,
				}
			}
		}
		out = append(out, dto)
	}
	return out
}

func nextChapterStatusString(status session.NextChapterStatus) string {
	switch status {
	case session.NextChapterAppended:
		return "appended"
	case session.NextChapterLocked:
		return "locked"
	case session.NextChapterEndOfStory:
		return "endOfStory"
	case session.NextChapterBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}
