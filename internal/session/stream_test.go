package session

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-reader/internal/models"
)

// testStory собирает историю из двух глав: глава 0 содержит точку выбора
// на позиции 2, глава 1 — чисто текстовая.
func testStory() *models.Story {
	return &models.Story{
		ID:                   uuid.New(),
		Title:                "The Lighthouse",
		DefaultCharacterName: "Alex",
		Chapters: []models.Chapter{
			{
				Title: "Arrival",
				Segments: []models.Segment{
					models.NewTextSegment("{playerName} stepped off the boat."),
					models.NewTextSegment("The lighthouse loomed ahead."),
					models.NewDecisionSegment(
						[]string{"left", "right"},
						map[string]string{"left": "The left path was muddy."},
					),
					models.NewTextSegment("The path continued."),
					models.NewTextSegment("Night fell."),
				},
			},
			{
				Title: "The Keeper",
				Segments: []models.Segment{
					models.NewTextSegment("The keeper was waiting."),
				},
			},
		},
	}
}

func hydratedHistory(t *testing.T, remote map[string]models.DecisionRecord) *DecisionHistory {
	t.Helper()
	h := NewDecisionHistory(zap.NewNop())
	require.NoError(t, h.Hydrate(remote))
	return h
}

func TestStreamBuilderRequiresHydratedHistory(t *testing.T) {
	// Построение потока до гидрации — самая опасная гонка всей системы,
	// конструктор обязан её отвергать.
	_, err := NewStreamBuilder(testStory(), NewDecisionHistory(zap.NewNop()), "", zap.NewNop())
	assert.ErrorIs(t, err, models.ErrHistoryNotHydrated)
}

func TestStreamBuilderAppendChapter(t *testing.T) {
	t.Run("Halts at first unanswered decision", func(t *testing.T) {
		b, err := NewStreamBuilder(testStory(), hydratedHistory(t, nil), "", zap.NewNop())
		require.NoError(t, err)

		res, err := b.AppendChapter(0)
		require.NoError(t, err)
		assert.Equal(t, AppendHalted, res.Status)
		require.NotNil(t, res.HaltedAt)
		assert.Equal(t, models.DecisionKey{Chapter: 0, Segment: 2}, *res.HaltedAt)

		// Ничего после неотвеченной точки выбора в потоке нет.
		entries := b.Entries()
		require.Len(t, entries, 3)
		assert.True(t, entries[2].IsDecision())
		assert.Nil(t, entries[2].Answer)

		pending, ok := b.PendingDecision()
		assert.True(t, ok)
		assert.Equal(t, models.DecisionKey{Chapter: 0, Segment: 2}, pending)
	})

	t.Run("Append is idempotent", func(t *testing.T) {
		b, err := NewStreamBuilder(testStory(), hydratedHistory(t, nil), "", zap.NewNop())
		require.NoError(t, err)

		_, err = b.AppendChapter(0)
		require.NoError(t, err)
		res, err := b.AppendChapter(0)
		require.NoError(t, err)
		assert.Equal(t, AppendNoop, res.Status)
		assert.Len(t, b.Entries(), 3) // сегменты не задублированы
	})

	t.Run("Hydrated answer does not block the stream", func(t *testing.T) {
		history := hydratedHistory(t, map[string]models.DecisionRecord{
			"0_2": {Choice: "left", Response: "The left path was muddy."},
		})
		b, err := NewStreamBuilder(testStory(), history, "", zap.NewNop())
		require.NoError(t, err)

		res, err := b.AppendChapter(0)
		require.NoError(t, err)
		assert.Equal(t, AppendNextAvailable, res.Status)

		entries := b.Entries()
		require.Len(t, entries, 5)
		require.NotNil(t, entries[2].Answer)
		assert.Equal(t, "left", entries[2].Answer.Choice)
		assert.True(t, b.ChapterComplete(0))
	})

	t.Run("Resolve resumes the chapter", func(t *testing.T) {
		history := hydratedHistory(t, nil)
		b, err := NewStreamBuilder(testStory(), history, "", zap.NewNop())
		require.NoError(t, err)

		_, err = b.AppendChapter(0)
		require.NoError(t, err)

		key := models.DecisionKey{Chapter: 0, Segment: 2}
		seg := testStory().Chapters[0].Segments[2].Decision
		rec, created, err := history.RecordChoice(key, seg, "right")
		require.NoError(t, err)
		require.True(t, created)

		res, err := b.ResolveDecision(key, rec)
		require.NoError(t, err)
		assert.Equal(t, AppendNextAvailable, res.Status)

		entries := b.Entries()
		require.Len(t, entries, 5)
		require.NotNil(t, entries[2].Answer)
		assert.Equal(t, "You chose: right", entries[2].Answer.Response)
		_, pending := b.PendingDecision()
		assert.False(t, pending)
	})

	t.Run("Last chapter completion has no next", func(t *testing.T) {
		history := hydratedHistory(t, map[string]models.DecisionRecord{
			"0_2": {Choice: "left"},
		})
		b, err := NewStreamBuilder(testStory(), history, "", zap.NewNop())
		require.NoError(t, err)

		_, err = b.AppendChapter(0)
		require.NoError(t, err)
		res, err := b.AppendChapter(1)
		require.NoError(t, err)
		assert.Equal(t, AppendChapterComplete, res.Status)
	})

	t.Run("Empty chapter fails with content error", func(t *testing.T) {
		story := testStory()
		story.Chapters = append(story.Chapters, models.Chapter{Title: "Broken"})
		b, err := NewStreamBuilder(story, hydratedHistory(t, nil), "", zap.NewNop())
		require.NoError(t, err)

		_, err = b.AppendChapter(2)
		assert.ErrorIs(t, err, models.ErrContentInvalid)
	})

	t.Run("Unknown segment type fails with content error", func(t *testing.T) {
		story := testStory()
		story.Chapters = append(story.Chapters, models.Chapter{
			Title:    "Corrupted",
			Segments: []models.Segment{{Type: "video"}},
		})
		b, err := NewStreamBuilder(story, hydratedHistory(t, nil), "", zap.NewNop())
		require.NoError(t, err)

		_, err = b.AppendChapter(2)
		assert.ErrorIs(t, err, models.ErrContentInvalid)
	})

	t.Run("Out of range chapter", func(t *testing.T) {
		b, err := NewStreamBuilder(testStory(), hydratedHistory(t, nil), "", zap.NewNop())
		require.NoError(t, err)

		_, err = b.AppendChapter(99)
		assert.ErrorIs(t, err, models.ErrChapterOutOfRange)
	})
}

func TestStreamBuilderCharacterName(t *testing.T) {
	t.Run("Explicit name is substituted", func(t *testing.T) {
		b, err := NewStreamBuilder(testStory(), hydratedHistory(t, nil), "Max", zap.NewNop())
		require.NoError(t, err)

		_, err = b.AppendChapter(0)
		require.NoError(t, err)
		assert.Equal(t, "Max stepped off the boat.", b.Entries()[0].Content)
	})

	t.Run("Falls back to story default name", func(t *testing.T) {
		b, err := NewStreamBuilder(testStory(), hydratedHistory(t, nil), "", zap.NewNop())
		require.NoError(t, err)

		_, err = b.AppendChapter(0)
		require.NoError(t, err)
		assert.Equal(t, "Alex stepped off the boat.", b.Entries()[0].Content)
	})
}
