package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-reader/internal/interfaces/mocks"
	"novel-reader/internal/models"
)

// sixChapterStory — история из шести глав, порог бесплатных — пять;
// глава 5 платная. Главы текстовые, кроме точки выбора в главе 0.
func sixChapterStory(storyID uuid.UUID) *models.Story {
	chapters := make([]models.Chapter, 6)
	for i := range chapters {
		chapters[i] = models.Chapter{
			Title: "Chapter",
			Segments: []models.Segment{
				models.NewTextSegment("Some narrative text."),
			},
		}
	}
	chapters[0].Segments = []models.Segment{
		models.NewTextSegment("Hello, {playerName}."),
		models.NewDecisionSegment([]string{"stay", "leave"}, map[string]string{"stay": "You stayed."}),
	}
	return &models.Story{
		ID:                   storyID,
		Title:                "Paid Story",
		DefaultCharacterName: "Sam",
		FreeChapterThreshold: 5,
		UnlockCost:           5,
		Chapters:             chapters,
	}
}

type sessionFixture struct {
	content *mocks.StoryContentSource
	store   *mocks.ProgressStore
	ledger  *mocks.CoinLedger
	prov    *mocks.SessionProvider
	userID  uuid.UUID
	storyID uuid.UUID
}

func newFixture(t *testing.T) *sessionFixture {
	t.Helper()
	return &sessionFixture{
		content: new(mocks.StoryContentSource),
		store:   new(mocks.ProgressStore),
		ledger:  new(mocks.CoinLedger),
		prov:    authedSession(uuid.New()),
		storyID: uuid.New(),
	}
}

func (f *sessionFixture) deps() Dependencies {
	return Dependencies{
		Content:  f.content,
		Progress: f.store,
		Ledger:   f.ledger,
		Session:  f.prov,
		Logger:   zap.NewNop(),
	}
}

func (f *sessionFixture) userIDFromProv() uuid.UUID {
	id, _ := f.prov.CurrentUserID()
	return id
}

func TestOpenSession(t *testing.T) {
	ctx := context.Background()

	t.Run("Fresh session builds chapter zero", func(t *testing.T) {
		f := newFixture(t)
		f.content.On("GetStory", ctx, f.storyID).Return(sixChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", ctx, f.userIDFromProv(), f.storyID).
			Return(nil, models.ErrProgressNotFound).Once()
		f.ledger.On("Balance", ctx, f.userIDFromProv()).Return(3, nil).Once()

		s, err := Open(ctx, f.deps(), f.storyID)
		require.NoError(t, err)
		assert.Equal(t, 0, s.CurrentChapter())
		assert.Equal(t, 3, s.CoinBalance())
		// Глава 0 выложена до точки выбора включительно.
		assert.Len(t, s.GetVisibleStream(), 2)
	})

	t.Run("Remote progress is reconciled before stream build", func(t *testing.T) {
		f := newFixture(t)
		f.content.On("GetStory", ctx, f.storyID).Return(sixChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", ctx, f.userIDFromProv(), f.storyID).Return(&models.ReaderProgress{
			CurrentChapter: 2,
			ChapterHistory: map[string]models.DecisionRecord{
				"0_1": {Choice: "stay", Response: "You stayed."},
			},
			CharacterName: "Max",
		}, nil).Once()
		f.ledger.On("Balance", ctx, f.userIDFromProv()).Return(10, nil).Once()

		s, err := Open(ctx, f.deps(), f.storyID)
		require.NoError(t, err)
		// Гидрированный выбор не блокирует поток: выложены главы 0..2.
		assert.Equal(t, 2, s.CurrentChapter())
		entries := s.GetVisibleStream()
		require.Len(t, entries, 4)
		require.NotNil(t, entries[1].Answer)
		assert.Equal(t, "stay", entries[1].Answer.Choice)
		// Имя из сохранённого прогресса подставлено в текст.
		assert.Equal(t, "Hello, Max.", entries[0].Content)
	})

	t.Run("Ambiguous progress load fails the session start", func(t *testing.T) {
		f := newFixture(t)
		f.content.On("GetStory", ctx, f.storyID).Return(sixChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", ctx, f.userIDFromProv(), f.storyID).
			Return(nil, errors.New("network timeout")).Once()

		_, err := Open(ctx, f.deps(), f.storyID)
		require.Error(t, err)
		assert.NotErrorIs(t, err, models.ErrProgressNotFound)
	})

	t.Run("Unauthenticated reader cannot open a session", func(t *testing.T) {
		f := newFixture(t)
		f.prov = new(mocks.SessionProvider)
		f.prov.On("CurrentUserID").Return(uuid.Nil, false)

		_, err := Open(ctx, f.deps(), f.storyID)
		assert.ErrorIs(t, err, models.ErrAuthRequired)
	})

	t.Run("Story without chapters is fatal content error", func(t *testing.T) {
		f := newFixture(t)
		f.content.On("GetStory", ctx, f.storyID).
			Return(&models.Story{ID: f.storyID, Title: "Empty"}, nil).Once()

		_, err := Open(ctx, f.deps(), f.storyID)
		assert.ErrorIs(t, err, models.ErrContentInvalid)
	})
}

func TestSessionSelectChoice(t *testing.T) {
	ctx := context.Background()

	openFresh := func(t *testing.T, f *sessionFixture) *ReaderSession {
		t.Helper()
		f.content.On("GetStory", ctx, f.storyID).Return(sixChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", ctx, f.userIDFromProv(), f.storyID).
			Return(nil, models.ErrProgressNotFound).Once()
		f.ledger.On("Balance", ctx, f.userIDFromProv()).Return(10, nil).Once()
		s, err := Open(ctx, f.deps(), f.storyID)
		require.NoError(t, err)
		return s
	}

	t.Run("Choice resumes stream and persists delta", func(t *testing.T) {
		f := newFixture(t)
		s := openFresh(t, f)

		var persisted models.ProgressDelta
		f.store.On("MergeProgress", mock.Anything, f.userIDFromProv(), f.storyID,
			mock.AnythingOfType("models.ProgressDelta")).
			Run(func(args mock.Arguments) {
				persisted = args.Get(3).(models.ProgressDelta)
			}).Return(nil).Once()

		key := models.DecisionKey{Chapter: 0, Segment: 1}
		require.NoError(t, s.SelectChoice(ctx, key, "stay"))
		s.Close(time.Second) // дожидаемся асинхронной персистенции

		entries := s.GetVisibleStream()
		require.Len(t, entries, 2)
		require.NotNil(t, entries[1].Answer)
		assert.Equal(t, "You stayed.", entries[1].Answer.Response)

		require.Contains(t, persisted.Decisions, "0_1")
		assert.Equal(t, "stay", persisted.Decisions["0_1"].Choice)
	})

	t.Run("Second choice on same key does not persist again", func(t *testing.T) {
		f := newFixture(t)
		s := openFresh(t, f)
		f.store.On("MergeProgress", mock.Anything, f.userIDFromProv(), f.storyID,
			mock.AnythingOfType("models.ProgressDelta")).Return(nil).Once()

		key := models.DecisionKey{Chapter: 0, Segment: 1}
		require.NoError(t, s.SelectChoice(ctx, key, "stay"))
		require.NoError(t, s.SelectChoice(ctx, key, "leave"))
		s.Close(time.Second)

		// Первый выбор победил, вторая запись в хранилище не пошла.
		entries := s.GetVisibleStream()
		assert.Equal(t, "stay", entries[1].Answer.Choice)
		f.store.AssertNumberOfCalls(t, "MergeProgress", 1)
	})

	t.Run("Choice on a text segment is rejected", func(t *testing.T) {
		f := newFixture(t)
		s := openFresh(t, f)

		err := s.SelectChoice(ctx, models.DecisionKey{Chapter: 0, Segment: 0}, "stay")
		assert.ErrorIs(t, err, models.ErrNotADecision)
	})

	t.Run("Stream snapshot is isolated from later mutations", func(t *testing.T) {
		f := newFixture(t)
		s := openFresh(t, f)
		f.store.On("MergeProgress", mock.Anything, f.userIDFromProv(), f.storyID,
			mock.AnythingOfType("models.ProgressDelta")).Return(nil)

		before := s.GetVisibleStream()
		require.Len(t, before, 2)
		require.Nil(t, before[1].Answer)

		require.NoError(t, s.SelectChoice(ctx, models.DecisionKey{Chapter: 0, Segment: 1}, "stay"))

		// Выданный ранее снимок не делит память с живым потоком.
		assert.Nil(t, before[1].Answer)
		after := s.GetVisibleStream()
		require.NotNil(t, after[1].Answer)
		s.Close(time.Second)
	})

	t.Run("Concurrent stream reads and choices do not interleave", func(t *testing.T) {
		f := newFixture(t)
		s := openFresh(t, f)
		f.store.On("MergeProgress", mock.Anything, f.userIDFromProv(), f.storyID,
			mock.AnythingOfType("models.ProgressDelta")).Return(nil)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for i := 0; i < 100; i++ {
				entries := s.GetVisibleStream()
				// Снимок всегда внутренне согласован.
				for j := range entries {
					if entries[j].IsDecision() && entries[j].Answer != nil {
						assert.NotEmpty(t, entries[j].Answer.Choice)
					}
				}
			}
		}()
		_ = s.SelectChoice(ctx, models.DecisionKey{Chapter: 0, Segment: 1}, "stay")
		<-done
		s.Close(time.Second)
	})
}

func TestSessionNextChapterAndUnlock(t *testing.T) {
	ctx := context.Background()

	// Сценарий из шести глав: баланс 3, стоимость 5.
	openAtChapter4 := func(t *testing.T, f *sessionFixture, balance int) *ReaderSession {
		t.Helper()
		f.content.On("GetStory", ctx, f.storyID).Return(sixChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", ctx, f.userIDFromProv(), f.storyID).Return(&models.ReaderProgress{
			CurrentChapter: 4,
			ChapterHistory: map[string]models.DecisionRecord{
				"0_1": {Choice: "stay", Response: "You stayed."},
			},
		}, nil).Once()
		f.ledger.On("Balance", ctx, f.userIDFromProv()).Return(balance, nil).Once()
		s, err := Open(ctx, f.deps(), f.storyID)
		require.NoError(t, err)
		require.Equal(t, 4, s.CurrentChapter())
		return s
	}

	t.Run("Locked chapter reports unlock cost", func(t *testing.T) {
		f := newFixture(t)
		s := openAtChapter4(t, f, 3)

		res, err := s.RequestNextChapter(ctx)
		require.NoError(t, err)
		assert.Equal(t, NextChapterLocked, res.Status)
		assert.Equal(t, 5, res.ChapterIndex)
		assert.Equal(t, 5, res.UnlockCost)
	})

	t.Run("Unlock with insufficient coins leaves state untouched", func(t *testing.T) {
		f := newFixture(t)
		s := openAtChapter4(t, f, 3)

		err := s.ConfirmUnlock(ctx, 5)
		ice, ok := models.IsInsufficientCoins(err)
		require.True(t, ok)
		assert.Equal(t, 3, ice.Balance)
		assert.Equal(t, 5, ice.Cost)
		assert.True(t, s.IsChapterLocked(5))
		f.ledger.AssertNotCalled(t, "Debit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Unlock then advance appends the chapter", func(t *testing.T) {
		f := newFixture(t)
		s := openAtChapter4(t, f, 10)
		userID := f.userIDFromProv()
		f.ledger.On("Debit", mock.Anything, userID, 5).Return(5, nil).Once()
		f.store.On("MarkChapterUnlocked", mock.Anything, userID, f.storyID, 5).Return(nil).Once()
		f.store.On("MergeProgress", mock.Anything, userID, f.storyID,
			mock.AnythingOfType("models.ProgressDelta")).Return(nil)

		require.NoError(t, s.ConfirmUnlock(ctx, 5))
		assert.False(t, s.IsChapterLocked(5))

		res, err := s.RequestNextChapter(ctx)
		require.NoError(t, err)
		assert.Equal(t, NextChapterAppended, res.Status)
		assert.Equal(t, 5, s.CurrentChapter())

		res, err = s.RequestNextChapter(ctx)
		require.NoError(t, err)
		assert.Equal(t, NextChapterEndOfStory, res.Status)
		s.Close(time.Second)
	})

	t.Run("Pending decision blocks chapter advance", func(t *testing.T) {
		f := newFixture(t)
		f.content.On("GetStory", ctx, f.storyID).Return(sixChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", ctx, f.userIDFromProv(), f.storyID).
			Return(nil, models.ErrProgressNotFound).Once()
		f.ledger.On("Balance", ctx, f.userIDFromProv()).Return(10, nil).Once()
		s, err := Open(ctx, f.deps(), f.storyID)
		require.NoError(t, err)

		res, err := s.RequestNextChapter(ctx)
		require.NoError(t, err)
		assert.Equal(t, NextChapterBlocked, res.Status)
	})
}

func TestSessionCharacterName(t *testing.T) {
	ctx := context.Background()

	t.Run("Name set before first view is substituted", func(t *testing.T) {
		f := newFixture(t)
		f.content.On("GetStory", ctx, f.storyID).Return(sixChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", ctx, f.userIDFromProv(), f.storyID).
			Return(nil, models.ErrProgressNotFound).Once()
		f.ledger.On("Balance", ctx, f.userIDFromProv()).Return(0, nil).Once()
		f.store.On("MergeProgress", mock.Anything, f.userIDFromProv(), f.storyID,
			mock.AnythingOfType("models.ProgressDelta")).Return(nil)

		s, err := Open(ctx, f.deps(), f.storyID)
		require.NoError(t, err)

		require.NoError(t, s.SetCharacterName(ctx, "Max"))
		entries := s.GetVisibleStream()
		// Глава 0 была выложена при открытии с дефолтным именем,
		// смена имени до первого показа перерендерила её.
		assert.Equal(t, "Hello, Max.", entries[0].Content)
		s.Close(time.Second)
	})

	t.Run("Peeking the stream does not lock the name", func(t *testing.T) {
		f := newFixture(t)
		f.content.On("GetStory", ctx, f.storyID).Return(sixChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", ctx, f.userIDFromProv(), f.storyID).
			Return(nil, models.ErrProgressNotFound).Once()
		f.ledger.On("Balance", ctx, f.userIDFromProv()).Return(0, nil).Once()
		f.store.On("MergeProgress", mock.Anything, f.userIDFromProv(), f.storyID,
			mock.AnythingOfType("models.ProgressDelta")).Return(nil)

		s, err := Open(ctx, f.deps(), f.storyID)
		require.NoError(t, err)

		// Ответ открытия сессии сериализуется через PeekStream: показ ещё
		// не состоялся, имя менять можно.
		_ = s.PeekStream()
		require.NoError(t, s.SetCharacterName(ctx, "Max"))
		entries := s.GetVisibleStream()
		assert.Equal(t, "Hello, Max.", entries[0].Content)
		s.Close(time.Second)
	})

	t.Run("Name is locked after first view", func(t *testing.T) {
		f := newFixture(t)
		f.content.On("GetStory", ctx, f.storyID).Return(sixChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", ctx, f.userIDFromProv(), f.storyID).
			Return(nil, models.ErrProgressNotFound).Once()
		f.ledger.On("Balance", ctx, f.userIDFromProv()).Return(0, nil).Once()

		s, err := Open(ctx, f.deps(), f.storyID)
		require.NoError(t, err)

		_ = s.GetVisibleStream()
		err = s.SetCharacterName(ctx, "Max")
		assert.ErrorIs(t, err, models.ErrCharacterNameLocked)
	})
}
