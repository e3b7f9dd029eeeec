package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"novel-reader/internal/interfaces/mocks"
	"novel-reader/internal/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubVerifier принимает любой непустой токен как userID в сыром виде.
func stubVerifier(userID uuid.UUID) func(ctx context.Context, tokenString string) (*models.Claims, error) {
	return func(_ context.Context, tokenString string) (*models.Claims, error) {
		if tokenString == "" {
			return nil, models.ErrTokenInvalid
		}
		return &models.Claims{
			UserID:           userID,
			RegisteredClaims: jwt.RegisteredClaims{Subject: userID.String()},
		}, nil
	}
}

type handlerFixture struct {
	content *mocks.StoryContentSource
	store   *mocks.ProgressStore
	ledger  *mocks.CoinLedger
	router  *gin.Engine
	userID  uuid.UUID
	storyID uuid.UUID
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		content: new(mocks.StoryContentSource),
		store:   new(mocks.ProgressStore),
		ledger:  new(mocks.CoinLedger),
		userID:  uuid.New(),
		storyID: uuid.New(),
	}
	h := NewReaderHandler(f.content, f.store, f.ledger, stubVerifier(f.userID), zap.NewNop())
	f.router = gin.New()
	h.RegisterRoutes(f.router)
	return f
}

// threeChapterStory — короткая бесплатная история с точкой выбора в главе 0.
func threeChapterStory(storyID uuid.UUID) *models.Story {
	return &models.Story{
		ID:                   storyID,
		Title:                "Free Story",
		DefaultCharacterName: "Sam",
		Chapters: []models.Chapter{
			{Title: "One", Segments: []models.Segment{
				models.NewTextSegment("Hello, {playerName}."),
				models.NewDecisionSegment([]string{"stay", "leave"}, nil),
			}},
			{Title: "Two", Segments: []models.Segment{models.NewTextSegment("More text.")}},
			{Title: "Three", Segments: []models.Segment{models.NewTextSegment("The end.")}},
		},
	}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer test-token")
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *handlerFixture) openFreshSession(t *testing.T) {
	t.Helper()
	f.content.On("GetStory", mock.Anything, f.storyID).
		Return(threeChapterStory(f.storyID), nil).Once()
	f.store.On("GetProgress", mock.Anything, f.userID, f.storyID).
		Return(nil, models.ErrProgressNotFound).Once()
	f.ledger.On("Balance", mock.Anything, f.userID).Return(7, nil).Once()

	w := f.do(t, http.MethodPost, "/api/reader/"+f.storyID.String()+"/session", nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func TestOpenSessionEndpoint(t *testing.T) {
	t.Run("Creates session and returns stream", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.content.On("GetStory", mock.Anything, f.storyID).
			Return(threeChapterStory(f.storyID), nil).Once()
		f.store.On("GetProgress", mock.Anything, f.userID, f.storyID).
			Return(nil, models.ErrProgressNotFound).Once()
		f.ledger.On("Balance", mock.Anything, f.userID).Return(7, nil).Once()

		w := f.do(t, http.MethodPost, "/api/reader/"+f.storyID.String()+"/session", nil)
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		var resp sessionStateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, f.storyID.String(), resp.StoryID)
		assert.Equal(t, 0, resp.CurrentChapter)
		assert.Equal(t, 7, resp.CoinBalance)
		// Глава 0: текст + неотвеченная точка выбора.
		require.Len(t, resp.Stream, 2)
		assert.Equal(t, "Hello, Sam.", resp.Stream[0].Content)
		assert.Equal(t, "decisionPoint", resp.Stream[1].Type)
		assert.Nil(t, resp.Stream[1].Answer)
	})

	t.Run("Unknown story maps to 404", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.content.On("GetStory", mock.Anything, f.storyID).
			Return(nil, models.ErrStoryNotFound).Once()

		w := f.do(t, http.MethodPost, "/api/reader/"+f.storyID.String()+"/session", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Missing token maps to 401", func(t *testing.T) {
		f := newHandlerFixture(t)
		req := httptest.NewRequest(http.MethodPost, "/api/reader/"+f.storyID.String()+"/session", nil)
		w := httptest.NewRecorder()
		f.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Malformed story ID maps to 400", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodPost, "/api/reader/not-a-uuid/session", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestStreamEndpoint(t *testing.T) {
	t.Run("Requires open session", func(t *testing.T) {
		f := newHandlerFixture(t)
		w := f.do(t, http.MethodGet, "/api/reader/"+f.storyID.String()+"/stream", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("Returns current state", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.openFreshSession(t)

		w := f.do(t, http.MethodGet, "/api/reader/"+f.storyID.String()+"/stream", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp sessionStateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Len(t, resp.Stream, 2)
	})
}

func TestSelectChoiceEndpoint(t *testing.T) {
	t.Run("Records choice and resumes stream", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.openFreshSession(t)
		// Выбор уходит в хранилище прогресса асинхронно.
		f.store.On("MergeProgress", mock.Anything, f.userID, f.storyID, mock.Anything).
			Return(nil).Maybe()

		w := f.do(t, http.MethodPost, "/api/reader/"+f.storyID.String()+"/choice",
			selectChoiceRequest{Chapter: 0, Segment: 1, Choice: "stay"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		var resp struct {
			Stream []streamEntryDTO `json:"stream"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Len(t, resp.Stream, 2)
		require.NotNil(t, resp.Stream[1].Answer)
		assert.Equal(t, "stay", resp.Stream[1].Answer.Choice)
		assert.Equal(t, "You chose: stay", resp.Stream[1].Answer.Response)
	})

	t.Run("Unknown choice maps to 400", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.openFreshSession(t)

		w := f.do(t, http.MethodPost, "/api/reader/"+f.storyID.String()+"/choice",
			selectChoiceRequest{Chapter: 0, Segment: 1, Choice: "fly"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestNextChapterEndpoint(t *testing.T) {
	t.Run("Blocked while decision is pending", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.openFreshSession(t)

		w := f.do(t, http.MethodPost, "/api/reader/"+f.storyID.String()+"/next-chapter", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp nextChapterResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "blocked", resp.Status)
	})

	t.Run("Advances after the decision is answered", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.openFreshSession(t)
		f.store.On("MergeProgress", mock.Anything, f.userID, f.storyID, mock.Anything).
			Return(nil).Maybe()

		w := f.do(t, http.MethodPost, "/api/reader/"+f.storyID.String()+"/choice",
			selectChoiceRequest{Chapter: 0, Segment: 1, Choice: "leave"})
		require.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, http.MethodPost, "/api/reader/"+f.storyID.String()+"/next-chapter", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp nextChapterResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "appended", resp.Status)
		assert.Equal(t, 1, resp.ChapterIndex)
		assert.Len(t, resp.Stream, 3)
	})
}

func TestSetCharacterNameEndpoint(t *testing.T) {
	t.Run("Name set right after opening is substituted", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.openFreshSession(t)
		f.store.On("MergeProgress", mock.Anything, f.userID, f.storyID, mock.Anything).
			Return(nil).Maybe()

		// Открытие сессии ещё не фиксирует показ: имя сменить можно.
		w := f.do(t, http.MethodPut, "/api/reader/"+f.storyID.String()+"/character-name",
			setCharacterNameRequest{Name: "Max"})
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		w = f.do(t, http.MethodGet, "/api/reader/"+f.storyID.String()+"/stream", nil)
		require.Equal(t, http.StatusOK, w.Code)

		var resp sessionStateResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, "Max", resp.CharacterName)
		assert.Equal(t, "Hello, Max.", resp.Stream[0].Content)
	})

	t.Run("Locked after the stream has been read", func(t *testing.T) {
		f := newHandlerFixture(t)
		f.openFreshSession(t)
		f.store.On("MergeProgress", mock.Anything, f.userID, f.storyID, mock.Anything).
			Return(nil).Maybe()

		// GET потока — момент показа; после него имя зафиксировано.
		w := f.do(t, http.MethodGet, "/api/reader/"+f.storyID.String()+"/stream", nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = f.do(t, http.MethodPut, "/api/reader/"+f.storyID.String()+"/character-name",
			setCharacterNameRequest{Name: "Max"})
		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestCloseSessionEndpoint(t *testing.T) {
	f := newHandlerFixture(t)
	f.openFreshSession(t)

	w := f.do(t, http.MethodDelete, "/api/reader/"+f.storyID.String()+"/session", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	// Сессия убрана из реестра.
	w = f.do(t, http.MethodGet, "/api/reader/"+f.storyID.String()+"/stream", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
