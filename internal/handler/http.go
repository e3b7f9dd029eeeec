package handler

import (
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-reader/internal/interfaces"
	"novel-reader/internal/middleware"
	"novel-reader/internal/session"
)

// sessionCloseTimeout — сколько ждать незавершённые записи прогресса
// при закрытии сессии.
const sessionCloseTimeout = 5 * time.Second

// sessionKey — ключ реестра живых сессий: один читатель + одна история.
type sessionKey struct {
	userID  uuid.UUID
	storyID uuid.UUID
}

// ReaderHandler обрабатывает HTTP запросы мобильной оболочки читалки.
// Держит реестр живых сессий чтения; сессия создаётся явным открытием
// и живёт до закрытия или перезапуска сервиса.
type ReaderHandler struct {
	content  interfaces.StoryContentSource
	progress interfaces.ProgressStore
	ledger   interfaces.CoinLedger
	logger   *zap.Logger
	verifier middleware.TokenVerifier

	mu       sync.Mutex
	sessions map[sessionKey]*session.ReaderSession
}

// NewReaderHandler создаёт обработчик читалки.
func NewReaderHandler(
	content interfaces.StoryContentSource,
	progress interfaces.ProgressStore,
	ledger interfaces.CoinLedger,
	verifier middleware.TokenVerifier,
	logger *zap.Logger,
) *ReaderHandler {
	return &ReaderHandler{
		content:  content,
		progress: progress,
		ledger:   ledger,
		verifier: verifier,
		logger:   logger.Named("ReaderHandler"),
		sessions: make(map[sessionKey]*session.ReaderSession),
	}
}

// RegisterRoutes вешает маршруты читалки на Gin. Все маршруты требуют
// аутентификации: прогресс и монеты привязаны к пользователю.
func (h *ReaderHandler) RegisterRoutes(router *gin.Engine) {
	api := router.Group("/api/reader")
	api.Use(middleware.Auth(h.verifier, h.logger))
	{
		api.POST("/:storyID/session", h.openSession)
		api.DELETE("/:storyID/session", h.closeSession)
		api.GET("/:storyID/stream", h.getStream)
		api.POST("/:storyID/choice", h.selectChoice)
		api.POST("/:storyID/next-chapter", h.requestNextChapter)
		api.POST("/:storyID/unlock", h.confirmUnlock)
		api.PUT("/:storyID/character-name", h.setCharacterName)
	}
}

// getSession возвращает живую сессию из реестра.
func (h *ReaderHandler) getSession(userID, storyID uuid.UUID) (*session.ReaderSession, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionKey{userID: userID, storyID: storyID}]
	return s, ok
}

// putSession регистрирует сессию, закрывая предыдущую для той же пары,
// если она была (повторное открытие с того же устройства).
func (h *ReaderHandler) putSession(userID, storyID uuid.UUID, s *session.ReaderSession) {
	key := sessionKey{userID: userID, storyID: storyID}
	h.mu.Lock()
	old, existed := h.sessions[key]
	h.sessions[key] = s
	h.mu.Unlock()
	if existed {
		go old.Close(sessionCloseTimeout)
	}
}

// dropSession убирает сессию из реестра и возвращает её для закрытия.
func (h *ReaderHandler) dropSession(userID, storyID uuid.UUID) (*session.ReaderSession, bool) {
	key := sessionKey{userID: userID, storyID: storyID}
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[key]
	if ok {
		delete(h.sessions, key)
	}
	return s, ok
}
