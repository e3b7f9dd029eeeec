package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-reader/internal/auth"
	"novel-reader/internal/middleware"
	"novel-reader/internal/models"
	"novel-reader/internal/session"
)

// getUserIDFromContext достаёт ID пользователя из проверенных claims.
// При отсутствии — сам отвечает 401 и абортит запрос.
func getUserIDFromContext(c *gin.Context) (uuid.UUID, error) {
	claims, ok := middleware.ClaimsFromContext(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{Error: "authentication required"})
		return uuid.Nil, models.ErrAuthRequired
	}
	return claims.UserID, nil
}

func parseStoryID(c *gin.Context) (uuid.UUID, bool) {
	storyID, err := uuid.Parse(c.Param("storyID"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, models.ErrorResponse{Error: "invalid story ID format"})
		return uuid.Nil, false
	}
	return storyID, true
}

// sessionFromContext находит живую сессию для пары (пользователь, история).
func (h *ReaderHandler) sessionFromContext(c *gin.Context) (*session.ReaderSession, uuid.UUID, bool) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return nil, uuid.Nil, false
	}
	storyID, ok := parseStoryID(c)
	if !ok {
		return nil, uuid.Nil, false
	}
	s, ok := h.getSession(userID, storyID)
	if !ok {
		handleServiceError(c, models.ErrSessionNotFound, h.logger)
		return nil, uuid.Nil, false
	}
	return s, userID, true
}

func (h *ReaderHandler) sessionState(s *session.ReaderSession, stream []session.StreamEntry) sessionStateResponse {
	return sessionStateResponse{
		StoryID:        s.Story().ID.String(),
		Title:          s.Story().Title,
		CurrentChapter: s.CurrentChapter(),
		CharacterName:  s.CharacterName(),
		CoinBalance:    s.CoinBalance(),
		Stream:         toStreamDTO(stream),
	}
}

// openSession открывает (или переоткрывает) сессию чтения и возвращает
// поток до текущей главы читателя.
func (h *ReaderHandler) openSession(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return
	}
	storyID, ok := parseStoryID(c)
	if !ok {
		return
	}
	claims, _ := middleware.ClaimsFromContext(c)

	deps := session.Dependencies{
		Content:  h.content,
		Progress: h.progress,
		Ledger:   h.ledger,
		Session:  auth.SessionFromClaims(claims),
		Logger:   h.logger,
	}
	s, err := session.Open(c.Request.Context(), deps, storyID)
	if err != nil {
		h.logger.Warn("Failed to open reading session",
			zap.Stringer("userID", userID), zap.Stringer("storyID", storyID), zap.Error(err))
		handleServiceError(c, err, h.logger)
		return
	}
	h.putSession(userID, storyID, s)

	// Ответ открытия собирается через PeekStream: момент "первый сегмент
	// показан" наступает при чтении потока клиентом, не при создании
	// сессии — до него имя персонажа ещё можно сменить.
	c.JSON(http.StatusCreated, h.sessionState(s, s.PeekStream()))
}

// closeSession закрывает сессию, дожидаясь незавершённых записей прогресса.
func (h *ReaderHandler) closeSession(c *gin.Context) {
	userID, err := getUserIDFromContext(c)
	if err != nil {
		return
	}
	storyID, ok := parseStoryID(c)
	if !ok {
		return
	}
	s, ok := h.dropSession(userID, storyID)
	if !ok {
		handleServiceError(c, models.ErrSessionNotFound, h.logger)
		return
	}
	s.Close(sessionCloseTimeout)
	c.Status(http.StatusNoContent)
}

func (h *ReaderHandler) getStream(c *gin.Context) {
	s, _, ok := h.sessionFromContext(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.sessionState(s, s.GetVisibleStream()))
}

// selectChoice фиксирует выбор читателя в точке принятия решения.
func (h *ReaderHandler) selectChoice(c *gin.Context) {
	s, userID, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	var req selectChoiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleServiceError(c, badRequest("invalid choice payload: %s", err.Error()), h.logger)
		return
	}
	key := models.DecisionKey{Chapter: req.Chapter, Segment: req.Segment}

	if err := s.SelectChoice(c.Request.Context(), key, req.Choice); err != nil {
		h.logger.Warn("Choice rejected",
			zap.Stringer("userID", userID), zap.Stringer("key", key), zap.Error(err))
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, gin.H{"stream": toStreamDTO(s.GetVisibleStream())})
}

// requestNextChapter продвигает читателя к следующей главе, если она
// доступна; платная глава возвращается как locked со стоимостью.
func (h *ReaderHandler) requestNextChapter(c *gin.Context) {
	s, _, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	result, err := s.RequestNextChapter(c.Request.Context())
	if err != nil {
		handleServiceError(c, err, h.logger)
		return
	}

	resp := nextChapterResponse{
		Status:       nextChapterStatusString(result.Status),
		ChapterIndex: result.ChapterIndex,
		UnlockCost:   result.UnlockCost,
	}
	if result.Status == session.NextChapterAppended {
		resp.Stream = toStreamDTO(s.GetVisibleStream())
	}
	c.JSON(http.StatusOK, resp)
}

// confirmUnlock списывает монеты и открывает платную главу.
func (h *ReaderHandler) confirmUnlock(c *gin.Context) {
	s, userID, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	var req unlockChapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleServiceError(c, badRequest("invalid unlock payload: %s", err.Error()), h.logger)
		return
	}

	if err := s.ConfirmUnlock(c.Request.Context(), req.Chapter); err != nil {
		h.logger.Warn("Chapter unlock failed",
			zap.Stringer("userID", userID), zap.Int("chapter", req.Chapter), zap.Error(err))
		handleServiceError(c, err, h.logger)
		return
	}

	c.JSON(http.StatusOK, unlockChapterResponse{
		Chapter:     req.Chapter,
		CoinBalance: s.CoinBalance(),
		Stream:      toStreamDTO(s.GetVisibleStream()),
	})
}

// setCharacterName задаёт имя персонажа; разрешено только до первого
// показа потока читателю.
func (h *ReaderHandler) setCharacterName(c *gin.Context) {
	s, _, ok := h.sessionFromContext(c)
	if !ok {
		return
	}

	var req setCharacterNameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleServiceError(c, badRequest("invalid character name payload: %s", err.Error()), h.logger)
		return
	}

	if err := s.SetCharacterName(c.Request.Context(), req.Name); err != nil {
		handleServiceError(c, err, h.logger)
		return
	}
	c.JSON(http.StatusOK, gin.H{"characterName": req.Name})
}
