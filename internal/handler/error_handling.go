package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"novel-reader/internal/models"
)

// handleServiceError транслирует ошибки ядра в HTTP статусы.
// Новые сентинелы добавляются сюда, а не разбрасываются по обработчикам.
func handleServiceError(c *gin.Context, err error, logger *zap.Logger) {
	var statusCode int
	var errResp models.ErrorResponse

	if ice, ok := models.IsInsufficientCoins(err); ok {
		c.AbortWithStatusJSON(http.StatusPaymentRequired, gin.H{
			"error":   "insufficient coins",
			"balance": ice.Balance,
			"cost":    ice.Cost,
		})
		return
	}

	switch {
	case errors.Is(err, models.ErrAuthRequired),
		errors.Is(err, models.ErrTokenInvalid),
		errors.Is(err, models.ErrTokenMalformed):
		statusCode = http.StatusUnauthorized
		errResp = models.ErrorResponse{Error: "authentication required"}
	case errors.Is(err, models.ErrTokenExpired):
		statusCode = http.StatusUnauthorized
		errResp = models.ErrorResponse{Error: "token has expired"}
	case errors.Is(err, models.ErrStoryNotFound):
		statusCode = http.StatusNotFound
		errResp = models.ErrorResponse{Error: "story not found"}
	case errors.Is(err, models.ErrSessionNotFound):
		statusCode = http.StatusNotFound
		errResp = models.ErrorResponse{Error: "reading session not found, open it first"}
	case errors.Is(err, models.ErrProgressNotFound):
		statusCode = http.StatusNotFound
		errResp = models.ErrorResponse{Error: "reader progress not found"}
	case errors.Is(err, models.ErrContentInvalid):
		// Контент статичен: битая история — проблема данных, не запроса.
		statusCode = http.StatusUnprocessableEntity
		errResp = models.ErrorResponse{Error: "story content is invalid"}
	case errors.Is(err, models.ErrChapterOutOfRange):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Error: "chapter index out of range"}
	case errors.Is(err, models.ErrUnknownChoice):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Error: "choice is not offered by this decision point"}
	case errors.Is(err, models.ErrNotADecision):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Error: "segment is not a decision point"}
	case errors.Is(err, models.ErrDecisionAlreadyMade):
		statusCode = http.StatusConflict
		errResp = models.ErrorResponse{Error: "decision is already recorded"}
	case errors.Is(err, models.ErrCharacterNameLocked):
		statusCode = http.StatusConflict
		errResp = models.ErrorResponse{Error: "character name can only be set before reading starts"}
	case errors.Is(err, models.ErrAlreadyUnlocked):
		statusCode = http.StatusConflict
		errResp = models.ErrorResponse{Error: "chapter is already unlocked"}
	case errors.Is(err, models.ErrTransactionFailed):
		statusCode = http.StatusBadGateway
		errResp = models.ErrorResponse{Error: "unlock transaction failed, coins were not spent"}
	case errors.Is(err, models.ErrBadRequest):
		statusCode = http.StatusBadRequest
		errResp = models.ErrorResponse{Error: err.Error()}
	default:
		logger.Error("Unhandled service error", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResp = models.ErrorResponse{Error: "an unexpected internal error occurred"}
	}

	c.AbortWithStatusJSON(statusCode, errResp)
}

// badRequest оборачивает ошибку биндинга в ErrBadRequest для handleServiceError.
func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", models.ErrBadRequest, fmt.Sprintf(format, args...))
}
