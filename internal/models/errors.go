package models

import (
	"errors"
	"fmt"
)

// Application-wide standard errors
var (
	// Common Resource Errors
	ErrNotFound      = errors.New("resource not found") // General not found
	ErrStoryNotFound = errors.New("story not found")

	// Content Errors (fatal for the reading session, content is static)
	ErrContentInvalid = errors.New("story content is invalid")

	// Auth Errors
	ErrAuthRequired   = errors.New("authentication required")
	ErrTokenInvalid   = errors.New("token is invalid")
	ErrTokenMalformed = errors.New("token is malformed")
	ErrTokenExpired   = errors.New("token has expired")

	// Unlock / Economy Errors
	ErrTransactionFailed = errors.New("unlock transaction failed")
	ErrChapterOutOfRange = errors.New("chapter index out of range")
	ErrAlreadyUnlocked   = errors.New("chapter is already unlocked")

	// Progress Errors
	ErrProgressNotFound = errors.New("reader progress not found")
	ErrPersistenceFail  = errors.New("progress persistence failed")

	// Session Errors
	ErrSessionNotFound     = errors.New("reading session not found")
	ErrDecisionAlreadyMade = errors.New("decision is already recorded")
	ErrUnknownChoice       = errors.New("choice is not offered by this decision point")
	ErrNotADecision        = errors.New("segment is not a decision point")
	ErrHistoryNotHydrated  = errors.New("decision history is not hydrated yet")
	ErrCharacterNameLocked = errors.New("character name can only be set before reading starts")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
)

// InsufficientCoinsError возвращается при попытке разблокировать главу
// без достаточного баланса; несёт баланс и стоимость для отображения.
type InsufficientCoinsError struct {
	Balance int
	Cost    int
}

func (e *InsufficientCoinsError) Error() string {
	return fmt.Sprintf("insufficient coins: balance %d, cost %d", e.Balance, e.Cost)
}

// IsInsufficientCoins проверяет, является ли ошибка нехваткой монет.
func IsInsufficientCoins(err error) (*InsufficientCoinsError, bool) {
	var ice *InsufficientCoinsError
	if errors.As(err, &ice) {
		return ice, true
	}
	return nil, false
}
