package auth

import (
	"github.com/google/uuid"

	"novel-reader/internal/interfaces"
	"novel-reader/internal/models"
)

// Compile-time checks to ensure implementations satisfy the interface.
var (
	_ interfaces.SessionProvider = (*claimsSessionProvider)(nil)
	_ interfaces.SessionProvider = anonymousSessionProvider{}
)

// claimsSessionProvider — явный контекст аутентификации, построенный из
// проверенных claims. Передаётся в ядро сессии вместо глобального
// "текущего пользователя": компоненты не лазают в ambient-состояние.
type claimsSessionProvider struct {
	userID uuid.UUID
}

// SessionFromClaims создаёт провайдер сессии из проверенных claims токена.
func SessionFromClaims(claims *models.Claims) interfaces.SessionProvider {
	if claims == nil || claims.UserID == uuid.Nil {
		return anonymousSessionProvider{}
	}
	return &claimsSessionProvider{userID: claims.UserID}
}

func (p *claimsSessionProvider) IsAuthenticated() bool { return true }

func (p *claimsSessionProvider) CurrentUserID() (uuid.UUID, bool) {
	return p.userID, true
}

// anonymousSessionProvider — неаутентифицированный читатель.
type anonymousSessionProvider struct{}

// Anonymous возвращает провайдер неаутентифицированной сессии.
func Anonymous() interfaces.SessionProvider { return anonymousSessionProvider{} }

func (anonymousSessionProvider) IsAuthenticated() bool { return false }

func (anonymousSessionProvider) CurrentUserID() (uuid.UUID, bool) {
	return uuid.Nil, false
}
