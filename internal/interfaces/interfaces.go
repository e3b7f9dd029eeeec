// Package interfaces содержит контракты внешних коллабораторов ядра сессии
// чтения. Ядро зависит только от этих интерфейсов; конкретные реализации
// (Postgres, Firestore, Redis, HTTP) живут в internal/database и
// internal/clients, моки для тестов — в mocks/.
package interfaces

import (
	"context"

	"github.com/google/uuid"

	"novel-reader/internal/models"
)

// StoryContentSource отдаёт неизменяемый контент истории.
// Возвращает models.ErrStoryNotFound для несуществующей истории;
// любая другая ошибка трактуется как сетевая и фатальна для старта сессии.
type StoryContentSource interface {
	GetStory(ctx context.Context, storyID uuid.UUID) (*models.Story, error)
}

// ProgressStore — документное хранилище прогресса читателя с ключом
// (userId, storyId). MergeProgress обязан выполнять цикл
// чтение-слияние-запись атомарно для пары (userId, storyId): решения
// объединяются по ключам, разблокированные главы — по множеству, скалярные
// поля перезаписываются только если присутствуют в дельте. Отсутствующий
// документ создаётся, засеянный дефолтами (бесплатные главы разблокированы,
// история решений пуста).
type ProgressStore interface {
	// GetProgress возвращает models.ErrProgressNotFound, только если удалённое
	// хранилище подтвердило отсутствие документа. Неоднозначный сетевой сбой
	// обязан вернуться как обычная ошибка: стартовать читателя с нуля по
	// таймауту — значит затереть настоящий прогресс при следующей записи.
	GetProgress(ctx context.Context, userID, storyID uuid.UUID) (*models.ReaderProgress, error)
	MergeProgress(ctx context.Context, userID, storyID uuid.UUID, delta models.ProgressDelta) error
	// MarkChapterUnlocked — удалённая отметка о купленной главе. Вторая фаза
	// протокола разблокировки; при её сбое вызывающий обязан компенсировать
	// уже снятые монеты.
	MarkChapterUnlocked(ctx context.Context, userID, storyID uuid.UUID, chapterIndex int) error
}

// CoinLedger — удалённый авторитетный регистр монет. Баланс мутирует только
// сервер; клиент никогда не вычисляет баланс локальным вычитанием.
type CoinLedger interface {
	// Debit снимает amount монет и возвращает новый авторитетный баланс.
	Debit(ctx context.Context, userID uuid.UUID, amount int) (int, error)
	// Credit возвращает монеты (компенсация неудачной разблокировки).
	Credit(ctx context.Context, userID uuid.UUID, amount int) (int, error)
	// Balance возвращает текущий авторитетный баланс.
	Balance(ctx context.Context, userID uuid.UUID) (int, error)
}

// SessionProvider — явный контекст аутентификации читателя, передаваемый в
// ядро вместо глобального "текущего пользователя".
type SessionProvider interface {
	IsAuthenticated() bool
	CurrentUserID() (uuid.UUID, bool)
}
