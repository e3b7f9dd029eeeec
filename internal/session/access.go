package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-reader/internal/interfaces"
	"novel-reader/internal/models"
)

// balanceUnknown — зеркало баланса ещё не загружено с сервера.
const balanceUnknown = -1

// unlockCall — общее состояние одной выполняющейся разблокировки главы.
// Второй конкурентный вызов для той же главы ждёт done и забирает err
// первого вместо повторного списания монет.
type unlockCall struct {
	done chan struct{}
	err  error
}

// AccessController решает, заблокирована ли глава, и проводит транзакцию
// разблокировки. Правило "первые N глав бесплатны" и вся бухгалтерия
// разблокировок централизованы здесь; вызывающие стороны не дублируют её.
type AccessController struct {
	sessionProv interfaces.SessionProvider
	ledger      interfaces.CoinLedger
	store       interfaces.ProgressStore
	logger      *zap.Logger

	storyID       uuid.UUID
	freeThreshold int

	mu       sync.Mutex
	unlocked map[int]struct{}
	balance  int
	inflight map[int]*unlockCall
}

// NewAccessController создаёт контроллер доступа к главам.
// unlocked — индексы глав, загруженные из удалённого прогресса; свободные
// главы (0..freeThreshold-1) разблокированы неявно и могут не передаваться.
func NewAccessController(
	sessionProv interfaces.SessionProvider,
	ledger interfaces.CoinLedger,
	store interfaces.ProgressStore,
	storyID uuid.UUID,
	freeThreshold int,
	unlocked []int,
	logger *zap.Logger,
) *AccessController {
	if logger == nil {
		logger = zap.NewNop()
	}
	if freeThreshold <= 0 {
		freeThreshold = models.DefaultFreeChapterThreshold
	}
	set := make(map[int]struct{}, len(unlocked))
	for _, idx := range unlocked {
		set[idx] = struct{}{}
	}
	return &AccessController{
		sessionProv:   sessionProv,
		ledger:        ledger,
		store:         store,
		logger:        logger.Named("AccessController"),
		storyID:       storyID,
		freeThreshold: freeThreshold,
		unlocked:      set,
		balance:       balanceUnknown,
		inflight:      make(map[int]*unlockCall),
	}
}

// IsLocked сообщает, требует ли глава разблокировки:
// глава за порогом бесплатных и не входит в множество разблокированных.
func (a *AccessController) IsLocked(chapterIndex int) bool {
	if chapterIndex < a.freeThreshold {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.unlocked[chapterIndex]
	return !ok
}

// CoinBalance возвращает локальное зеркало авторитетного баланса
// (balanceUnknown, если баланс ещё не загружался).
func (a *AccessController) CoinBalance() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.balance
}

// RefreshBalance перечитывает баланс с авторитетного сервера.
func (a *AccessController) RefreshBalance(ctx context.Context) error {
	userID, ok := a.sessionProv.CurrentUserID()
	if !ok {
		return models.ErrAuthRequired
	}
	balance, err := a.ledger.Balance(ctx, userID)
	if err != nil {
		return fmt.Errorf("refresh coin balance: %w", err)
	}
	a.mu.Lock()
	a.balance = balance
	a.mu.Unlock()
	return nil
}

// Unlock проводит двухфазную транзакцию разблокировки главы:
//  1. проверка аутентификации;
//  2. проверка баланса (зеркала);
//  3. списание монет на сервере;
//  4. удалённая отметка главы разблокированной; при сбое — обязательная
//     компенсация (возврат монет) перед возвратом ErrTransactionFailed:
//     списание никогда не переживает неудавшуюся разблокировку;
//  5. локальная фиксация и обновление зеркала баланса авторитетным значением.
//
// Повторный конкурентный вызов для той же главы не списывает монеты второй
// раз: он дожидается результата первого вызова.
func (a *AccessController) Unlock(ctx context.Context, chapterIndex, cost int) error {
	if !a.sessionProv.IsAuthenticated() {
		return models.ErrAuthRequired
	}
	userID, ok := a.sessionProv.CurrentUserID()
	if !ok {
		return models.ErrAuthRequired
	}

	a.mu.Lock()
	if _, done := a.unlocked[chapterIndex]; done || chapterIndex < a.freeThreshold {
		a.mu.Unlock()
		return nil // уже доступна, повторная покупка не нужна
	}
	if call, running := a.inflight[chapterIndex]; running {
		a.mu.Unlock()
		a.logger.Debug("Unlock already in flight, waiting for result", zap.Int("chapter", chapterIndex))
		select {
		case <-call.done:
			return call.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if a.balance != balanceUnknown && a.balance < cost {
		balance := a.balance
		a.mu.Unlock()
		return &models.InsufficientCoinsError{Balance: balance, Cost: cost}
	}
	call := &unlockCall{done: make(chan struct{})}
	a.inflight[chapterIndex] = call
	a.mu.Unlock()

	// Обе фазы и компенсация идут на контексте, отвязанном от отмены:
	// обрыв клиента после списания не должен оставить монеты снятыми
	// без компенсации.
	call.err = a.doUnlock(context.WithoutCancel(ctx), userID, chapterIndex, cost)

	a.mu.Lock()
	delete(a.inflight, chapterIndex)
	a.mu.Unlock()
	close(call.done)

	return call.err
}

func (a *AccessController) doUnlock(ctx context.Context, userID uuid.UUID, chapterIndex, cost int) error {
	log := a.logger.With(
		zap.Stringer("userID", userID),
		zap.Stringer("storyID", a.storyID),
		zap.Int("chapter", chapterIndex),
		zap.Int("cost", cost))

	// Если зеркало баланса ещё не загружено, обновляем его перед предусловием.
	if a.CoinBalance() == balanceUnknown {
		if err := a.RefreshBalance(ctx); err != nil {
			log.Warn("Failed to refresh balance before unlock", zap.Error(err))
			unlockCounter.WithLabelValues("failed").Inc()
			return fmt.Errorf("%w: %v", models.ErrTransactionFailed, err)
		}
	}
	if balance := a.CoinBalance(); balance < cost {
		return &models.InsufficientCoinsError{Balance: balance, Cost: cost}
	}

	// Фаза 1: списание монет. Сервер — единственный, кто мутирует баланс.
	newBalance, err := a.ledger.Debit(ctx, userID, cost)
	if err != nil {
		log.Warn("Coin debit failed, nothing to compensate", zap.Error(err))
		unlockCounter.WithLabelValues("failed").Inc()
		return fmt.Errorf("%w: debit: %v", models.ErrTransactionFailed, err)
	}

	// Фаза 2: удалённая отметка о разблокировке.
	if err := a.store.MarkChapterUnlocked(ctx, userID, a.storyID, chapterIndex); err != nil {
		log.Error("Mark-unlocked failed after debit, compensating", zap.Error(err))
		// Компенсация обязательна: возвращаем списанные монеты.
		if refundBalance, refundErr := a.ledger.Credit(ctx, userID, cost); refundErr != nil {
			// Возврат тоже не прошёл: оставляем запись в логе, баланс
			// выправит сервер при следующей выверке.
			log.Error("Compensating credit failed, coins are stranded remotely",
				zap.Error(refundErr))
		} else {
			newBalance = refundBalance
			a.mu.Lock()
			a.balance = refundBalance
			a.mu.Unlock()
		}
		unlockCounter.WithLabelValues("compensated").Inc()
		return fmt.Errorf("%w: mark unlocked: %v", models.ErrTransactionFailed, err)
	}

	// Обе фазы прошли: фиксируем локально и обновляем зеркало баланса
	// авторитетным значением, а не локальным вычитанием.
	a.mu.Lock()
	a.unlocked[chapterIndex] = struct{}{}
	a.balance = newBalance
	a.mu.Unlock()

	unlockCounter.WithLabelValues("success").Inc()
	log.Info("Chapter unlocked", zap.Int("newBalance", newBalance))
	return nil
}

// UnlockedChapters возвращает явно разблокированные главы (без бесплатных).
func (a *AccessController) UnlockedChapters() []int {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]int, 0, len(a.unlocked))
	for idx := range a.unlocked {
		out = append(out, idx)
	}
	return out
}

// IsTransactionFailed — хелпер для границы HTTP.
func IsTransactionFailed(err error) bool {
	return errors.Is(err, models.ErrTransactionFailed)
}
