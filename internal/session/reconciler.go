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

// Reconciler сливает локальное состояние сессии с удалённым документом
// прогресса. Все записи для пары (user, story) сериализованы мьютексом:
// цикл чтение-слияние-запись одной дельты никогда не перекрывается с
// другим, даже если читатель кликает быстрее, чем отвечает сеть.
//
// Сбой персистенции не фатален: дельта копится локально и уезжает вместе
// со следующим триггерящим событием (выбор или смена главы). Живую сессию
// держит в памяти SessionState, удалённый документ — только бэкап.
type Reconciler struct {
	store  interfaces.ProgressStore
	logger *zap.Logger

	userID  uuid.UUID
	storyID uuid.UUID

	// writeMu сериализует удалённые записи для этой пары (user, story).
	writeMu sync.Mutex
	// maxChapter — наибольший номер главы, ушедший в запись (под writeMu).
	// Номер главы монотонен внутри сессии, отставшая горутина персиста
	// не должна откатить более свежую запись.
	maxChapter int

	// pendingMu защищает незаписанный остаток с прошлых неудачных попыток.
	pendingMu sync.Mutex
	pending   models.ProgressDelta
}

// NewReconciler создаёт реконсилятор прогресса для конкретной пары
// (пользователь, история).
func NewReconciler(store interfaces.ProgressStore, userID, storyID uuid.UUID, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:  store,
		logger: logger.Named("Reconciler").With(zap.Stringer("storyID", storyID)),
		userID: userID,
		storyID: storyID,
	}
}

// LoadProgress загружает удалённый прогресс на старте сессии.
// models.ErrProgressNotFound означает подтверждённое отсутствие документа —
// сессия стартует с нуля. Любая другая ошибка (таймаут, обрыв) возвращается
// как есть: неоднозначный сбой нельзя трактовать как "прогресса нет", иначе
// следующая запись затрёт настоящий прогресс.
func (r *Reconciler) LoadProgress(ctx context.Context) (*models.ReaderProgress, error) {
	progress, err := r.store.GetProgress(ctx, r.userID, r.storyID)
	if err != nil {
		if errors.Is(err, models.ErrProgressNotFound) {
			r.logger.Debug("No remote progress, starting fresh")
			return nil, models.ErrProgressNotFound
		}
		return nil, fmt.Errorf("load progress: %w", err)
	}
	r.logger.Debug("Remote progress loaded",
		zap.Int("currentChapter", progress.CurrentChapter),
		zap.Int("decisions", len(progress.ChapterHistory)))
	return progress, nil
}

// PersistProgress сливает дельту в удалённый документ. Для вызывающего это
// fire-and-forget: ошибка записи логируется, дельта откладывается и будет
// повторена при следующем событии, возвращаемое значение сообщает только
// о фатальных ошибках использования (их нет в текущем контракте).
//
// Слияние выполняет хранилище атомарно для пары (user, story); здесь
// гарантируется лишь, что записи не перекрываются и отложенный остаток
// не теряется.
func (r *Reconciler) PersistProgress(ctx context.Context, delta models.ProgressDelta) {
	// Забираем накопленный остаток и вливаем в него свежую дельту.
	r.pendingMu.Lock()
	combined := r.pending
	r.pending = models.ProgressDelta{}
	r.pendingMu.Unlock()
	combined.Merge(delta)

	if combined.IsEmpty() {
		return
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	// Горутины персиста не обязаны встать в очередь в порядке событий:
	// номер текущей главы поднимаем до максимума из уже записанных.
	if combined.CurrentChapter != nil {
		if *combined.CurrentChapter < r.maxChapter {
			ch := r.maxChapter
			combined.CurrentChapter = &ch
		} else {
			r.maxChapter = *combined.CurrentChapter
		}
	}

	if err := r.store.MergeProgress(ctx, r.userID, r.storyID, combined); err != nil {
		persistFailures.Inc()
		r.logger.Warn("Progress persist failed, deferring delta for next event",
			zap.Error(err),
			zap.Int("decisions", len(combined.Decisions)))
		// Возвращаем несохранённый остаток: более свежие поля, записанные
		// конкурентной попыткой, не затираем (Merge со стороны остатка).
		r.pendingMu.Lock()
		combined.Merge(r.pending)
		r.pending = combined
		r.pendingMu.Unlock()
		return
	}
	r.logger.Debug("Progress persisted",
		zap.Int("decisions", len(combined.Decisions)),
		zap.Ints("unlocks", combined.UnlockChapters))
}

// HasPending сообщает, остался ли незаписанный остаток (для тестов и Close).
func (r *Reconciler) HasPending() bool {
	r.pendingMu.Lock()
	defer r.pendingMu.Unlock()
	return !r.pending.IsEmpty()
}
