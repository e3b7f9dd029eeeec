package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"novel-reader/internal/models"
)

// DecisionHistory — единственный источник истины для вопроса "отвечена ли уже
// эта точка выбора". Заполняется один раз из удалённого прогресса (Hydrate),
// после чего принимает только локальные записи. Запись по ключу неизменяема:
// первый выбор побеждает, повторная запись возвращает существующую запись.
type DecisionHistory struct {
	mu       sync.RWMutex
	records  map[models.DecisionKey]models.DecisionRecord
	hydrated bool
	logger   *zap.Logger
}

// NewDecisionHistory создаёт пустое, ещё не гидрированное хранилище.
func NewDecisionHistory(logger *zap.Logger) *DecisionHistory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DecisionHistory{
		records: make(map[models.DecisionKey]models.DecisionRecord),
		logger:  logger.Named("DecisionHistory"),
	}
}

// Hydrate заполняет хранилище записями из удалённого документа прогресса.
// Обязан завершиться до построения потока — StreamBuilder создаётся только
// от гидрированной истории (см. NewStreamBuilder), поэтому нарушение
// последовательности невозможно выразить через API, а не только запрещено
// документацией. Повторная гидрация — no-op.
func (h *DecisionHistory) Hydrate(remote map[string]models.DecisionRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.hydrated {
		h.logger.Debug("Hydrate called twice, ignoring")
		return nil
	}
	for rawKey, rec := range remote {
		key, err := models.ParseDecisionKey(rawKey)
		if err != nil {
			// Битый ключ в удалённом документе не должен ронять сессию:
			// пропускаем запись, читатель ответит на этот выбор заново.
			h.logger.Warn("Skipping malformed decision key from remote progress",
				zap.String("key", rawKey), zap.Error(err))
			continue
		}
		h.records[key] = rec
	}
	h.hydrated = true
	h.logger.Debug("Decision history hydrated", zap.Int("records", len(h.records)))
	return nil
}

// Hydrated сообщает, была ли выполнена гидрация.
func (h *DecisionHistory) Hydrated() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.hydrated
}

// RecordChoice записывает выбор для точки выбора. Если запись по ключу уже
// существует (first write wins), возвращает её и created=false — выбор
// нельзя отозвать или перезаписать. Текст ответа резолвится из контента
// сегмента, с синтезом дефолта при отсутствии.
func (h *DecisionHistory) RecordChoice(key models.DecisionKey, seg *models.DecisionSegment, choice string) (models.DecisionRecord, bool, error) {
	if seg == nil {
		return models.DecisionRecord{}, false, models.ErrNotADecision
	}
	if !seg.HasChoice(choice) {
		return models.DecisionRecord{}, false, models.ErrUnknownChoice
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.records[key]; ok {
		h.logger.Debug("Choice already recorded, keeping first answer",
			zap.String("key", key.String()),
			zap.String("existingChoice", existing.Choice),
			zap.String("rejectedChoice", choice))
		return existing, false, nil
	}

	rec := models.DecisionRecord{
		Choice:    choice,
		Response:  seg.ResponseFor(choice),
		Timestamp: time.Now().UTC(),
	}
	h.records[key] = rec
	return rec, true, nil
}

// Answer возвращает запись для ключа, если точка выбора уже отвечена.
func (h *DecisionHistory) Answer(key models.DecisionKey) (models.DecisionRecord, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rec, ok := h.records[key]
	return rec, ok
}

// HasAnswer сообщает, отвечена ли точка выбора.
func (h *DecisionHistory) HasAnswer(key models.DecisionKey) bool {
	_, ok := h.Answer(key)
	return ok
}

// Len возвращает количество записанных решений.
func (h *DecisionHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}
