package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"novel-reader/internal/interfaces"
	"novel-reader/internal/models"
)

// Dependencies — внешние коллабораторы сессии чтения.
type Dependencies struct {
	Content  interfaces.StoryContentSource
	Progress interfaces.ProgressStore
	Ledger   interfaces.CoinLedger
	Session  interfaces.SessionProvider
	Logger   *zap.Logger
}

// NextChapterStatus — исход запроса следующей главы.
type NextChapterStatus int

const (
	// NextChapterAppended — следующая глава добавлена в поток.
	NextChapterAppended NextChapterStatus = iota
	// NextChapterLocked — следующая глава платная, нужна разблокировка.
	NextChapterLocked
	// NextChapterEndOfStory — текущая глава последняя.
	NextChapterEndOfStory
	// NextChapterBlocked — текущая глава остановлена на неотвеченном выборе.
	NextChapterBlocked
)

// NextChapterResult — результат RequestNextChapter.
type NextChapterResult struct {
	Status       NextChapterStatus
	ChapterIndex int
	// UnlockCost заполнен при Status==NextChapterLocked.
	UnlockCost int
}

// ReaderSession — машина состояний одной сессии чтения: история + читатель.
// Собирает пять компонентов ядра в явный конвейер
// fetch → load progress → hydrate history → build stream и реализует
// интерфейс, который потребляет слой отображения. Все мутации состояния
// проходят через методы сессии; презентационный слой напрямую ничего
// не меняет.
type ReaderSession struct {
	logger *zap.Logger

	userID  uuid.UUID
	storyID uuid.UUID

	story      *models.Story
	history    *DecisionHistory
	stream     *StreamBuilder
	access     *AccessController
	reconciler *Reconciler

	mu             sync.Mutex
	currentChapter int
	characterName  string
	// viewed выставляется первым чтением потока: после него имя персонажа
	// зафиксировано.
	viewed bool
	closed bool

	// persistWG отслеживает незавершённые записи прогресса: teardown сессии
	// ждёт их, а не отменяет — операции с побочными эффектами доживают
	// до конца.
	persistWG sync.WaitGroup
}

// Open собирает и запускает сессию чтения: загружает контент, прогресс,
// гидрирует историю решений и выкладывает поток до текущей главы читателя.
// Стадии ожидаются явно и по порядку; никакой зависимости от случайного
// планирования эффектов.
func Open(ctx context.Context, deps Dependencies, storyID uuid.UUID) (*ReaderSession, error) {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("ReaderSession").With(zap.Stringer("storyID", storyID))

	userID, ok := deps.Session.CurrentUserID()
	if !ok || !deps.Session.IsAuthenticated() {
		return nil, models.ErrAuthRequired
	}

	// Стадия 1: контент. Ошибки здесь фатальны, у контента нет ретраев.
	story, err := deps.Content.GetStory(ctx, storyID)
	if err != nil {
		return nil, fmt.Errorf("fetch story: %w", err)
	}
	if err := story.Validate(); err != nil {
		return nil, err
	}

	// Стадия 2: удалённый прогресс. Подтверждённое отсутствие — старт с нуля;
	// неоднозначный сбой — фатален для старта (см. Reconciler.LoadProgress).
	reconciler := NewReconciler(deps.Progress, userID, storyID, logger)
	progress, err := reconciler.LoadProgress(ctx)
	var (
		remoteDecisions map[string]models.DecisionRecord
		unlocked        []int
		currentChapter  int
		characterName   string
	)
	switch {
	case err == nil:
		remoteDecisions = progress.ChapterHistory
		unlocked = progress.UnlockedChapters
		currentChapter = progress.CurrentChapter
		characterName = progress.CharacterName
	case errors.Is(err, models.ErrProgressNotFound):
		// нет прогресса — дефолты
	default:
		return nil, err
	}
	if characterName == "" {
		characterName = story.DefaultCharacterName
	}

	// Стадия 3: гидрация истории решений. Обязана завершиться до построения
	// потока, иначе отвеченные выборы заблокируют главы после первой.
	history := NewDecisionHistory(logger)
	if err := history.Hydrate(remoteDecisions); err != nil {
		return nil, err
	}

	// Стадия 4: поток. Конструктор не примет негидрированную историю.
	stream, err := NewStreamBuilder(story, history, characterName, logger)
	if err != nil {
		return nil, err
	}

	access := NewAccessController(deps.Session, deps.Ledger, deps.Progress,
		storyID, story.FreeChapters(), unlocked, logger)

	s := &ReaderSession{
		logger:         logger,
		userID:         userID,
		storyID:        storyID,
		story:          story,
		history:        history,
		stream:         stream,
		access:         access,
		reconciler:     reconciler,
		currentChapter: 0,
		characterName:  characterName,
	}

	// Зеркало баланса: сбой не фатален, Unlock дозагрузит его при покупке.
	if err := access.RefreshBalance(ctx); err != nil {
		logger.Warn("Initial coin balance refresh failed", zap.Error(err))
	}

	// Выкладываем главы от начала до сохранённой текущей. Остановка на
	// неотвеченном выборе или запертой главе ограничивает фактическую
	// текущую главу — сохранённый индекс не может перепрыгнуть блокировку.
	if currentChapter >= len(story.Chapters) {
		currentChapter = len(story.Chapters) - 1
	}
	for idx := 0; idx <= currentChapter; idx++ {
		if idx > 0 && access.IsLocked(idx) {
			logger.Warn("Saved chapter is locked, stopping catch-up", zap.Int("chapter", idx))
			break
		}
		res, err := s.stream.AppendChapter(idx)
		if err != nil {
			return nil, err
		}
		s.currentChapter = idx
		if res.Status == AppendHalted {
			break
		}
	}

	logger.Info("Reading session opened",
		zap.Int("currentChapter", s.currentChapter),
		zap.Int("decisions", history.Len()))
	return s, nil
}

// Story возвращает неизменяемый контент сессии.
func (s *ReaderSession) Story() *models.Story { return s.story }

// UserID возвращает читателя этой сессии.
func (s *ReaderSession) UserID() uuid.UUID { return s.userID }

// CurrentChapter возвращает главу, которую читатель сейчас просматривает.
// Семантика поля currentChapter в прогрессе — именно "просматриваемая",
// а не "последняя завершённая" глава.
func (s *ReaderSession) CurrentChapter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentChapter
}

// CoinBalance возвращает зеркало баланса монет.
func (s *ReaderSession) CoinBalance() int { return s.access.CoinBalance() }

// CharacterName возвращает текущее имя персонажа читателя.
func (s *ReaderSession) CharacterName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.characterName
}

// GetVisibleStream возвращает снимок текущего отображаемого потока.
// Первое чтение фиксирует имя персонажа. Снимок делается под мьютексом
// сессии: конкурентный SelectChoice не мутирует уже выданный срез.
func (s *ReaderSession) GetVisibleStream() []StreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewed = true
	return s.stream.Entries()
}

// PeekStream возвращает снимок потока, не фиксируя факт показа читателю.
// Используется ответом открытия сессии: до первого настоящего чтения
// потока читатель ещё может сменить имя персонажа.
func (s *ReaderSession) PeekStream() []StreamEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Entries()
}

// SetCharacterName задаёт имя персонажа для подстановки в текст. Имеет смысл
// только до первого показа потока; после — ошибка, имя уже вплетено в
// выложенные сегменты.
func (s *ReaderSession) SetCharacterName(ctx context.Context, name string) error {
	s.mu.Lock()
	if s.viewed {
		s.mu.Unlock()
		return models.ErrCharacterNameLocked
	}
	s.characterName = name
	s.stream.SetCharacterName(name)
	s.mu.Unlock()

	s.persistAsync(ctx, models.ProgressDelta{CharacterName: &name})
	return nil
}

// SelectChoice записывает выбор читателя в точке выбора и продолжает поток.
// Повторный выбор по тому же ключу не перезаписывает первый (first write
// wins) и не порождает повторной персистенции.
func (s *ReaderSession) SelectChoice(ctx context.Context, key models.DecisionKey, choice string) error {
	seg, err := s.decisionSegment(key)
	if err != nil {
		return err
	}

	rec, created, err := s.history.RecordChoice(key, seg, choice)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, err := s.stream.ResolveDecision(key, rec); err != nil {
		s.mu.Unlock()
		return err
	}
	currentChapter := s.currentChapter
	s.mu.Unlock()

	if !created {
		s.logger.Debug("Choice was already recorded, stream resumed without persist",
			zap.String("key", key.String()))
		return nil
	}
	choiceCounter.Inc()

	s.persistAsync(ctx, models.ProgressDelta{
		CurrentChapter: &currentChapter,
		Decisions:      map[string]models.DecisionRecord{key.String(): rec},
	})
	return nil
}

// RequestNextChapter переводит читателя на следующую главу, если текущая
// дочитана. Запертая глава не добавляется — возвращается её стоимость.
func (s *ReaderSession) RequestNextChapter(ctx context.Context) (NextChapterResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, pending := s.stream.PendingDecision(); pending {
		return NextChapterResult{Status: NextChapterBlocked, ChapterIndex: s.currentChapter}, nil
	}
	if !s.stream.ChapterComplete(s.currentChapter) {
		return NextChapterResult{Status: NextChapterBlocked, ChapterIndex: s.currentChapter}, nil
	}

	next := s.currentChapter + 1
	if next >= len(s.story.Chapters) {
		return NextChapterResult{Status: NextChapterEndOfStory, ChapterIndex: s.currentChapter}, nil
	}
	if s.access.IsLocked(next) {
		return NextChapterResult{
			Status:       NextChapterLocked,
			ChapterIndex: next,
			UnlockCost:   s.story.ChapterUnlockCost(),
		}, nil
	}

	if _, err := s.stream.AppendChapter(next); err != nil {
		return NextChapterResult{}, err
	}
	s.currentChapter = next

	delta := models.ProgressDelta{CurrentChapter: &next}
	if next >= s.story.FreeChapters() {
		delta.UnlockChapters = []int{next}
	}
	s.persistAsync(ctx, delta)

	return NextChapterResult{Status: NextChapterAppended, ChapterIndex: next}, nil
}

// ConfirmUnlock проводит покупку главы. После успеха глава открыта навсегда;
// добавление её в поток — следующий RequestNextChapter.
func (s *ReaderSession) ConfirmUnlock(ctx context.Context, chapterIndex int) error {
	if chapterIndex < 0 || chapterIndex >= len(s.story.Chapters) {
		return fmt.Errorf("%w: chapter %d of %d", models.ErrChapterOutOfRange, chapterIndex, len(s.story.Chapters))
	}
	if err := s.access.Unlock(ctx, chapterIndex, s.story.ChapterUnlockCost()); err != nil {
		return err
	}
	// Удалённая отметка уже сделана внутри Unlock; дельта держит поле
	// unlockedChapters документа прогресса в согласии с ней.
	s.persistAsync(ctx, models.ProgressDelta{UnlockChapters: []int{chapterIndex}})
	return nil
}

// IsChapterLocked — прокси к контроллеру доступа для слоя отображения.
func (s *ReaderSession) IsChapterLocked(chapterIndex int) bool {
	return s.access.IsLocked(chapterIndex)
}

// Close завершает сессию. Незавершённые записи прогресса доживают до конца:
// teardown не отменяет операции с побочными эффектами. Таймаут ограничивает
// ожидание, сами записи и после него продолжают выполняться в фоне.
func (s *ReaderSession) Close(timeout time.Duration) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.persistWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("Session closed with persists still in flight")
	}
}

// persistAsync отправляет дельту в реконсилятор, не блокируя вызывающего.
// Контекст отвязывается от отмены: уход читателя с экрана не должен
// оборвать запись с побочным эффектом.
func (s *ReaderSession) persistAsync(ctx context.Context, delta models.ProgressDelta) {
	detached := context.WithoutCancel(ctx)
	s.persistWG.Add(1)
	go func() {
		defer s.persistWG.Done()
		s.reconciler.PersistProgress(detached, delta)
	}()
}

// decisionSegment валидирует ключ и возвращает сегмент точки выбора.
func (s *ReaderSession) decisionSegment(key models.DecisionKey) (*models.DecisionSegment, error) {
	if key.Chapter < 0 || key.Chapter >= len(s.story.Chapters) {
		return nil, fmt.Errorf("%w: chapter %d", models.ErrChapterOutOfRange, key.Chapter)
	}
	chapter := s.story.Chapters[key.Chapter]
	if key.Segment < 0 || key.Segment >= len(chapter.Segments) {
		return nil, fmt.Errorf("%w: segment %d of chapter %d", models.ErrChapterOutOfRange, key.Segment, key.Chapter)
	}
	seg := chapter.Segments[key.Segment]
	if seg.Type != models.SegmentTypeDecision {
		return nil, models.ErrNotADecision
	}
	return seg.Decision, nil
}
