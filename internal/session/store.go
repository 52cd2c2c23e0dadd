package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
)

var ErrBusy = errors.New("request already in progress")

const defaultCleanupInterval = 5 * time.Minute

type entry struct {
	session  domain.Session
	busy     bool
	lastSeen time.Time
}

type Config struct {
	// TTL - сколько живёт сессия без активности. 0 - вечно.
	TTL             time.Duration
	CleanupInterval time.Duration
	DefaultEndpoint string
	DefaultModel    string
}

// Store - сессии чатов в памяти. После рестарта всё теряется.
type Store struct {
	mu       sync.Mutex
	items    map[int64]*entry
	cfg      Config
	now      func() time.Time
	stopChan chan struct{}
	stopped  bool
}

func New(cfg Config) *Store {
	return NewWithContext(context.Background(), cfg)
}

func NewWithContext(ctx context.Context, cfg Config) *Store {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = defaultCleanupInterval
	}

	s := &Store{
		items:    make(map[int64]*entry),
		cfg:      cfg,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
	go s.cleanup(ctx)
	return s
}

// get возвращает запись чата, создавая её при первом обращении. Вызывать под mu.
func (s *Store) get(chatID int64) *entry {
	e, ok := s.items[chatID]
	if !ok || s.expired(e) {
		e = &entry{
			session: domain.Session{
				Form: domain.NewForm(s.cfg.DefaultEndpoint, s.cfg.DefaultModel),
			},
		}
		s.items[chatID] = e
	}
	e.lastSeen = s.now()
	return e
}

func (s *Store) expired(e *entry) bool {
	if s.cfg.TTL <= 0 || e.busy {
		return false
	}
	return s.now().Sub(e.lastSeen) > s.cfg.TTL
}

func (s *Store) Snapshot(chatID int64) domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(chatID)
	return e.session.Clone()
}

// Update меняет сессию под блокировкой. Если fn вернула ошибку,
// изменения откатываются.
func (s *Store) Update(chatID int64, fn func(*domain.Session) error) (domain.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(chatID)
	draft := e.session.Clone()
	if err := fn(&draft); err != nil {
		return e.session.Clone(), err
	}
	e.session = draft
	return draft.Clone(), nil
}

// TryAcquire помечает чат занятым. Пока запрос не завершён, второй не пускаем.
func (s *Store) TryAcquire(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(chatID)
	if e.busy {
		return false
	}
	e.busy = true
	return true
}

func (s *Store) IsBusy(chatID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.items[chatID]
	return ok && e.busy
}

func (s *Store) Release(chatID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[chatID]; ok {
		e.busy = false
		e.lastSeen = s.now()
	}
}

// Len - число живых сессий. Просроченные, но ещё не вычищенные, не считаются.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, e := range s.items {
		if !s.expired(e) {
			n++
		}
	}
	return n
}

func (s *Store) Stop() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopChan)
	}
	s.mu.Unlock()
}

func (s *Store) cleanup(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.removeExpired()
		}
	}
}

func (s *Store) removeExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, e := range s.items {
		if s.expired(e) {
			delete(s.items, id)
		}
	}
}
