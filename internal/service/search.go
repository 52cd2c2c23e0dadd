package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
	"github.com/kitbuilder587/livesearch-bot/internal/metrics"
	"github.com/kitbuilder587/livesearch-bot/internal/session"
	"github.com/kitbuilder587/livesearch-bot/internal/xai"
)

type SearchService interface {
	// Send - действие "отправить": собрать payload, один POST, запомнить ответ.
	// То же, что Begin и сразу Finish.
	Send(ctx context.Context, chatID int64) (domain.Session, error)
	Begin(chatID int64) (*PendingRequest, error)
	Finish(ctx context.Context, req *PendingRequest) (domain.Session, error)
	// Clear - действие "очистить": забыть payload, ответ и время ответа.
	Clear(chatID int64) domain.Session
	Session(chatID int64) domain.Session
	UpdateForm(chatID int64, fn func(*domain.Form) error) (domain.Form, error)
	// Busy - по чату идёт запрос, форма заблокирована.
	Busy(chatID int64) bool
}

type SessionStore interface {
	Snapshot(chatID int64) domain.Session
	Update(chatID int64, fn func(*domain.Session) error) (domain.Session, error)
	TryAcquire(chatID int64) bool
	Release(chatID int64)
	IsBusy(chatID int64) bool
}

// PendingRequest - payload, зафиксированный Begin. Форма после этого уже
// не влияет на запрос.
type PendingRequest struct {
	chatID    int64
	requestID string
	endpoint  string
	apiKey    string
	payload   *domain.RequestPayload
}

func (r *PendingRequest) ChatID() int64 { return r.chatID }

type SearchServiceDeps struct {
	Store     SessionStore
	Transport xai.Transport
	Logger    *zap.Logger
	Metrics   *metrics.Metrics

	// Now и NewID подменяются в тестах
	Now   func() time.Time
	NewID func() string
}

type searchService struct {
	store     SessionStore
	transport xai.Transport
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string
}

func NewSearchService(deps SearchServiceDeps) SearchService {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	return &searchService{
		store:     deps.Store,
		transport: deps.Transport,
		logger:    deps.Logger,
		metrics:   deps.Metrics,
		now:       deps.Now,
		newID:     deps.NewID,
	}
}

func (s *searchService) Send(ctx context.Context, chatID int64) (domain.Session, error) {
	req, err := s.Begin(chatID)
	if err != nil {
		return s.store.Snapshot(chatID), err
	}
	return s.Finish(ctx, req)
}

// Begin занимает чат, собирает payload из текущей формы и запоминает его.
// После успешного Begin чат занят до вызова Finish.
func (s *searchService) Begin(chatID int64) (*PendingRequest, error) {
	if !s.store.TryAcquire(chatID) {
		return nil, session.ErrBusy
	}

	form := s.store.Snapshot(chatID).Form

	payload, err := form.Build()
	if err != nil {
		s.store.Release(chatID)
		s.recordValidationError(err)
		s.logger.Info("send rejected by validation",
			zap.Int64("chat_id", chatID),
			zap.Error(err),
		)
		return nil, err
	}

	req := &PendingRequest{
		chatID:    chatID,
		requestID: s.newID(),
		endpoint:  form.Endpoint,
		apiKey:    form.APIKey,
		payload:   payload,
	}

	// старый ответ к новому payload не относится, сбрасываем сразу
	s.store.Update(chatID, func(sess *domain.Session) error {
		sess.Clear()
		sess.LastPayload = payload
		sess.RequestID = req.requestID
		return nil
	})

	return req, nil
}

// Finish выполняет запрос, начатый Begin, и освобождает чат.
func (s *searchService) Finish(ctx context.Context, req *PendingRequest) (domain.Session, error) {
	chatID := req.chatID
	defer s.store.Release(chatID)

	s.logger.Info("sending live search request",
		zap.Int64("chat_id", chatID),
		zap.String("request_id", req.requestID),
		zap.String("endpoint", req.endpoint),
		zap.String("model", req.payload.Model),
		zap.String("mode", req.payload.SearchParameters.Mode.String()),
		zap.Int("sources", len(req.payload.SearchParameters.Sources)),
	)

	if s.metrics != nil {
		s.metrics.IncRequestsInFlight()
		defer s.metrics.DecRequestsInFlight()
	}

	start := s.now()
	resp, err := s.transport.Send(ctx, req.endpoint, req.apiKey, req.payload)
	if err != nil {
		if s.metrics != nil {
			s.metrics.RecordXAIRequest(0, s.now().Sub(start))
		}
		s.logger.Error("live search request failed",
			zap.Int64("chat_id", chatID),
			zap.String("request_id", req.requestID),
			zap.Error(err),
		)
		return s.store.Snapshot(chatID), err
	}

	if s.metrics != nil {
		s.metrics.RecordXAIRequest(resp.StatusCode, resp.Duration)
	}

	sess, _ := s.store.Update(chatID, func(sess *domain.Session) error {
		sess.LastResponse = resp.Body
		sess.StatusCode = resp.StatusCode
		sess.RespondedAt = s.now().UTC()
		return nil
	})

	s.logger.Info("live search response stored",
		zap.Int64("chat_id", chatID),
		zap.String("request_id", req.requestID),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", resp.Duration),
	)

	return sess, nil
}

func (s *searchService) Clear(chatID int64) domain.Session {
	sess, _ := s.store.Update(chatID, func(sess *domain.Session) error {
		sess.Clear()
		return nil
	})
	s.logger.Debug("session cleared", zap.Int64("chat_id", chatID))
	return sess
}

func (s *searchService) Session(chatID int64) domain.Session {
	return s.store.Snapshot(chatID)
}

func (s *searchService) UpdateForm(chatID int64, fn func(*domain.Form) error) (domain.Form, error) {
	sess, err := s.store.Update(chatID, func(sess *domain.Session) error {
		return fn(&sess.Form)
	})
	return sess.Form, err
}

func (s *searchService) Busy(chatID int64) bool {
	return s.store.IsBusy(chatID)
}

func (s *searchService) recordValidationError(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case errors.Is(err, domain.ErrMissingAPIKey):
		s.metrics.RecordValidationError("missing_api_key")
	case errors.Is(err, domain.ErrMissingMessage):
		s.metrics.RecordValidationError("missing_message")
	default:
		s.metrics.RecordValidationError("other")
	}
}
