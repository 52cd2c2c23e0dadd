package xai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
)

type Config struct {
	// Timeout == 0 - без таймаута, как у http.Client по умолчанию
	Timeout   time.Duration
	UserAgent string
}

type Client struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "livesearch-bot"
	}

	return &Client{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: cfg.UserAgent,
		logger:    logger,
	}
}

// Send отправляет payload ровно один раз. Ретраев нет.
// Тело ответа возвращается как есть при любом статусе, если это валидный JSON:
// ошибка API тоже полезна оператору.
func (c *Client) Send(ctx context.Context, endpoint, apiKey string, payload *domain.RequestPayload) (*Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrRequestFailed, err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	respBody, statusCode, err := doRequest(c.client, httpReq)
	duration := time.Since(start)
	if err != nil {
		c.logger.Warn("xai request failed",
			zap.String("endpoint", endpoint),
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return nil, err
	}

	if !json.Valid(respBody) {
		return nil, handleNonJSON(statusCode, respBody, c.logger)
	}

	if statusCode != http.StatusOK {
		c.logger.Warn("xai returned error status",
			zap.Int("status", statusCode),
			zap.String("body", truncate(string(respBody), 512)),
		)
	}

	c.logger.Debug("xai response received",
		zap.Int("status", statusCode),
		zap.Int("bytes", len(respBody)),
		zap.Duration("duration", duration),
	)

	return &Response{
		StatusCode: statusCode,
		Body:       json.RawMessage(respBody),
		Duration:   duration,
	}, nil
}

var _ Transport = (*Client)(nil)
