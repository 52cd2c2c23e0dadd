package xai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
)

var (
	ErrAuthFailed    = errors.New("authentication failed")
	ErrRequestFailed = errors.New("request failed")
	ErrInvalidJSON   = errors.New("response is not valid json")
	ErrRateLimit     = errors.New("rate limit exceeded")
)

// Transport - один синхронный POST в chat-completions
type Transport interface {
	Send(ctx context.Context, endpoint, apiKey string, payload *domain.RequestPayload) (*Response, error)
}

type Response struct {
	StatusCode int
	Body       json.RawMessage
	Duration   time.Duration
}

// handleNonJSON вызывается, когда тело ответа не JSON: ошибку API показать
// нечем, поэтому хотя бы различаем ключевые статусы.
func handleNonJSON(statusCode int, body []byte, logger *zap.Logger) error {
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrAuthFailed
	case http.StatusTooManyRequests:
		return ErrRateLimit
	default:
		logger.Error("xai returned non-json body",
			zap.Int("status", statusCode),
			zap.String("body", truncate(string(body), 512)),
		)
		return fmt.Errorf("%w: status %d", ErrInvalidJSON, statusCode)
	}
}

func doRequest(client *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrRequestFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: read response: %v", ErrRequestFailed, err)
	}

	return body, resp.StatusCode, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
