package mock

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
	"github.com/kitbuilder587/livesearch-bot/internal/xai"
)

type Client struct {
	Body       string
	StatusCode int
	Error      error
	Delay      time.Duration

	CallCount    int
	LastEndpoint string
	LastAPIKey   string
	LastPayload  *domain.RequestPayload

	mu sync.Mutex
}

func New() *Client {
	return &Client{
		Body:       `{"choices":[{"message":{"role":"assistant","content":"mock answer"}}]}`,
		StatusCode: http.StatusOK,
	}
}

func (c *Client) WithBody(body string) *Client {
	c.Body = body
	return c
}

func (c *Client) WithError(err error) *Client {
	c.Error = err
	return c
}

func (c *Client) WithDelay(delay time.Duration) *Client {
	c.Delay = delay
	return c
}

func (c *Client) Send(ctx context.Context, endpoint, apiKey string, payload *domain.RequestPayload) (*xai.Response, error) {
	c.mu.Lock()
	c.CallCount++
	c.LastEndpoint = endpoint
	c.LastAPIKey = apiKey
	c.LastPayload = payload
	delay := c.Delay
	err := c.Error
	body := c.Body
	status := c.StatusCode
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	if err != nil {
		return nil, err
	}

	return &xai.Response{
		StatusCode: status,
		Body:       json.RawMessage(body),
		Duration:   delay,
	}, nil
}

func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCount
}

var _ xai.Transport = (*Client)(nil)
