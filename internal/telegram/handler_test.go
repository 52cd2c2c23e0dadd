package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
	"github.com/kitbuilder587/livesearch-bot/internal/service"
	"github.com/kitbuilder587/livesearch-bot/internal/session"
	"github.com/kitbuilder587/livesearch-bot/internal/xai"
	xaiMock "github.com/kitbuilder587/livesearch-bot/internal/xai/mock"
)

const (
	testEndpoint = "https://api.x.ai/v1/chat/completions"
	testChatID   = int64(100)
)

// fakeSender запоминает всё, что бот отправил в телеграм
type fakeSender struct {
	mu       sync.Mutex
	messages []tgbotapi.MessageConfig
	deleted  []int
	actions  int
	sendErr  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.messages = append(f.messages, m)
	}
	return tgbotapi.Message{}, f.sendErr
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := c.(type) {
	case tgbotapi.DeleteMessageConfig:
		f.deleted = append(f.deleted, v.MessageID)
	case tgbotapi.ChatActionConfig:
		f.actions++
	}
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.Text
	}
	return out
}

func (f *fakeSender) last() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

func (f *fakeSender) typingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.actions
}

type testEnv struct {
	bot       *Bot
	out       *fakeSender
	svc       service.SearchService
	transport *xaiMock.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := session.New(session.Config{
		TTL:             time.Hour,
		DefaultEndpoint: testEndpoint,
		DefaultModel:    "grok-3-latest",
	})
	t.Cleanup(store.Stop)

	transport := xaiMock.New()
	svc := service.NewSearchService(service.SearchServiceDeps{
		Store:     store,
		Transport: transport,
		Logger:    zap.NewNop(),
		Now:       func() time.Time { return time.Date(2024, 6, 1, 10, 30, 0, 0, time.UTC) },
	})

	out := &fakeSender{}
	bot := newBot(out, BotConfig{
		DefaultEndpoint: testEndpoint,
		Models:          []string{"grok-3-latest", "grok-2"},
	}, svc, zap.NewNop(), nil)

	return &testEnv{bot: bot, out: out, svc: svc, transport: transport}
}

// say обрабатывает сообщение и ждёт фоновые запросы
func (e *testEnv) say(text string) {
	e.post(text)
	e.bot.wg.Wait()
}

func (e *testEnv) post(text string) {
	e.bot.handler.HandleMessage(context.Background(), &tgbotapi.Message{
		MessageID: 42,
		Chat:      &tgbotapi.Chat{ID: testChatID},
		Text:      text,
	})
}

func (e *testEnv) form() domain.Form {
	return e.svc.Session(testChatID).Form
}

func TestHandler_Key(t *testing.T) {
	env := newTestEnv(t)

	env.say("/key xai-secret-key")

	if got := env.form().APIKey; got != "xai-secret-key" {
		t.Errorf("APIKey = %q", got)
	}
	if len(env.out.deleted) != 1 || env.out.deleted[0] != 42 {
		t.Errorf("deleted = %v, want [42]", env.out.deleted)
	}
	if strings.Contains(env.out.last(), "xai-secret-key") {
		t.Error("key must not be echoed back")
	}
}

func TestHandler_KeyEmptyStillDeletes(t *testing.T) {
	env := newTestEnv(t)

	env.say("/key")

	if len(env.out.deleted) != 1 {
		t.Errorf("deleted = %v, want one message", env.out.deleted)
	}
	if !strings.Contains(env.out.last(), "Укажите API ключ") {
		t.Errorf("reply = %q", env.out.last())
	}
}

func TestHandler_PlainTextSetsMessage(t *testing.T) {
	env := newTestEnv(t)

	env.say("Provide me a digest of world news")

	if got := env.form().Message; got != "Provide me a digest of world news" {
		t.Errorf("Message = %q", got)
	}
	if !strings.Contains(env.out.last(), "Сообщение сохранено") {
		t.Errorf("reply = %q", env.out.last())
	}
}

func TestHandler_SendWithoutKey(t *testing.T) {
	env := newTestEnv(t)

	env.say("what happened today?")
	env.say("/send")

	if !strings.Contains(env.out.last(), "Укажите API ключ") {
		t.Errorf("reply = %q", env.out.last())
	}
	if env.transport.Calls() != 0 {
		t.Errorf("transport called %d times, want 0", env.transport.Calls())
	}
}

func TestHandler_SendWithoutMessage(t *testing.T) {
	env := newTestEnv(t)

	env.say("/key xai-key")
	env.say("/send")

	if !strings.Contains(env.out.last(), "Введите сообщение") {
		t.Errorf("reply = %q", env.out.last())
	}
	if env.transport.Calls() != 0 {
		t.Errorf("transport called %d times, want 0", env.transport.Calls())
	}
}

func TestHandler_SendFlow(t *testing.T) {
	env := newTestEnv(t)
	env.transport.WithBody(`{"choices":[{"message":{"content":"Here is the digest","citations":["https://news.example/1"]}}]}`)

	for _, cmd := range []string{
		"/key xai-key",
		"Provide me a digest of world news produced today",
		"/web_country us",
		"/web_safe off",
		"/news off",
		"/x off",
		"/citations off",
		"/send",
	} {
		env.say(cmd)
	}

	if env.transport.Calls() != 1 {
		t.Fatalf("transport called %d times, want 1", env.transport.Calls())
	}
	if env.transport.LastAPIKey != "xai-key" || env.transport.LastEndpoint != testEndpoint {
		t.Errorf("transport got key %q endpoint %q", env.transport.LastAPIKey, env.transport.LastEndpoint)
	}

	params := env.transport.LastPayload.SearchParameters
	if len(params.Sources) != 1 {
		t.Fatalf("sources = %+v, want only web", params.Sources)
	}
	web := params.Sources[0]
	if web.Type != domain.SourceWeb || web.Country != "US" || web.SafeSearch == nil || *web.SafeSearch {
		t.Errorf("web source = %+v", web)
	}
	if params.ReturnCitations {
		t.Error("return_citations should be off")
	}

	if env.out.typingCount() == 0 {
		t.Error("typing indicator was not shown")
	}

	out := strings.Join(env.out.texts(), "\n")
	for _, want := range []string{
		"Запрос отправлен 2024-06-01 10:30:00 UTC",
		"&#34;country&#34;: &#34;US&#34;",
		"Here is the digest",
		`<a href="https://news.example/1">`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestHandler_TransportError(t *testing.T) {
	env := newTestEnv(t)
	env.transport.WithError(fmt.Errorf("%w: dial tcp: connection refused", xai.ErrRequestFailed))

	env.say("/key xai-key")
	env.say("hello")
	env.say("/send")

	if !strings.Contains(env.out.last(), "Не удалось выполнить запрос") {
		t.Errorf("reply = %q", env.out.last())
	}
	if sess := env.svc.Session(testChatID); sess.HasResult() {
		t.Error("no response should be stored after a transport error")
	}
}

func TestHandler_FieldErrors(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"max too small", "/max 0", "от 1 до 50"},
		{"max not a number", "/max many", "Ожидается число"},
		{"bad mode", "/mode always", "auto, on или off"},
		{"mode without args", "/mode", "Использование"},
		{"bad date", "/from 01.01.2024", "ГГГГ-ММ-ДД"},
		{"bad country", "/web_country USA", "две латинские буквы"},
		{"unknown model", "/model gpt-4", "Неизвестная модель"},
		{"bad toggle", "/citations maybe", "on или off"},
		{"bad endpoint", "/endpoint ftp://example.com", "Некорректный URL"},
		{"bad rss link", "/rss_link not a url", "Некорректный URL"},
		{"unknown command", "/frobnicate", "Неизвестная команда"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			before := env.form()

			env.say(tt.text)

			if !strings.Contains(env.out.last(), tt.want) {
				t.Errorf("reply = %q, want it to contain %q", env.out.last(), tt.want)
			}
			after := env.form()
			if after.Mode != before.Mode || after.MaxResults != before.MaxResults ||
				after.Model != before.Model || after.Endpoint != before.Endpoint ||
				!after.FromDate.Equal(before.FromDate) || after.Web.Country != before.Web.Country {
				t.Errorf("form changed after rejected input: %+v", after)
			}
		})
	}
}

func TestHandler_FieldUpdates(t *testing.T) {
	env := newTestEnv(t)

	for _, cmd := range []string{
		"/mode on",
		"/from 2024-01-01",
		"/to 2024-01-31",
		"/max 10",
		"/model grok-2",
		"/endpoint https://proxy.example/v1/chat/completions",
		"/news_country de",
		"/news_safe off",
		"/x_handles\n@grok\n@xai",
		"/rss on",
		"/rss_link https://example.com/feed.xml",
		"/web off",
	} {
		env.say(cmd)
	}

	f := env.form()
	if f.Mode != domain.ModeOn {
		t.Errorf("Mode = %q", f.Mode)
	}
	if f.FromDate.Format(domain.DateLayout) != "2024-01-01" || f.ToDate.Format(domain.DateLayout) != "2024-01-31" {
		t.Errorf("dates = %v .. %v", f.FromDate, f.ToDate)
	}
	if f.MaxResults != 10 {
		t.Errorf("MaxResults = %d", f.MaxResults)
	}
	if f.Model != "grok-2" {
		t.Errorf("Model = %q", f.Model)
	}
	if f.Endpoint != "https://proxy.example/v1/chat/completions" {
		t.Errorf("Endpoint = %q", f.Endpoint)
	}
	if f.News.Country != "DE" || f.News.SafeSearch {
		t.Errorf("News = %+v", f.News)
	}
	if f.X.Handles != "grok\nxai" {
		t.Errorf("Handles = %q", f.X.Handles)
	}
	if !f.RSS.Enabled || f.RSS.Link != "https://example.com/feed.xml" {
		t.Errorf("RSS = %+v", f.RSS)
	}
	if f.Web.Enabled {
		t.Error("Web should be disabled")
	}

	env.say("/from -")
	env.say("/news_country -")
	env.say("/endpoint")

	f = env.form()
	if !f.FromDate.IsZero() {
		t.Error("from date should be cleared")
	}
	if f.News.Country != "" {
		t.Errorf("News.Country = %q, want cleared", f.News.Country)
	}
	if f.Endpoint != testEndpoint {
		t.Errorf("Endpoint = %q, want default", f.Endpoint)
	}
}

func TestHandler_ExcludedWebsites(t *testing.T) {
	env := newTestEnv(t)

	env.say("/web_exclude\na.com\nb.com\n\nc.com\nd.com\ne.com\nf.com")

	if got := env.form().Web.Excluded; got != "a.com\nb.com\nc.com\nd.com\ne.com\nf.com" {
		t.Errorf("Excluded = %q", got)
	}
	if !strings.Contains(env.out.last(), "только первые 5") {
		t.Errorf("reply = %q, want truncation notice", env.out.last())
	}

	env.say("/web_exclude -")
	if got := env.form().Web.Excluded; got != "" {
		t.Errorf("Excluded = %q, want cleared", got)
	}
}

func TestHandler_ModelList(t *testing.T) {
	env := newTestEnv(t)

	env.say("/model")

	if !strings.Contains(env.out.last(), "● grok-3-latest") || !strings.Contains(env.out.last(), "○ grok-2") {
		t.Errorf("reply = %q", env.out.last())
	}
}

func TestHandler_FormMasksKey(t *testing.T) {
	env := newTestEnv(t)

	env.say("/key xai-abcdefghijklmnop")
	env.say("/form")

	if strings.Contains(env.out.last(), "abcdefghijkl") {
		t.Error("form must not show the full key")
	}
	if !strings.Contains(env.out.last(), "xai-••••mnop") {
		t.Errorf("reply = %q", env.out.last())
	}
}

func TestHandler_ClearAndResult(t *testing.T) {
	env := newTestEnv(t)

	env.say("/result")
	if !strings.Contains(env.out.last(), "Результата пока нет") {
		t.Errorf("reply = %q", env.out.last())
	}

	env.say("/key xai-key")
	env.say("hello")
	env.say("/send")

	env.say("/result")
	if !strings.Contains(env.out.last(), "mock answer") {
		t.Errorf("/result should re-render the last response, got %q", env.out.last())
	}

	env.say("/clear")
	sess := env.svc.Session(testChatID)
	if sess.HasResult() || sess.LastPayload != nil || sess.Timestamp() != "" {
		t.Errorf("session not cleared: %+v", sess)
	}
	if sess.Form.APIKey != "xai-key" {
		t.Error("clear must keep the form")
	}

	env.say("/result")
	if !strings.Contains(env.out.last(), "Результата пока нет") {
		t.Errorf("reply = %q", env.out.last())
	}
}

func TestHandler_FormLockedWhileSending(t *testing.T) {
	env := newTestEnv(t)
	env.transport.WithDelay(300 * time.Millisecond)

	env.say("/key xai-key")
	env.say("hello")

	// Begin синхронный, после post чат уже занят
	env.post("/send")
	if !env.svc.Busy(testChatID) {
		t.Fatal("send did not start")
	}

	env.post("/mode off")
	if !strings.Contains(env.out.last(), "Запрос уже выполняется") {
		t.Errorf("reply = %q", env.out.last())
	}
	env.post("/clear")
	if !strings.Contains(env.out.last(), "Запрос уже выполняется") {
		t.Errorf("reply = %q", env.out.last())
	}

	env.post("/form")
	if !strings.Contains(env.out.last(), "Параметры запроса") {
		t.Errorf("/form should work while busy, got %q", env.out.last())
	}

	env.bot.wg.Wait()

	if env.form().Mode != domain.ModeAuto {
		t.Errorf("Mode = %q, form should have been locked", env.form().Mode)
	}
	if env.transport.Calls() != 1 {
		t.Errorf("transport called %d times, want 1", env.transport.Calls())
	}
}

func TestHandler_IgnoresMessageWithoutChat(t *testing.T) {
	env := newTestEnv(t)

	env.bot.handler.HandleMessage(context.Background(), &tgbotapi.Message{Text: "/help"})
	env.bot.handler.HandleMessage(context.Background(), nil)

	if len(env.out.texts()) != 0 {
		t.Errorf("unexpected replies: %v", env.out.texts())
	}
}

func TestMapErrorToMessage(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"missing key", domain.ErrMissingAPIKey, "Укажите API ключ: /key ваш_ключ"},
		{"missing message", domain.ErrMissingMessage, "Введите сообщение: просто отправьте текст в чат."},
		{"invalid mode", domain.ErrInvalidMode, "Режим поиска: auto, on или off."},
		{"max results", domain.ErrInvalidMaxResults, "Количество результатов должно быть от 1 до 50."},
		{"country", domain.ErrInvalidCountry, "Код страны: две латинские буквы, например US. Очистить: -"},
		{"date", domain.ErrInvalidDate, "Дата в формате ГГГГ-ММ-ДД, например 2024-01-31. Очистить: -"},
		{"url", domain.ErrInvalidURL, "Некорректный URL. Нужен адрес вида https://example.com"},
		{"model", domain.ErrUnknownModel, "Неизвестная модель. Список моделей: /model"},
		{"toggle", ErrInvalidToggle, "Ожидается on или off."},
		{"number", ErrInvalidNumber, "Ожидается число."},
		{"busy", session.ErrBusy, "Запрос уже выполняется, дождитесь ответа."},
		{"auth", xai.ErrAuthFailed, "xAI отклонил ключ. Проверьте API ключ: /key"},
		{"rate limit", xai.ErrRateLimit, "xAI: превышен лимит запросов. Попробуйте позже."},
		{"not json", fmt.Errorf("%w: status 502", xai.ErrInvalidJSON), "Ответ сервера не является JSON."},
		{"usage", usageError("/mode auto|on|off"), "Использование: /mode auto|on|off"},
		{"unknown", errors.New("some random error"), "Произошла ошибка. Попробуйте позже."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapErrorToMessage(tt.err)
			if got != tt.want {
				t.Errorf("mapErrorToMessage() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMapErrorToMessage_RequestFailedEscapes(t *testing.T) {
	err := fmt.Errorf("%w: parse \"<bad>\"", xai.ErrRequestFailed)
	got := mapErrorToMessage(err)
	if !strings.HasPrefix(got, "Не удалось выполнить запрос: ") {
		t.Errorf("mapErrorToMessage() = %q", got)
	}
	if strings.Contains(got, "<bad>") {
		t.Error("error text must be html-escaped")
	}
}
