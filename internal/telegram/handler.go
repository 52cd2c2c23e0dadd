package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/kitbuilder587/livesearch-bot/internal/domain"
	"github.com/kitbuilder587/livesearch-bot/internal/session"
	"github.com/kitbuilder587/livesearch-bot/internal/xai"
)

// usageError - команда вызвана без нужного аргумента, текст - подсказка
type usageError string

func (e usageError) Error() string { return "usage: " + string(e) }

// formSetter меняет одно поле формы и возвращает подтверждение для оператора
type formSetter func(f *domain.Form, args string) (string, error)

type Handler struct {
	bot     *Bot
	setters map[string]formSetter
}

func NewHandler(bot *Bot) *Handler {
	h := &Handler{bot: bot}
	h.setters = map[string]formSetter{
		"key":       setKey,
		"endpoint":  h.setEndpoint,
		"model":     h.setModel,
		"mode":      setMode,
		"from":      setDate("Дата начала", true),
		"to":        setDate("Дата окончания", false),
		"citations": toggle("Цитаты", func(f *domain.Form) *bool { return &f.ReturnCitations }),
		"max":       setMaxResults,

		"web":  toggle("Источник Web", func(f *domain.Form) *bool { return &f.Web.Enabled }),
		"news": toggle("Источник News", func(f *domain.Form) *bool { return &f.News.Enabled }),
		"x":    toggle("Источник X", func(f *domain.Form) *bool { return &f.X.Enabled }),
		"rss":  toggle("Источник RSS", func(f *domain.Form) *bool { return &f.RSS.Enabled }),

		"web_country":  setCountry("Web", func(f *domain.Form) *domain.SiteSourceForm { return &f.Web }),
		"news_country": setCountry("News", func(f *domain.Form) *domain.SiteSourceForm { return &f.News }),
		"web_safe":     toggle("Safe search для Web", func(f *domain.Form) *bool { return &f.Web.SafeSearch }),
		"news_safe":    toggle("Safe search для News", func(f *domain.Form) *bool { return &f.News.SafeSearch }),
		"web_exclude":  setExcluded("Web", func(f *domain.Form) *domain.SiteSourceForm { return &f.Web }),
		"news_exclude": setExcluded("News", func(f *domain.Form) *domain.SiteSourceForm { return &f.News }),

		"x_handles": setHandles,
		"rss_link":  setRSSLink,
	}
	return h
}

func (h *Handler) HandleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg == nil || msg.Chat == nil {
		return
	}

	cmd, args, isCommand := ParseCommand(msg.Text)

	// текст сообщения и аргументы не логируем: там бывает ключ
	h.bot.logger.Info("received message",
		zap.Int64("chat_id", msg.Chat.ID),
		zap.Bool("is_command", isCommand),
		zap.String("command", cmd),
	)

	if !isCommand {
		h.handleText(msg)
		return
	}
	h.handleCommand(ctx, msg, cmd, args)
}

func (h *Handler) handleCommand(ctx context.Context, msg *tgbotapi.Message, cmd, args string) {
	chatID := msg.Chat.ID

	switch cmd {
	case "start", "help":
		h.bot.Send(chatID, helpText)
		return
	case "form":
		h.handleForm(msg)
		return
	case "result":
		h.handleResult(msg)
		return
	case "send":
		h.handleSend(ctx, msg)
		return
	case "model":
		if args == "" {
			h.handleModels(msg)
			return
		}
	}

	if cmd == "key" {
		// ключ не должен висеть в истории чата
		if err := h.bot.DeleteMessage(chatID, msg.MessageID); err != nil {
			h.bot.logger.Warn("failed to delete message with api key",
				zap.Int64("chat_id", chatID),
				zap.Error(err),
			)
		}
	}

	if cmd == "clear" {
		if h.rejectIfBusy(chatID) {
			return
		}
		h.handleClear(msg)
		return
	}

	setter, ok := h.setters[cmd]
	if !ok {
		h.bot.Send(chatID, "Неизвестная команда. Используйте /help для справки.")
		return
	}

	h.applyForm(chatID, cmd, func(f *domain.Form) (string, error) {
		return setter(f, args)
	})
}

func (h *Handler) handleText(msg *tgbotapi.Message) {
	h.applyForm(msg.Chat.ID, "message", func(f *domain.Form) (string, error) {
		if strings.TrimSpace(msg.Text) == "" {
			return "", domain.ErrMissingMessage
		}
		f.Message = msg.Text
		return "Сообщение сохранено. Отправить: /send", nil
	})
}

// applyForm применяет изменение к форме чата. Пока идёт запрос, форма заблокирована.
func (h *Handler) applyForm(chatID int64, field string, fn func(f *domain.Form) (string, error)) {
	if h.rejectIfBusy(chatID) {
		return
	}

	var reply string
	_, err := h.bot.searchService.UpdateForm(chatID, func(f *domain.Form) error {
		var err error
		reply, err = fn(f)
		return err
	})
	if err != nil {
		h.bot.logger.Debug("form field rejected",
			zap.Int64("chat_id", chatID),
			zap.String("field", field),
			zap.Error(err),
		)
		h.bot.Send(chatID, mapErrorToMessage(err))
		return
	}

	h.bot.Send(chatID, reply)
}

func (h *Handler) rejectIfBusy(chatID int64) bool {
	if !h.bot.searchService.Busy(chatID) {
		return false
	}
	h.bot.Send(chatID, mapErrorToMessage(session.ErrBusy))
	return true
}

func (h *Handler) handleForm(msg *tgbotapi.Message) {
	sess := h.bot.searchService.Session(msg.Chat.ID)
	h.bot.Send(msg.Chat.ID, FormatForm(sess.Form))
}

func (h *Handler) handleModels(msg *tgbotapi.Message) {
	sess := h.bot.searchService.Session(msg.Chat.ID)
	h.bot.Send(msg.Chat.ID, FormatModels(h.bot.models, sess.Form.Model))
}

// handleSend фиксирует payload синхронно, в порядке апдейтов чата, а сам
// запрос уходит в фоне. Пока он идёт, форма чата заблокирована.
func (h *Handler) handleSend(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	req, err := h.bot.searchService.Begin(chatID)
	if err != nil {
		h.replySendError(chatID, err)
		return
	}

	h.bot.wg.Add(1)
	go func() {
		defer h.bot.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				h.bot.logger.Error("panic in send",
					zap.Int64("chat_id", chatID),
					zap.Any("panic", r),
				)
			}
		}()

		stopTyping := h.bot.keepTyping(ctx, chatID)
		sess, err := h.bot.searchService.Finish(ctx, req)
		stopTyping()

		if err != nil {
			h.replySendError(chatID, err)
			return
		}
		h.sendResult(chatID, sess)
	}()
}

func (h *Handler) replySendError(chatID int64, err error) {
	h.bot.logger.Info("send failed",
		zap.Int64("chat_id", chatID),
		zap.Error(err),
	)
	h.bot.Send(chatID, mapErrorToMessage(err))
}

func (h *Handler) handleResult(msg *tgbotapi.Message) {
	sess := h.bot.searchService.Session(msg.Chat.ID)
	if !sess.HasResult() {
		h.bot.Send(msg.Chat.ID, "Результата пока нет. Заполните форму и отправьте запрос: /send")
		return
	}
	h.sendResult(msg.Chat.ID, sess)
}

func (h *Handler) sendResult(chatID int64, sess domain.Session) {
	for _, m := range FormatResult(sess) {
		if err := h.bot.Send(chatID, m); err != nil {
			h.bot.logger.Error("failed to send message",
				zap.Int64("chat_id", chatID),
				zap.Error(err),
			)
		}
	}
}

func (h *Handler) handleClear(msg *tgbotapi.Message) {
	h.bot.searchService.Clear(msg.Chat.ID)
	h.bot.Send(msg.Chat.ID, "Результат очищен. Параметры формы сохранены.")
}

func setKey(f *domain.Form, args string) (string, error) {
	key := strings.TrimSpace(args)
	if key == "" {
		return "", domain.ErrMissingAPIKey
	}
	f.APIKey = key
	return "API ключ сохранён, сообщение с ним удалено.", nil
}

func (h *Handler) setEndpoint(f *domain.Form, args string) (string, error) {
	if args == "" {
		f.Endpoint = h.bot.defaultEndpoint
		return fmt.Sprintf("Endpoint сброшен: %s", html.EscapeString(f.Endpoint)), nil
	}
	if err := domain.ValidateURL(args); err != nil {
		return "", err
	}
	f.Endpoint = args
	return fmt.Sprintf("Endpoint: %s", html.EscapeString(args)), nil
}

func (h *Handler) setModel(f *domain.Form, args string) (string, error) {
	for _, m := range h.bot.models {
		if m == args {
			f.Model = m
			return fmt.Sprintf("Модель: %s", html.EscapeString(m)), nil
		}
	}
	return "", domain.ErrUnknownModel
}

func setMode(f *domain.Form, args string) (string, error) {
	if args == "" {
		return "", usageError("/mode auto|on|off")
	}
	mode, err := domain.ParseSearchMode(args)
	if err != nil {
		return "", err
	}
	f.Mode = mode
	return fmt.Sprintf("Режим поиска: %s", mode), nil
}

func setDate(label string, from bool) formSetter {
	return func(f *domain.Form, args string) (string, error) {
		if args == "" {
			return "", usageError("ГГГГ-ММ-ДД или - чтобы очистить")
		}
		d, err := ParseOptionalDate(args)
		if err != nil {
			return "", err
		}
		if from {
			f.FromDate = d
		} else {
			f.ToDate = d
		}
		if d.IsZero() {
			return fmt.Sprintf("%s очищена.", label), nil
		}
		return fmt.Sprintf("%s: %s", label, d.Format(domain.DateLayout)), nil
	}
}

func setMaxResults(f *domain.Form, args string) (string, error) {
	n, err := ParseMaxResults(args)
	if err != nil {
		return "", err
	}
	f.MaxResults = n
	return fmt.Sprintf("Макс. результатов: %d", n), nil
}

func toggle(label string, field func(*domain.Form) *bool) formSetter {
	return func(f *domain.Form, args string) (string, error) {
		on, err := ParseToggle(args)
		if err != nil {
			return "", err
		}
		*field(f) = on
		return fmt.Sprintf("%s: %s", label, onOff(on)), nil
	}
}

func setCountry(label string, source func(*domain.Form) *domain.SiteSourceForm) formSetter {
	return func(f *domain.Form, args string) (string, error) {
		if args == "" {
			return "", usageError("код страны, например US, или - чтобы очистить")
		}
		code, err := ParseOptionalCountry(args)
		if err != nil {
			return "", err
		}
		code = strings.ToUpper(code)
		source(f).Country = code
		if code == "" {
			return fmt.Sprintf("Страна для %s очищена.", label), nil
		}
		return fmt.Sprintf("Страна для %s: %s", label, code), nil
	}
}

func setExcluded(label string, source func(*domain.Form) *domain.SiteSourceForm) formSetter {
	return func(f *domain.Form, args string) (string, error) {
		if args == "" {
			return "", usageError("домены по одному на строку, или - чтобы очистить")
		}
		if IsClearArg(args) {
			source(f).Excluded = ""
			return fmt.Sprintf("Исключения для %s очищены.", label), nil
		}

		sites := domain.SplitLines(args)
		source(f).Excluded = strings.Join(sites, "\n")

		reply := fmt.Sprintf("Исключено для %s: %d", label, len(sites))
		if len(sites) > domain.MaxExcludedWebsites {
			reply += fmt.Sprintf("\nВ запрос попадут только первые %d.", domain.MaxExcludedWebsites)
		}
		return reply, nil
	}
}

func setHandles(f *domain.Form, args string) (string, error) {
	if args == "" {
		return "", usageError("хэндлы по одному на строку, или - чтобы очистить")
	}
	if IsClearArg(args) {
		f.X.Handles = ""
		return "Хэндлы X очищены.", nil
	}
	f.X.Handles = NormalizeHandles(args)
	return fmt.Sprintf("Хэндлы X: %d", len(domain.SplitLines(f.X.Handles))), nil
}

func setRSSLink(f *domain.Form, args string) (string, error) {
	if args == "" {
		return "", usageError("/rss_link https://example.com/feed.xml, или - чтобы очистить")
	}
	if IsClearArg(args) {
		f.RSS.Link = ""
		return "RSS ссылка очищена.", nil
	}
	if err := domain.ValidateURL(args); err != nil {
		return "", err
	}
	f.RSS.Link = args

	reply := fmt.Sprintf("RSS: %s", html.EscapeString(args))
	if !f.RSS.Enabled {
		reply += "\nИсточник RSS выключен, включить: /rss on"
	}
	return reply, nil
}

const helpText = `<b>xAI Live Search</b>

Заполните форму командами и отправьте запрос. Ответ придёт как есть: payload, сырой JSON, текст и ссылки.

<b>Запрос:</b>
/key ключ - API ключ xAI (сообщение удаляется)
/endpoint URL - адрес API, без аргумента сброс
/model имя - модель, без аргумента список
текст без команды - сообщение для модели

<b>Поиск:</b>
/mode auto|on|off - режим поиска
/from, /to ГГГГ-ММ-ДД - период, - очищает
/citations on|off - возвращать цитаты
/max N - макс. результатов (1-50)

<b>Источники:</b>
/web, /news, /x, /rss on|off - включить источник
/web_country, /news_country XX - страна
/web_safe, /news_safe on|off - safe search
/web_exclude, /news_exclude - домены по строкам (до 5)
/x_handles - хэндлы X по строкам
/rss_link URL - RSS лента

<b>Действия:</b>
/form - текущие параметры
/send - отправить запрос
/result - показать последний ответ
/clear - очистить результат`

func mapErrorToMessage(err error) string {
	var usage usageError
	switch {
	case errors.As(err, &usage):
		return "Использование: " + html.EscapeString(string(usage))
	case errors.Is(err, domain.ErrMissingAPIKey):
		return "Укажите API ключ: /key ваш_ключ"
	case errors.Is(err, domain.ErrMissingMessage):
		return "Введите сообщение: просто отправьте текст в чат."
	case errors.Is(err, domain.ErrInvalidMode):
		return "Режим поиска: auto, on или off."
	case errors.Is(err, domain.ErrInvalidMaxResults):
		return "Количество результатов должно быть от 1 до 50."
	case errors.Is(err, domain.ErrInvalidCountry):
		return "Код страны: две латинские буквы, например US. Очистить: -"
	case errors.Is(err, domain.ErrInvalidDate):
		return "Дата в формате ГГГГ-ММ-ДД, например 2024-01-31. Очистить: -"
	case errors.Is(err, domain.ErrInvalidURL):
		return "Некорректный URL. Нужен адрес вида https://example.com"
	case errors.Is(err, domain.ErrUnknownModel):
		return "Неизвестная модель. Список моделей: /model"
	case errors.Is(err, ErrInvalidToggle):
		return "Ожидается on или off."
	case errors.Is(err, ErrInvalidNumber):
		return "Ожидается число."
	case errors.Is(err, session.ErrBusy):
		return "Запрос уже выполняется, дождитесь ответа."
	case errors.Is(err, xai.ErrAuthFailed):
		return "xAI отклонил ключ. Проверьте API ключ: /key"
	case errors.Is(err, xai.ErrRateLimit):
		return "xAI: превышен лимит запросов. Попробуйте позже."
	case errors.Is(err, xai.ErrInvalidJSON):
		return "Ответ сервера не является JSON."
	case errors.Is(err, xai.ErrRequestFailed):
		return "Не удалось выполнить запрос: " + html.EscapeString(err.Error())
	default:
		return "Произошла ошибка. Попробуйте позже."
	}
}
