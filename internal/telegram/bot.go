package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/kitbuilder587/livesearch-bot/internal/metrics"
	"github.com/kitbuilder587/livesearch-bot/internal/service"
)

// телеграм гасит "печатает..." через 5 секунд
const defaultTypingInterval = 4 * time.Second

type BotConfig struct {
	Token           string
	Debug           bool
	DefaultEndpoint string
	Models          []string
}

// messageSender - то, что нужно боту от tgbotapi.BotAPI
type messageSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Bot struct {
	api             *tgbotapi.BotAPI
	out             messageSender
	searchService   service.SearchService
	defaultEndpoint string
	models          []string
	logger          *zap.Logger
	metrics         *metrics.Metrics
	handler         *Handler
	typingInterval  time.Duration
	wg              sync.WaitGroup

	// очереди апдейтов по чатам, ключ есть пока очередь разбирается
	queueMu sync.Mutex
	queues  map[int64][]tgbotapi.Update
}

func New(cfg BotConfig, searchSvc service.SearchService, logger *zap.Logger, m *metrics.Metrics) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	api.Debug = cfg.Debug

	bot := newBot(api, cfg, searchSvc, logger, m)
	bot.api = api

	logger.Info("telegram bot authorized",
		zap.String("username", api.Self.UserName),
	)

	if _, err := api.Request(tgbotapi.NewSetMyCommands(menuCommands()...)); err != nil {
		logger.Warn("failed to set bot commands", zap.Error(err))
	}

	return bot, nil
}

func newBot(out messageSender, cfg BotConfig, searchSvc service.SearchService, logger *zap.Logger, m *metrics.Metrics) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}

	bot := &Bot{
		out:             out,
		searchService:   searchSvc,
		defaultEndpoint: cfg.DefaultEndpoint,
		models:          cfg.Models,
		logger:          logger,
		metrics:         m,
		typingInterval:  defaultTypingInterval,
		queues:          make(map[int64][]tgbotapi.Update),
	}
	bot.handler = NewHandler(bot)
	return bot
}

func menuCommands() []tgbotapi.BotCommand {
	return []tgbotapi.BotCommand{
		{Command: "form", Description: "Текущие параметры запроса"},
		{Command: "send", Description: "Отправить запрос"},
		{Command: "result", Description: "Показать последний ответ"},
		{Command: "clear", Description: "Очистить результат"},
		{Command: "key", Description: "API ключ xAI"},
		{Command: "model", Description: "Выбрать модель"},
		{Command: "mode", Description: "Режим поиска: auto, on, off"},
		{Command: "help", Description: "Справка по командам"},
	}
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	b.logger.Info("bot started, waiting for updates")

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("bot stopping, waiting for handlers to finish")
			b.api.StopReceivingUpdates()
			b.wg.Wait()
			b.logger.Info("all handlers finished")
			return ctx.Err()
		case update := <-updates:
			if update.Message == nil || update.Message.Chat == nil {
				continue
			}
			b.dispatch(ctx, update)
		}
	}
}

// dispatch ставит апдейт в очередь его чата. Апдейты одного чата
// обрабатываются строго по порядку, разные чаты параллельно.
func (b *Bot) dispatch(ctx context.Context, update tgbotapi.Update) {
	chatID := update.Message.Chat.ID

	b.queueMu.Lock()
	q, active := b.queues[chatID]
	b.queues[chatID] = append(q, update)
	b.queueMu.Unlock()

	if active {
		return
	}

	b.wg.Add(1)
	go b.drain(ctx, chatID)
}

func (b *Bot) drain(ctx context.Context, chatID int64) {
	defer b.wg.Done()

	for {
		b.queueMu.Lock()
		q := b.queues[chatID]
		if len(q) == 0 {
			delete(b.queues, chatID)
			b.queueMu.Unlock()
			return
		}
		update := q[0]
		b.queues[chatID] = q[1:]
		b.queueMu.Unlock()

		b.handleUpdate(ctx, update)
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	startTime := time.Now()
	updType := updateType(update.Message)

	defer func() {
		if r := recover(); r != nil {
			chatID := int64(0)
			if update.Message != nil && update.Message.Chat != nil {
				chatID = update.Message.Chat.ID
			}
			b.logger.Error("panic in update handler",
				zap.Any("panic", r),
				zap.Int64("chat_id", chatID),
			)
			if b.metrics != nil {
				b.metrics.RecordUpdate(updType, "panic", time.Since(startTime))
			}
		}
	}()

	b.handler.HandleMessage(ctx, update.Message)

	if b.metrics != nil {
		b.metrics.RecordUpdate(updType, "processed", time.Since(startTime))
	}
}

func updateType(msg *tgbotapi.Message) string {
	if msg == nil {
		return "unknown"
	}
	if _, _, ok := ParseCommand(msg.Text); ok {
		return "command"
	}
	return "text"
}

func (b *Bot) Send(chatID int64, text string) error {
	if b.out == nil {
		return nil
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := b.out.Send(msg)
	return err
}

func (b *Bot) SendTyping(chatID int64) {
	if b.out == nil {
		return
	}
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	// ответ на sendChatAction - просто true, Send его не разберёт
	if _, err := b.out.Request(action); err != nil {
		b.logger.Debug("failed to send typing", zap.Error(err))
	}
}

func (b *Bot) DeleteMessage(chatID int64, messageID int) error {
	if b.out == nil {
		return nil
	}
	_, err := b.out.Request(tgbotapi.NewDeleteMessage(chatID, messageID))
	return err
}

// keepTyping держит индикатор набора, пока не вызван stop.
func (b *Bot) keepTyping(ctx context.Context, chatID int64) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	b.SendTyping(chatID)

	go func() {
		defer close(done)
		ticker := time.NewTicker(b.typingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				b.SendTyping(chatID)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}
