package transport

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"relaybot/internal/domain"
)

const (
	telegramMaxMsgLen = 4000
	telegramPollLimit = 100
)

type TelegramConfig struct {
	Token    string
	Endpoint string // API endpoint format, defaults to tgbotapi.APIEndpoint
	Client   *http.Client
	Logger   *slog.Logger
}

// Telegram polls the Bot API with getUpdates and replies with sendMessage.
// Addresses are numeric chat IDs.
type Telegram struct {
	token    string
	endpoint string
	client   *http.Client
	logger   *slog.Logger

	mu     sync.Mutex
	bot    *tgbotapi.BotAPI
	offset int
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = tgbotapi.APIEndpoint
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:    cfg.Token,
		endpoint: cfg.Endpoint,
		client:   cfg.Client,
		logger:   cfg.Logger,
	}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// connect lazily creates the bot client; NewBotAPI performs a getMe call
// so the first poll doubles as a connectivity check.
func (t *Telegram) connect() (*tgbotapi.BotAPI, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.bot != nil {
		return t.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(t.token, t.endpoint, t.client)
	if err != nil {
		return nil, domain.NewError(domain.KindTransportUnavailable, "telegram connect", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected", "username", bot.Self.UserName, "id", bot.Self.ID)
	return bot, nil
}

func (t *Telegram) Poll(ctx context.Context) ([]domain.InboundEvent, error) {
	bot, err := t.connect()
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	offset := t.offset
	t.mu.Unlock()

	u := tgbotapi.NewUpdate(offset)
	u.Limit = telegramPollLimit
	u.Timeout = 0
	updates, err := bot.GetUpdates(u)
	if err != nil {
		return nil, domain.NewError(domain.KindTransportUnavailable, "telegram poll", err)
	}

	var events []domain.InboundEvent
	for _, update := range updates {
		if update.UpdateID >= offset {
			offset = update.UpdateID + 1
		}
		msg := update.Message
		if msg == nil || msg.Chat == nil || strings.TrimSpace(msg.Text) == "" {
			continue
		}
		events = append(events, domain.InboundEvent{
			Sender:    strconv.FormatInt(msg.Chat.ID, 10),
			Recipient: bot.Self.UserName,
			Content:   msg.Text,
		})
	}

	t.mu.Lock()
	if offset > t.offset {
		t.offset = offset
	}
	t.mu.Unlock()

	return events, nil
}

func (t *Telegram) Send(ctx context.Context, address, text string) error {
	chatID, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64)
	if err != nil {
		return domain.NewError(domain.KindValidation, "telegram send", fmt.Errorf("invalid chat ID %q", address))
	}
	bot, err := t.connect()
	if err != nil {
		return err
	}
	for _, chunk := range splitMessage(text, telegramMaxMsgLen) {
		if _, err := bot.Send(tgbotapi.NewMessage(chatID, chunk)); err != nil {
			return domain.NewError(domain.KindTransportUnavailable, "telegram send", err)
		}
	}
	return nil
}

func (t *Telegram) Healthy(ctx context.Context) error {
	bot, err := t.connect()
	if err != nil {
		return err
	}
	if _, err := bot.GetMe(); err != nil {
		return domain.NewError(domain.KindTransportUnavailable, "telegram health", err)
	}
	return nil
}

func (t *Telegram) ValidateAddress(address string) error {
	if _, err := strconv.ParseInt(strings.TrimSpace(address), 10, 64); err != nil {
		return domain.NewError(domain.KindValidation, "telegram address", fmt.Errorf("chat ID must be numeric, got %q", address))
	}
	return nil
}

// splitMessage breaks text into chunks of at most maxRunes characters,
// preferring to cut at a newline in the second half of the window. Cuts
// always fall on rune boundaries.
func splitMessage(text string, maxRunes int) []string {
	var chunks []string
	for text != "" {
		if utf8.RuneCountInString(text) <= maxRunes {
			chunks = append(chunks, text)
			break
		}
		end := 0
		for i := 0; i < maxRunes; i++ {
			_, size := utf8.DecodeRuneInString(text[end:])
			end += size
		}
		cutAt := strings.LastIndex(text[:end], "\n")
		if cutAt <= 0 || utf8.RuneCountInString(text[:cutAt]) < maxRunes/2 {
			cutAt = end
		}
		chunks = append(chunks, text[:cutAt])
		text = text[cutAt:]
	}
	return chunks
}
