// Package telegram adapts the Telegram Bot API to transport.Sink and turns
// updates into transport events.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"github.com/deep2look/bot/internal/transport"
)

// botAPI is the part of *tgbotapi.BotAPI the sink uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetChat(config tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error)
}

type Client struct {
	api botAPI
	bot *tgbotapi.BotAPI
	log zerolog.Logger
}

func New(token string, debug bool, log zerolog.Logger) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("connect to telegram: %w", err)
	}
	bot.Debug = debug
	log.Info().Str("username", bot.Self.UserName).Msg("authorized on telegram")
	return &Client{api: bot, bot: bot, log: log}, nil
}

func newWithAPI(api botAPI, log zerolog.Logger) *Client {
	return &Client{api: api, log: log}
}

func (c *Client) Send(ctx context.Context, to int64, m transport.Message) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	cfg := tgbotapi.NewMessage(to, m.Body)
	cfg.DisableWebPagePreview = true
	switch {
	case len(m.Actions) > 0:
		cfg.ReplyMarkup = inlineMarkup(m.Actions)
	case m.Menu != nil:
		cfg.ReplyMarkup = replyMarkup(m.Menu)
	}
	sent, err := c.api.Send(cfg)
	if err != nil {
		return transport.MessageRef{}, classify(err)
	}
	ref := transport.MessageRef{ChatID: to, MessageID: sent.MessageID}
	if sent.Chat != nil {
		ref.ChatID = sent.Chat.ID
	}
	return ref, nil
}

func (c *Client) Edit(ctx context.Context, ref transport.MessageRef, m transport.Message) (transport.MessageRef, error) {
	if err := ctx.Err(); err != nil {
		return transport.MessageRef{}, err
	}
	cfg := tgbotapi.NewEditMessageText(ref.ChatID, ref.MessageID, m.Body)
	cfg.DisableWebPagePreview = true
	if len(m.Actions) > 0 {
		kb := inlineMarkup(m.Actions)
		cfg.ReplyMarkup = &kb
	}
	if _, err := c.api.Send(cfg); err != nil {
		// Re-rendering an unchanged panel is not a failure.
		if strings.Contains(err.Error(), "message is not modified") {
			return ref, nil
		}
		return transport.MessageRef{}, classify(err)
	}
	return ref, nil
}

func (c *Client) Delete(ctx context.Context, ref transport.MessageRef) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.api.Request(tgbotapi.NewDeleteMessage(ref.ChatID, ref.MessageID))
	return classify(err)
}

func (c *Client) Notice(ctx context.Context, actionID, text string, alert bool) error {
	if actionID == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cb := tgbotapi.NewCallback(actionID, text)
	cb.ShowAlert = alert
	_, err := c.api.Request(cb)
	return classify(err)
}

// ResolveHandle looks up a public username or a numeric chat id.
func (c *Client) ResolveHandle(ctx context.Context, handle string) (transport.Identity, error) {
	if err := ctx.Err(); err != nil {
		return transport.Identity{}, err
	}
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return transport.Identity{}, transport.ErrHandleNotFound
	}
	cfg := tgbotapi.ChatInfoConfig{}
	if id, err := strconv.ParseInt(handle, 10, 64); err == nil {
		cfg.ChatID = id
	} else {
		cfg.SuperGroupUsername = "@" + handle
	}
	chat, err := c.api.GetChat(cfg)
	if err != nil {
		c.log.Debug().Err(err).Str("handle", handle).Msg("handle lookup failed")
		return transport.Identity{}, fmt.Errorf("%w: %s", transport.ErrHandleNotFound, handle)
	}
	if !chat.IsPrivate() {
		return transport.Identity{}, fmt.Errorf("%w: %s is not a user", transport.ErrHandleNotFound, handle)
	}
	return transport.Identity{
		ID:     chat.ID,
		Name:   strings.TrimSpace(chat.FirstName + " " + chat.LastName),
		Handle: chat.UserName,
	}, nil
}

// Poll long-polls for updates until ctx is done.
func (c *Client) Poll(ctx context.Context, submit func(transport.Event)) error {
	if c.bot == nil {
		return errors.New("telegram: polling needs a live bot")
	}
	if _, err := c.bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		c.log.Warn().Err(err).Msg("delete webhook before polling")
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)
	for {
		select {
		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			return nil
		case upd, ok := <-updates:
			if !ok {
				return nil
			}
			if ev, ok := ToEvent(upd); ok {
				submit(ev)
			}
		}
	}
}

// SetWebhook registers the public url Telegram should post updates to.
func (c *Client) SetWebhook(link string) error {
	if c.bot == nil {
		return errors.New("telegram: webhook needs a live bot")
	}
	wh, err := tgbotapi.NewWebhook(link)
	if err != nil {
		return fmt.Errorf("build webhook: %w", err)
	}
	if _, err := c.bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}
	return nil
}

// WebhookHandler decodes posted updates and submits the ones the bot
// understands. It always answers quickly; processing happens on the worker.
func WebhookHandler(submit func(transport.Event), log zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var upd tgbotapi.Update
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&upd); err != nil {
			log.Warn().Err(err).Msg("bad webhook payload")
			http.Error(w, "bad update", http.StatusBadRequest)
			return
		}
		if ev, ok := ToEvent(upd); ok {
			submit(ev)
		}
		w.WriteHeader(http.StatusOK)
	})
}

// ToEvent maps private-chat messages and button presses. Everything else is
// dropped.
func ToEvent(u tgbotapi.Update) (transport.Event, bool) {
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		if cq.From == nil {
			return transport.Event{}, false
		}
		ev := transport.Event{
			AccountID: cq.From.ID,
			Name:      fullName(cq.From),
			Handle:    cq.From.UserName,
			Action:    cq.Data,
			ActionID:  cq.ID,
		}
		if cq.Message != nil && cq.Message.Chat != nil {
			ev.Origin = transport.MessageRef{ChatID: cq.Message.Chat.ID, MessageID: cq.Message.MessageID}
		}
		return ev, ev.Action != ""
	case u.Message != nil:
		msg := u.Message
		if msg.From == nil || msg.Chat == nil || !msg.Chat.IsPrivate() || msg.Text == "" {
			return transport.Event{}, false
		}
		return transport.Event{
			AccountID: msg.From.ID,
			Name:      fullName(msg.From),
			Handle:    msg.From.UserName,
			Text:      msg.Text,
		}, true
	}
	return transport.Event{}, false
}

func fullName(u *tgbotapi.User) string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

func inlineMarkup(rows [][]transport.Affordance) tgbotapi.InlineKeyboardMarkup {
	out := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, a := range row {
			if a.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(a.Label, a.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(a.Label, a.Action))
		}
		if len(buttons) > 0 {
			out = append(out, tgbotapi.NewInlineKeyboardRow(buttons...))
		}
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...)
}

func replyMarkup(rows [][]string) tgbotapi.ReplyKeyboardMarkup {
	out := make([][]tgbotapi.KeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.KeyboardButton, 0, len(row))
		for _, label := range row {
			buttons = append(buttons, tgbotapi.NewKeyboardButton(label))
		}
		if len(buttons) > 0 {
			out = append(out, tgbotapi.NewKeyboardButtonRow(buttons...))
		}
	}
	kb := tgbotapi.NewReplyKeyboard(out...)
	kb.ResizeKeyboard = true
	return kb
}

// classify marks recipients that blocked the bot or never started it.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusForbidden {
		return fmt.Errorf("%w: %s", transport.ErrBlocked, apiErr.Message)
	}
	return err
}
