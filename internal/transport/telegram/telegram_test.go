package telegram

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deep2look/bot/internal/transport"
)

type fakeAPI struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
	chats    map[string]tgbotapi.Chat
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetChat(cfg tgbotapi.ChatInfoConfig) (tgbotapi.Chat, error) {
	key := cfg.SuperGroupUsername
	if key == "" {
		key = strconv.FormatInt(cfg.ChatID, 10)
	}
	if chat, ok := f.chats[key]; ok {
		return chat, nil
	}
	return tgbotapi.Chat{}, &tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}
}

func TestSendChoosesMarkup(t *testing.T) {
	api := &fakeAPI{}
	c := newWithAPI(api, zerolog.Nop())
	ctx := context.Background()

	ref, err := c.Send(ctx, 42, transport.Message{Body: "menu", Menu: [][]string{{"A", "B"}, {"C"}}})
	require.NoError(t, err)
	assert.Equal(t, transport.MessageRef{ChatID: 42, MessageID: 1}, ref)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	kb, ok := msg.ReplyMarkup.(tgbotapi.ReplyKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.Keyboard, 2)
	assert.Equal(t, "B", kb.Keyboard[0][1].Text)
	assert.True(t, kb.ResizeKeyboard)

	_, err = c.Send(ctx, 42, transport.Message{Body: "open", Actions: [][]transport.Affordance{
		{{Label: "Open", URL: "https://example.com"}},
		{{Label: "Back", Action: "nav:home"}},
	}})
	require.NoError(t, err)
	msg = api.sent[1].(tgbotapi.MessageConfig)
	inline, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, inline.InlineKeyboard, 2)
	require.NotNil(t, inline.InlineKeyboard[0][0].URL)
	assert.Equal(t, "https://example.com", *inline.InlineKeyboard[0][0].URL)
	require.NotNil(t, inline.InlineKeyboard[1][0].CallbackData)
	assert.Equal(t, "nav:home", *inline.InlineKeyboard[1][0].CallbackData)
}

func TestSendClassifiesBlockedRecipients(t *testing.T) {
	api := &fakeAPI{sendErr: &tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked by the user"}}
	c := newWithAPI(api, zerolog.Nop())
	_, err := c.Send(context.Background(), 7, transport.Message{Body: "hi"})
	assert.ErrorIs(t, err, transport.ErrBlocked)

	api.sendErr = errors.New("network down")
	_, err = c.Send(context.Background(), 7, transport.Message{Body: "hi"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, transport.ErrBlocked)
}

func TestEditTreatsUnchangedAsSuccess(t *testing.T) {
	api := &fakeAPI{sendErr: &tgbotapi.Error{Code: 400, Message: "Bad Request: message is not modified"}}
	c := newWithAPI(api, zerolog.Nop())
	ref := transport.MessageRef{ChatID: 1, MessageID: 9}
	out, err := c.Edit(context.Background(), ref, transport.Message{Body: "same"})
	require.NoError(t, err)
	assert.Equal(t, ref, out)

	api.sendErr = &tgbotapi.Error{Code: 400, Message: "Bad Request: message to edit not found"}
	_, err = c.Edit(context.Background(), ref, transport.Message{Body: "x"})
	assert.Error(t, err)
}

func TestNoticeAndDelete(t *testing.T) {
	api := &fakeAPI{}
	c := newWithAPI(api, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, c.Notice(ctx, "", "ignored", false))
	assert.Empty(t, api.requests)
	require.NoError(t, c.Notice(ctx, "cb-1", "Not allowed", true))
	cb := api.requests[0].(tgbotapi.CallbackConfig)
	assert.Equal(t, "cb-1", cb.CallbackQueryID)
	assert.True(t, cb.ShowAlert)

	require.NoError(t, c.Delete(ctx, transport.MessageRef{ChatID: 1, MessageID: 2}))
	del := api.requests[1].(tgbotapi.DeleteMessageConfig)
	assert.Equal(t, 2, del.MessageID)
}

func TestResolveHandle(t *testing.T) {
	api := &fakeAPI{chats: map[string]tgbotapi.Chat{
		"@alice":   {ID: 500, Type: "private", FirstName: "Alice", LastName: "Doe", UserName: "alice"},
		"@channel": {ID: -100, Type: "channel", Title: "News"},
	}}
	c := newWithAPI(api, zerolog.Nop())
	ctx := context.Background()

	id, err := c.ResolveHandle(ctx, "@alice")
	require.NoError(t, err)
	assert.Equal(t, transport.Identity{ID: 500, Name: "Alice Doe", Handle: "alice"}, id)

	_, err = c.ResolveHandle(ctx, "channel")
	assert.ErrorIs(t, err, transport.ErrHandleNotFound)
	_, err = c.ResolveHandle(ctx, "nobody")
	assert.ErrorIs(t, err, transport.ErrHandleNotFound)
	_, err = c.ResolveHandle(ctx, "  ")
	assert.ErrorIs(t, err, transport.ErrHandleNotFound)
}

func TestToEvent(t *testing.T) {
	private := &tgbotapi.Chat{ID: 42, Type: "private"}
	from := &tgbotapi.User{ID: 42, FirstName: "Yusuf", UserName: "yusuf"}

	ev, ok := ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: private, Text: "Support"}})
	require.True(t, ok)
	assert.Equal(t, transport.Event{AccountID: 42, Name: "Yusuf", Handle: "yusuf", Text: "Support"}, ev)

	_, ok = ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: &tgbotapi.Chat{ID: -5, Type: "group"}, Text: "hi"}})
	assert.False(t, ok, "group chats are ignored")
	_, ok = ToEvent(tgbotapi.Update{Message: &tgbotapi.Message{From: from, Chat: private}})
	assert.False(t, ok, "non-text messages are ignored")

	ev, ok = ToEvent(tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID: "cb", From: from, Data: "nav:home",
		Message: &tgbotapi.Message{MessageID: 77, Chat: private},
	}})
	require.True(t, ok)
	assert.True(t, ev.IsAction())
	assert.Equal(t, "cb", ev.ActionID)
	assert.Equal(t, transport.MessageRef{ChatID: 42, MessageID: 77}, ev.Origin)

	_, ok = ToEvent(tgbotapi.Update{})
	assert.False(t, ok)
}

func TestWebhookHandler(t *testing.T) {
	var got []transport.Event
	h := WebhookHandler(func(ev transport.Event) { got = append(got, ev) }, zerolog.Nop())

	body := `{"update_id":1,"message":{"message_id":3,"from":{"id":42,"is_bot":false,"first_name":"Yusuf"},"chat":{"id":42,"type":"private"},"date":0,"text":"/start"}}`
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/telegram/x", strings.NewReader(body)))
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, got, 1)
	assert.Equal(t, "/start", got[0].Text)

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/telegram/x", strings.NewReader("{")))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Len(t, got, 1)
}
