package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/mailrelay/mailrelay-bot/internal/access"
	"github.com/mailrelay/mailrelay-bot/internal/broadcast"
	"github.com/mailrelay/mailrelay-bot/internal/config"
	"github.com/mailrelay/mailrelay-bot/internal/formatter"
	"github.com/mailrelay/mailrelay-bot/internal/jsonstore"
	"github.com/mailrelay/mailrelay-bot/internal/locales"
	"github.com/mailrelay/mailrelay-bot/internal/poller"
	"github.com/mailrelay/mailrelay-bot/internal/settings"
)

const ownerID = 1000

// fakeSender records every Bot API call
type fakeSender struct {
	mu       sync.Mutex
	messages []*bot.SendMessageParams
	answers  []*bot.AnswerCallbackQueryParams
	edits    []*bot.EditMessageReplyMarkupParams
}

func (f *fakeSender) SendMessage(_ context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, params)
	return &models.Message{ID: len(f.messages)}, nil
}

func (f *fakeSender) EditMessageReplyMarkup(_ context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, params)
	return &models.Message{}, nil
}

func (f *fakeSender) AnswerCallbackQuery(_ context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, params)
	return true, nil
}

// textsTo returns the texts sent to chatID in order
func (f *fakeSender) textsTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, m := range f.messages {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeSender) lastTo(t *testing.T, chatID int64) string {
	t.Helper()
	texts := f.textsTo(chatID)
	require.NotEmpty(t, texts, "no messages to %d", chatID)
	return texts[len(texts)-1]
}

type fakeBroadcaster struct {
	text   string
	sentBy int64
}

func (f *fakeBroadcaster) Send(_ context.Context, text string, sentBy int64) (*broadcast.Result, error) {
	f.text, f.sentBy = text, sentBy
	return &broadcast.Result{Total: 3, Sent: 2, Failed: 1}, nil
}

type fakePoller struct {
	mu      sync.Mutex
	resumed bool
}

func (p *fakePoller) Status() poller.Status {
	return poller.Status{Source: "graph", Interval: 30 * time.Second, Processed: 12, Halted: true}
}

func (p *fakePoller) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resumed = true
}

func (p *fakePoller) wasResumed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resumed
}

type fakeLogin struct {
	mode     string
	loginErr error
	waitCtx  bool // CompleteDeviceLogin blocks until its context ends
}

func (f *fakeLogin) Mode() string { return f.mode }

func (f *fakeLogin) StartDeviceLogin(context.Context) (*oauth2.DeviceAuthResponse, error) {
	return &oauth2.DeviceAuthResponse{
		UserCode:        "ABCD-1234",
		VerificationURI: "https://microsoft.com/devicelogin",
		Expiry:          time.Now().Add(time.Minute),
	}, nil
}

func (f *fakeLogin) CompleteDeviceLogin(ctx context.Context, _ *oauth2.DeviceAuthResponse) error {
	if f.waitCtx {
		<-ctx.Done()
		return ctx.Err()
	}
	return f.loginErr
}

func (f *fakeLogin) Login(context.Context) error { return f.loginErr }

type harness struct {
	bot    *Bot
	sender *fakeSender
	store  *jsonstore.Store
	now    time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st, err := jsonstore.Open(filepath.Join(t.TempDir(), "bot.json"))
	require.NoError(t, err)
	texts, err := locales.New("en")
	require.NoError(t, err)

	h := &harness{
		sender: &fakeSender{},
		store:  st,
		now:    time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC),
	}
	svc := access.NewService(st).WithClock(func() time.Time { return h.now })

	h.bot = newBot(BotDeps{
		Config: &config.Config{
			OwnerID:            ownerID,
			DefaultApproveDays: 30,
			DefaultAutoReply:   "Thanks for writing.",
		},
		Store:     st,
		Access:    svc,
		Settings:  settings.NewService(st, 30*time.Second),
		Formatter: formatter.NewTelegramFormatter(texts),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	h.bot.api = h.sender
	return h
}

func (h *harness) send(from int64, text string) {
	h.sendCtx(context.Background(), from, text)
}

func (h *harness) sendCtx(ctx context.Context, from int64, text string) {
	h.bot.route(ctx, &models.Update{
		Message: &models.Message{
			ID:   1,
			From: &models.User{ID: from, FirstName: "User", LanguageCode: "en"},
			Chat: models.Chat{ID: from, Type: "private"},
			Text: text,
		},
	})
}

func (h *harness) approve(t *testing.T, telegramID int64) {
	t.Helper()
	h.send(telegramID, "hello")
	h.send(ownerID, "/approve "+strconv.FormatInt(telegramID, 10))
}

func TestMessenger_NotifyWrapsErrors(t *testing.T) {
	api := new(mockSender)
	api.On("SendMessage", mock.Anything, mock.MatchedBy(func(p *bot.SendMessageParams) bool {
		return p.ChatID == int64(42) && p.ParseMode == models.ParseModeHTML && p.Text == "hi"
	})).Return(nil, errors.New("Forbidden: bot was blocked by the user")).Once()

	err := NewMessenger(api).Notify(context.Background(), 42, "hi")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
	api.AssertExpectations(t)
}

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	args := m.Called(ctx, params)
	if msg, ok := args.Get(0).(*models.Message); ok {
		return msg, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockSender) EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	args := m.Called(ctx, params)
	return nil, args.Error(1)
}

func (m *mockSender) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	args := m.Called(ctx, params)
	return args.Bool(0), args.Error(1)
}
