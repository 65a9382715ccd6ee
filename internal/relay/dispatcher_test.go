package relay

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailrelay/mailrelay-bot/internal/access"
	"github.com/mailrelay/mailrelay-bot/internal/email"
	"github.com/mailrelay/mailrelay-bot/internal/formatter"
	"github.com/mailrelay/mailrelay-bot/internal/jsonstore"
	"github.com/mailrelay/mailrelay-bot/internal/parser"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

type sentNote struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNote
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNote{chatID: chatID, text: text})
	return nil
}

type plainFormatter struct{}

func (plainFormatter) FormatIncoming(_ string, in formatter.Incoming) string {
	return in.From + "|" + in.Subject + "|" + in.Code
}

type fixture struct {
	st    *jsonstore.Store
	svc   *access.Service
	notes *fakeNotifier
	d     *Dispatcher
	now   time.Time
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	st, err := jsonstore.Open(filepath.Join(t.TempDir(), "relay.json"))
	require.NoError(t, err)

	f := &fixture{
		st:    st,
		notes: &fakeNotifier{},
		now:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = access.NewService(st).WithClock(func() time.Time { return f.now })

	if cfg.DefaultAutoReply == "" {
		cfg.DefaultAutoReply = "Thank you for your email."
	}
	f.d = NewDispatcher(Deps{
		Accounts:  st,
		Users:     st,
		Logs:      st,
		Approvals: f.svc,
		Notifier:  f.notes,
		Formatter: plainFormatter{},
		Bodies:    parser.NewHTMLParser(),
		Codes:     parser.NewOTPExtractor(),
		Config:    cfg,
	})
	return f
}

// addUser registers a user, optionally approves it and binds an address
func (f *fixture) addUser(t *testing.T, telegramID int64, approveDays int, addr string, autoReply bool) (*models.User, *models.EmailAccount) {
	t.Helper()
	ctx := context.Background()

	u, err := f.svc.Register(ctx, &models.User{TelegramID: telegramID, FirstName: "user"})
	require.NoError(t, err)
	if approveDays >= 0 {
		_, err = f.svc.Approve(ctx, telegramID, approveDays)
		require.NoError(t, err)
	}
	acc, err := f.st.SetAccountEmail(ctx, u.ID, addr)
	require.NoError(t, err)
	if autoReply {
		require.NoError(t, f.st.UpdateAutoReply(ctx, acc.ID, true, ""))
		acc.AutoReplyEnabled = true
	}
	return u, acc
}

func (f *fixture) logs(t *testing.T, userID int64) []*models.EmailLog {
	t.Helper()
	logs, err := f.st.ListEmailLogs(context.Background(), userID, 100)
	require.NoError(t, err)
	return logs
}

func TestDispatch_NoAccountHasNoSideEffects(t *testing.T) {
	f := newFixture(t, Config{})
	u, _ := f.addUser(t, 1, 30, "me@example.com", true)

	res, err := f.d.Dispatch(context.Background(), Inbound{From: "a@b.c", To: "other@example.com", Subject: "hi"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNoAccount, res.Outcome)
	assert.Nil(t, res.AutoReply)
	assert.Empty(t, f.notes.sent)
	assert.Empty(t, f.logs(t, u.ID))
}

func TestDispatch_PendingUserGetsNothing(t *testing.T) {
	f := newFixture(t, Config{})
	u, _ := f.addUser(t, 2, -1, "me@example.com", true)

	res, err := f.d.Dispatch(context.Background(), Inbound{From: "a@b.c", To: "me@example.com"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNotApproved, res.Outcome)
	assert.Nil(t, res.AutoReply)
	assert.Empty(t, f.notes.sent)
	assert.Empty(t, f.logs(t, u.ID))
}

func TestDispatch_ExpiredUserIsFlippedAndSkipped(t *testing.T) {
	f := newFixture(t, Config{})
	u, _ := f.addUser(t, 3, 1, "me@example.com", true)

	f.now = f.now.Add(48 * time.Hour)
	res, err := f.d.Dispatch(context.Background(), Inbound{From: "a@b.c", To: "me@example.com"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeNotApproved, res.Outcome)
	assert.Empty(t, f.notes.sent)
	assert.Empty(t, f.logs(t, u.ID))

	stored, err := f.st.GetUserByTelegramID(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Status)
}

func TestDispatch_DeliversWithCodeAndAutoReply(t *testing.T) {
	f := newFixture(t, Config{})
	u, _ := f.addUser(t, 4, 30, "me@example.com", true)

	res, err := f.d.Dispatch(context.Background(), Inbound{
		From:      "Shop <Orders@Shop.com>",
		To:        "Me <ME@example.com>",
		Subject:   "Your login",
		HTML:      "<p>Your code: 482913</p>",
		MessageID: "abc@shop.com",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDelivered, res.Outcome)
	assert.Equal(t, "482913", res.Code)
	assert.NoError(t, res.LogErr)
	assert.NoError(t, res.NotifyErr)

	require.Len(t, f.notes.sent, 1)
	assert.Equal(t, int64(4), f.notes.sent[0].chatID)
	assert.Equal(t, "orders@shop.com|Your login|482913", f.notes.sent[0].text)

	logs := f.logs(t, u.ID)
	require.Len(t, logs, 1)
	assert.Equal(t, "orders@shop.com", logs[0].FromEmail)
	assert.Equal(t, "Your login", logs[0].Subject)

	require.NotNil(t, res.AutoReply)
	assert.Equal(t, "me@example.com", res.AutoReply.From)
	assert.Equal(t, "orders@shop.com", res.AutoReply.To)
	assert.Equal(t, "orders@shop.com", res.AutoReply.ReplyTo)
	assert.Equal(t, "Re: Your login", res.AutoReply.Subject)
	assert.Equal(t, "Thank you for your email.", res.AutoReply.Message)

	parsed, err := email.ParseRaw(res.AutoReply.Raw)
	require.NoError(t, err)
	assert.Equal(t, "Re: Your login", parsed.Subject)
	assert.Contains(t, parsed.Text, "Thank you for your email.")
}

func TestDispatch_AutoReplyDisabledAndEmptySubject(t *testing.T) {
	f := newFixture(t, Config{})
	f.addUser(t, 5, 0, "me@example.com", false)

	res, err := f.d.Dispatch(context.Background(), Inbound{From: "a@b.c", To: "me@example.com", Text: "Hello, welcome!"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDelivered, res.Outcome)
	assert.Nil(t, res.AutoReply)
	assert.Empty(t, res.Code)

	f2 := newFixture(t, Config{DefaultAutoReply: "Away"})
	f2.addUser(t, 6, 0, "me@example.com", true)
	res, err = f2.d.Dispatch(context.Background(), Inbound{From: "a@b.c", To: "me@example.com"})
	require.NoError(t, err)
	require.NotNil(t, res.AutoReply)
	assert.Equal(t, "Re: (No Subject)", res.AutoReply.Subject)
	assert.Equal(t, "Away", res.AutoReply.Message)
}

func TestDispatch_RedeliveryDuplicates(t *testing.T) {
	f := newFixture(t, Config{})
	u, _ := f.addUser(t, 7, 30, "me@example.com", false)

	in := Inbound{From: "a@b.c", To: "me@example.com", Subject: "same"}
	for i := 0; i < 2; i++ {
		res, err := f.d.Dispatch(context.Background(), in)
		require.NoError(t, err)
		assert.Equal(t, OutcomeDelivered, res.Outcome)
	}

	assert.Len(t, f.notes.sent, 2)
	assert.Len(t, f.logs(t, u.ID), 2)
}

func TestDispatch_NotifyFailureIsReported(t *testing.T) {
	f := newFixture(t, Config{})
	u, _ := f.addUser(t, 8, 30, "me@example.com", true)
	f.notes.err = errors.New("chat not found")

	res, err := f.d.Dispatch(context.Background(), Inbound{From: "a@b.c", To: "me@example.com"})
	require.NoError(t, err)

	assert.Equal(t, OutcomeDelivered, res.Outcome)
	assert.EqualError(t, res.NotifyErr, "chat not found")
	assert.NotNil(t, res.AutoReply)
	assert.Len(t, f.logs(t, u.ID), 1)
}

func TestDispatch_RequireAutoReply(t *testing.T) {
	f := newFixture(t, Config{RequireAutoReply: true})
	f.addUser(t, 9, 30, "me@example.com", false)

	res, err := f.d.Dispatch(context.Background(), Inbound{From: "a@b.c", To: "me@example.com"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoAccount, res.Outcome)
	assert.Empty(t, f.notes.sent)
}

func TestDispatch_MissingAddresses(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.d.Dispatch(context.Background(), Inbound{To: "me@example.com"})
	assert.ErrorIs(t, err, ErrInvalidInbound)
}
