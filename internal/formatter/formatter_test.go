package formatter

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailrelay/mailrelay-bot/internal/email"
	"github.com/mailrelay/mailrelay-bot/internal/locales"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

func newFormatter(t *testing.T) *TelegramFormatter {
	t.Helper()
	texts, err := locales.New("en")
	require.NoError(t, err)
	return NewTelegramFormatter(texts)
}

func TestFormatIncoming(t *testing.T) {
	f := newFormatter(t)

	out := f.FormatIncoming("en", Incoming{
		From:      "shop@example.com",
		To:        "me@example.com",
		Subject:   "Order <42>",
		Body:      "Your code: 482913",
		Code:      "482913",
		AutoReply: true,
	})

	assert.Contains(t, out, "<b>From:</b> shop@example.com")
	assert.Contains(t, out, "Order &lt;42&gt;")
	assert.Contains(t, out, "<code>482913</code>")
	assert.Contains(t, out, "Auto-reply prepared")
	assert.Contains(t, out, "Your code: 482913")
}

func TestFormatIncoming_EmptySubjectAndLanguage(t *testing.T) {
	f := newFormatter(t)

	out := f.FormatIncoming("id", Incoming{From: "a@b.c", To: "d@e.f"})

	assert.Contains(t, out, "(Tanpa Subjek)")
	assert.NotContains(t, out, "<b>Pesan:</b>")
	assert.NotContains(t, out, "🔑")
}

func TestFormatPolled_TruncatesLongBody(t *testing.T) {
	f := newFormatter(t)

	msg := &email.Message{
		From:       "noreply@example.com",
		FromName:   "Example",
		Subject:    "Hi",
		ReceivedAt: time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC),
	}
	out := f.FormatPolled(msg, strings.Repeat("x", 5000), "")

	assert.Contains(t, out, "Example &lt;noreply@example.com&gt;")
	assert.Contains(t, out, "02.01.2026 15:04")
	assert.Contains(t, out, "(truncated)")
	assert.LessOrEqual(t, len([]rune(out)), 4100)
}

func TestFormatUsersAndStatus(t *testing.T) {
	f := newFormatter(t)
	exp := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	users := []*models.User{
		{TelegramID: 1, Username: "alice", Status: models.StatusApproved, ExpiresAt: &exp},
		{TelegramID: 2, FirstName: "Bob", Status: models.StatusPending},
	}
	out := f.FormatUsers("en", users, 5)
	assert.Contains(t, out, "showing 2 of 5")
	assert.Contains(t, out, "<code>1</code> @alice - ✅ approved")
	assert.Contains(t, out, "<code>2</code> Bob - ⏳ pending")

	assert.Equal(t, "No users yet.", f.FormatUsers("en", nil, 0))

	status := f.FormatStatus("en", users[0])
	assert.Contains(t, status, "01.03.2026")
	assert.Equal(t, "<b>Status:</b> ⏳ pending", f.FormatStatus("en", users[1]))
}

func TestFormatInboxAndAccount(t *testing.T) {
	f := newFormatter(t)

	assert.Equal(t, "📭 No emails yet.", f.FormatInbox("en", nil))

	out := f.FormatInbox("en", []*models.EmailLog{
		{FromEmail: "a@example.com", Subject: "", RepliedAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)},
	})
	assert.Contains(t, out, "01.01.2026 09:00 - a@example.com: (No Subject)")

	acc := &models.EmailAccount{Email: "me@example.com", AutoReplyEnabled: true}
	out = f.FormatAccount("en", acc, "Thanks")
	assert.Contains(t, out, "<b>Auto-reply:</b> on")
	assert.Contains(t, out, "Thanks (default)")
}

func TestApprovalKeyboardRoundTrip(t *testing.T) {
	f := newFormatter(t)

	kb := f.BuildApprovalKeyboard("en", 777, 30)
	require.Len(t, kb.InlineKeyboard, 1)
	require.Len(t, kb.InlineKeyboard[0], 2)
	assert.Equal(t, "✅ Approve 30d", kb.InlineKeyboard[0][0].Text)

	cb, err := DecodeCallback(kb.InlineKeyboard[0][0].CallbackData)
	require.NoError(t, err)
	assert.Equal(t, models.CallbackApprove, cb.Action)
	assert.Equal(t, int64(777), cb.TelegramID)
	assert.Equal(t, 30, cb.Days)

	// Telegram caps callback data at 64 bytes
	assert.LessOrEqual(t, len(kb.InlineKeyboard[0][0].CallbackData), 64)

	_, err = DecodeCallback("not json")
	assert.Error(t, err)
}

func TestFormatBroadcastEscapes(t *testing.T) {
	f := newFormatter(t)
	out := f.FormatBroadcast("Maintenance <tonight> & tomorrow")
	assert.True(t, strings.HasPrefix(out, "📢 <b>Announcement</b>\n\n"))
	assert.Contains(t, out, "Maintenance &lt;tonight&gt; &amp; tomorrow")
}
