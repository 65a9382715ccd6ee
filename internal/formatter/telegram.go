package formatter

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/email"
	"github.com/mailrelay/mailrelay-bot/internal/locales"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

const dateLayout = "02.01.2006 15:04"

// Incoming is an email accepted by the relay, ready to be shown to its owner
type Incoming struct {
	From      string
	To        string
	Subject   string
	Body      string
	Code      string
	AutoReply bool
}

// TelegramFormatter renders Telegram HTML messages
type TelegramFormatter struct {
	texts     *locales.Bundle
	maxLength int
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter(texts *locales.Bundle) *TelegramFormatter {
	return &TelegramFormatter{
		texts:     texts,
		maxLength: 4000, // Leave room for markup
	}
}

// Texts returns the localizer for lang
func (f *TelegramFormatter) Texts(lang string) *locales.Localizer {
	return f.texts.For(lang)
}

// FormatIncoming formats a webhook email for the account owner
func (f *TelegramFormatter) FormatIncoming(lang string, in Incoming) string {
	l := f.texts.For(lang)

	var sb strings.Builder
	sb.WriteString(l.T("IncomingTitle"))
	sb.WriteString("\n")
	sb.WriteString(l.T("IncomingFrom", map[string]any{"From": EscapeHTML(in.From)}))
	sb.WriteString("\n")
	sb.WriteString(l.T("IncomingTo", map[string]any{"To": EscapeHTML(in.To)}))
	sb.WriteString("\n")
	sb.WriteString(l.T("IncomingSubject", map[string]any{"Subject": EscapeHTML(f.subject(l, in.Subject))}))
	sb.WriteString("\n")
	if in.Code != "" {
		sb.WriteString("\n")
		sb.WriteString(l.T("IncomingCode", map[string]any{"Code": EscapeHTML(in.Code)}))
		sb.WriteString("\n")
	}
	if in.AutoReply {
		sb.WriteString(l.T("IncomingAutoReply"))
		sb.WriteString("\n")
	}
	f.writeBody(&sb, l, in.Body)

	return sb.String()
}

// FormatPolled formats a mailbox message fetched by the poller
func (f *TelegramFormatter) FormatPolled(msg *email.Message, body, otp string) string {
	l := f.texts.Default()

	from := EscapeHTML(msg.From)
	if msg.FromName != "" {
		from = fmt.Sprintf("%s &lt;%s&gt;", EscapeHTML(msg.FromName), EscapeHTML(msg.From))
	}

	var sb strings.Builder
	sb.WriteString(l.T("IncomingTitle"))
	sb.WriteString("\n")
	sb.WriteString(l.T("IncomingFrom", map[string]any{"From": from}))
	sb.WriteString("\n")
	sb.WriteString(l.T("IncomingSubject", map[string]any{"Subject": EscapeHTML(f.subject(l, msg.Subject))}))
	sb.WriteString("\n")
	if !msg.ReceivedAt.IsZero() {
		sb.WriteString(l.T("IncomingReceived", map[string]any{"Date": msg.ReceivedAt.Format(dateLayout)}))
		sb.WriteString("\n")
	}
	if otp != "" {
		sb.WriteString("\n")
		sb.WriteString(l.T("IncomingCode", map[string]any{"Code": EscapeHTML(otp)}))
		sb.WriteString("\n")
	}
	f.writeBody(&sb, l, body)

	return sb.String()
}

// FormatReauth tells the owner that polling stopped until /login
func (f *TelegramFormatter) FormatReauth(source string) string {
	return f.texts.Default().T("ReauthRequired", map[string]any{"Source": EscapeHTML(source)})
}

// FormatBroadcast prefixes an owner announcement with its header
func (f *TelegramFormatter) FormatBroadcast(text string) string {
	l := f.texts.Default()
	return l.T("BroadcastHeader") + "\n\n" + EscapeHTML(f.truncate(l, text, f.maxLength-100))
}

// StatusName returns the localized name of a status
func (f *TelegramFormatter) StatusName(lang string, status models.UserStatus) string {
	l := f.texts.For(lang)
	switch status {
	case models.StatusApproved:
		return l.T("StatusApproved")
	case models.StatusRejected:
		return l.T("StatusRejected")
	case models.StatusExpired:
		return l.T("StatusExpired")
	}
	return l.T("StatusPending")
}

// FormatStatus renders a user's access state
func (f *TelegramFormatter) FormatStatus(lang string, user *models.User) string {
	l := f.texts.For(lang)

	var sb strings.Builder
	sb.WriteString(l.T("StatusLine", map[string]any{"Status": f.StatusName(lang, user.Status)}))
	if user.Status == models.StatusApproved {
		sb.WriteString("\n")
		if user.ExpiresAt != nil {
			sb.WriteString(l.T("StatusExpires", map[string]any{"Date": user.ExpiresAt.Format(dateLayout)}))
		} else {
			sb.WriteString(l.T("StatusNoExpiry"))
		}
	}
	return sb.String()
}

// FormatExpiry renders the expiry sentence used in approval confirmations
func (f *TelegramFormatter) FormatExpiry(lang string, expiresAt *time.Time) string {
	l := f.texts.For(lang)
	if expiresAt == nil {
		return l.T("NeverExpires")
	}
	return l.T("ExpiresOn", map[string]any{"Date": expiresAt.Format(dateLayout)})
}

// FormatUsers renders the owner's user list
func (f *TelegramFormatter) FormatUsers(lang string, users []*models.User, total int) string {
	l := f.texts.For(lang)
	if len(users) == 0 {
		return l.T("UsersEmpty")
	}

	var sb strings.Builder
	sb.WriteString(l.T("UsersHeader", map[string]any{"Shown": len(users), "Total": total}))
	for _, u := range users {
		sb.WriteString("\n")
		sb.WriteString(l.T("UsersLine", map[string]any{
			"ID":     u.TelegramID,
			"Name":   EscapeHTML(u.DisplayName()),
			"Status": f.StatusName(lang, u.Status),
		}))
	}
	return sb.String()
}

// FormatInbox renders recent email logs
func (f *TelegramFormatter) FormatInbox(lang string, logs []*models.EmailLog) string {
	l := f.texts.For(lang)
	if len(logs) == 0 {
		return l.T("InboxEmpty")
	}

	var sb strings.Builder
	sb.WriteString(l.T("InboxHeader"))
	for _, entry := range logs {
		sb.WriteString("\n")
		sb.WriteString(l.T("InboxLine", map[string]any{
			"Date":    entry.RepliedAt.Format(dateLayout),
			"From":    EscapeHTML(entry.FromEmail),
			"Subject": EscapeHTML(f.subject(l, entry.Subject)),
		}))
	}
	return sb.String()
}

// FormatAccount renders a user's email settings
func (f *TelegramFormatter) FormatAccount(lang string, acc *models.EmailAccount, defaultMessage string) string {
	l := f.texts.For(lang)

	state := l.T("ReplyOff")
	if acc.AutoReplyEnabled {
		state = l.T("ReplyOn")
	}
	message := acc.AutoReplyMessage
	if message == "" {
		message = defaultMessage + " " + l.T("DefaultReplyMessage")
	}

	return l.T("MyEmail", map[string]any{
		"Email":   EscapeHTML(acc.Email),
		"State":   state,
		"Message": EscapeHTML(message),
	})
}

func (f *TelegramFormatter) subject(l *locales.Localizer, s string) string {
	if strings.TrimSpace(s) == "" {
		return l.T("NoSubject")
	}
	return s
}

func (f *TelegramFormatter) writeBody(sb *strings.Builder, l *locales.Localizer, body string) {
	body = strings.TrimSpace(body)
	if body == "" {
		return
	}
	sb.WriteString("\n")
	sb.WriteString(l.T("IncomingBody"))
	sb.WriteString("\n")
	sb.WriteString(EscapeHTML(f.truncate(l, body, f.maxLength-sb.Len()-50)))
}

// EscapeHTML escapes HTML special characters for Telegram
func EscapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(l *locales.Localizer, s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "\n\n" + l.T("Truncated")
}
