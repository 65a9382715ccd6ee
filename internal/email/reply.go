package email

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"
)

// Reply describes an auto-reply email
type Reply struct {
	From      string
	To        string
	Subject   string
	Body      string
	InReplyTo string // Message-ID of the original, optional
	Date      time.Time
}

// BuildReply renders r as a plain-text MIME message ready for a mail sender
func BuildReply(r Reply) ([]byte, error) {
	var h mail.Header
	if r.Date.IsZero() {
		r.Date = time.Now()
	}
	h.SetDate(r.Date)
	h.SetAddressList("From", []*mail.Address{{Address: r.From}})
	h.SetAddressList("To", []*mail.Address{{Address: r.To}})
	h.SetSubject(r.Subject)
	h.Set("MIME-Version", "1.0")
	h.Set("Auto-Submitted", "auto-replied")
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}
	if r.InReplyTo != "" {
		h.SetMsgIDList("In-Reply-To", []string{r.InReplyTo})
		h.SetMsgIDList("References", []string{r.InReplyTo})
	}
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create writer: %w", err)
	}
	if _, err := io.WriteString(w, r.Body); err != nil {
		return nil, fmt.Errorf("failed to write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return buf.Bytes(), nil
}
