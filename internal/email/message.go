package email

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Message is a received email normalized from any source
type Message struct {
	ID         string // source-specific id used for de-duplication
	MessageID  string // Message-ID header
	From       string
	FromName   string
	To         string
	Subject    string
	Text       string
	HTML       string
	ReceivedAt time.Time
}

// ParseRaw parses an RFC 822 message
func ParseRaw(raw []byte) (*Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to create mail reader: %w", err)
	}
	defer mr.Close()

	msg := &Message{}
	readHeader(msg, &mr.Header)
	if err := readParts(msg, mr); err != nil {
		return msg, err
	}
	return msg, nil
}

func readHeader(msg *Message, h *mail.Header) {
	msg.Subject, _ = h.Subject()
	msg.MessageID, _ = h.MessageID()
	msg.ReceivedAt, _ = h.Date()

	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		msg.From = from[0].Address
		msg.FromName = from[0].Name
	}
	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		msg.To = to[0].Address
	}
}

// readParts fills the text and html bodies; attachments are skipped
func readParts(msg *Message, mr *mail.Reader) error {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read part: %w", err)
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/html") && msg.HTML == "":
			msg.HTML = string(body)
		case strings.HasPrefix(ct, "text/plain") && msg.Text == "":
			msg.Text = string(body)
		}
	}
}
