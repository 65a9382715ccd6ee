package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
)

// IMAPConfig configuration for the IMAP source
type IMAPConfig struct {
	Server      string // host:port, resolved from User when empty
	User        string
	Password    string
	DialTimeout time.Duration
}

// IMAPSource polls an IMAP inbox for unseen mail
type IMAPSource struct {
	config IMAPConfig
	client *client.Client
	logger *slog.Logger
	mu     sync.Mutex
}

// NewIMAPSource creates an IMAP source; it connects lazily on the first fetch
func NewIMAPSource(cfg IMAPConfig, logger *slog.Logger) *IMAPSource {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &IMAPSource{
		config: cfg,
		logger: logger.With("component", "imap_source", "email", cfg.User),
	}
}

// Name identifies the source in logs
func (s *IMAPSource) Name() string { return "imap" }

// connect dials and logs in. Caller holds mu.
func (s *IMAPSource) connect(ctx context.Context) error {
	if s.client != nil {
		return nil
	}

	if s.config.Server == "" {
		server, err := NewResolver().Resolve(ctx, s.config.User)
		if err != nil {
			return fmt.Errorf("failed to resolve IMAP server: %w", err)
		}
		s.config.Server = server
	}

	s.logger.Info("connecting to IMAP server", "server", s.config.Server)

	dialer := &net.Dialer{Timeout: s.config.DialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", s.config.Server, nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %w", err)
	}

	if err := c.Login(s.config.User, s.config.Password); err != nil {
		c.Logout()
		return fmt.Errorf("failed to login: %w", err)
	}

	s.client = c
	return nil
}

// drop discards a broken connection so the next fetch reconnects. Caller holds mu.
func (s *IMAPSource) drop() {
	if s.client != nil {
		s.client.Terminate()
		s.client = nil
	}
}

// FetchUnread returns unseen INBOX messages received at or after since.
// Messages are fetched with BODY.PEEK so their \Seen flag is left alone.
func (s *IMAPSource) FetchUnread(ctx context.Context, since time.Time) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	if _, err := s.client.Select("INBOX", true); err != nil {
		s.drop()
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	if !since.IsZero() {
		// SINCE has day granularity; the exact cut happens below
		criteria.Since = since
	}
	uids, err := s.client.UidSearch(criteria)
	if err != nil {
		s.drop()
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	if len(uids) == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uids...)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- s.client.UidFetch(seqSet, items, messages)
	}()

	var out []*Message
	for msg := range messages {
		if !since.IsZero() && msg.InternalDate.Before(since) {
			continue
		}
		out = append(out, s.convert(msg, section))
	}

	if err := <-done; err != nil {
		s.drop()
		return out, fmt.Errorf("failed to fetch: %w", err)
	}
	return out, nil
}

func (s *IMAPSource) convert(msg *imap.Message, section *imap.BodySectionName) *Message {
	out := &Message{
		ID:         fmt.Sprintf("imap:%d", msg.Uid),
		ReceivedAt: msg.InternalDate,
	}

	if env := msg.Envelope; env != nil {
		out.Subject = env.Subject
		out.MessageID = env.MessageId
		if len(env.From) > 0 {
			out.From = env.From[0].Address()
			out.FromName = env.From[0].PersonalName
		}
		if len(env.To) > 0 {
			out.To = env.To[0].Address()
		}
	}

	body := msg.GetBody(section)
	if body == nil {
		return out
	}
	mr, err := mail.CreateReader(body)
	if err != nil {
		s.logger.Warn("failed to create mail reader", "uid", msg.Uid, "error", err)
		return out
	}
	defer mr.Close()
	if err := readParts(out, mr); err != nil {
		s.logger.Warn("failed to read message body", "uid", msg.Uid, "error", err)
	}
	return out
}

// Close logs out
func (s *IMAPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	c := s.client
	s.client = nil

	done := make(chan error, 1)
	go func() { done <- c.Logout() }()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		return c.Terminate()
	}
}
