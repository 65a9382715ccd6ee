package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/email"
)

// TokenProvider supplies bearer tokens for Graph
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client is a minimal Graph mail client
type Client struct {
	baseURL    string
	mailbox    string // user principal name, /me when empty
	tokens     TokenProvider
	httpClient *http.Client
	pageSize   int
}

// Config for the Graph client
type Config struct {
	BaseURL string // e.g. https://graph.microsoft.com/v1.0
	Mailbox string
}

type graphMessage struct {
	ID               string    `json:"id"`
	Subject          string    `json:"subject"`
	BodyPreview      string    `json:"bodyPreview"`
	ReceivedDateTime time.Time `json:"receivedDateTime"`
	Body             struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

type listResponse struct {
	Value []graphMessage `json:"value"`
}

// NewClient creates a Graph client
func NewClient(cfg Config, tokens TokenProvider) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		mailbox: cfg.Mailbox,
		tokens:  tokens,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		pageSize: 10,
	}
}

// Name identifies the source in logs
func (c *Client) Name() string { return "graph" }

// FetchUnread lists unread inbox messages received at or after since, newest first
func (c *Client) FetchUnread(ctx context.Context, since time.Time) ([]*email.Message, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	filter := "isRead eq false"
	if !since.IsZero() {
		filter += " and receivedDateTime ge " + since.UTC().Format(time.RFC3339)
	}
	q := url.Values{}
	q.Set("$filter", filter)
	q.Set("$orderby", "receivedDateTime desc")
	q.Set("$top", fmt.Sprint(c.pageSize))
	q.Set("$select", "id,subject,bodyPreview,body,from,receivedDateTime")

	owner := "/me"
	if c.mailbox != "" {
		owner = "/users/" + url.PathEscape(c.mailbox)
	}
	endpoint := c.baseURL + owner + "/mailFolders/inbox/messages?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized {
		c.tokens.Invalidate()
		return nil, fmt.Errorf("%w: graph returned 401", ErrReauthRequired)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error: %s (status %d)", string(body), resp.StatusCode)
	}

	var list listResponse
	if err := json.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	msgs := make([]*email.Message, 0, len(list.Value))
	for _, m := range list.Value {
		msg := &email.Message{
			ID:         m.ID,
			From:       m.From.EmailAddress.Address,
			FromName:   m.From.EmailAddress.Name,
			To:         c.mailbox,
			Subject:    m.Subject,
			ReceivedAt: m.ReceivedDateTime,
		}
		if strings.EqualFold(m.Body.ContentType, "html") {
			msg.HTML = m.Body.Content
		} else {
			msg.Text = m.Body.Content
		}
		if msg.Text == "" && msg.HTML == "" {
			msg.Text = m.BodyPreview
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
