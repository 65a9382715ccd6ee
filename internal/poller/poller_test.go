package poller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailrelay/mailrelay-bot/internal/email"
	"github.com/mailrelay/mailrelay-bot/internal/graph"
	"github.com/mailrelay/mailrelay-bot/internal/parser"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

type fakeSource struct {
	mu      sync.Mutex
	batches [][]*email.Message
	err     error
	since   []time.Time
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.since)
}

func (f *fakeSource) FetchUnread(_ context.Context, since time.Time) ([]*email.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.since = append(f.since, since)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.batches) == 0 {
		return nil, nil
	}
	b := f.batches[0]
	f.batches = f.batches[1:]
	return b, nil
}

type fakeRecipients struct{ users []*models.User }

func (f *fakeRecipients) ListApproved(context.Context) ([]*models.User, error) { return f.users, nil }

type fixedInterval time.Duration

func (f fixedInterval) PollInterval(context.Context) time.Duration { return time.Duration(f) }

type sent struct {
	chatID int64
	text   string
}

type fakeNotifier struct {
	sent []sent
	fail map[int64]bool
}

func (f *fakeNotifier) Notify(_ context.Context, chatID int64, text string) error {
	if f.fail[chatID] {
		return errors.New("chat not found")
	}
	f.sent = append(f.sent, sent{chatID, text})
	return nil
}

type plainFormatter struct{}

func (plainFormatter) FormatPolled(m *email.Message, body, otp string) string {
	return fmt.Sprintf("%s|%s|%s", m.ID, m.Subject, otp)
}
func (plainFormatter) FormatReauth(source string) string { return "reauth " + source }

func newPoller(src Source, users []*models.User, n *fakeNotifier) *Poller {
	return New(Deps{
		Source:     src,
		Recipients: &fakeRecipients{users: users},
		Intervals:  fixedInterval(30 * time.Second),
		Notifier:   n,
		Formatter:  plainFormatter{},
		Bodies:     parser.NewHTMLParser(),
		Codes:      parser.NewOTPExtractor(),
		OwnerID:    1,
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func TestPoll_ForwardsToEveryApprovedUserWithOTP(t *testing.T) {
	src := &fakeSource{batches: [][]*email.Message{{
		{ID: "b", Subject: "second", Text: "nothing here"},
		{ID: "a", Subject: "first", HTML: "<p>Your code: 482913</p>"},
	}}}
	n := &fakeNotifier{fail: map[int64]bool{30: true}}
	users := []*models.User{{TelegramID: 10}, {TelegramID: 20}, {TelegramID: 30}}
	p := newPoller(src, users, n)

	count, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.Len(t, n.sent, 4)
	assert.Equal(t, sent{10, "a|first|482913"}, n.sent[0])
	assert.Equal(t, sent{20, "a|first|482913"}, n.sent[1])
	assert.Equal(t, sent{10, "b|second|"}, n.sent[2])
	assert.Equal(t, 2, p.Status().Processed)
}

func TestPoll_SkipsProcessedAndAdvancesSince(t *testing.T) {
	msg := &email.Message{ID: "dup", Subject: "x"}
	src := &fakeSource{batches: [][]*email.Message{{msg}, {msg}}}
	n := &fakeNotifier{}
	p := newPoller(src, []*models.User{{TelegramID: 10}}, n)

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return start }
	p.lastCheck = start.Add(-time.Minute)

	_, err := p.Poll(context.Background())
	require.NoError(t, err)

	p.now = func() time.Time { return start.Add(30 * time.Second) }
	count, err := p.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
	assert.Len(t, n.sent, 1)

	require.Len(t, src.since, 2)
	assert.Equal(t, start.Add(-time.Minute), src.since[0])
	assert.Equal(t, start, src.since[1])
}

func TestPoll_ReauthHaltsUntilResume(t *testing.T) {
	src := &fakeSource{err: fmt.Errorf("%w: graph returned 401", graph.ErrReauthRequired)}
	n := &fakeNotifier{}
	p := newPoller(src, nil, n)
	ctx := context.Background()

	_, err := p.Poll(ctx)
	assert.ErrorIs(t, err, graph.ErrReauthRequired)
	assert.True(t, p.Status().Halted)
	require.Len(t, n.sent, 1)
	assert.Equal(t, sent{1, "reauth fake"}, n.sent[0])

	// halted: the source is not called again
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, src.since, 1)

	src.err = nil
	p.Resume()
	_, err = p.Poll(ctx)
	require.NoError(t, err)
	assert.Len(t, src.since, 2)
	assert.False(t, p.Status().Halted)
}

func TestPoll_OtherErrorsKeepPolling(t *testing.T) {
	src := &fakeSource{err: errors.New("connection reset")}
	p := newPoller(src, nil, &fakeNotifier{})

	_, err := p.Poll(context.Background())
	assert.Error(t, err)
	assert.False(t, p.Status().Halted)
}

func TestSeenSet_Truncates(t *testing.T) {
	s := newSeenSet(10, 4)
	for i := 0; i < 11; i++ {
		s.Add(fmt.Sprint(i))
	}
	assert.Equal(t, 4, s.Len())
	assert.False(t, s.Has("0"))
	assert.False(t, s.Has("6"))
	assert.True(t, s.Has("7"))
	assert.True(t, s.Has("10"))

	s.Add("10")
	assert.Equal(t, 4, s.Len())
}

func TestRun_StopsOnCancel(t *testing.T) {
	src := &fakeSource{}
	p := newPoller(src, nil, &fakeNotifier{})
	p.deps.Intervals = fixedInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return src.calls() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}
	assert.Equal(t, time.Millisecond, p.Status().Interval)
}
