package access

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailrelay/mailrelay-bot/internal/jsonstore"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newService(t *testing.T) (*Service, *clock) {
	t.Helper()
	st, err := jsonstore.Open(filepath.Join(t.TempDir(), "data.json"))
	require.NoError(t, err)
	c := &clock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewService(st).WithClock(c.now), c
}

func register(t *testing.T, s *Service, id int64) {
	t.Helper()
	_, err := s.Register(context.Background(), &models.User{TelegramID: id, FirstName: "u"})
	require.NoError(t, err)
}

func TestApprove_ThirtyDaysThenExpires(t *testing.T) {
	ctx := context.Background()
	s, c := newService(t)
	register(t, s, 5)

	u, err := s.Approve(ctx, 5, 30)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, u.Status)
	require.NotNil(t, u.ExpiresAt)
	assert.True(t, u.ExpiresAt.Equal(c.t.Add(30*24*time.Hour)))
	assert.True(t, s.IsApproved(u))

	c.t = c.t.Add(30*24*time.Hour + time.Second)

	got, err := s.Check(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, got.Status)
	assert.False(t, s.IsApproved(got))

	// the flip is persisted, not just computed
	c.t = c.t.Add(-time.Hour * 24 * 365)
	again, err := s.Check(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, again.Status)
}

func TestApprove_ZeroDaysNeverExpires(t *testing.T) {
	ctx := context.Background()
	s, c := newService(t)
	register(t, s, 5)

	u, err := s.Approve(ctx, 5, 0)
	require.NoError(t, err)
	assert.Nil(t, u.ExpiresAt)

	c.t = c.t.Add(10 * 365 * 24 * time.Hour)
	got, err := s.Check(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
}

func TestApprove_UnknownUser(t *testing.T) {
	s, _ := newService(t)
	_, err := s.Approve(context.Background(), 404, 30)
	assert.ErrorIs(t, err, ErrUnknownUser)

	_, err = s.Check(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUnknownUser)
}

func TestRevokeAndReverify(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	register(t, s, 5)

	_, err := s.Approve(ctx, 5, 30)
	require.NoError(t, err)

	u, err := s.RequestVerification(ctx, 5)
	assert.ErrorIs(t, err, ErrAlreadyApproved)
	assert.Equal(t, models.StatusApproved, u.Status)

	u, err = s.Revoke(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, u.Status)
	assert.Nil(t, u.ExpiresAt)

	u, err = s.RequestVerification(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, u.Status)
}

func TestRegister_KeepsStatus(t *testing.T) {
	ctx := context.Background()
	s, _ := newService(t)
	register(t, s, 5)
	_, err := s.Approve(ctx, 5, 0)
	require.NoError(t, err)

	u, err := s.Register(ctx, &models.User{TelegramID: 5, Username: "renamed"})
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, u.Status)
	assert.Equal(t, "renamed", u.Username)
}

func TestListApproved_SkipsExpired(t *testing.T) {
	ctx := context.Background()
	s, c := newService(t)
	for _, id := range []int64{1, 2, 3} {
		register(t, s, id)
	}
	_, err := s.Approve(ctx, 1, 1)
	require.NoError(t, err)
	_, err = s.Approve(ctx, 2, 30)
	require.NoError(t, err)

	c.t = c.t.Add(48 * time.Hour)

	users, err := s.ListApproved(ctx)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, int64(2), users[0].TelegramID)

	expired, err := s.Check(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, expired.Status)
}
