// Package storetest runs the behaviour shared by every store.Store backend.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

// Run exercises a fresh store returned by open for each case.
func Run(t *testing.T, open func(t *testing.T) store.Store) {
	tests := []struct {
		name string
		run  func(t *testing.T, s store.Store)
	}{
		{"GetUserByID", testGetUserByID},
		{"ListEmailLogs", testListEmailLogs},
		{"CountUsersByStatus", testCountUsersByStatus},
		{"SetAccountEmail", testSetAccountEmail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.run(t, open(t))
		})
	}
}

func newUser(t *testing.T, s store.Store, telegramID int64) *models.User {
	t.Helper()
	u := &models.User{TelegramID: telegramID, FirstName: "Test"}
	require.NoError(t, s.UpsertUser(context.Background(), u))
	require.NotZero(t, u.ID)
	return u
}

func testGetUserByID(t *testing.T, s store.Store) {
	ctx := context.Background()
	newUser(t, s, 1)
	u := newUser(t, s, 2)

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.TelegramID)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = s.GetUserByID(ctx, u.ID+1000)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testListEmailLogs(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := newUser(t, s, 1)
	bob := newUser(t, s, 2)

	first, err := s.SetAccountEmail(ctx, alice.ID, "alice@old.example")
	require.NoError(t, err)
	second, err := s.SetAccountEmail(ctx, alice.ID, "alice@new.example")
	require.NoError(t, err)
	other, err := s.SetAccountEmail(ctx, bob.ID, "bob@example.com")
	require.NoError(t, err)

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	// appended out of order; logs of inactive accounts still belong to the user
	appendLog := func(accountID int64, subject string, minutes int) {
		require.NoError(t, s.AppendEmailLog(ctx, &models.EmailLog{
			EmailAccountID: accountID,
			FromEmail:      "sender@example.com",
			Subject:        subject,
			RepliedAt:      base.Add(time.Duration(minutes) * time.Minute),
		}))
	}
	appendLog(first.ID, "m2", 2)
	appendLog(second.ID, "m5", 5)
	appendLog(first.ID, "m1", 1)
	appendLog(other.ID, "bob", 10)
	appendLog(second.ID, "m4", 4)
	appendLog(second.ID, "m3", 3)

	subjects := func(logs []*models.EmailLog) []string {
		out := make([]string, 0, len(logs))
		for _, l := range logs {
			out = append(out, l.Subject)
		}
		return out
	}

	logs, err := s.ListEmailLogs(ctx, alice.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m5", "m4", "m3"}, subjects(logs))

	logs, err = s.ListEmailLogs(ctx, alice.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, []string{"m5", "m4", "m3", "m2", "m1"}, subjects(logs))
	assert.True(t, logs[0].RepliedAt.Equal(base.Add(5*time.Minute)))

	// zero falls back to the default page of 10
	for i := 0; i < 8; i++ {
		appendLog(other.ID, "bulk", 20+i)
	}
	logs, err = s.ListEmailLogs(ctx, bob.ID, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 9)

	for i := 0; i < 3; i++ {
		appendLog(other.ID, "more", 30+i)
	}
	logs, err = s.ListEmailLogs(ctx, bob.ID, 0)
	require.NoError(t, err)
	assert.Len(t, logs, 10)
	assert.Equal(t, "more", logs[0].Subject)

	logs, err = s.ListEmailLogs(ctx, 9999, 5)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func testCountUsersByStatus(t *testing.T, s store.Store) {
	ctx := context.Background()

	counts, err := s.CountUsersByStatus(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts)

	for id := int64(1); id <= 5; id++ {
		newUser(t, s, id)
	}
	exp := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateUserStatus(ctx, 1, models.StatusApproved, &exp, nil))
	require.NoError(t, s.UpdateUserStatus(ctx, 2, models.StatusApproved, nil, nil))
	require.NoError(t, s.UpdateUserStatus(ctx, 3, models.StatusRejected, nil, nil))
	require.NoError(t, s.UpdateUserStatus(ctx, 4, models.StatusExpired, nil, nil))

	counts, err = s.CountUsersByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.UserStatus]int{
		models.StatusPending:  1,
		models.StatusApproved: 2,
		models.StatusRejected: 1,
		models.StatusExpired:  1,
	}, counts)
}

func testSetAccountEmail(t *testing.T, s store.Store) {
	ctx := context.Background()
	alice := newUser(t, s, 1)
	bob := newUser(t, s, 2)

	acc, err := s.SetAccountEmail(ctx, alice.ID, "  Shared@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, "shared@example.com", acc.Email)
	assert.True(t, acc.IsActive)

	t.Run("conflict with another active owner", func(t *testing.T) {
		_, err := s.SetAccountEmail(ctx, bob.ID, "shared@example.com")
		assert.ErrorIs(t, err, store.ErrAlreadyExists)

		got, err := s.GetActiveAccountByEmail(ctx, "shared@example.com")
		require.NoError(t, err)
		assert.Equal(t, alice.ID, got.UserID)
	})

	t.Run("switching deactivates the previous address", func(t *testing.T) {
		next, err := s.SetAccountEmail(ctx, alice.ID, "alice@example.com")
		require.NoError(t, err)
		assert.NotEqual(t, acc.ID, next.ID)

		active, err := s.GetActiveAccountByUser(ctx, alice.ID)
		require.NoError(t, err)
		assert.Equal(t, next.ID, active.ID)

		_, err = s.GetActiveAccountByEmail(ctx, "shared@example.com")
		assert.ErrorIs(t, err, store.ErrNotFound)
	})

	t.Run("reactivation reuses the account", func(t *testing.T) {
		require.NoError(t, s.UpdateAutoReply(ctx, acc.ID, true, "away"))

		again, err := s.SetAccountEmail(ctx, alice.ID, "SHARED@example.com")
		require.NoError(t, err)
		assert.Equal(t, acc.ID, again.ID)
		assert.True(t, again.IsActive)
		assert.True(t, again.AutoReplyEnabled)
		assert.Equal(t, "away", again.AutoReplyMessage)

		_, err = s.GetActiveAccountByEmail(ctx, "alice@example.com")
		assert.ErrorIs(t, err, store.ErrNotFound)

		var mine int
		accounts, err := s.ListAccounts(ctx)
		require.NoError(t, err)
		for _, a := range accounts {
			if a.UserID == alice.ID {
				mine++
			}
		}
		assert.Equal(t, 2, mine)
	})

	t.Run("inactive address can be claimed by another user", func(t *testing.T) {
		_, err := s.SetAccountEmail(ctx, bob.ID, "alice@example.com")
		require.NoError(t, err)

		got, err := s.GetActiveAccountByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, bob.ID, got.UserID)
	})
}
