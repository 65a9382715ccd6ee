// Package access implements the user approval state machine.
//
//	pending -> approved -> rejected | expired
//	rejected | expired -> pending (re-verify)
//
// Expiry is checked lazily whenever a user is read through Check.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

var (
	// ErrUnknownUser is returned for Telegram ids the bot has never seen
	ErrUnknownUser = errors.New("unknown user")
	// ErrAlreadyApproved is returned when an approved user asks for verification
	ErrAlreadyApproved = errors.New("user already approved")
)

// Service applies approval transitions on top of the user store
type Service struct {
	users store.Users
	now   func() time.Time
}

// NewService creates an approval service
func NewService(users store.Users) *Service {
	return &Service{users: users, now: time.Now}
}

// WithClock overrides the time source
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Now returns the service clock
func (s *Service) Now() time.Time {
	return s.now()
}

// Register records a user on first contact; existing users keep their status
func (s *Service) Register(ctx context.Context, user *models.User) (*models.User, error) {
	if err := s.users.UpsertUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to register user: %w", err)
	}
	return user, nil
}

// Check reads a user and flips an elapsed approval to expired
func (s *Service) Check(ctx context.Context, telegramID int64) (*models.User, error) {
	user, err := s.users.GetUserByTelegramID(ctx, telegramID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownUser
	}
	if err != nil {
		return nil, err
	}

	if user.Status == models.StatusApproved && user.IsExpired(s.now()) {
		if err := s.users.UpdateUserStatus(ctx, telegramID, models.StatusExpired, user.ExpiresAt, nil); err != nil {
			return nil, fmt.Errorf("failed to expire user: %w", err)
		}
		user.Status = models.StatusExpired
	}
	return user, nil
}

// IsApproved reports whether user currently has access
func (s *Service) IsApproved(user *models.User) bool {
	return user != nil && user.Status == models.StatusApproved && !user.IsExpired(s.now())
}

// Approve grants access for days, or without expiry when days is 0.
// It also renews an already approved user.
func (s *Service) Approve(ctx context.Context, telegramID int64, days int) (*models.User, error) {
	if days < 0 {
		return nil, fmt.Errorf("days must not be negative")
	}
	now := s.now()
	var expiresAt *time.Time
	if days > 0 {
		t := now.Add(time.Duration(days) * 24 * time.Hour)
		expiresAt = &t
	}
	if err := s.setStatus(ctx, telegramID, models.StatusApproved, expiresAt, &now); err != nil {
		return nil, err
	}
	return s.users.GetUserByTelegramID(ctx, telegramID)
}

// Revoke rejects a user regardless of the current state
func (s *Service) Revoke(ctx context.Context, telegramID int64) (*models.User, error) {
	if err := s.setStatus(ctx, telegramID, models.StatusRejected, nil, nil); err != nil {
		return nil, err
	}
	return s.users.GetUserByTelegramID(ctx, telegramID)
}

// RequestVerification moves a rejected or expired user back to pending
func (s *Service) RequestVerification(ctx context.Context, telegramID int64) (*models.User, error) {
	user, err := s.Check(ctx, telegramID)
	if err != nil {
		return nil, err
	}

	switch user.Status {
	case models.StatusApproved:
		return user, ErrAlreadyApproved
	case models.StatusPending:
		return user, nil
	}

	if err := s.setStatus(ctx, telegramID, models.StatusPending, nil, nil); err != nil {
		return nil, err
	}
	user.Status = models.StatusPending
	user.ExpiresAt = nil
	return user, nil
}

// ListApproved returns users with live access, expiring stale ones on the way
func (s *Service) ListApproved(ctx context.Context) ([]*models.User, error) {
	users, err := s.users.ListUsersByStatus(ctx, models.StatusApproved)
	if err != nil {
		return nil, err
	}
	live := users[:0]
	for _, u := range users {
		if u.IsExpired(s.now()) {
			if err := s.users.UpdateUserStatus(ctx, u.TelegramID, models.StatusExpired, u.ExpiresAt, nil); err != nil {
				return nil, fmt.Errorf("failed to expire user: %w", err)
			}
			continue
		}
		live = append(live, u)
	}
	return live, nil
}

func (s *Service) setStatus(ctx context.Context, telegramID int64, status models.UserStatus, expiresAt, verifiedAt *time.Time) error {
	err := s.users.UpdateUserStatus(ctx, telegramID, status, expiresAt, verifiedAt)
	if errors.Is(err, store.ErrNotFound) {
		return ErrUnknownUser
	}
	if err != nil {
		return fmt.Errorf("failed to set status %s: %w", status, err)
	}
	return nil
}
