// Package jsonstore keeps all bot data in a single JSON file, for hosts without a database.
package jsonstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

type data struct {
	Users      []*models.User             `json:"users"`
	Accounts   []*models.EmailAccount     `json:"email_accounts"`
	Logs       []*models.EmailLog         `json:"email_logs"`
	Broadcasts []*models.BroadcastMessage `json:"broadcast_messages"`
	Settings   []*models.Setting          `json:"settings"`
	NextID     int64                      `json:"next_id"`
}

// Store is a file-backed store.Store
type Store struct {
	path string
	mu   sync.Mutex
	d    data
	now  func() time.Time
}

var _ store.Store = (*Store)(nil)

// Open loads path, or starts empty if the file does not exist
func Open(path string) (*Store, error) {
	s := &Store{path: path, now: time.Now}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read data file: %w", err)
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &s.d); err != nil {
			return nil, fmt.Errorf("failed to parse data file: %w", err)
		}
	}
	return s, nil
}

// Close is a no-op; every mutation is already on disk
func (s *Store) Close() error { return nil }

// save writes the data set atomically. Caller holds mu.
func (s *Store) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	raw, err := json.MarshalIndent(&s.d, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("failed to write data file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace data file: %w", err)
	}
	return nil
}

func (s *Store) nextID() int64 {
	s.d.NextID++
	return s.d.NextID
}

func (s *Store) findUser(telegramID int64) *models.User {
	for _, u := range s.d.Users {
		if u.TelegramID == telegramID {
			return u
		}
	}
	return nil
}

// GetUserByTelegramID returns a copy of the user
func (s *Store) GetUserByTelegramID(_ context.Context, telegramID int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.findUser(telegramID)
	if u == nil {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

// GetUserByID returns a user by primary key
func (s *Store) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.d.Users {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// UpsertUser creates a pending user or refreshes the profile of an existing one
func (s *Store) UpsertUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	u := s.findUser(user.TelegramID)
	if u == nil {
		u = &models.User{
			ID:         s.nextID(),
			TelegramID: user.TelegramID,
			Status:     user.Status,
			CreatedAt:  now,
		}
		if u.Status == "" {
			u.Status = models.StatusPending
		}
		s.d.Users = append(s.d.Users, u)
	}
	u.Username = user.Username
	u.FirstName = user.FirstName
	u.LastName = user.LastName
	u.LanguageCode = user.LanguageCode
	u.UpdatedAt = now

	if err := s.save(); err != nil {
		return err
	}
	*user = *u
	return nil
}

// UpdateUserStatus sets the approval fields of a user
func (s *Store) UpdateUserStatus(_ context.Context, telegramID int64, status models.UserStatus, expiresAt, verifiedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u := s.findUser(telegramID)
	if u == nil {
		return store.ErrNotFound
	}
	u.Status = status
	u.ExpiresAt = expiresAt
	if verifiedAt != nil {
		u.VerifiedAt = verifiedAt
		u.VerificationType = "manual"
	}
	u.UpdatedAt = s.now()
	return s.save()
}

// ListUsers returns the newest users first
func (s *Store) ListUsers(_ context.Context, limit int) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUsers(s.d.Users, func(*models.User) bool { return true }, limit), nil
}

// ListUsersByStatus returns all users with the given status
func (s *Store) ListUsersByStatus(_ context.Context, status models.UserStatus) ([]*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyUsers(s.d.Users, func(u *models.User) bool { return u.Status == status }, 0), nil
}

// CountUsersByStatus returns the number of users per status
func (s *Store) CountUsersByStatus(_ context.Context) (map[models.UserStatus]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make(map[models.UserStatus]int)
	for _, u := range s.d.Users {
		counts[u.Status]++
	}
	return counts, nil
}

func copyUsers(src []*models.User, keep func(*models.User) bool, limit int) []*models.User {
	var out []*models.User
	for i := len(src) - 1; i >= 0; i-- {
		if !keep(src[i]) {
			continue
		}
		cp := *src[i]
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetActiveAccountByEmail returns the active account bound to an address
func (s *Store) GetActiveAccountByEmail(_ context.Context, email string) (*models.EmailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(email)
	for _, a := range s.d.Accounts {
		if a.IsActive && a.Email == email {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// GetActiveAccountByUser returns the active account of a user
func (s *Store) GetActiveAccountByUser(_ context.Context, userID int64) (*models.EmailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.d.Accounts {
		if a.IsActive && a.UserID == userID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// SetAccountEmail binds email to the user and deactivates the user's other accounts
func (s *Store) SetAccountEmail(_ context.Context, userID int64, email string) (*models.EmailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = strings.ToLower(strings.TrimSpace(email))
	for _, a := range s.d.Accounts {
		if a.IsActive && a.Email == email && a.UserID != userID {
			return nil, store.ErrAlreadyExists
		}
	}

	now := s.now()
	var target *models.EmailAccount
	for _, a := range s.d.Accounts {
		if a.UserID != userID {
			continue
		}
		if a.Email == email {
			target = a
			continue
		}
		if a.IsActive {
			a.IsActive = false
			a.UpdatedAt = now
		}
	}
	if target == nil {
		target = &models.EmailAccount{
			ID:        s.nextID(),
			UserID:    userID,
			Email:     email,
			CreatedAt: now,
		}
		s.d.Accounts = append(s.d.Accounts, target)
	}
	target.IsActive = true
	target.UpdatedAt = now

	if err := s.save(); err != nil {
		return nil, err
	}
	cp := *target
	return &cp, nil
}

func (s *Store) findAccount(id int64) *models.EmailAccount {
	for _, a := range s.d.Accounts {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// UpdateAutoReply sets the auto-reply fields of an account
func (s *Store) UpdateAutoReply(_ context.Context, accountID int64, enabled bool, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.findAccount(accountID)
	if a == nil {
		return store.ErrNotFound
	}
	a.AutoReplyEnabled = enabled
	a.AutoReplyMessage = message
	a.UpdatedAt = s.now()
	return s.save()
}

// SetAccountActive sets the active status of an account
func (s *Store) SetAccountActive(_ context.Context, accountID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := s.findAccount(accountID)
	if a == nil {
		return store.ErrNotFound
	}
	a.IsActive = active
	a.UpdatedAt = s.now()
	return s.save()
}

// ListAccounts returns all accounts, newest first
func (s *Store) ListAccounts(_ context.Context) ([]*models.EmailAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.EmailAccount, 0, len(s.d.Accounts))
	for i := len(s.d.Accounts) - 1; i >= 0; i-- {
		cp := *s.d.Accounts[i]
		out = append(out, &cp)
	}
	return out, nil
}

// AppendEmailLog appends a received-email log
func (s *Store) AppendEmailLog(_ context.Context, log *models.EmailLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if log.RepliedAt.IsZero() {
		log.RepliedAt = s.now()
	}
	log.ID = s.nextID()
	cp := *log
	s.d.Logs = append(s.d.Logs, &cp)
	return s.save()
}

// ListEmailLogs returns the latest logs across all accounts of a user
func (s *Store) ListEmailLogs(_ context.Context, userID int64, limit int) ([]*models.EmailLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	owned := make(map[int64]bool)
	for _, a := range s.d.Accounts {
		if a.UserID == userID {
			owned[a.ID] = true
		}
	}
	var out []*models.EmailLog
	for i := len(s.d.Logs) - 1; i >= 0; i-- {
		if owned[s.d.Logs[i].EmailAccountID] {
			cp := *s.d.Logs[i]
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].RepliedAt.After(out[j].RepliedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// AppendBroadcast appends a broadcast record
func (s *Store) AppendBroadcast(_ context.Context, msg *models.BroadcastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.SentAt.IsZero() {
		msg.SentAt = s.now()
	}
	msg.ID = s.nextID()
	cp := *msg
	s.d.Broadcasts = append(s.d.Broadcasts, &cp)
	return s.save()
}

// ListBroadcasts returns the latest broadcasts
func (s *Store) ListBroadcasts(_ context.Context, limit int) ([]*models.BroadcastMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.BroadcastMessage
	for i := len(s.d.Broadcasts) - 1; i >= 0; i-- {
		cp := *s.d.Broadcasts[i]
		out = append(out, &cp)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// GetSetting returns a setting by key
func (s *Store) GetSetting(_ context.Context, key string) (*models.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.d.Settings {
		if st.Key == key {
			cp := *st
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// SetSetting inserts or replaces a setting
func (s *Store) SetSetting(_ context.Context, key, value, description string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for _, st := range s.d.Settings {
		if st.Key == key {
			st.Value = value
			if description != "" {
				st.Description = description
			}
			st.UpdatedAt = now
			return s.save()
		}
	}
	s.d.Settings = append(s.d.Settings, &models.Setting{Key: key, Value: value, Description: description, UpdatedAt: now})
	return s.save()
}

// ListSettings returns all settings ordered by key
func (s *Store) ListSettings(_ context.Context) ([]*models.Setting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*models.Setting, 0, len(s.d.Settings))
	for _, st := range s.d.Settings {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
