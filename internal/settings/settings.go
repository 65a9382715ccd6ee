// Package settings provides typed access to runtime settings kept in the store.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/mailrelay/mailrelay-bot/internal/config"
	"github.com/mailrelay/mailrelay-bot/internal/store"
	"github.com/mailrelay/mailrelay-bot/pkg/models"
)

// MinPollInterval lower bound accepted for the poll interval
const MinPollInterval = config.MinPollInterval

// ErrIntervalTooShort is returned for poll intervals under MinPollInterval
var ErrIntervalTooShort = fmt.Errorf("poll interval must be at least %s", MinPollInterval)

// Service reads and writes settings with fallbacks
type Service struct {
	store        store.Settings
	pollInterval time.Duration // default when unset
}

// NewService creates a settings service
func NewService(st store.Settings, defaultPollInterval time.Duration) *Service {
	return &Service{store: st, pollInterval: defaultPollInterval}
}

// PollInterval returns the configured interval, falling back to the default
func (s *Service) PollInterval(ctx context.Context) time.Duration {
	setting, err := s.store.GetSetting(ctx, models.SettingPollInterval)
	if err != nil {
		return s.pollInterval
	}
	secs, err := strconv.Atoi(setting.Value)
	if err != nil {
		return s.pollInterval
	}
	d := time.Duration(secs) * time.Second
	if d < MinPollInterval {
		return MinPollInterval
	}
	return d
}

// SetPollInterval stores a new interval
func (s *Service) SetPollInterval(ctx context.Context, d time.Duration) error {
	if d < MinPollInterval {
		return ErrIntervalTooShort
	}
	secs := strconv.Itoa(int(d / time.Second))
	return s.store.SetSetting(ctx, models.SettingPollInterval, secs, "mail poll interval in seconds")
}

// VerifyURL returns the link sent to users who ask for verification, or ""
func (s *Service) VerifyURL(ctx context.Context) (string, error) {
	setting, err := s.store.GetSetting(ctx, models.SettingVerifyURL)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return setting.Value, nil
}
