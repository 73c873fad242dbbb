package services

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/cache"
	"github.com/quraeshi99/noortime/internal/models"
	"github.com/quraeshi99/noortime/internal/repo"
)

// SettingsService guards owner settings changes and runs the invalidation
// hook: the owner's current-month schedule is cleared so the next read
// regenerates it, and followers of a collective owner get an advisory
// notification.
type SettingsService struct {
	settings  repo.SettingsRepo
	schedules repo.ScheduleRepo
	owners    repo.OwnerRepo
	hot       *cache.Cache
	notifier  repo.Notifier

	now func() time.Time
}

// NewSettingsService wires the hook.
func NewSettingsService(settings repo.SettingsRepo, schedules repo.ScheduleRepo, owners repo.OwnerRepo, hot *cache.Cache, notifier repo.Notifier) *SettingsService {
	return &SettingsService{
		settings:  settings,
		schedules: schedules,
		owners:    owners,
		hot:       hot,
		notifier:  notifier,
		now:       time.Now,
	}
}

// IsFollowingCollective reports whether the owner is locked to a collective
// owner's schedule.
func (s *SettingsService) IsFollowingCollective(ctx context.Context, ownerID int64) (bool, error) {
	target, err := s.owners.ResolveFollowTarget(ctx, ownerID)
	if err != nil {
		return false, err
	}
	return target != 0, nil
}

// Update validates and persists new settings. While an individual follows a
// collective owner, changes to the prayer rule block are rejected with
// Conflict; presentation-only changes (time format, city label) pass through
// without touching any schedule.
func (s *SettingsService) Update(ctx context.Context, incoming *models.OwnerSettings) error {
	if err := incoming.Validate(); err != nil {
		return apperr.Wrap(apperr.Permanent, "invalid settings", err)
	}

	current, err := s.settings.Get(ctx, incoming.OwnerID)
	if err != nil && !apperr.IsNotFound(err) {
		return err
	}

	prayerChanged := current == nil || prayerFieldsChanged(current, incoming)

	if prayerChanged {
		following, err := s.IsFollowingCollective(ctx, incoming.OwnerID)
		if err != nil {
			return err
		}
		if following {
			return apperr.New(apperr.Conflict, "prayer settings are managed by the followed masjid")
		}
	}

	if err := s.settings.Save(ctx, incoming); err != nil {
		return err
	}
	if !prayerChanged {
		slog.Info("settings updated (presentation only)", "owner_id", incoming.OwnerID)
		return nil
	}
	return s.HandleSettingsChange(ctx, incoming.OwnerID)
}

// HandleSettingsChange clears the owner's current-month schedule so the next
// read regenerates it, and advises followers when the owner is collective.
func (s *SettingsService) HandleSettingsChange(ctx context.Context, ownerID int64) error {
	now := s.now()
	year, month := now.Year(), int(now.Month())

	if err := s.schedules.Delete(ctx, ownerID, year, month); err != nil {
		// Cold delete failed: leave the hot entry alone so the tiers stay
		// consistent, and surface the failure.
		return err
	}
	if err := s.hot.DeleteSchedule(ctx, ownerID, year, month); err != nil {
		slog.Warn("hot schedule invalidation failed", "owner_id", ownerID, "error", err)
	}
	slog.Info("schedule invalidated after settings change", "owner_id", ownerID, "year", year, "month", month)

	owner, err := s.owners.Get(ctx, ownerID)
	if err != nil {
		return err
	}
	if owner.Kind == models.OwnerCollective {
		if err := s.notifier.NotifyFollowers(ctx, ownerID, "Prayer schedule updated"); err != nil {
			slog.Error("follower notification failed", "owner_id", ownerID, "error", err)
		}
	}
	return nil
}

// prayerRelevant is the slice of settings that feed the calculator and
// materializer; a change to any of them invalidates schedules.
type prayerRelevant struct {
	Latitude  float64                      `json:"latitude"`
	Longitude float64                      `json:"longitude"`
	Method    models.MethodKey             `json:"method"`
	Rules     map[string]models.PrayerRule `json:"rules"`
	Threshold int                          `json:"threshold"`
	Jummah    models.JummahRule            `json:"jummah"`
	Hijri     int                          `json:"hijri"`
	Timezone  string                       `json:"timezone"`
}

func prayerFieldsChanged(a, b *models.OwnerSettings) bool {
	pa, errA := json.Marshal(relevantOf(a))
	pb, errB := json.Marshal(relevantOf(b))
	if errA != nil || errB != nil {
		return true
	}
	return string(pa) != string(pb)
}

func relevantOf(s *models.OwnerSettings) prayerRelevant {
	return prayerRelevant{
		Latitude:  s.Latitude,
		Longitude: s.Longitude,
		Method:    s.Method,
		Rules:     s.Rules,
		Threshold: s.ThresholdMinutes,
		Jummah:    s.Jummah,
		Hijri:     s.HijriOffsetDays,
		Timezone:  s.Timezone,
	}
}
