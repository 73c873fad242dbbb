package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/models"
)

func TestFollowerPrayerChangeRejected(t *testing.T) {
	// An individual following a masjid may not change the
	// prayer rule block, but presentation-only changes pass.
	e := newTestEngine(t)
	ctx := context.Background()
	e.seedOwner(t, 9, models.OwnerCollective)
	settings := e.seedOwner(t, 8, models.OwnerIndividual)
	e.owners.SetFollow(8, 9)

	changed := *settings
	changed.Rules = cloneRules(settings.Rules)
	changed.Rules[models.Fajr] = models.PrayerRule{Fixed: &models.FixedRule{Azan: "05:30", Jamaat: "05:45"}}
	err := e.settingsSv.Update(ctx, &changed)
	if apperr.KindOf(err) != apperr.Conflict {
		t.Fatalf("err = %v, want Conflict", err)
	}

	e.fillCalendar(t, 2025)
	if _, err := e.schedules.GetOrGenerate(ctx, 9, 2025, 3, false); err != nil {
		t.Fatal(err)
	}
	before, _ := e.schedRepo.Get(ctx, 9, 2025, 3)

	presentation := *settings
	presentation.TimeFormat = "24h"
	if err := e.settingsSv.Update(ctx, &presentation); err != nil {
		t.Fatalf("presentation-only change rejected: %v", err)
	}
	after, _ := e.schedRepo.Get(ctx, 9, 2025, 3)
	if after == nil || after.Version != before.Version {
		t.Error("presentation-only change must not touch any schedule")
	}
	saved, _ := e.setRepo.Get(ctx, 8)
	if saved.TimeFormat != "24h" {
		t.Error("presentation change must persist")
	}
}

// marchNow pins the settings hook's "current month" to March 2025.
func marchNow() time.Time {
	return time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
}

func cloneRules(in map[string]models.PrayerRule) map[string]models.PrayerRule {
	out := make(map[string]models.PrayerRule, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func TestSettingsChangeRegeneratesOnNextRead(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	settings := e.seedOwner(t, 7, models.OwnerIndividual)
	e.fillCalendar(t, 2025)

	e.settingsSv.now = marchNow
	first, err := e.schedules.GetOrGenerate(ctx, 7, marchNow().Year(), int(marchNow().Month()), false)
	if err != nil {
		t.Fatal(err)
	}

	// Identical re-submission: no version bump, schedule untouched.
	same := *settings
	same.Rules = cloneRules(settings.Rules)
	if err := e.settingsSv.Update(ctx, &same); err != nil {
		t.Fatalf("identical settings rejected: %v", err)
	}
	unchanged, _ := e.schedRepo.Get(ctx, 7, first.Year, first.Month)
	if unchanged == nil || unchanged.Version != first.Version {
		t.Error("identical settings must not invalidate the schedule")
	}

	// A real rule change clears the record; the next read regenerates with
	// the new rules.
	changed := *settings
	changed.Rules = cloneRules(settings.Rules)
	changed.Rules[models.Dhuhr] = models.PrayerRule{Offset: &models.OffsetRule{AzanOffset: 45, JamaatOffset: 10}}
	if err := e.settingsSv.Update(ctx, &changed); err != nil {
		t.Fatalf("Update: %v", err)
	}
	gone, _ := e.schedRepo.Get(ctx, 7, first.Year, first.Month)
	if gone != nil {
		t.Fatal("settings change must clear the current-month schedule")
	}

	regenerated, err := e.schedules.GetOrGenerate(ctx, 7, first.Year, first.Month, false)
	if err != nil {
		t.Fatal(err)
	}
	if regenerated.ScriptHash == first.ScriptHash {
		t.Error("regenerated schedule should reflect the new rules")
	}
}

func TestCollectiveChangeNotifiesFollowers(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	settings := e.seedOwner(t, 9, models.OwnerCollective)
	e.settingsSv.now = marchNow

	changed := *settings
	changed.Rules = cloneRules(settings.Rules)
	changed.Rules[models.Isha] = models.PrayerRule{Fixed: &models.FixedRule{Azan: "20:30", Jamaat: "20:45"}}
	if err := e.settingsSv.Update(ctx, &changed); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if len(e.notifier.Messages) != 1 || !strings.HasPrefix(e.notifier.Messages[0], "9:") {
		t.Errorf("notifications = %v, want one advisory to followers of 9", e.notifier.Messages)
	}
}

func TestInvalidSettingsRejected(t *testing.T) {
	e := newTestEngine(t)
	settings := e.seedOwner(t, 7, models.OwnerIndividual)

	bad := *settings
	bad.Rules = cloneRules(settings.Rules)
	bad.Rules[models.Fajr] = models.PrayerRule{Offset: &models.OffsetRule{AzanOffset: 200}}
	err := e.settingsSv.Update(context.Background(), &bad)
	if apperr.KindOf(err) != apperr.Permanent {
		t.Errorf("err = %v, want Permanent for out-of-range offset", err)
	}
}
