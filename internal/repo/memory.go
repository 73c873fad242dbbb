package repo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quraeshi99/noortime/internal/apperr"
	"github.com/quraeshi99/noortime/internal/models"
)

// In-memory implementations of the persistence ports. They back the engine's
// tests and are safe for concurrent use.

type calendarKey struct {
	zone   string
	year   int
	method string
}

// MemCalendars is an in-memory CalendarRepo.
type MemCalendars struct {
	mu   sync.Mutex
	data map[calendarKey]*models.YearlyCalendar
}

// NewMemCalendars creates an empty store.
func NewMemCalendars() *MemCalendars {
	return &MemCalendars{data: make(map[calendarKey]*models.YearlyCalendar)}
}

func (m *MemCalendars) Get(_ context.Context, zoneID string, year int, methodKey string) (*models.YearlyCalendar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cal, ok := m.data[calendarKey{zoneID, year, methodKey}]; ok {
		cp := *cal
		return &cp, nil
	}
	return nil, nil
}

func (m *MemCalendars) Exists(_ context.Context, zoneID string, year int, methodKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[calendarKey{zoneID, year, methodKey}]
	return ok, nil
}

func (m *MemCalendars) Upsert(_ context.Context, cal *models.YearlyCalendar) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := calendarKey{cal.ZoneID, cal.Year, cal.MethodKey}
	if existing, ok := m.data[key]; ok && existing.ContentHash == cal.ContentHash {
		existing.UpdatedAt = time.Now()
		return true, nil
	}
	cp := *cal
	cp.UpdatedAt = time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	m.data[key] = &cp
	return false, nil
}

func (m *MemCalendars) ListZoneMethods(_ context.Context, year int) ([]ZoneMethod, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[ZoneMethod]bool)
	for k := range m.data {
		if k.year == year {
			seen[ZoneMethod{ZoneID: k.zone, MethodKey: k.method}] = true
		}
	}
	out := make([]ZoneMethod, 0, len(seen))
	for zm := range seen {
		out = append(out, zm)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ZoneID != out[j].ZoneID {
			return out[i].ZoneID < out[j].ZoneID
		}
		return out[i].MethodKey < out[j].MethodKey
	})
	return out, nil
}

func (m *MemCalendars) DeleteOlderThan(_ context.Context, year int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k := range m.data {
		if k.year < year {
			delete(m.data, k)
			n++
		}
	}
	return n, nil
}

type scheduleKey struct {
	owner int64
	year  int
	month int
}

// MemSchedules is an in-memory ScheduleRepo.
type MemSchedules struct {
	mu   sync.Mutex
	data map[scheduleKey]*models.MonthlySchedule
}

// NewMemSchedules creates an empty store.
func NewMemSchedules() *MemSchedules {
	return &MemSchedules{data: make(map[scheduleKey]*models.MonthlySchedule)}
}

func (m *MemSchedules) Get(_ context.Context, ownerID int64, year, month int) (*models.MonthlySchedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.data[scheduleKey{ownerID, year, month}]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, nil
}

func (m *MemSchedules) Exists(_ context.Context, ownerID int64, year, month int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[scheduleKey{ownerID, year, month}]
	return ok, nil
}

func (m *MemSchedules) Upsert(_ context.Context, s *models.MonthlySchedule) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := scheduleKey{s.OwnerID, s.Year, s.Month}
	if existing, ok := m.data[key]; ok {
		if existing.ScriptHash == s.ScriptHash {
			s.Version = existing.Version
			return true, nil
		}
		s.Version = existing.Version + 1
	} else {
		s.Version = 1
	}
	cp := *s
	cp.UpdatedAt = time.Now()
	m.data[key] = &cp
	return false, nil
}

func (m *MemSchedules) Delete(_ context.Context, ownerID int64, year, month int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, scheduleKey{ownerID, year, month})
	return nil
}

// MemSettings is an in-memory SettingsRepo.
type MemSettings struct {
	mu    sync.Mutex
	data  map[int64]*models.OwnerSettings
	blobs map[int64]string
}

// NewMemSettings creates an empty store.
func NewMemSettings() *MemSettings {
	return &MemSettings{
		data:  make(map[int64]*models.OwnerSettings),
		blobs: make(map[int64]string),
	}
}

func (m *MemSettings) Get(_ context.Context, ownerID int64) (*models.OwnerSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.data[ownerID]; ok {
		cp := *s
		return &cp, nil
	}
	return nil, apperr.Newf(apperr.NotFound, "settings for owner %d", ownerID)
}

func (m *MemSettings) Save(_ context.Context, s *models.OwnerSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.data[s.OwnerID] = &cp
	return nil
}

func (m *MemSettings) GetLastRawTimes(_ context.Context, ownerID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[ownerID], nil
}

func (m *MemSettings) SaveLastRawTimes(_ context.Context, ownerID int64, blob string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ownerID] = blob
	return nil
}

type aliasMapKey struct {
	source string
	method string
}

// MemAliases is an in-memory AliasRepo.
type MemAliases struct {
	mu   sync.Mutex
	data map[aliasMapKey]*models.ZoneAlias
}

// NewMemAliases creates an empty store.
func NewMemAliases() *MemAliases {
	return &MemAliases{data: make(map[aliasMapKey]*models.ZoneAlias)}
}

func (m *MemAliases) Get(_ context.Context, sourceZoneID, methodKey string) (*models.ZoneAlias, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.data[aliasMapKey{sourceZoneID, methodKey}]; ok {
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func (m *MemAliases) Put(_ context.Context, alias *models.ZoneAlias) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *alias
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	m.data[aliasMapKey{alias.SourceZoneID, alias.MethodKey}] = &cp
	return nil
}

// MemOwners is an in-memory OwnerRepo. Schedules lets ListBucketOwners apply
// the not-yet-generated filter.
type MemOwners struct {
	mu            sync.Mutex
	owners        map[int64]*models.Owner
	follows       map[int64]int64
	devices       map[string]int64
	announcements map[int64][]models.Announcement
	Schedules     *MemSchedules
}

// NewMemOwners creates an empty store.
func NewMemOwners(schedules *MemSchedules) *MemOwners {
	return &MemOwners{
		owners:        make(map[int64]*models.Owner),
		follows:       make(map[int64]int64),
		devices:       make(map[string]int64),
		announcements: make(map[int64][]models.Announcement),
		Schedules:     schedules,
	}
}

// AddOwner seeds an owner.
func (m *MemOwners) AddOwner(o models.Owner) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := o
	m.owners[o.ID] = &cp
}

// SetFollow seeds a collective follow.
func (m *MemOwners) SetFollow(ownerID, targetID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if targetID == 0 {
		delete(m.follows, ownerID)
		return
	}
	m.follows[ownerID] = targetID
}

// AddAnnouncement seeds an announcement.
func (m *MemOwners) AddAnnouncement(a models.Announcement) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.announcements[a.OwnerID] = append(m.announcements[a.OwnerID], a)
}

func (m *MemOwners) Get(_ context.Context, ownerID int64) (*models.Owner, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.owners[ownerID]; ok {
		cp := *o
		return &cp, nil
	}
	return nil, apperr.Newf(apperr.NotFound, "owner %d", ownerID)
}

func (m *MemOwners) ResolveFollowTarget(_ context.Context, ownerID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.follows[ownerID], nil
}

func (m *MemOwners) ResolveDevice(_ context.Context, deviceID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devices[deviceID], nil
}

func (m *MemOwners) UpsertDeviceFollow(_ context.Context, deviceID string, ownerID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices[deviceID] = ownerID
	return nil
}

func (m *MemOwners) ListBucketOwners(ctx context.Context, modulus, remainder, year, month int) ([]int64, error) {
	m.mu.Lock()
	ids := make([]int64, 0, len(m.owners))
	for id := range m.owners {
		if int(id%int64(modulus)) == remainder {
			ids = append(ids, id)
		}
	}
	m.mu.Unlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := ids[:0]
	for _, id := range ids {
		exists, err := m.Schedules.Exists(ctx, id, year, month)
		if err != nil {
			return nil, err
		}
		if !exists {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *MemOwners) Announcements(_ context.Context, ownerID int64) ([]models.Announcement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Announcement(nil), m.announcements[ownerID]...), nil
}

// MemGeocodes is an in-memory GeocodeRepo.
type MemGeocodes struct {
	mu   sync.Mutex
	data map[string]*models.GeocodeEntry
}

// NewMemGeocodes creates an empty store.
func NewMemGeocodes() *MemGeocodes {
	return &MemGeocodes{data: make(map[string]*models.GeocodeEntry)}
}

func (m *MemGeocodes) Get(_ context.Context, cityName string) (*models.GeocodeEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.data[cityName]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (m *MemGeocodes) Put(_ context.Context, e *models.GeocodeEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *e
	m.data[e.CityName] = &cp
	return nil
}

// RecordingNotifier captures advisory notifications for assertions.
type RecordingNotifier struct {
	mu       sync.Mutex
	Messages []string
}

func (n *RecordingNotifier) NotifyFollowers(_ context.Context, collectiveOwnerID int64, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Messages = append(n.Messages, fmt.Sprintf("%d:%s", collectiveOwnerID, message))
	return nil
}

var _ CalendarRepo = (*MemCalendars)(nil)
var _ ScheduleRepo = (*MemSchedules)(nil)
var _ SettingsRepo = (*MemSettings)(nil)
var _ AliasRepo = (*MemAliases)(nil)
var _ OwnerRepo = (*MemOwners)(nil)
var _ GeocodeRepo = (*MemGeocodes)(nil)
var _ Notifier = (*RecordingNotifier)(nil)
