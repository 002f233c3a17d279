// Package banner manages time-windowed gacha banners: named card pools
// that activate and expire on a schedule, can be hot-swapped while the
// world runs, and accumulate pull statistics. At most one banner is
// active at any time; expiring the active banner falls back to the
// configured default.
package banner

import (
	"context"
	log "log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/schedule"
)

// Banner lifecycle states.
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

// Config describes a banner. CardPool entries are template maps as
// produced by the data loader. CustomWeights, when set, replace the
// base rarity weights for pulls on this banner.
type Config struct {
	ID            string
	Name          string
	Description   string
	CardPool      []map[string]any
	CustomWeights map[string]float64
	FeaturedCards []string
}

// Banner is a read-only snapshot of one banner's state.
type Banner struct {
	ID            string
	Name          string
	Description   string
	Status        string
	PoolSize      int
	CustomWeights map[string]float64
	FeaturedCards []string
	TotalPulls    int
	UniquePullers int
	CreatedAt     time.Time
	ActivatedAt   time.Time
	ExpiredAt     time.Time
}

type record struct {
	cfg    Config
	status string
	// flashFor is the active window length; zero on permanent banners.
	flashFor     time.Duration
	totalPulls   int
	pullers      map[string]struct{}
	createdAt    time.Time
	activatedAt  time.Time
	expiredAt    time.Time
	activateTask string
	expireTask   string
}

func (r *record) snapshot() *Banner {
	return &Banner{
		ID:            r.cfg.ID,
		Name:          r.cfg.Name,
		Description:   r.cfg.Description,
		Status:        r.status,
		PoolSize:      len(r.cfg.CardPool),
		CustomWeights: r.cfg.CustomWeights,
		FeaturedCards: r.cfg.FeaturedCards,
		TotalPulls:    r.totalPulls,
		UniquePullers: len(r.pullers),
		CreatedAt:     r.createdAt,
		ActivatedAt:   r.activatedAt,
		ExpiredAt:     r.expiredAt,
	}
}

// Manager owns the banner registry. The scheduler is only needed for
// flash banners; bus may be nil when nothing listens.
type Manager struct {
	mu        sync.Mutex
	banners   map[string]*record
	activeID  string
	defaultID string

	sched *schedule.Scheduler
	bus   *event.Bus
}

func NewManager(sched *schedule.Scheduler, bus *event.Bus) *Manager {
	return &Manager{
		banners: make(map[string]*record),
		sched:   sched,
		bus:     bus,
	}
}

// Create registers a banner in the scheduled state.
func (m *Manager) Create(cfg Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(cfg, 0)
}

func (m *Manager) createLocked(cfg Config, flashFor time.Duration) error {
	if cfg.ID == "" {
		return gamecore.Errorf(gamecore.Validation, "banner id can't be empty")
	}
	if _, ok := m.banners[cfg.ID]; ok {
		return gamecore.Errorf(gamecore.Validation, "banner %q already exists", cfg.ID)
	}
	if len(cfg.CardPool) == 0 {
		return gamecore.Errorf(gamecore.Validation, "banner must have at least one card in pool")
	}
	m.banners[cfg.ID] = &record{
		cfg:       cfg,
		status:    StatusScheduled,
		flashFor:  flashFor,
		pullers:   make(map[string]struct{}),
		createdAt: time.Now().UTC(),
	}
	log.Info("banner created", "bannerId", cfg.ID, "poolSize", len(cfg.CardPool))
	return nil
}

// CreateFlash registers the banner and schedules its activation after
// delay (immediately when delay <= 0) and its expiration after
// delay+duration.
func (m *Manager) CreateFlash(cfg Config, duration, delay time.Duration) error {
	if duration <= 0 {
		return gamecore.Errorf(gamecore.Validation, "flash banner duration must be positive, got %v", duration)
	}
	if m.sched == nil {
		return gamecore.Errorf(gamecore.Validation, "flash banners need a scheduler")
	}
	if delay < 0 {
		delay = 0
	}

	m.mu.Lock()
	if err := m.createLocked(cfg, duration); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	id := cfg.ID
	if delay > 0 {
		taskID, err := m.sched.Once("activate_banner_"+id, delay, func(ctx context.Context) error {
			return m.Activate(id)
		})
		if err != nil {
			return err
		}
		m.setTasks(id, taskID, "")
	} else if err := m.Activate(id); err != nil {
		return err
	}

	taskID, err := m.sched.Once("expire_banner_"+id, delay+duration, func(ctx context.Context) error {
		return m.Expire(id)
	})
	if err != nil {
		return err
	}
	m.setTasks(id, "", taskID)

	log.Info("flash banner scheduled", "bannerId", id, "delay", delay, "duration", duration)
	return nil
}

func (m *Manager) setTasks(id, activateTask, expireTask string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.banners[id]
	if !ok {
		return
	}
	if activateTask != "" {
		r.activateTask = activateTask
	}
	if expireTask != "" {
		r.expireTask = expireTask
	}
}

// Activate makes the banner the single active one, demoting a
// previously active banner back to scheduled. Expired and cancelled
// banners can't come back.
func (m *Manager) Activate(id string) error {
	m.mu.Lock()
	r, ok := m.banners[id]
	if !ok {
		m.mu.Unlock()
		return gamecore.Errorf(gamecore.NotFound, "banner %q not found", id)
	}
	switch r.status {
	case StatusExpired, StatusCancelled:
		st := r.status
		m.mu.Unlock()
		return gamecore.Errorf(gamecore.Validation, "can't activate %s banner %q", st, id)
	}
	if m.activeID != "" && m.activeID != id {
		if prev, ok := m.banners[m.activeID]; ok && prev.status == StatusActive {
			prev.status = StatusScheduled
		}
	}
	r.status = StatusActive
	r.activatedAt = time.Now().UTC()
	m.activeID = id

	data := map[string]any{"banner_id": id, "name": r.cfg.Name}
	if r.flashFor > 0 {
		data["duration_seconds"] = r.flashFor.Seconds()
	}
	m.mu.Unlock()

	log.Info("banner activated", "bannerId", id)
	m.publish("banner_activated", data)
	return nil
}

// Expire closes a banner. Expiring the active banner hands the slot to
// the default banner when one is configured, otherwise nobody is
// active. Unknown ids are logged and ignored so stale expiration tasks
// stay harmless.
func (m *Manager) Expire(id string) error {
	m.mu.Lock()
	r, ok := m.banners[id]
	if !ok {
		m.mu.Unlock()
		log.Warn("can't expire unknown banner", "bannerId", id)
		return nil
	}
	r.status = StatusExpired
	r.expiredAt = time.Now().UTC()
	data := map[string]any{"banner_id": id, "total_pulls": r.totalPulls}

	if m.activeID == id {
		if d, ok := m.banners[m.defaultID]; ok && m.defaultID != id {
			d.status = StatusActive
			if d.activatedAt.IsZero() {
				d.activatedAt = time.Now().UTC()
			}
			m.activeID = m.defaultID
			log.Info("active banner expired, default takes over", "bannerId", id, "defaultId", m.defaultID)
		} else {
			m.activeID = ""
			log.Info("active banner expired, none active", "bannerId", id)
		}
	}
	m.mu.Unlock()

	m.publish("banner_expired", data)
	return nil
}

// Cancel withdraws a scheduled banner and its pending flash tasks.
func (m *Manager) Cancel(id string) error {
	m.mu.Lock()
	r, ok := m.banners[id]
	if !ok {
		m.mu.Unlock()
		return gamecore.Errorf(gamecore.NotFound, "banner %q not found", id)
	}
	if r.status != StatusScheduled {
		st := r.status
		m.mu.Unlock()
		return gamecore.Errorf(gamecore.Validation, "banner %q can't be cancelled from status %s", id, st)
	}
	r.status = StatusCancelled
	activateTask, expireTask := r.activateTask, r.expireTask
	m.mu.Unlock()

	if m.sched != nil {
		if activateTask != "" {
			m.sched.Cancel(activateTask)
		}
		if expireTask != "" {
			m.sched.Cancel(expireTask)
		}
	}
	log.Info("banner cancelled", "bannerId", id)
	return nil
}

// SetDefault marks the fallback banner that takes over when the active
// one expires. When nothing is active it activates right away.
func (m *Manager) SetDefault(id string) error {
	m.mu.Lock()
	if _, ok := m.banners[id]; !ok {
		m.mu.Unlock()
		return gamecore.Errorf(gamecore.NotFound, "banner %q not found", id)
	}
	m.defaultID = id
	idle := m.activeID == ""
	m.mu.Unlock()

	log.Info("default banner set", "bannerId", id)
	if idle {
		return m.Activate(id)
	}
	return nil
}

// Active returns the active banner's snapshot, nil when none.
func (m *Manager) Active() *Banner {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.banners[m.activeID]
	if !ok || r.status != StatusActive {
		return nil
	}
	return r.snapshot()
}

// Get returns one banner's snapshot.
func (m *Manager) Get(id string) (*Banner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.banners[id]
	if !ok {
		return nil, false
	}
	return r.snapshot(), true
}

// List returns every banner's snapshot, sorted by id.
func (m *Manager) List() []*Banner {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Banner, 0, len(m.banners))
	for _, r := range m.banners {
		out = append(out, r.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pool returns the card pool and the weight overrides pulls on the
// banner should use.
func (m *Manager) Pool(id string) ([]map[string]any, map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.banners[id]
	if !ok {
		return nil, nil, gamecore.Errorf(gamecore.NotFound, "banner %q not found", id)
	}
	return r.cfg.CardPool, r.cfg.CustomWeights, nil
}

// TrackPull records pull statistics. Unknown banners are ignored so
// pull flows never fail on bookkeeping.
func (m *Manager) TrackPull(id, playerID string, count int) {
	if count <= 0 {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.banners[id]
	if !ok {
		return
	}
	r.totalPulls += count
	if playerID != "" {
		r.pullers[playerID] = struct{}{}
	}
}

func (m *Manager) publish(topic string, data map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(event.New(topic, data))
}
