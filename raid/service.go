// Package raid runs time-boxed boss fights over the entity store.
//
// A raid record carries two version counters on purpose. The envelope
// Version is the storage CAS token every entity has; the domain
// "version" attribute counts applied attacks and is the service's own
// optimistic token, so raid retry bookkeeping stays out of generic
// store versioning. They move together but mean different things.
//
// Same-process attackers serialize on the raid's entity lock, so under
// local contention every point of damage lands exactly once. The
// version-conflict retry loop guards the save against writers outside
// this process sharing the repository.
package raid

import (
	"context"
	"fmt"
	log "log/slog"
	"sort"
	"time"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/store"
)

// EntityType is the _type value raid records are stored under.
const EntityType = "raid"

// Raid lifecycle states.
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

const (
	// maxAttackAttempts bounds the optimistic save loop per attack.
	maxAttackAttempts = 5
	// attackRetryDelay is the flat wait between conflicting attempts.
	attackRetryDelay = 50 * time.Millisecond

	lockTimeout = 5 * time.Second
)

// AttackResult reports one attack's outcome. A failed attack (raid not
// active, expired, retries exhausted) is a result, not an error.
type AttackResult struct {
	Success           bool
	DamageDealt       int64
	CurrentHP         int64
	MaxHP             int64
	Percentage        float64
	RaidDefeated      bool
	Rank              int
	TotalContribution int64
	RetryCount        int
	ErrorMessage      string
}

// LeaderboardEntry is one ranked participant row.
type LeaderboardEntry struct {
	Rank                int
	PlayerID            string
	TotalDamage         int64
	AttackCount         int64
	ContributionPercent float64
}

// StatusInfo is a point-in-time raid snapshot.
type StatusInfo struct {
	RaidID           string
	Name             string
	Status           string
	CurrentHP        int64
	MaxHP            int64
	ProgressPercent  float64
	Participants     int
	TotalDamageDealt int64
	TimeRemaining    string
}

// Contribution is one player's damage record; zero-valued when the
// player never attacked.
type Contribution struct {
	PlayerID            string
	TotalDamage         int64
	AttackCount         int64
	Rank                int
	ContributionPercent float64
	FirstAttack         string
	LastAttack          string
}

// Service manages raid records. It writes through the store so the
// repository's version CAS backs every save.
type Service struct {
	store *store.Store
	locks *store.LockManager
}

func NewService(st *store.Store, locks *store.LockManager) *Service {
	return &Service{store: st, locks: locks}
}

// Create registers a raid in the scheduled state. duration is the
// attack window measured from Start.
func (s *Service) Create(ctx context.Context, name, description string, maxHP int64, duration time.Duration) (*gamecore.Entity, error) {
	if maxHP <= 0 {
		return nil, gamecore.Errorf(gamecore.Validation, "raid max hp must be positive, got %d", maxHP)
	}
	if name == "" {
		return nil, gamecore.Errorf(gamecore.Validation, "raid name can't be empty")
	}

	id := gamecore.NewID("raid")
	e := gamecore.NewEntity(id, EntityType)
	e.Set("raid_id", id)
	e.Set("name", name)
	e.Set("description", description)
	e.Set("max_hp", maxHP)
	e.Set("current_hp", maxHP)
	e.Set("status", StatusScheduled)
	e.Set("created_at", nowString())
	e.Set("duration_seconds", int64(duration/time.Second))
	e.Set("version", int64(0))
	e.Set("participants", map[string]any{})
	e.Set("total_damage_dealt", int64(0))
	e.Set("reward_pool", []any{})

	if err := s.store.Set(ctx, id, e); err != nil {
		return nil, err
	}
	log.Info("raid created", "raidId", id, "name", name, "maxHp", maxHP)
	return e, nil
}

// Start opens the attack window: scheduled -> active, stamping
// started_at and expires_at.
func (s *Service) Start(ctx context.Context, raidID string) error {
	return s.locks.WithLock(ctx, []string{raidID}, lockTimeout, func() error {
		e, err := s.get(ctx, raidID)
		if err != nil {
			return err
		}
		if st := e.GetString("status", ""); st != StatusScheduled {
			return gamecore.Errorf(gamecore.Validation, "raid %s can't start from status %s", raidID, st)
		}
		now := time.Now().UTC()
		e.Set("status", StatusActive)
		e.Set("started_at", now.Format(time.RFC3339))
		duration := time.Duration(e.GetInt("duration_seconds", 0)) * time.Second
		e.Set("expires_at", now.Add(duration).Format(time.RFC3339))
		if err := s.store.Set(ctx, raidID, e); err != nil {
			return err
		}
		log.Info("raid started", "raidId", raidID, "expiresAt", e.GetString("expires_at", ""))
		return nil
	})
}

// Attack applies damage to an active raid. Failed attacks (inactive
// raid, expired window, exhausted retries) come back as a failed
// result; errors are reserved for missing raids and storage trouble.
func (s *Service) Attack(ctx context.Context, raidID, playerID string, damage int64) (*AttackResult, error) {
	if playerID == "" {
		return nil, gamecore.Errorf(gamecore.Validation, "player id can't be empty")
	}
	if damage <= 0 {
		return nil, gamecore.Errorf(gamecore.Validation, "damage must be positive, got %d", damage)
	}

	var result *AttackResult
	retries := 0
	err := gamecore.RetryConstant(ctx, attackRetryDelay, maxAttackAttempts-1, func(ctx context.Context) error {
		res, err := s.attackOnce(ctx, raidID, playerID, damage, retries)
		if err != nil {
			if gamecore.IsCode(err, gamecore.Conflict) {
				retries++
				log.Debug("raid attack version conflict, retrying",
					"raidId", raidID, "playerId", playerID, "retry", retries)
				return gamecore.RetryableError(err)
			}
			return err
		}
		result = res
		return nil
	})
	if err != nil {
		if gamecore.IsCode(err, gamecore.Conflict) {
			return &AttackResult{
				Success:      false,
				RetryCount:   retries,
				ErrorMessage: fmt.Sprintf("exceeded max retry attempts (%d)", maxAttackAttempts),
			}, nil
		}
		return nil, err
	}
	return result, nil
}

// attackOnce is one lock-guarded read-modify-write round. A Conflict
// from the save means an out-of-process writer won the race; the
// caller retries against fresh state.
func (s *Service) attackOnce(ctx context.Context, raidID, playerID string, damage int64, attempt int) (*AttackResult, error) {
	var result *AttackResult
	err := s.locks.WithLock(ctx, []string{raidID}, lockTimeout, func() error {
		var e *gamecore.Entity
		var err error
		if attempt > 0 {
			// The working set is stale after a conflict; reload.
			e, err = s.store.Reload(ctx, raidID)
		} else {
			e, err = s.store.Get(ctx, raidID)
		}
		if err != nil {
			return err
		}
		if e == nil {
			return gamecore.Errorf(gamecore.NotFound, "raid %s not found", raidID)
		}

		if st := e.GetString("status", ""); st != StatusActive {
			result = &AttackResult{
				Success:      false,
				RetryCount:   attempt,
				ErrorMessage: fmt.Sprintf("Raid is not active (status: %s)", st),
			}
			return nil
		}

		now := time.Now().UTC()
		if expired(e, now) {
			e.Set("status", StatusExpired)
			e.Set("expired_at", now.Format(time.RFC3339))
			if serr := s.store.Set(ctx, raidID, e); serr != nil {
				log.Warn("persisting raid expiry failed", "raidId", raidID, "error", serr)
			}
			result = &AttackResult{
				Success:      false,
				RetryCount:   attempt,
				ErrorMessage: "Raid has expired",
			}
			return nil
		}

		currentHP := e.GetInt("current_hp", 0)
		actual := damage
		if actual > currentHP {
			actual = currentHP
		}
		currentHP -= actual
		e.Set("current_hp", currentHP)
		e.Set("total_damage_dealt", e.GetInt("total_damage_dealt", 0)+actual)
		e.Set("version", e.GetInt("version", 0)+1)

		nowStr := now.Format(time.RFC3339)
		parts := e.GetMap("participants")
		if parts == nil {
			parts = map[string]any{}
		}
		p, _ := parts[playerID].(map[string]any)
		if p == nil {
			p = map[string]any{
				"player_id":    playerID,
				"total_damage": int64(0),
				"attack_count": int64(0),
				"first_attack": nowStr,
			}
		}
		p["total_damage"] = asInt64(p["total_damage"]) + actual
		p["attack_count"] = asInt64(p["attack_count"]) + 1
		p["last_attack"] = nowStr
		parts[playerID] = p
		e.Set("participants", parts)

		defeated := currentHP <= 0
		if defeated {
			e.Set("status", StatusCompleted)
			log.Info("raid completed", "raidId", raidID, "participants", len(parts))
		}

		if err := s.store.Set(ctx, raidID, e); err != nil {
			return err
		}

		maxHP := e.GetInt("max_hp", 0)
		pct := 0.0
		if maxHP > 0 {
			pct = float64(currentHP) / float64(maxHP) * 100
		}
		result = &AttackResult{
			Success:           true,
			DamageDealt:       actual,
			CurrentHP:         currentHP,
			MaxHP:             maxHP,
			Percentage:        pct,
			RaidDefeated:      defeated,
			Rank:              rankOf(parts, playerID),
			TotalContribution: asInt64(p["total_damage"]),
			RetryCount:        attempt,
		}
		return nil
	})
	return result, err
}

// Leaderboard returns the top participants by damage. topN <= 0 means
// everyone.
func (s *Service) Leaderboard(ctx context.Context, raidID string, topN int) ([]LeaderboardEntry, error) {
	e, err := s.get(ctx, raidID)
	if err != nil {
		return nil, err
	}
	parts := e.GetMap("participants")
	total := e.GetInt("total_damage_dealt", 0)

	entries := make([]LeaderboardEntry, 0, len(parts))
	for id, v := range parts {
		p, _ := v.(map[string]any)
		if p == nil {
			continue
		}
		le := LeaderboardEntry{
			PlayerID:    id,
			TotalDamage: asInt64(p["total_damage"]),
			AttackCount: asInt64(p["attack_count"]),
		}
		if total > 0 {
			le.ContributionPercent = float64(le.TotalDamage) / float64(total) * 100
		}
		entries = append(entries, le)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].TotalDamage != entries[j].TotalDamage {
			return entries[i].TotalDamage > entries[j].TotalDamage
		}
		return entries[i].PlayerID < entries[j].PlayerID
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	if topN > 0 && len(entries) > topN {
		entries = entries[:topN]
	}
	return entries, nil
}

// Status snapshots a raid, including a human-readable time remaining
// for active raids.
func (s *Service) Status(ctx context.Context, raidID string) (*StatusInfo, error) {
	e, err := s.get(ctx, raidID)
	if err != nil {
		return nil, err
	}
	maxHP := e.GetInt("max_hp", 0)
	currentHP := e.GetInt("current_hp", 0)
	progress := 0.0
	if maxHP > 0 {
		progress = float64(maxHP-currentHP) / float64(maxHP) * 100
	}
	info := &StatusInfo{
		RaidID:           raidID,
		Name:             e.GetString("name", ""),
		Status:           e.GetString("status", ""),
		CurrentHP:        currentHP,
		MaxHP:            maxHP,
		ProgressPercent:  progress,
		Participants:     len(e.GetMap("participants")),
		TotalDamageDealt: e.GetInt("total_damage_dealt", 0),
	}
	if info.Status == StatusActive {
		if until, ok := timeUntilExpiry(e, time.Now().UTC()); ok {
			info.TimeRemaining = formatRemaining(until)
		}
	}
	return info, nil
}

// Contribution returns one player's damage record. Players who never
// attacked get a zero-valued record, not an error.
func (s *Service) Contribution(ctx context.Context, raidID, playerID string) (*Contribution, error) {
	e, err := s.get(ctx, raidID)
	if err != nil {
		return nil, err
	}
	parts := e.GetMap("participants")
	p, _ := parts[playerID].(map[string]any)
	if p == nil {
		return &Contribution{PlayerID: playerID}, nil
	}
	c := &Contribution{
		PlayerID:    playerID,
		TotalDamage: asInt64(p["total_damage"]),
		AttackCount: asInt64(p["attack_count"]),
		Rank:        rankOf(parts, playerID),
	}
	if s, ok := p["first_attack"].(string); ok {
		c.FirstAttack = s
	}
	if s, ok := p["last_attack"].(string); ok {
		c.LastAttack = s
	}
	if total := e.GetInt("total_damage_dealt", 0); total > 0 {
		c.ContributionPercent = float64(c.TotalDamage) / float64(total) * 100
	}
	return c, nil
}

// Cancel aborts a scheduled or active raid.
func (s *Service) Cancel(ctx context.Context, raidID string) error {
	return s.locks.WithLock(ctx, []string{raidID}, lockTimeout, func() error {
		e, err := s.get(ctx, raidID)
		if err != nil {
			return err
		}
		switch st := e.GetString("status", ""); st {
		case StatusScheduled, StatusActive:
		default:
			return gamecore.Errorf(gamecore.Validation, "raid %s can't be cancelled from status %s", raidID, st)
		}
		e.Set("status", StatusCancelled)
		e.Set("cancelled_at", nowString())
		if err := s.store.Set(ctx, raidID, e); err != nil {
			return err
		}
		log.Info("raid cancelled", "raidId", raidID)
		return nil
	})
}

// Expire force-closes an active raid's window.
func (s *Service) Expire(ctx context.Context, raidID string) error {
	return s.locks.WithLock(ctx, []string{raidID}, lockTimeout, func() error {
		e, err := s.get(ctx, raidID)
		if err != nil {
			return err
		}
		if st := e.GetString("status", ""); st != StatusActive {
			return gamecore.Errorf(gamecore.Validation, "raid %s can't expire from status %s", raidID, st)
		}
		e.Set("status", StatusExpired)
		e.Set("expired_at", nowString())
		return s.store.Set(ctx, raidID, e)
	})
}

// All lists every raid record.
func (s *Service) All(ctx context.Context) ([]*gamecore.Entity, error) {
	return s.store.ByType(ctx, EntityType)
}

// Active lists raids currently accepting attacks.
func (s *Service) Active(ctx context.Context) ([]*gamecore.Entity, error) {
	raids, err := s.store.ByType(ctx, EntityType)
	if err != nil {
		return nil, err
	}
	out := raids[:0]
	for _, e := range raids {
		if e.GetString("status", "") == StatusActive {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Service) get(ctx context.Context, raidID string) (*gamecore.Entity, error) {
	e, err := s.store.Get(ctx, raidID)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, gamecore.Errorf(gamecore.NotFound, "raid %s not found", raidID)
	}
	return e, nil
}

func expired(e *gamecore.Entity, now time.Time) bool {
	until, ok := timeUntilExpiry(e, now)
	return ok && until <= 0
}

func timeUntilExpiry(e *gamecore.Entity, now time.Time) (time.Duration, bool) {
	raw := e.GetString("expires_at", "")
	if raw == "" {
		return 0, false
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		log.Warn("raid has malformed expires_at", "raidId", e.ID, "value", raw)
		return 0, false
	}
	return at.Sub(now), true
}

// rankOf is 1 plus the number of participants with strictly more
// damage.
func rankOf(parts map[string]any, playerID string) int {
	me, _ := parts[playerID].(map[string]any)
	if me == nil {
		return 0
	}
	mine := asInt64(me["total_damage"])
	rank := 1
	for id, v := range parts {
		if id == playerID {
			continue
		}
		p, _ := v.(map[string]any)
		if p != nil && asInt64(p["total_damage"]) > mine {
			rank++
		}
	}
	return rank
}

func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, m)
}

func nowString() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	default:
		return 0
	}
}
