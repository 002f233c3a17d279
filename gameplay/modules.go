package gameplay

import (
	"context"

	"github.com/sharedcode/gamecore/data"
	"github.com/sharedcode/gamecore/engine"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/store"
)

// The trackers below are event-driven modules: they subscribe to
// mob_killed and feed their own commands back through the engine, so
// every player mutation still runs under locks and a transaction. They
// never see uncommitted state because events publish after commit.

// achievementRule is one kill-count achievement. Template "" counts
// every kill.
type achievementRule struct {
	ID       string
	Name     string
	Template string
	Kills    int64
	Gold     int64
}

var achievementRules = []achievementRule{
	{ID: "goblin_slayer", Name: "Goblin Slayer", Template: "goblin_warrior", Kills: 10, Gold: 1000},
	{ID: "orc_hunter", Name: "Orc Hunter", Template: "orc_chieftain", Kills: 5, Gold: 2500},
	{ID: "dragon_slayer", Name: "Dragon Slayer", Template: "dragon_ancient", Kills: 1, Gold: 10000},
	{ID: "monster_hunter", Name: "Monster Hunter", Template: "", Kills: 50, Gold: 5000},
}

// AchievementTracker counts mob kills per player and unlocks the
// matching achievements, paying their gold rewards.
type AchievementTracker struct {
	eng *engine.Engine
	sub *event.Subscription
}

func NewAchievementTracker(eng *engine.Engine) *AchievementTracker {
	t := &AchievementTracker{eng: eng}
	t.sub = eng.Bus().Subscribe(event.TopicMobKilled, t)
	return t
}

// Close detaches the tracker from the bus.
func (t *AchievementTracker) Close() { t.sub.Unsubscribe() }

func (t *AchievementTracker) Handle(e event.Event) error {
	playerID, _ := e.Data["player_id"].(string)
	template, _ := e.Data["mob_template"].(string)
	if playerID == "" {
		return nil
	}
	res := t.eng.Run(context.Background(), recordKill{PlayerID: playerID, MobTemplate: template})
	return res.Err
}

type recordKill struct {
	PlayerID    string
	MobTemplate string
}

func (c recordKill) Dependencies() []string { return []string{c.PlayerID} }

func (c recordKill) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	player, err := s.Get(ctx, c.PlayerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		// The player left before the event landed; nothing to track.
		return nil, nil
	}

	unlocked := player.GetMap("achievements")
	if unlocked == nil {
		unlocked = map[string]any{}
	}
	progress := player.GetMap("achievement_progress")
	if progress == nil {
		progress = map[string]any{}
	}

	gold := player.GetInt("gold", 0)
	var newly []string
	for _, rule := range achievementRules {
		if rule.Template != "" && rule.Template != c.MobTemplate {
			continue
		}
		if _, done := unlocked[rule.ID]; done {
			continue
		}
		n := asCount(progress[rule.ID]) + 1
		progress[rule.ID] = n
		if n < rule.Kills {
			continue
		}
		unlocked[rule.ID] = map[string]any{"name": rule.Name, "unlocked": true}
		newly = append(newly, rule.ID)
		if rule.Gold > 0 {
			engine.QueueEvent(ctx, event.GoldChanged(c.PlayerID, gold, gold+rule.Gold, "achievement_"+rule.ID))
			gold += rule.Gold
		}
		engine.QueueEvent(ctx, event.AchievementUnlocked(c.PlayerID, rule.ID, rule.Name))
	}

	player.Set("achievements", unlocked)
	player.Set("achievement_progress", progress)
	player.Set("gold", gold)
	if err := s.Set(ctx, c.PlayerID, player); err != nil {
		return nil, err
	}
	return map[string]any{"unlocked": newly}, nil
}

// expCurveStep scales the progression curve: reaching the next level
// costs level*expCurveStep exp.
const expCurveStep = 100

// ProgressionTracker grants experience for mob kills and levels players
// up. The loader supplies per-template experience_reward values; without
// one every kill is worth the default 10.
type ProgressionTracker struct {
	eng    *engine.Engine
	loader *data.Loader
	sub    *event.Subscription
}

func NewProgressionTracker(eng *engine.Engine, loader *data.Loader) *ProgressionTracker {
	t := &ProgressionTracker{eng: eng, loader: loader}
	t.sub = eng.Bus().Subscribe(event.TopicMobKilled, t)
	return t
}

// Close detaches the tracker from the bus.
func (t *ProgressionTracker) Close() { t.sub.Unsubscribe() }

func (t *ProgressionTracker) Handle(e event.Event) error {
	playerID, _ := e.Data["player_id"].(string)
	template, _ := e.Data["mob_template"].(string)
	if playerID == "" {
		return nil
	}
	res := t.eng.Run(context.Background(), grantExp{PlayerID: playerID, Amount: t.expReward(template)})
	return res.Err
}

func (t *ProgressionTracker) expReward(template string) int64 {
	const def = 10
	if t.loader == nil || template == "" {
		return def
	}
	tpl, err := t.loader.Get("mobs", template)
	if err != nil || tpl == nil {
		return def
	}
	if n := asCount(tpl["experience_reward"]); n > 0 {
		return n
	}
	return def
}

type grantExp struct {
	PlayerID string
	Amount   int64
}

func (c grantExp) Dependencies() []string { return []string{c.PlayerID} }

func (c grantExp) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	player, err := s.Get(ctx, c.PlayerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, nil
	}

	exp := player.GetInt("exp", 0) + c.Amount
	level := player.GetInt("level", 1)
	oldLevel := level

	for exp >= level*expCurveStep {
		exp -= level * expCurveStep
		level++
		maxHP := player.GetInt("max_hp", 100) + 10
		player.Set("max_hp", maxHP)
		player.Set("hp", maxHP)
		player.Set("attack", player.GetInt("attack", 10)+2)
		player.Set("defense", player.GetInt("defense", 0)+1)
		engine.QueueEvent(ctx, event.PlayerLevelUp(c.PlayerID, level-1, level))
	}

	player.Set("exp", exp)
	player.Set("level", level)
	if err := s.Set(ctx, c.PlayerID, player); err != nil {
		return nil, err
	}
	return map[string]any{
		"level":         level,
		"exp":           exp,
		"levels_gained": level - oldLevel,
	}, nil
}

func asCount(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case float32:
		return int64(n)
	}
	return 0
}
