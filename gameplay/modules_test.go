package gameplay

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/sharedcode/gamecore/data"
	"github.com/sharedcode/gamecore/engine"
	"github.com/sharedcode/gamecore/event"
)

// killMob spawns a fresh mob from the template and one-shots it. The
// caller's player must out-damage the template's hp.
func killMob(t *testing.T, eng *engine.Engine, n int, tpl map[string]any) {
	t.Helper()
	id := fmt.Sprintf("mob_kill_%d", n)
	mustRun(t, eng, SpawnMob{InstanceID: id, Template: tpl})
	out := mustRun(t, eng, AttackMob{PlayerID: "player_1", MobID: id})
	if killed, _ := out["mob_killed"].(bool); !killed {
		t.Fatalf("mob %s survived the hit", id)
	}
}

func TestAchievementTrackerUnlocks(t *testing.T) {
	eng := newTestEngine(t)
	tracker := NewAchievementTracker(eng)
	defer tracker.Close()

	seedEntity(t, eng, "player_1", "player", map[string]any{"attack": int64(100)})
	for i := 0; i < 10; i++ {
		killMob(t, eng, i, goblinTemplate())
	}

	player := mustGet(t, eng, "player_1")
	unlocked := player.GetMap("achievements")
	if _, ok := unlocked["goblin_slayer"]; !ok {
		t.Fatalf("achievements = %v, want goblin_slayer unlocked", unlocked)
	}
	if _, ok := unlocked["monster_hunter"]; ok {
		t.Error("monster_hunter unlocked after only 10 kills")
	}

	progress := player.GetMap("achievement_progress")
	if got := asCount(progress["monster_hunter"]); got != 10 {
		t.Errorf("monster_hunter progress = %d, want 10", got)
	}

	// 10 kills at 50 gold each plus the 1000 gold unlock reward.
	if gold := player.GetInt("gold", 0); gold != 1500 {
		t.Errorf("gold = %d, want 1500", gold)
	}

	evs := eng.Bus().History(event.TopicAchievementUnlocked)
	if len(evs) != 1 {
		t.Fatalf("achievement_unlocked events = %d, want 1", len(evs))
	}
	if id, _ := evs[0].Data["achievement_id"].(string); id != "goblin_slayer" {
		t.Errorf("achievement_id = %v, want goblin_slayer", evs[0].Data["achievement_id"])
	}

	rewarded := false
	for _, e := range eng.Bus().History(event.TopicGoldChanged) {
		if reason, _ := e.Data["reason"].(string); reason == "achievement_goblin_slayer" {
			rewarded = true
		}
	}
	if !rewarded {
		t.Error("no gold_changed event for the achievement payout")
	}
}

func TestAchievementTrackerIgnoresForeignKills(t *testing.T) {
	eng := newTestEngine(t)
	tracker := NewAchievementTracker(eng)
	defer tracker.Close()

	seedEntity(t, eng, "player_1", "player", map[string]any{"attack": int64(100)})
	killMob(t, eng, 0, goblinTemplate())

	// A kill event without a player must not crash or track anything.
	eng.Bus().Publish(event.MobKilled("", "mob_stray", "goblin_warrior", 10))

	player := mustGet(t, eng, "player_1")
	if got := asCount(player.GetMap("achievement_progress")["goblin_slayer"]); got != 1 {
		t.Errorf("goblin_slayer progress = %d, want 1", got)
	}
}

func dummyTemplate() map[string]any {
	return map[string]any{"id": "training_dummy", "name": "Training Dummy", "hp": int64(5)}
}

func TestProgressionTrackerLevels(t *testing.T) {
	eng := newTestEngine(t)
	tracker := NewProgressionTracker(eng, nil)
	defer tracker.Close()

	seedEntity(t, eng, "player_1", "player", map[string]any{"attack": int64(10)})
	for i := 0; i < 9; i++ {
		killMob(t, eng, i, dummyTemplate())
	}

	player := mustGet(t, eng, "player_1")
	if lvl, exp := player.GetInt("level", 1), player.GetInt("exp", 0); lvl != 1 || exp != 90 {
		t.Fatalf("after 9 kills: level %d exp %d, want level 1 exp 90", lvl, exp)
	}

	// The tenth kill crosses the 100 exp threshold.
	killMob(t, eng, 9, dummyTemplate())

	player = mustGet(t, eng, "player_1")
	if got := player.GetInt("level", 0); got != 2 {
		t.Errorf("level = %d, want 2", got)
	}
	if got := player.GetInt("exp", -1); got != 0 {
		t.Errorf("exp = %d, want 0", got)
	}
	if got := player.GetInt("max_hp", 0); got != 110 {
		t.Errorf("max_hp = %d, want 110", got)
	}
	if got := player.GetInt("hp", 0); got != 110 {
		t.Errorf("hp = %d, want a full heal to 110", got)
	}
	if got := player.GetInt("attack", 0); got != 12 {
		t.Errorf("attack = %d, want 12", got)
	}
	if got := player.GetInt("defense", -1); got != 1 {
		t.Errorf("defense = %d, want 1", got)
	}

	evs := eng.Bus().History(event.TopicPlayerLevelUp)
	if len(evs) != 1 {
		t.Fatalf("player_level_up events = %d, want 1", len(evs))
	}
	if old, _ := evs[0].Data["old_level"].(int64); old != 1 {
		t.Errorf("old_level = %v, want 1", evs[0].Data["old_level"])
	}
	if now, _ := evs[0].Data["new_level"].(int64); now != 2 {
		t.Errorf("new_level = %v, want 2", evs[0].Data["new_level"])
	}
}

func TestProgressionTrackerLoaderReward(t *testing.T) {
	eng := newTestEngine(t)

	root := t.TempDir()
	writeTemplate(t, filepath.Join(root, "mobs"), "dummy.json",
		`{"id":"training_dummy","name":"Training Dummy","hp":5,"experience_reward":50}`)
	loader := data.NewLoader(root)
	if _, err := loader.LoadCategory(ctx, "mobs"); err != nil {
		t.Fatal(err)
	}

	tracker := NewProgressionTracker(eng, loader)
	defer tracker.Close()

	seedEntity(t, eng, "player_1", "player", map[string]any{"attack": int64(10)})
	killMob(t, eng, 0, dummyTemplate())
	killMob(t, eng, 1, dummyTemplate())

	// Two kills at 50 exp each reach the 100 exp threshold.
	player := mustGet(t, eng, "player_1")
	if got := player.GetInt("level", 0); got != 2 {
		t.Errorf("level = %d, want 2", got)
	}
	if got := player.GetInt("exp", -1); got != 0 {
		t.Errorf("exp = %d, want 0", got)
	}
}

func TestTrackersCompose(t *testing.T) {
	eng := newTestEngine(t)
	ach := NewAchievementTracker(eng)
	defer ach.Close()
	prog := NewProgressionTracker(eng, nil)
	defer prog.Close()

	seedEntity(t, eng, "player_1", "player", map[string]any{"attack": int64(100)})
	for i := 0; i < 10; i++ {
		killMob(t, eng, i, goblinTemplate())
	}

	// Both trackers fed from the same kill stream: the achievement pays
	// out and the exp crosses one level.
	player := mustGet(t, eng, "player_1")
	if _, ok := player.GetMap("achievements")["goblin_slayer"]; !ok {
		t.Error("goblin_slayer not unlocked")
	}
	if got := player.GetInt("level", 0); got != 2 {
		t.Errorf("level = %d, want 2", got)
	}
	if gold := player.GetInt("gold", 0); gold != 1500 {
		t.Errorf("gold = %d, want 1500", gold)
	}
}
