// Package gameplay provides the built-in game commands (combat, economy,
// spawning, fusion, gacha) and the event-driven modules layered on top of
// the engine. Every command implements engine.Command; hosts run them
// through Engine.Run and translate the result maps for their front-end.
package gameplay

import (
	"context"
	"sort"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/engine"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/store"
)

// AttackMob applies one player attack to a mob. Damage equals the
// player's attack stat; the mob's current_hp drops by that much. A kill
// removes the mob, pays its gold reward to the player and emits
// mob_killed (plus gold_changed when the reward is non-zero).
type AttackMob struct {
	PlayerID string
	MobID    string
}

// Dependencies are sorted so concurrent attackers always lock in the
// same order.
func (c AttackMob) Dependencies() []string {
	deps := []string{c.PlayerID, c.MobID}
	sort.Strings(deps)
	return deps
}

func (c AttackMob) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	player, err := s.Get(ctx, c.PlayerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, gamecore.Errorf(gamecore.NotFound, "player %s does not exist", c.PlayerID)
	}
	mob, err := s.Get(ctx, c.MobID)
	if err != nil {
		return nil, err
	}
	if mob == nil {
		return nil, gamecore.Errorf(gamecore.NotFound, "mob %s does not exist", c.MobID)
	}

	damage := player.GetInt("attack", 10)
	// Spawned mobs track current_hp; bare mobs fall back to the template
	// hp field.
	hp := mob.GetInt("current_hp", mob.GetInt("hp", 100)) - damage

	killed := hp <= 0
	var goldGained int64
	if killed {
		goldGained = mob.GetInt("gold_reward", 0)
		oldGold := player.GetInt("gold", 0)
		if goldGained > 0 {
			player.Set("gold", oldGold+goldGained)
			if err := s.Set(ctx, c.PlayerID, player); err != nil {
				return nil, err
			}
		}
		if err := s.Delete(ctx, c.MobID); err != nil {
			return nil, err
		}

		tpl := gamecore.ProtoID(mob)
		if tpl == "" {
			tpl = "unknown"
		}
		engine.QueueEvent(ctx, event.MobKilled(c.PlayerID, c.MobID, tpl, damage))
		if goldGained > 0 {
			engine.QueueEvent(ctx, event.GoldChanged(c.PlayerID, oldGold, oldGold+goldGained, "mob_kill_reward"))
		}
	} else {
		mob.Set("current_hp", hp)
		if err := s.Set(ctx, c.MobID, mob); err != nil {
			return nil, err
		}
	}

	if hp < 0 {
		hp = 0
	}
	return map[string]any{
		"damage_dealt": damage,
		"mob_hp":       hp,
		"mob_killed":   killed,
		"gold_gained":  goldGained,
	}, nil
}
