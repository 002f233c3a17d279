package gameplay

import (
	"testing"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/event"
)

func TestSpawnMob(t *testing.T) {
	eng := newTestEngine(t)

	out := mustRun(t, eng, SpawnMob{InstanceID: "mob_7", Template: goblinTemplate()})
	if got, _ := out["spawned_id"].(string); got != "mob_7" {
		t.Errorf("spawned_id = %v, want mob_7", out["spawned_id"])
	}
	if got, _ := out["template_id"].(string); got != "goblin_warrior" {
		t.Errorf("template_id = %v, want goblin_warrior", out["template_id"])
	}
	if got, _ := out["name"].(string); got != "Goblin Warrior" {
		t.Errorf("name = %v, want Goblin Warrior", out["name"])
	}
	if got, _ := out["hp"].(int64); got != 30 {
		t.Errorf("hp = %v, want 30", out["hp"])
	}
	if got, _ := out["attack"].(int64); got != 5 {
		t.Errorf("attack = %v, want 5", out["attack"])
	}

	mob := mustGet(t, eng, "mob_7")
	if mob.Type != "mob" {
		t.Errorf("type = %q, want mob", mob.Type)
	}
	if got := mob.GetInt("current_hp", -1); got != 30 {
		t.Errorf("current_hp = %d, want 30", got)
	}
	if got := gamecore.ProtoID(mob); got != "goblin_warrior" {
		t.Errorf("proto = %q, want goblin_warrior", got)
	}
	// The instance id replaces the template id.
	if mob.ID != "mob_7" {
		t.Errorf("id = %q, want mob_7", mob.ID)
	}

	if evs := eng.Bus().History(event.TopicMobSpawned); len(evs) != 1 {
		t.Errorf("mob_spawned events = %d, want 1", len(evs))
	}
}

func TestSpawnMobDuplicate(t *testing.T) {
	eng := newTestEngine(t)
	mustRun(t, eng, SpawnMob{InstanceID: "mob_1", Template: goblinTemplate()})

	res := eng.Run(ctx, SpawnMob{InstanceID: "mob_1", Template: goblinTemplate()})
	if res.Success || !gamecore.IsCode(res.Err, gamecore.Validation) {
		t.Errorf("duplicate spawn: success=%v err=%v, want Validation", res.Success, res.Err)
	}
}

func TestSpawnMobEmptyTemplate(t *testing.T) {
	eng := newTestEngine(t)
	res := eng.Run(ctx, SpawnMob{InstanceID: "mob_1"})
	if res.Success || !gamecore.IsCode(res.Err, gamecore.Validation) {
		t.Errorf("empty template: success=%v err=%v, want Validation", res.Success, res.Err)
	}
}

func TestSpawnItemStackable(t *testing.T) {
	eng := newTestEngine(t)
	tpl := map[string]any{
		"id":        "health_potion",
		"name":      "Health Potion",
		"type":      "consumable",
		"stackable": true,
		"max_stack": int64(10),
	}

	out := mustRun(t, eng, SpawnItem{InstanceID: "item_1", Template: tpl, Quantity: 5})
	if got, _ := out["quantity"].(int64); got != 5 {
		t.Errorf("quantity = %v, want 5", out["quantity"])
	}
	if got, _ := out["type"].(string); got != "consumable" {
		t.Errorf("type = %v, want consumable", out["type"])
	}
	// Rarity defaults when the template has none.
	if got, _ := out["rarity"].(string); got != "common" {
		t.Errorf("rarity = %v, want common", out["rarity"])
	}

	item := mustGet(t, eng, "item_1")
	if got := item.GetInt("quantity", 0); got != 5 {
		t.Errorf("stored quantity = %d, want 5", got)
	}

	if evs := eng.Bus().History(event.TopicItemSpawned); len(evs) != 1 {
		t.Errorf("item_spawned events = %d, want 1", len(evs))
	}
}

func TestSpawnItemStackRules(t *testing.T) {
	eng := newTestEngine(t)
	sword := map[string]any{"id": "iron_sword", "name": "Iron Sword"}
	potion := map[string]any{"id": "health_potion", "stackable": true, "max_stack": int64(10)}

	res := eng.Run(ctx, SpawnItem{InstanceID: "item_1", Template: sword, Quantity: 2})
	if res.Success || !gamecore.IsCode(res.Err, gamecore.Validation) {
		t.Errorf("non-stackable x2: success=%v err=%v, want Validation", res.Success, res.Err)
	}

	res = eng.Run(ctx, SpawnItem{InstanceID: "item_2", Template: potion, Quantity: 11})
	if res.Success || !gamecore.IsCode(res.Err, gamecore.Validation) {
		t.Errorf("over max stack: success=%v err=%v, want Validation", res.Success, res.Err)
	}

	res = eng.Run(ctx, SpawnItem{InstanceID: "item_3", Template: potion, Quantity: 0})
	if res.Success || !gamecore.IsCode(res.Err, gamecore.Validation) {
		t.Errorf("zero quantity: success=%v err=%v, want Validation", res.Success, res.Err)
	}

	// A single unit of a non-stackable item is fine.
	mustRun(t, eng, SpawnItem{InstanceID: "item_4", Template: sword, Quantity: 1})
	if got := mustGet(t, eng, "item_4").GetInt("quantity", 0); got != 1 {
		t.Errorf("quantity = %d, want 1", got)
	}
}
