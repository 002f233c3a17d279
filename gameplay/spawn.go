package gameplay

import (
	"context"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/engine"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/store"
)

// SpawnMob mints a mob instance from a template under a caller-chosen
// id. The instance copies the template fields and tracks its live HP
// under current_hp, leaving hp as the template maximum.
type SpawnMob struct {
	InstanceID string
	Template   map[string]any
}

func (c SpawnMob) Dependencies() []string { return []string{c.InstanceID} }

func (c SpawnMob) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if len(c.Template) == 0 {
		return nil, gamecore.Errorf(gamecore.Validation, "spawning %s requires a mob template", c.InstanceID)
	}
	exists, err := s.Exists(ctx, c.InstanceID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, gamecore.Errorf(gamecore.Validation, "entity %s already exists", c.InstanceID)
	}

	mob := gamecore.NewFromTemplate(c.Template, "mob", "", nil)
	mob.ID = c.InstanceID
	mob.Set("current_hp", mob.GetInt("hp", 0))
	if err := s.Set(ctx, c.InstanceID, mob); err != nil {
		return nil, err
	}

	templateID := gamecore.ProtoID(mob)
	engine.QueueEvent(ctx, event.MobSpawned(c.InstanceID, templateID))
	return map[string]any{
		"spawned_id":  c.InstanceID,
		"template_id": templateID,
		"name":        mob.GetString("name", ""),
		"hp":          mob.GetInt("hp", 0),
		"attack":      mob.GetInt("attack", 0),
	}, nil
}

// SpawnItem mints an item instance from a template under a caller-chosen
// id. Stackable templates may spawn up to max_stack units at once;
// everything else spawns one at a time.
type SpawnItem struct {
	InstanceID string
	Template   map[string]any
	Quantity   int64
}

func (c SpawnItem) Dependencies() []string { return []string{c.InstanceID} }

func (c SpawnItem) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if len(c.Template) == 0 {
		return nil, gamecore.Errorf(gamecore.Validation, "spawning %s requires an item template", c.InstanceID)
	}
	if c.Quantity < 1 {
		return nil, gamecore.Errorf(gamecore.Validation, "quantity must be at least 1, got %d", c.Quantity)
	}
	exists, err := s.Exists(ctx, c.InstanceID)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, gamecore.Errorf(gamecore.Validation, "entity %s already exists", c.InstanceID)
	}

	item := gamecore.NewFromTemplate(c.Template, "item", "", map[string]any{"quantity": c.Quantity})
	item.ID = c.InstanceID
	templateID := gamecore.ProtoID(item)

	if !item.GetBool("stackable", false) && c.Quantity > 1 {
		return nil, gamecore.Errorf(gamecore.Validation, "item %s is not stackable", templateID)
	}
	if maxStack := item.GetInt("max_stack", 1); c.Quantity > maxStack {
		return nil, gamecore.Errorf(gamecore.Validation, "quantity %d exceeds max stack %d", c.Quantity, maxStack)
	}

	if err := s.Set(ctx, c.InstanceID, item); err != nil {
		return nil, err
	}

	engine.QueueEvent(ctx, event.ItemSpawned(c.InstanceID, templateID, c.Quantity))
	return map[string]any{
		"spawned_id":  c.InstanceID,
		"template_id": templateID,
		"name":        item.GetString("name", ""),
		"quantity":    c.Quantity,
		"type":        item.GetString("type", ""),
		"rarity":      item.GetString("rarity", "common"),
	}, nil
}
