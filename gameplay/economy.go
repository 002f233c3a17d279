package gameplay

import (
	"context"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/data"
	"github.com/sharedcode/gamecore/engine"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/store"
)

// GainGold credits a player's gold balance, creating the player entity
// when it does not exist yet.
type GainGold struct {
	PlayerID string
	Amount   int64
	// Reason lands in the gold_changed event; empty means "gain_gold".
	Reason string
}

func (c GainGold) Dependencies() []string { return []string{c.PlayerID} }

func (c GainGold) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if c.Amount <= 0 {
		return nil, gamecore.Errorf(gamecore.Validation, "gold amount must be positive, got %d", c.Amount)
	}
	player, err := s.Get(ctx, c.PlayerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		player = gamecore.NewEntity(c.PlayerID, "player")
	}

	oldGold := player.GetInt("gold", 0)
	newGold := oldGold + c.Amount
	player.Set("gold", newGold)
	if err := s.Set(ctx, c.PlayerID, player); err != nil {
		return nil, err
	}

	reason := c.Reason
	if reason == "" {
		reason = "gain_gold"
	}
	engine.QueueEvent(ctx, event.GoldChanged(c.PlayerID, oldGold, newGold, reason))
	return map[string]any{"new_gold": newGold}, nil
}

// SpendGold debits a player's gold balance, failing when the player does
// not exist or cannot cover the amount.
type SpendGold struct {
	PlayerID string
	Amount   int64
	// Reason lands in the gold_changed event; empty means "spend_gold".
	Reason string
}

func (c SpendGold) Dependencies() []string { return []string{c.PlayerID} }

func (c SpendGold) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if c.Amount <= 0 {
		return nil, gamecore.Errorf(gamecore.Validation, "gold amount must be positive, got %d", c.Amount)
	}
	player, err := s.Get(ctx, c.PlayerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, gamecore.Errorf(gamecore.NotFound, "player %s does not exist", c.PlayerID)
	}

	oldGold := player.GetInt("gold", 0)
	if oldGold < c.Amount {
		return nil, gamecore.Errorf(gamecore.Validation, "not enough gold: has %d, needs %d", oldGold, c.Amount)
	}
	newGold := oldGold - c.Amount
	player.Set("gold", newGold)
	if err := s.Set(ctx, c.PlayerID, player); err != nil {
		return nil, err
	}

	reason := c.Reason
	if reason == "" {
		reason = "spend_gold"
	}
	engine.QueueEvent(ctx, event.GoldChanged(c.PlayerID, oldGold, newGold, reason))
	return map[string]any{"new_gold": newGold}, nil
}

// PurchaseItem spends gold and mints an inventory item owned by the
// player from a shop template. The item entity persists with the
// purchased quantity.
type PurchaseItem struct {
	PlayerID       string
	ItemTemplateID string
	Quantity       int64
	UnitCost       int64
	// Loader resolves ItemTemplateID from the "items" category.
	Loader *data.Loader
}

func (c PurchaseItem) Dependencies() []string { return []string{c.PlayerID} }

func (c PurchaseItem) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if c.Quantity <= 0 {
		return nil, gamecore.Errorf(gamecore.Validation, "quantity must be at least 1, got %d", c.Quantity)
	}
	if c.UnitCost < 0 {
		return nil, gamecore.Errorf(gamecore.Validation, "unit cost can't be negative, got %d", c.UnitCost)
	}
	if c.Loader == nil {
		return nil, gamecore.Errorf(gamecore.Validation, "purchase requires a template loader")
	}
	tpl, err := c.Loader.Get("items", c.ItemTemplateID)
	if err != nil {
		return nil, err
	}
	if tpl == nil {
		return nil, gamecore.Errorf(gamecore.NotFound, "item template %s not found", c.ItemTemplateID)
	}

	player, err := s.Get(ctx, c.PlayerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, gamecore.Errorf(gamecore.NotFound, "player %s does not exist", c.PlayerID)
	}

	item := gamecore.NewFromTemplate(tpl, "item", c.PlayerID, map[string]any{"quantity": c.Quantity})
	if !item.GetBool("stackable", false) && c.Quantity > 1 {
		return nil, gamecore.Errorf(gamecore.Validation, "item %s is not stackable", c.ItemTemplateID)
	}
	if maxStack := item.GetInt("max_stack", 1); c.Quantity > maxStack {
		return nil, gamecore.Errorf(gamecore.Validation, "quantity %d exceeds max stack %d", c.Quantity, maxStack)
	}

	total := c.UnitCost * c.Quantity
	oldGold := player.GetInt("gold", 0)
	if oldGold < total {
		return nil, gamecore.Errorf(gamecore.Validation, "not enough gold: has %d, needs %d", oldGold, total)
	}
	newGold := oldGold - total
	player.Set("gold", newGold)
	if err := s.Set(ctx, c.PlayerID, player); err != nil {
		return nil, err
	}
	if err := s.Set(ctx, item.ID, item); err != nil {
		return nil, err
	}

	if total > 0 {
		engine.QueueEvent(ctx, event.GoldChanged(c.PlayerID, oldGold, newGold, "purchase_item"))
	}
	engine.QueueEvent(ctx, event.ItemSpawned(item.ID, c.ItemTemplateID, c.Quantity))
	return map[string]any{
		"item_id":    item.ID,
		"new_gold":   newGold,
		"quantity":   c.Quantity,
		"total_cost": total,
	}, nil
}
