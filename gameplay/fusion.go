package gameplay

import (
	"context"
	"sort"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/data"
	"github.com/sharedcode/gamecore/engine"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/store"
)

// FuseCards consumes two or more of a player's cards and mints a fused
// one. The steps run as a saga so a failure midway restores every card
// it already touched; the enclosing transaction makes the whole fusion
// atomic against the store either way.
//
// Recipe drives the result. nil means the generic recipe: averaged
// atk/def/hp, rarity A, element inherited from the first source card. A
// recipe naming a result_card_id resolves it from the loader's "cards"
// category instead.
type FuseCards struct {
	PlayerID string
	CardIDs  []string
	Recipe   map[string]any
	Loader   *data.Loader
}

func (c FuseCards) Dependencies() []string {
	deps := append([]string{c.PlayerID}, c.CardIDs...)
	sort.Strings(deps)
	return deps
}

func (c FuseCards) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if len(c.CardIDs) < 2 {
		return nil, gamecore.Errorf(gamecore.Validation, "fusion requires at least 2 source cards, got %d", len(c.CardIDs))
	}
	player, err := s.Get(ctx, c.PlayerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, gamecore.Errorf(gamecore.NotFound, "player %s does not exist", c.PlayerID)
	}

	recipe := c.Recipe
	if recipe == nil {
		recipe = map[string]any{"result_rarity": "A", "inherit_element": true}
	}
	recipeID, _ := recipe["id"].(string)
	if recipeID == "" {
		recipeID = "generic"
	}

	// Snapshot the sources up front; compensations restore these exact
	// copies.
	originals := make(map[string]*gamecore.Entity, len(c.CardIDs))
	for _, id := range c.CardIDs {
		card, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if card != nil {
			originals[id] = card
		}
	}

	var (
		sources []*gamecore.Entity
		fused   *gamecore.Entity
	)

	saga := engine.NewSagaBuilder("fusion_"+c.PlayerID+"_"+recipeID).
		AddStep("validate_cards",
			func(ctx context.Context) (map[string]any, error) {
				sources = sources[:0]
				for _, id := range c.CardIDs {
					card, err := s.Get(ctx, id)
					if err != nil {
						return nil, err
					}
					if card == nil {
						return nil, gamecore.Errorf(gamecore.NotFound, "card %s not found", id)
					}
					if gamecore.OwnerID(card) != c.PlayerID {
						return nil, gamecore.Errorf(gamecore.Validation, "card %s is not owned by %s", id, c.PlayerID)
					}
					if err := gamecore.RequireUsable(card); err != nil {
						return nil, err
					}
					sources = append(sources, card)
				}
				return nil, nil
			}, nil).
		AddStep("lock_cards",
			func(ctx context.Context) (map[string]any, error) {
				return nil, c.setStatus(ctx, s, gamecore.StatusLocked)
			},
			func(ctx context.Context) (map[string]any, error) {
				return nil, c.setStatus(ctx, s, gamecore.StatusActive)
			}).
		AddStep("remove_cards",
			func(ctx context.Context) (map[string]any, error) {
				for _, id := range c.CardIDs {
					if err := s.Delete(ctx, id); err != nil {
						return nil, err
					}
				}
				return nil, nil
			},
			func(ctx context.Context) (map[string]any, error) {
				for id, card := range originals {
					if err := s.Set(ctx, id, card); err != nil {
						return nil, err
					}
				}
				return nil, nil
			}).
		AddStep("create_fused_card",
			func(ctx context.Context) (map[string]any, error) {
				tpl, err := c.resultTemplate(recipe, recipeID, sources)
				if err != nil {
					return nil, err
				}
				fused = gamecore.NewFromTemplate(tpl, "card", c.PlayerID, nil)
				if err := s.Set(ctx, fused.ID, fused); err != nil {
					return nil, err
				}
				return map[string]any{"fused_card_id": fused.ID}, nil
			},
			func(ctx context.Context) (map[string]any, error) {
				if fused != nil {
					return nil, s.Delete(ctx, fused.ID)
				}
				return nil, nil
			}).
		Build()

	res := saga.Run(ctx)
	if !res.Success {
		return nil, res.Err
	}

	engine.QueueEvent(ctx, event.CardFusion(c.PlayerID, c.CardIDs, fused.ID, recipeID))
	return map[string]any{
		"fused_card_id":   fused.ID,
		"fused_card_name": fused.GetString("name", ""),
		"source_card_ids": c.CardIDs,
		"recipe_id":       recipeID,
	}, nil
}

func (c FuseCards) setStatus(ctx context.Context, s *store.TxStore, status gamecore.Status) error {
	for _, id := range c.CardIDs {
		card, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if card == nil {
			continue
		}
		card.SetStatus(status)
		if err := s.Set(ctx, id, card); err != nil {
			return err
		}
	}
	return nil
}

func (c FuseCards) resultTemplate(recipe map[string]any, recipeID string, sources []*gamecore.Entity) (map[string]any, error) {
	if rid, _ := recipe["result_card_id"].(string); rid != "" {
		if c.Loader == nil {
			return nil, gamecore.Errorf(gamecore.Validation, "recipe %s names result card %s but no loader is wired", recipeID, rid)
		}
		tpl, err := c.Loader.Get("cards", rid)
		if err != nil {
			return nil, err
		}
		if tpl == nil {
			return nil, gamecore.Errorf(gamecore.NotFound, "result card template %s not found", rid)
		}
		return tpl, nil
	}

	var atk, def, hp int64
	for _, src := range sources {
		atk += src.GetInt("atk", 0)
		def += src.GetInt("def", 0)
		hp += src.GetInt("hp", 0)
	}
	n := int64(len(sources))
	rarity, _ := recipe["result_rarity"].(string)
	if rarity == "" {
		rarity = "A"
	}
	tpl := map[string]any{
		"id":     "fused_" + recipeID,
		"name":   "Fused " + sources[0].GetString("name", "Card"),
		"rarity": rarity,
		"atk":    atk / n,
		"def":    def / n,
		"hp":     hp / n,
	}
	if inherit, _ := recipe["inherit_element"].(bool); inherit {
		for _, src := range sources {
			if el := src.GetString("element", ""); el != "" {
				tpl["element"] = el
				break
			}
		}
	}
	return tpl, nil
}

const (
	expPerSacrifice = 100
	expPerLevel     = 1000
)

// UpgradeCard consumes sacrifice cards to level a target card up. Each
// sacrifice grants 100 exp; every 1000 exp converts into a level. An
// empty sacrifice list is allowed and leaves the target unchanged.
type UpgradeCard struct {
	PlayerID     string
	TargetID     string
	SacrificeIDs []string
}

func (c UpgradeCard) Dependencies() []string {
	deps := append([]string{c.TargetID}, c.SacrificeIDs...)
	sort.Strings(deps)
	return deps
}

func (c UpgradeCard) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	target, err := s.Get(ctx, c.TargetID)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, gamecore.Errorf(gamecore.NotFound, "target %s not found", c.TargetID)
	}
	targetOriginal := target.Clone()

	originals := make(map[string]*gamecore.Entity, len(c.SacrificeIDs))
	for _, id := range c.SacrificeIDs {
		sac, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sac != nil {
			originals[id] = sac
		}
	}

	var level, exp int64

	saga := engine.NewSagaBuilder("upgrade_"+c.PlayerID+"_"+c.TargetID).
		AddStep("validate",
			func(ctx context.Context) (map[string]any, error) {
				if gamecore.OwnerID(target) != c.PlayerID {
					return nil, gamecore.Errorf(gamecore.Validation, "target %s is not owned by %s", c.TargetID, c.PlayerID)
				}
				for _, id := range c.SacrificeIDs {
					sac, ok := originals[id]
					if !ok {
						return nil, gamecore.Errorf(gamecore.NotFound, "sacrifice %s not found", id)
					}
					if gamecore.OwnerID(sac) != c.PlayerID {
						return nil, gamecore.Errorf(gamecore.Validation, "sacrifice %s is not owned by %s", id, c.PlayerID)
					}
				}
				return nil, nil
			}, nil).
		AddStep("remove_sacrifices",
			func(ctx context.Context) (map[string]any, error) {
				for _, id := range c.SacrificeIDs {
					if err := s.Delete(ctx, id); err != nil {
						return nil, err
					}
				}
				return nil, nil
			},
			func(ctx context.Context) (map[string]any, error) {
				for id, sac := range originals {
					if err := s.Set(ctx, id, sac); err != nil {
						return nil, err
					}
				}
				return nil, nil
			}).
		AddStep("upgrade_target",
			func(ctx context.Context) (map[string]any, error) {
				exp = target.GetInt("exp", 0) + int64(len(c.SacrificeIDs))*expPerSacrifice
				level = target.GetInt("level", 1)
				for exp >= expPerLevel {
					level++
					exp -= expPerLevel
				}
				target.Set("exp", exp)
				target.Set("level", level)
				if err := s.Set(ctx, c.TargetID, target); err != nil {
					return nil, err
				}
				return map[string]any{"level": level, "exp": exp}, nil
			},
			func(ctx context.Context) (map[string]any, error) {
				return nil, s.Set(ctx, c.TargetID, targetOriginal)
			}).
		Build()

	res := saga.Run(ctx)
	if !res.Success {
		return nil, res.Err
	}

	return map[string]any{
		"target_id":           c.TargetID,
		"level":               level,
		"exp":                 exp,
		"sacrifices_consumed": len(c.SacrificeIDs),
	}, nil
}
