package event

// Topics the engine publishes. Hosts and modules may add their own; these
// are the ones the built-in commands and services emit.
const (
	TopicMobKilled           = "mob_killed"
	TopicPlayerLevelUp       = "player_level_up"
	TopicGoldChanged         = "gold_changed"
	TopicAchievementUnlocked = "achievement_unlocked"
	TopicItemSpawned         = "item_spawned"
	TopicMobSpawned          = "mob_spawned"
	TopicBannerActivated     = "banner_activated"
	TopicBannerExpired       = "banner_expired"
	TopicGachaPull           = "gacha_pull"
	TopicCardFusion          = "card_fusion"
)

// MobKilled is published when combat removes a mob.
func MobKilled(playerID, mobID, mobTemplate string, damageDealt int64) Event {
	return New(TopicMobKilled, map[string]any{
		"player_id":    playerID,
		"mob_id":       mobID,
		"mob_template": mobTemplate,
		"damage_dealt": damageDealt,
	})
}

// PlayerLevelUp is published by the progression tracker.
func PlayerLevelUp(playerID string, oldLevel, newLevel int64) Event {
	return New(TopicPlayerLevelUp, map[string]any{
		"player_id": playerID,
		"old_level": oldLevel,
		"new_level": newLevel,
	})
}

// GoldChanged is published whenever a command moves a player's gold.
func GoldChanged(playerID string, oldGold, newGold int64, reason string) Event {
	return New(TopicGoldChanged, map[string]any{
		"player_id": playerID,
		"old_gold":  oldGold,
		"new_gold":  newGold,
		"change":    newGold - oldGold,
		"reason":    reason,
	})
}

// AchievementUnlocked is published when a tracked achievement completes.
func AchievementUnlocked(playerID, achievementID, name string) Event {
	return New(TopicAchievementUnlocked, map[string]any{
		"player_id":        playerID,
		"achievement_id":   achievementID,
		"achievement_name": name,
	})
}

// ItemSpawned is published when an item instance enters the world.
func ItemSpawned(itemID, templateID string, quantity int64) Event {
	return New(TopicItemSpawned, map[string]any{
		"item_id":     itemID,
		"template_id": templateID,
		"quantity":    quantity,
	})
}

// MobSpawned is published when a mob instance enters the world.
func MobSpawned(mobID, templateID string) Event {
	return New(TopicMobSpawned, map[string]any{
		"mob_id":      mobID,
		"template_id": templateID,
	})
}

// BannerActivated is published when a banner becomes the active one.
func BannerActivated(bannerID string) Event {
	return New(TopicBannerActivated, map[string]any{
		"banner_id": bannerID,
	})
}

// BannerExpired is published when a banner leaves its window.
func BannerExpired(bannerID string, totalPulls int64) Event {
	return New(TopicBannerExpired, map[string]any{
		"banner_id":   bannerID,
		"total_pulls": totalPulls,
	})
}

// CardFusion is published when a fusion consumes its source cards.
func CardFusion(playerID string, sourceIDs []string, fusedID, recipeID string) Event {
	src := make([]any, len(sourceIDs))
	for i, id := range sourceIDs {
		src[i] = id
	}
	return New(TopicCardFusion, map[string]any{
		"player_id":       playerID,
		"source_card_ids": src,
		"fused_card_id":   fusedID,
		"recipe_id":       recipeID,
	})
}

// GachaPull is published after a pull commits. wasPity is true when any
// pulled card consumed the pity counter.
func GachaPull(playerID, bannerID string, cards []string, rarities []string, wasMulti, wasPity bool) Event {
	cardsAny := make([]any, len(cards))
	for i, c := range cards {
		cardsAny[i] = c
	}
	raritiesAny := make([]any, len(rarities))
	for i, r := range rarities {
		raritiesAny[i] = r
	}
	return New(TopicGachaPull, map[string]any{
		"player_id":    playerID,
		"banner_id":    bannerID,
		"cards_pulled": cardsAny,
		"rarities":     raritiesAny,
		"was_multi":    wasMulti,
		"was_pity":     wasPity,
	})
}
