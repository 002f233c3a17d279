package gameplay

import (
	"context"
	"time"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/banner"
	"github.com/sharedcode/gamecore/data"
	"github.com/sharedcode/gamecore/engine"
	"github.com/sharedcode/gamecore/event"
	"github.com/sharedcode/gamecore/gacha"
	"github.com/sharedcode/gamecore/store"
)

const (
	singlePullCost = 100
	multiPullCost  = 900
)

// GachaPull deducts gems and pulls from the active banner. Pulled cards
// persist as entities owned by the player; the player's pity counter
// moves with the pull.
type GachaPull struct {
	PlayerID string
	Multi    bool
	Gacha    *gacha.Service
	Banners  *banner.Manager
}

func (c GachaPull) Dependencies() []string { return []string{c.PlayerID} }

func (c GachaPull) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if c.Gacha == nil || c.Banners == nil {
		return nil, gamecore.Errorf(gamecore.Validation, "gacha pull requires the gacha service and banner manager")
	}
	player, err := s.Get(ctx, c.PlayerID)
	if err != nil {
		return nil, err
	}
	if player == nil {
		return nil, gamecore.Errorf(gamecore.NotFound, "player %s does not exist", c.PlayerID)
	}

	active := c.Banners.Active()
	if active == nil {
		return nil, gamecore.Errorf(gamecore.Validation, "no active banner available")
	}

	cost := int64(singlePullCost)
	if c.Multi {
		cost = multiPullCost
	}
	gems := player.GetInt("gems", 0)
	if gems < cost {
		return nil, gamecore.Errorf(gamecore.Validation, "insufficient gems: need %d, have %d", cost, gems)
	}

	pool, weights, err := c.Banners.Pool(active.ID)
	if err != nil {
		return nil, err
	}

	pity := int(player.GetInt("pity_counter", 0))
	var (
		pulls   []gacha.PullResult
		newPity int
		wasPity bool
	)
	if c.Multi {
		res, err := c.Gacha.MultiPullExt(pool, pity, weights)
		if err != nil {
			return nil, err
		}
		pulls = res.Pulls
		newPity = res.NewPityCounter
		wasPity = res.WasPity
	} else {
		res, err := c.Gacha.SinglePullExt(pool, pity, weights)
		if err != nil {
			return nil, err
		}
		pulls = []gacha.PullResult{res}
		newPity = res.NewPityCounter
		wasPity = res.WasPity
	}

	player.Set("gems", gems-cost)
	player.Set("pity_counter", int64(newPity))
	if err := s.Set(ctx, c.PlayerID, player); err != nil {
		return nil, err
	}

	cardIDs := make([]string, 0, len(pulls))
	rarities := make([]string, 0, len(pulls))
	for _, p := range pulls {
		card := gamecore.NewFromTemplate(p.Card, "card", c.PlayerID, nil)
		if err := s.Set(ctx, card.ID, card); err != nil {
			return nil, err
		}
		cardIDs = append(cardIDs, card.ID)
		rarities = append(rarities, p.Rarity)
	}

	// Pull bookkeeping is advisory; a failed commit at worst overcounts.
	c.Banners.TrackPull(active.ID, c.PlayerID, len(pulls))

	engine.QueueEvent(ctx, event.GachaPull(c.PlayerID, active.ID, cardIDs, rarities, c.Multi, wasPity))
	return map[string]any{
		"cards_pulled": cardIDs,
		"rarities":     rarities,
		"cost":         cost,
		"banner_id":    active.ID,
		"pity_counter": int64(newPity),
		"was_pity":     wasPity,
	}, nil
}

// CreateBanner registers a banner with the manager. The pool comes from
// Config.CardPool when set, otherwise it is built from the loader's
// "cards" category, narrowed by PoolFilter when one is given.
type CreateBanner struct {
	Banners *banner.Manager
	Config  banner.Config
	// PoolFilter is a CEL expression over card templates, e.g.
	// `item.element == "fire"`.
	PoolFilter string
	Loader     *data.Loader
}

func (c CreateBanner) Dependencies() []string { return nil }

func (c CreateBanner) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if c.Banners == nil {
		return nil, gamecore.Errorf(gamecore.Validation, "banner commands require the banner manager")
	}
	cfg := c.Config
	if err := resolvePool(&cfg, c.PoolFilter, c.Loader); err != nil {
		return nil, err
	}
	if err := c.Banners.Create(cfg); err != nil {
		return nil, err
	}
	return map[string]any{
		"banner_id": cfg.ID,
		"pool_size": int64(len(cfg.CardPool)),
	}, nil
}

// ScheduleFlashBanner registers a time-limited banner that activates
// after Delay and expires Duration later.
type ScheduleFlashBanner struct {
	Banners    *banner.Manager
	Config     banner.Config
	Duration   time.Duration
	Delay      time.Duration
	PoolFilter string
	Loader     *data.Loader
}

func (c ScheduleFlashBanner) Dependencies() []string { return nil }

func (c ScheduleFlashBanner) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if c.Banners == nil {
		return nil, gamecore.Errorf(gamecore.Validation, "banner commands require the banner manager")
	}
	cfg := c.Config
	if err := resolvePool(&cfg, c.PoolFilter, c.Loader); err != nil {
		return nil, err
	}
	if err := c.Banners.CreateFlash(cfg, c.Duration, c.Delay); err != nil {
		return nil, err
	}
	return map[string]any{
		"banner_id":        cfg.ID,
		"pool_size":        int64(len(cfg.CardPool)),
		"duration_seconds": c.Duration.Seconds(),
		"delay_seconds":    c.Delay.Seconds(),
	}, nil
}

// ActivateBanner makes a banner the active one.
type ActivateBanner struct {
	Banners  *banner.Manager
	BannerID string
}

func (c ActivateBanner) Dependencies() []string { return nil }

func (c ActivateBanner) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if c.Banners == nil {
		return nil, gamecore.Errorf(gamecore.Validation, "banner commands require the banner manager")
	}
	if err := c.Banners.Activate(c.BannerID); err != nil {
		return nil, err
	}
	return map[string]any{"banner_id": c.BannerID}, nil
}

// ExpireBanner takes a banner out of rotation.
type ExpireBanner struct {
	Banners  *banner.Manager
	BannerID string
}

func (c ExpireBanner) Dependencies() []string { return nil }

func (c ExpireBanner) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	if c.Banners == nil {
		return nil, gamecore.Errorf(gamecore.Validation, "banner commands require the banner manager")
	}
	if err := c.Banners.Expire(c.BannerID); err != nil {
		return nil, err
	}
	return map[string]any{"banner_id": c.BannerID}, nil
}

// resolvePool fills cfg.CardPool from the loader when the config does
// not carry one already.
func resolvePool(cfg *banner.Config, filter string, loader *data.Loader) error {
	if len(cfg.CardPool) > 0 {
		return nil
	}
	if loader == nil {
		return gamecore.Errorf(gamecore.Validation, "banner %q needs a card pool or a loader to build one", cfg.ID)
	}
	var (
		pool []map[string]any
		err  error
	)
	if filter != "" {
		pool, err = loader.Filter("cards", filter)
	} else {
		pool, err = loader.All("cards")
	}
	if err != nil {
		return err
	}
	if len(pool) == 0 {
		return gamecore.Errorf(gamecore.Validation, "empty card pool for banner %q", cfg.ID)
	}
	cfg.CardPool = pool
	return nil
}
