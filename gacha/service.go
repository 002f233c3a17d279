// Package gacha implements weighted card pulls with soft/hard pity and
// the ten-pull guarantee, plus the generic weighted-choice and
// loot-table helpers the combat commands use.
package gacha

import (
	"math"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/sharedcode/gamecore"
)

// Rarity tiers, worst to best.
const (
	RarityC  = "C"
	RarityB  = "B"
	RarityA  = "A"
	RarityS  = "S"
	RaritySS = "SS"
)

var rarityRank = map[string]int{
	RarityC:  0,
	RarityB:  1,
	RarityA:  2,
	RarityS:  3,
	RaritySS: 4,
}

// baseWeights are the per-pull rarity odds in percent.
var baseWeights = map[string]float64{
	RarityC:  70,
	RarityB:  20,
	RarityA:  8,
	RarityS:  1.5,
	RaritySS: 0.5,
}

// PityConfig tunes the pity mechanics. SoftPityBonus is the fraction of
// weight moved from C to S per pull past the soft start.
type PityConfig struct {
	SoftPityStart  int
	SoftPityBonus  float64
	HardPity       int
	MultiGuarantee string
	MultiSize      int
}

func DefaultPityConfig() PityConfig {
	return PityConfig{
		SoftPityStart:  70,
		SoftPityBonus:  0.05,
		HardPity:       90,
		MultiGuarantee: RarityA,
		MultiSize:      10,
	}
}

// PullResult is the outcome of one pull.
type PullResult struct {
	Card           map[string]any
	Rarity         string
	WasPity        bool
	NewPityCounter int
}

// MultiResult is the outcome of a ten-pull.
type MultiResult struct {
	Pulls          []PullResult
	NewPityCounter int
	// WasPity is set when any of the singles consumed hard pity.
	WasPity          bool
	GuaranteeApplied bool
}

// PityInfo reports where a counter sits relative to the pity window.
type PityInfo struct {
	Counter        int
	PullsUntilSoft int
	PullsUntilHard int
	InSoftPity     bool
}

// Service rolls pulls over caller-supplied card pools. Pools are plain
// template maps (id, rarity, ...) as produced by the data loader.
type Service struct {
	cfg PityConfig

	mu sync.Mutex
	r  *rand.Rand
}

func NewService(cfg PityConfig) *Service {
	if cfg.HardPity <= 0 {
		cfg = DefaultPityConfig()
	}
	return &Service{cfg: cfg, r: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// SetRand swaps the random source, for deterministic tests.
func (s *Service) SetRand(r *rand.Rand) {
	s.mu.Lock()
	s.r = r
	s.mu.Unlock()
}

func (s *Service) Config() PityConfig { return s.cfg }

// SinglePull rolls one card. pityCounter is the player's count of pulls
// since the last S or better; the caller persists NewPityCounter.
func (s *Service) SinglePull(pool []map[string]any, pityCounter int) (PullResult, error) {
	return s.SinglePullExt(pool, pityCounter, nil)
}

// SinglePullExt is SinglePull with rarity weight overrides, as used by
// rate-up banners. nil overrides means the base weights; soft pity
// shifts apply on top of whichever set is in effect.
func (s *Service) SinglePullExt(pool []map[string]any, pityCounter int, overrides map[string]float64) (PullResult, error) {
	if len(pool) == 0 {
		return PullResult{}, gamecore.Errorf(gamecore.Validation, "card pool is empty")
	}

	pullNumber := pityCounter + 1

	// Hard pity guarantees an S. Prefer an S from the pool; a pool
	// without one falls back to a normal weighted roll.
	if pullNumber >= s.cfg.HardPity {
		if card := s.randomOfRarity(pool, RarityS); card != nil {
			return PullResult{Card: card, Rarity: RarityS, WasPity: true, NewPityCounter: 0}, nil
		}
	}

	weights := s.weightsFor(overrides, pullNumber)
	rarity := s.rollRarity(weights)
	card := s.randomOfRarity(pool, rarity)
	if card == nil {
		// Pool has no card of the rolled rarity; hand out anything and
		// let the card's own rarity drive the pity bookkeeping.
		card = s.randomCard(pool)
		if r, ok := card["rarity"].(string); ok {
			rarity = r
		}
	}

	newCounter := pullNumber
	if rarityRank[rarity] >= rarityRank[RarityS] {
		newCounter = 0
	}
	return PullResult{Card: card, Rarity: rarity, NewPityCounter: newCounter}, nil
}

// MultiPull rolls MultiSize singles threading the pity counter through.
// When no pull reaches the guarantee rarity the worst slot is replaced
// with a random card of that rarity.
func (s *Service) MultiPull(pool []map[string]any, pityCounter int) (MultiResult, error) {
	return s.MultiPullExt(pool, pityCounter, nil)
}

// MultiPullExt is MultiPull with rarity weight overrides.
func (s *Service) MultiPullExt(pool []map[string]any, pityCounter int, overrides map[string]float64) (MultiResult, error) {
	if len(pool) == 0 {
		return MultiResult{}, gamecore.Errorf(gamecore.Validation, "card pool is empty")
	}

	size := s.cfg.MultiSize
	if size <= 0 {
		size = DefaultPityConfig().MultiSize
	}

	out := MultiResult{Pulls: make([]PullResult, 0, size), NewPityCounter: pityCounter}
	for i := 0; i < size; i++ {
		pull, err := s.SinglePullExt(pool, out.NewPityCounter, overrides)
		if err != nil {
			return MultiResult{}, err
		}
		out.NewPityCounter = pull.NewPityCounter
		out.WasPity = out.WasPity || pull.WasPity
		out.Pulls = append(out.Pulls, pull)
	}

	guaranteeRank := rarityRank[s.cfg.MultiGuarantee]
	best := -1
	worst := 0
	for i, p := range out.Pulls {
		if r := rarityRank[p.Rarity]; r > best {
			best = r
		}
		if rarityRank[p.Rarity] < rarityRank[out.Pulls[worst].Rarity] {
			worst = i
		}
	}
	if best < guaranteeRank {
		if card := s.randomOfRarity(pool, s.cfg.MultiGuarantee); card != nil {
			out.Pulls[worst] = PullResult{
				Card:           card,
				Rarity:         s.cfg.MultiGuarantee,
				NewPityCounter: out.NewPityCounter,
			}
			out.GuaranteeApplied = true
		}
	}
	return out, nil
}

// PityInfo reports the distance to the pity thresholds for a counter.
func (s *Service) PityInfo(counter int) PityInfo {
	return PityInfo{
		Counter:        counter,
		PullsUntilSoft: max(0, s.cfg.SoftPityStart-counter),
		PullsUntilHard: max(0, s.cfg.HardPity-counter),
		InSoftPity:     counter >= s.cfg.SoftPityStart,
	}
}

// weightsFor copies the given weights (base weights when nil), shifting
// weight from C to S once the pull number is past the soft pity start.
func (s *Service) weightsFor(overrides map[string]float64, pullNumber int) map[string]float64 {
	src := overrides
	if len(src) == 0 {
		src = baseWeights
	}
	weights := make(map[string]float64, len(src))
	for k, v := range src {
		weights[k] = v
	}
	past := pullNumber - s.cfg.SoftPityStart
	if past <= 0 {
		return weights
	}
	bonus := float64(past) * s.cfg.SoftPityBonus * 100
	shift := math.Min(bonus, weights[RarityC])
	weights[RarityC] -= shift
	weights[RarityS] += shift
	return weights
}

func (s *Service) rollRarity(weights map[string]float64) string {
	// Iterate rarities in fixed rank order so equal rolls are stable.
	order := make([]string, 0, len(weights))
	for r := range weights {
		order = append(order, r)
	}
	sort.Slice(order, func(i, j int) bool { return rarityRank[order[i]] < rarityRank[order[j]] })

	total := 0.0
	for _, r := range order {
		total += weights[r]
	}
	s.mu.Lock()
	roll := s.r.Float64() * total
	s.mu.Unlock()
	for _, r := range order {
		roll -= weights[r]
		if roll < 0 {
			return r
		}
	}
	return order[len(order)-1]
}

func (s *Service) randomOfRarity(pool []map[string]any, rarity string) map[string]any {
	var matching []map[string]any
	for _, c := range pool {
		if r, ok := c["rarity"].(string); ok && r == rarity {
			matching = append(matching, c)
		}
	}
	if len(matching) == 0 {
		return nil
	}
	return s.randomCard(matching)
}

func (s *Service) randomCard(pool []map[string]any) map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pool[s.r.Intn(len(pool))]
}

// WeightedChoice picks one item with probability proportional to its
// weightKey value. All-zero weights degrade to a uniform pick; an empty
// slice returns nil.
func (s *Service) WeightedChoice(items []map[string]any, weightKey string) map[string]any {
	if len(items) == 0 {
		return nil
	}
	total := 0.0
	for _, it := range items {
		total += numeric(it[weightKey])
	}
	if total <= 0 {
		return s.randomCard(items)
	}
	s.mu.Lock()
	roll := s.r.Float64() * total
	s.mu.Unlock()
	for _, it := range items {
		roll -= numeric(it[weightKey])
		if roll < 0 {
			return it
		}
	}
	return items[len(items)-1]
}

// Drop is one loot-table hit.
type Drop struct {
	TemplateID string
	Quantity   int
}

// RollLootTable rolls each entry independently. Entries are maps with
// template_id, chance (0..1) and optional min_quantity/max_quantity
// (default 1), the shape mob templates carry.
func (s *Service) RollLootTable(entries []map[string]any) []Drop {
	drops := make([]Drop, 0, len(entries))
	for _, e := range entries {
		id, _ := e["template_id"].(string)
		if id == "" {
			continue
		}
		chance := numeric(e["chance"])
		s.mu.Lock()
		roll := s.r.Float64()
		s.mu.Unlock()
		if roll >= chance {
			continue
		}
		minQty := int(numeric(e["min_quantity"]))
		maxQty := int(numeric(e["max_quantity"]))
		if minQty < 1 {
			minQty = 1
		}
		if maxQty < minQty {
			maxQty = minQty
		}
		qty := minQty
		if maxQty > minQty {
			s.mu.Lock()
			qty = minQty + s.r.Intn(maxQty-minQty+1)
			s.mu.Unlock()
		}
		drops = append(drops, Drop{TemplateID: id, Quantity: qty})
	}
	return drops
}

func numeric(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
