package gamecore

import (
	"context"
	"fmt"
)

// Referral links live on the player entities: the referred player carries
// "referrer_id", the referrer accumulates a "referrals" id list. These
// helpers implement the graph operations over any Repository so each backend
// satisfies ReferralRepository by delegation.

const (
	referrerKey  = "referrer_id"
	referralsKey = "referrals"
)

// AddReferralOver links referred under referrer through the given repository.
// Returns (false, nil) when the referred player already has a referrer.
func AddReferralOver(ctx context.Context, r Repository, referrerID, referredID string) (bool, error) {
	if referrerID == referredID {
		return false, Errorf(Validation, "referral cycle: %s cannot refer itself", referrerID)
	}
	referrer, err := r.Load(ctx, referrerID)
	if err != nil {
		return false, err
	}
	if referrer == nil {
		return false, Errorf(NotFound, "referrer %s not found", referrerID)
	}
	referred, err := r.Load(ctx, referredID)
	if err != nil {
		return false, err
	}
	if referred == nil {
		return false, Errorf(NotFound, "referred player %s not found", referredID)
	}
	if referred.GetString(referrerKey, "") != "" {
		return false, nil
	}

	// Linking must not close a cycle: nobody upstream of the referrer may be
	// the player being referred.
	seen := map[string]bool{referrerID: true}
	cur := referrer
	for {
		up := cur.GetString(referrerKey, "")
		if up == "" {
			break
		}
		if up == referredID {
			return false, Errorf(Validation, "referral cycle: %s is upstream of %s", referredID, referrerID)
		}
		if seen[up] {
			// Legacy cyclic data; stop walking rather than spin.
			break
		}
		seen[up] = true
		next, err := r.Load(ctx, up)
		if err != nil {
			return false, err
		}
		if next == nil {
			break
		}
		cur = next
	}

	referred.Set(referrerKey, referrerID)
	if err := r.Save(ctx, referred); err != nil {
		return false, err
	}

	list := referrer.GetSlice(referralsKey)
	list = append(list, referredID)
	referrer.Set(referralsKey, list)
	if err := r.Save(ctx, referrer); err != nil {
		return false, err
	}
	return true, nil
}

// ReferrerOver returns who referred the player, or "".
func ReferrerOver(ctx context.Context, r Repository, playerID string) (string, error) {
	p, err := r.Load(ctx, playerID)
	if err != nil {
		return "", err
	}
	if p == nil {
		return "", Errorf(NotFound, "player %s not found", playerID)
	}
	return p.GetString(referrerKey, ""), nil
}

// DirectReferralsOver returns the ids the player directly referred.
func DirectReferralsOver(ctx context.Context, r Repository, playerID string) ([]string, error) {
	p, err := r.Load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, Errorf(NotFound, "player %s not found", playerID)
	}
	return p.GetStringSlice(referralsKey), nil
}

// ReferralTreeOver walks the graph breadth first, one bulk load per level.
func ReferralTreeOver(ctx context.Context, r Repository, playerID string, maxDepth int, withStats bool) (*ReferralTree, error) {
	root, err := r.Load(ctx, playerID)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, Errorf(NotFound, "player %s not found", playerID)
	}
	if maxDepth <= 0 {
		maxDepth = 10
	}

	tree := &ReferralTree{
		PlayerID:        playerID,
		DirectReferrals: root.GetStringSlice(referralsKey),
		Levels:          map[string][]string{},
	}

	visited := map[string]bool{playerID: true}
	frontier := root.GetStringSlice(referralsKey)
	var members []*Entity

	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		// Drop already-visited ids so legacy cyclic data terminates.
		ids := frontier[:0:0]
		for _, id := range frontier {
			if !visited[id] {
				visited[id] = true
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			break
		}

		level, err := r.LoadBulk(ctx, ids)
		if err != nil {
			return nil, err
		}
		levelIDs := make([]string, 0, len(level))
		frontier = nil
		for _, e := range level {
			levelIDs = append(levelIDs, e.ID)
			frontier = append(frontier, e.GetStringSlice(referralsKey)...)
			members = append(members, e)
		}
		if len(levelIDs) > 0 {
			tree.Levels[levelKey(depth)] = levelIDs
			tree.TotalReferrals += len(levelIDs)
		}
	}

	if withStats {
		tree.Stats = referralStats(members)
	}
	return tree, nil
}

func levelKey(depth int) string {
	return fmt.Sprintf("level_%d", depth)
}

func referralStats(members []*Entity) *ReferralStats {
	s := &ReferralStats{TotalReferrals: len(members)}
	var levelSum int64
	for _, e := range members {
		s.TotalSpending += e.GetFloat("total_spent", 0)
		if e.GetBool("is_active", false) {
			s.ActiveReferrals++
		}
		levelSum += e.GetInt("level", 1)
	}
	if len(members) > 0 {
		s.AverageLevel = float64(levelSum) / float64(len(members))
	}
	return s
}
