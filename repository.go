package gamecore

import (
	"context"
)

// Repository is the durable store behind the working set. Implementations
// own the entity Version: Save on an existing id succeeds only when the
// caller's Version matches the stored one, then stores and reflects back
// Version+1; Save on a new id stores the caller's Version as-is (1 when
// unset). A mismatch returns an Error with code Conflict and the stored
// row is left untouched.
//
// All methods are safe for concurrent use.
type Repository interface {
	// Save inserts or updates the entity under the optimistic version rule.
	Save(ctx context.Context, e *Entity) error
	// Load fetches an entity by id; (nil, nil) when absent.
	Load(ctx context.Context, id string) (*Entity, error)
	// LoadBulk fetches the given ids in one round trip; absent ids are skipped.
	LoadBulk(ctx context.Context, ids []string) ([]*Entity, error)
	// Delete removes an entity; deleting an absent id is a no-op.
	Delete(ctx context.Context, id string) error
	// Exists reports whether the id is stored.
	Exists(ctx context.Context, id string) (bool, error)
	// ListByType returns all entities whose envelope type matches.
	ListByType(ctx context.Context, entityType string) ([]*Entity, error)
	// Count returns the number of stored entities.
	Count(ctx context.Context) (int, error)
	// Clear removes every stored entity.
	Clear(ctx context.Context) error
}

// ReferralTree is the result of walking a player's referral graph breadth
// first. Levels is keyed "level_1".."level_N" holding the player ids found
// at each depth.
type ReferralTree struct {
	PlayerID        string
	DirectReferrals []string
	TotalReferrals  int
	Levels          map[string][]string
	Stats           *ReferralStats
}

// ReferralStats aggregates over every player in the tree.
type ReferralStats struct {
	TotalSpending   float64
	ActiveReferrals int
	TotalReferrals  int
	AverageLevel    float64
}

// ReferralRepository extends Repository with the referral graph operations.
// Referral links live on the player entities themselves (referrer_id on the
// referred player, a referrals id list on the referrer).
type ReferralRepository interface {
	Repository

	// AddReferral links referred under referrer. It returns (false, nil)
	// when the referred player already has a referrer. Both players must
	// exist (NotFound otherwise) and the link must not close a cycle
	// (Validation otherwise); self referral counts as a cycle.
	AddReferral(ctx context.Context, referrerID, referredID string) (bool, error)
	// Referrer returns who referred the player, or "" when nobody did.
	Referrer(ctx context.Context, playerID string) (string, error)
	// DirectReferrals returns the ids the player directly referred.
	DirectReferrals(ctx context.Context, playerID string) ([]string, error)
	// ReferralTree walks the graph breadth first down to maxDepth levels,
	// loading each level with one bulk read. withStats adds aggregates.
	ReferralTree(ctx context.Context, playerID string, maxDepth int, withStats bool) (*ReferralTree, error)
}
