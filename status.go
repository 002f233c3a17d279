package gamecore

// Status is an entity's lifecycle state, stored under the "status" attribute.
type Status string

const (
	StatusActive    Status = "active"
	StatusLocked    Status = "locked"
	StatusOnAuction Status = "on_auction"
	StatusInTrade   Status = "in_trade"
	StatusEquipped  Status = "equipped"
	StatusConsumed  Status = "consumed"
	StatusReserved  Status = "reserved"
)

const statusKey = "status"

// Status returns the entity's lifecycle state, defaulting to active.
func (e *Entity) Status() Status {
	return Status(e.GetString(statusKey, string(StatusActive)))
}

// SetStatus assigns the entity's lifecycle state.
func (e *Entity) SetStatus(s Status) {
	e.Set(statusKey, string(s))
}

// HasStatus reports whether the entity is in the given state.
func (e *Entity) HasStatus(s Status) bool {
	return e.Status() == s
}

// IsUsable reports whether the entity can be consumed or acted on. Entities
// held by auctions, trades, locks, or already consumed are not usable.
func (e *Entity) IsUsable() bool {
	switch e.Status() {
	case StatusOnAuction, StatusInTrade, StatusLocked, StatusConsumed:
		return false
	}
	return true
}

// IsTradable reports whether the entity can change owners. Equipped items
// additionally cannot be traded.
func (e *Entity) IsTradable() bool {
	return e.IsUsable() && e.Status() != StatusEquipped
}

// RequireStatus returns a Validation error unless the entity is in the given state.
func RequireStatus(e *Entity, s Status) error {
	if got := e.Status(); got != s {
		return Errorf(Validation, "entity %s: expected status %s, got %s", e.ID, s, got)
	}
	return nil
}

// RequireUsable returns a Validation error unless the entity is usable.
func RequireUsable(e *Entity) error {
	if !e.IsUsable() {
		return Errorf(Validation, "entity %s is %s", e.ID, e.Status())
	}
	return nil
}

// RequireTradable returns a Validation error unless the entity is tradable.
func RequireTradable(e *Entity) error {
	if !e.IsTradable() {
		return Errorf(Validation, "entity %s is %s", e.ID, e.Status())
	}
	return nil
}

// FilterByStatus returns the entities in the given state.
func FilterByStatus(entities []*Entity, s Status) []*Entity {
	var out []*Entity
	for _, e := range entities {
		if e.HasStatus(s) {
			out = append(out, e)
		}
	}
	return out
}

// FilterUsable returns the usable entities.
func FilterUsable(entities []*Entity) []*Entity {
	var out []*Entity
	for _, e := range entities {
		if e.IsUsable() {
			out = append(out, e)
		}
	}
	return out
}
