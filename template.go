package gamecore

// Template instantiation: static game data (mobs, items, cards) is defined
// once as a template map and minted into unique entities at runtime. Each
// instance records its prototype under "proto_id" so instances of the same
// template can be grouped, counted, and matched regardless of their ids.

const (
	protoKey = "proto_id"
	ownerKey = "owner_id"
)

// NewFromTemplate mints a unique entity from a template map. The template is
// deep copied, never aliased. Prototype resolution: the template's "id" field
// when present, else an existing "proto_id", else "proto_<type>". ownerID and
// custom fields are optional; custom fields are merged last and win.
func NewFromTemplate(template map[string]any, entityType, ownerID string, custom map[string]any) *Entity {
	e := NewEntity(NewID(entityType), entityType)
	e.Attributes = deepCopyMap(template)
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}

	if id, ok := e.Attributes["id"].(string); ok && id != "" {
		e.Set(protoKey, id)
		e.Delete("id")
	} else if _, ok := e.Attributes[protoKey]; !ok {
		e.Set(protoKey, "proto_"+entityType)
	}

	if ownerID != "" {
		e.Set(ownerKey, ownerID)
	}
	if _, ok := e.Attributes[statusKey]; !ok {
		e.SetStatus(StatusActive)
	}
	for k, v := range custom {
		e.Set(k, deepCopyValue(v))
	}
	return e
}

// NewBatchFromTemplate mints n unique entities from one template.
func NewBatchFromTemplate(n int, template map[string]any, entityType, ownerID string, custom map[string]any) []*Entity {
	out := make([]*Entity, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, NewFromTemplate(template, entityType, ownerID, custom))
	}
	return out
}

// ProtoID returns the entity's prototype id, or "" when it was not minted
// from a template.
func ProtoID(e *Entity) string {
	return e.GetString(protoKey, "")
}

// OwnerID returns the owning player's id, or "".
func OwnerID(e *Entity) string {
	return e.GetString(ownerKey, "")
}

// SameProto reports whether two entities share a prototype.
func SameProto(a, b *Entity) bool {
	pa := ProtoID(a)
	return pa != "" && pa == ProtoID(b)
}

// GroupByProto buckets entities by prototype id. Entities without one are
// grouped under "".
func GroupByProto(entities []*Entity) map[string][]*Entity {
	out := map[string][]*Entity{}
	for _, e := range entities {
		p := ProtoID(e)
		out[p] = append(out[p], e)
	}
	return out
}

// CountByProto tallies entities per prototype id.
func CountByProto(entities []*Entity) map[string]int {
	out := map[string]int{}
	for _, e := range entities {
		out[ProtoID(e)]++
	}
	return out
}
