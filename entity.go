package gamecore

// Envelope fields the engine owns on every persisted entity. They travel with
// the entity's flat map form and are kept out of Attributes.
const (
	FieldID      = "_id"
	FieldType    = "_type"
	FieldVersion = "_version"
)

// Entity is the unit of game state: a schemaless attribute map with an
// engine-owned envelope. Version is the optimistic concurrency token managed
// by Repository.Save; domain counters (e.g. a raid's per-attack counter) are
// ordinary attributes and independent of it.
type Entity struct {
	ID         string
	Type       string
	Version    int64
	Attributes map[string]any
}

// NewEntity returns an empty entity of the given type with Version 1,
// the version an entity holds before its first save.
func NewEntity(id, entityType string) *Entity {
	return &Entity{
		ID:         id,
		Type:       entityType,
		Version:    1,
		Attributes: map[string]any{},
	}
}

// Clone returns a deep copy. Nested maps and slices are copied so mutations
// on the clone can never alias the source. The store and transaction layers
// rely on this as their isolation primitive.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	return &Entity{
		ID:         e.ID,
		Type:       e.Type,
		Version:    e.Version,
		Attributes: deepCopyMap(e.Attributes),
	}
}

// Get returns the raw attribute value and whether it exists.
func (e *Entity) Get(key string) (any, bool) {
	v, ok := e.Attributes[key]
	return v, ok
}

// Set assigns an attribute and returns the entity for chaining.
func (e *Entity) Set(key string, value any) *Entity {
	if e.Attributes == nil {
		e.Attributes = map[string]any{}
	}
	e.Attributes[key] = value
	return e
}

// Delete removes an attribute if present.
func (e *Entity) Delete(key string) {
	delete(e.Attributes, key)
}

// GetString returns the attribute as a string or def when absent/mistyped.
func (e *Entity) GetString(key, def string) string {
	if v, ok := e.Attributes[key].(string); ok {
		return v
	}
	return def
}

// GetInt returns the attribute as an int64 or def when absent/mistyped.
// JSON decoding yields float64 for numbers; both forms are accepted.
func (e *Entity) GetInt(key string, def int64) int64 {
	switch v := e.Attributes[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case float32:
		return int64(v)
	}
	return def
}

// GetFloat returns the attribute as a float64 or def when absent/mistyped.
func (e *Entity) GetFloat(key string, def float64) float64 {
	switch v := e.Attributes[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

// GetBool returns the attribute as a bool or def when absent/mistyped.
func (e *Entity) GetBool(key string, def bool) bool {
	if v, ok := e.Attributes[key].(bool); ok {
		return v
	}
	return def
}

// GetMap returns the attribute as a map or nil when absent/mistyped.
func (e *Entity) GetMap(key string) map[string]any {
	if v, ok := e.Attributes[key].(map[string]any); ok {
		return v
	}
	return nil
}

// GetSlice returns the attribute as a slice or nil when absent/mistyped.
func (e *Entity) GetSlice(key string) []any {
	if v, ok := e.Attributes[key].([]any); ok {
		return v
	}
	return nil
}

// GetStringSlice returns the attribute coerced to []string, skipping
// non-string elements. Useful for id lists such as a player's referrals.
func (e *Entity) GetStringSlice(key string) []string {
	raw := e.GetSlice(key)
	if raw == nil {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ToMap flattens the entity into a single map carrying the envelope fields.
// The result is a deep copy; callers may mutate it freely.
func (e *Entity) ToMap() map[string]any {
	m := deepCopyMap(e.Attributes)
	if m == nil {
		m = map[string]any{}
	}
	m[FieldID] = e.ID
	m[FieldType] = e.Type
	m[FieldVersion] = e.Version
	return m
}

// FromMap builds an Entity from a flat map, extracting the envelope fields
// out of the attributes. A missing _version defaults to 1.
func FromMap(m map[string]any) *Entity {
	e := &Entity{
		Version:    1,
		Attributes: map[string]any{},
	}
	for k, v := range m {
		switch k {
		case FieldID:
			if s, ok := v.(string); ok {
				e.ID = s
			}
		case FieldType:
			if s, ok := v.(string); ok {
				e.Type = s
			}
		case FieldVersion:
			switch n := v.(type) {
			case int64:
				e.Version = n
			case int:
				e.Version = int64(n)
			case float64:
				e.Version = int64(n)
			}
		default:
			e.Attributes[k] = deepCopyValue(v)
		}
	}
	return e
}

func deepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return deepCopyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = deepCopyValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	default:
		// Scalars (and time.Time) are value types.
		return v
	}
}
