package gamecore

import (
	"reflect"
	"testing"
)

func TestEntityCloneIsolation(t *testing.T) {
	e := NewEntity("player_1", "player")
	e.Set("gold", int64(100))
	e.Set("stats", map[string]any{"attack": int64(10), "tags": []any{"new"}})

	c := e.Clone()
	c.Set("gold", int64(999))
	c.GetMap("stats")["attack"] = int64(77)
	c.GetMap("stats")["tags"].([]any)[0] = "mutated"

	if got := e.GetInt("gold", 0); got != 100 {
		t.Errorf("clone mutation leaked into source gold: %v", got)
	}
	if got := e.GetMap("stats")["attack"]; got != int64(10) {
		t.Errorf("clone mutation leaked into nested map: %v", got)
	}
	if got := e.GetMap("stats")["tags"].([]any)[0]; got != "new" {
		t.Errorf("clone mutation leaked into nested slice: %v", got)
	}
}

func TestEntityCloneNil(t *testing.T) {
	var e *Entity
	if e.Clone() != nil {
		t.Error("nil entity should clone to nil")
	}
}

func TestEntityMapRoundTrip(t *testing.T) {
	e := NewEntity("mob_1", "mob")
	e.Version = 7
	e.Set("hp", int64(50))
	e.Set("name", "Goblin")

	m := e.ToMap()
	if m[FieldID] != "mob_1" || m[FieldType] != "mob" || m[FieldVersion] != int64(7) {
		t.Fatalf("envelope not flattened: %v", m)
	}

	back := FromMap(m)
	if back.ID != e.ID || back.Type != e.Type || back.Version != e.Version {
		t.Errorf("envelope lost in round trip: %+v", back)
	}
	if !reflect.DeepEqual(back.Attributes, e.Attributes) {
		t.Errorf("attributes lost in round trip: %v vs %v", back.Attributes, e.Attributes)
	}
	if _, ok := back.Attributes[FieldID]; ok {
		t.Error("envelope field leaked into attributes")
	}
}

func TestFromMapDefaults(t *testing.T) {
	e := FromMap(map[string]any{FieldID: "x", FieldType: "item"})
	if e.Version != 1 {
		t.Errorf("missing _version should default to 1, got %d", e.Version)
	}
	// JSON decoding surfaces numbers as float64.
	e = FromMap(map[string]any{FieldID: "y", FieldVersion: float64(42)})
	if e.Version != 42 {
		t.Errorf("float64 _version not accepted, got %d", e.Version)
	}
}

func TestEntityTypedGetters(t *testing.T) {
	e := NewEntity("i", "item")
	e.Set("count", float64(3)) // as JSON would decode it
	e.Set("rate", int64(2))
	e.Set("name", "Sword")
	e.Set("owned", true)
	e.Set("ids", []any{"a", "b", int64(1)})

	if got := e.GetInt("count", 0); got != 3 {
		t.Errorf("GetInt over float64: %d", got)
	}
	if got := e.GetFloat("rate", 0); got != 2.0 {
		t.Errorf("GetFloat over int64: %v", got)
	}
	if got := e.GetString("name", ""); got != "Sword" {
		t.Errorf("GetString: %q", got)
	}
	if !e.GetBool("owned", false) {
		t.Error("GetBool")
	}
	if got := e.GetStringSlice("ids"); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("GetStringSlice should skip non-strings: %v", got)
	}
	if got := e.GetInt("missing", -1); got != -1 {
		t.Errorf("default not honored: %d", got)
	}
}

func TestNewIDForm(t *testing.T) {
	id := NewID("player")
	if len(id) != len("player_")+8 {
		t.Errorf("unexpected id form: %q", id)
	}
	if id[:7] != "player_" {
		t.Errorf("missing prefix: %q", id)
	}
	if id == NewID("player") {
		t.Error("two generated ids collided")
	}
}
