package gamecore

import "testing"

func TestStatusDefaultsToActive(t *testing.T) {
	e := NewEntity("card_1", "card")
	if e.Status() != StatusActive {
		t.Errorf("default status = %s", e.Status())
	}
	if !e.IsUsable() || !e.IsTradable() {
		t.Error("fresh entity should be usable and tradable")
	}
}

func TestStatusTransitionsGateUsability(t *testing.T) {
	cases := []struct {
		status   Status
		usable   bool
		tradable bool
	}{
		{StatusActive, true, true},
		{StatusReserved, true, true},
		{StatusEquipped, true, false},
		{StatusLocked, false, false},
		{StatusOnAuction, false, false},
		{StatusInTrade, false, false},
		{StatusConsumed, false, false},
	}
	for _, c := range cases {
		e := NewEntity("x", "card")
		e.SetStatus(c.status)
		if e.IsUsable() != c.usable {
			t.Errorf("%s: IsUsable = %v, want %v", c.status, e.IsUsable(), c.usable)
		}
		if e.IsTradable() != c.tradable {
			t.Errorf("%s: IsTradable = %v, want %v", c.status, e.IsTradable(), c.tradable)
		}
	}
}

func TestRequireStatusErrors(t *testing.T) {
	e := NewEntity("card_2", "card")
	e.SetStatus(StatusLocked)

	if err := RequireStatus(e, StatusActive); !IsCode(err, Validation) {
		t.Errorf("RequireStatus should return Validation, got %v", err)
	}
	if err := RequireUsable(e); !IsCode(err, Validation) {
		t.Errorf("RequireUsable should return Validation, got %v", err)
	}
	e.SetStatus(StatusActive)
	if err := RequireUsable(e); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewFromTemplate(t *testing.T) {
	template := map[string]any{
		"id":     "goblin_warrior",
		"name":   "Goblin Warrior",
		"hp":     int64(50),
		"skills": []any{"slash"},
	}
	e := NewFromTemplate(template, "mob", "player_1", map[string]any{"current_hp": int64(50)})

	if e.Type != "mob" || e.ID == "" {
		t.Fatalf("bad envelope: %+v", e)
	}
	if ProtoID(e) != "goblin_warrior" {
		t.Errorf("proto id = %q", ProtoID(e))
	}
	if _, ok := e.Get("id"); ok {
		t.Error("template id field should move into proto_id")
	}
	if OwnerID(e) != "player_1" {
		t.Errorf("owner = %q", OwnerID(e))
	}
	if e.Status() != StatusActive {
		t.Errorf("status = %s", e.Status())
	}
	if e.GetInt("current_hp", 0) != 50 {
		t.Error("custom field not merged")
	}

	// The template must not be aliased.
	e.GetSlice("skills")[0] = "mutated"
	if template["skills"].([]any)[0] != "slash" {
		t.Error("template aliased by instance")
	}
}

func TestNewFromTemplateProtoFallback(t *testing.T) {
	e := NewFromTemplate(map[string]any{"name": "Mystery"}, "item", "", nil)
	if ProtoID(e) != "proto_item" {
		t.Errorf("fallback proto id = %q", ProtoID(e))
	}
}

func TestGroupByProto(t *testing.T) {
	tpl := map[string]any{"id": "slime"}
	batch := NewBatchFromTemplate(3, tpl, "mob", "", nil)
	batch = append(batch, NewFromTemplate(map[string]any{"id": "bat"}, "mob", "", nil))

	groups := GroupByProto(batch)
	if len(groups["slime"]) != 3 || len(groups["bat"]) != 1 {
		t.Errorf("grouping wrong: %v", CountByProto(batch))
	}
	if !SameProto(batch[0], batch[1]) {
		t.Error("same-template instances should share proto")
	}
	if SameProto(batch[0], batch[3]) {
		t.Error("different templates should not share proto")
	}
}
