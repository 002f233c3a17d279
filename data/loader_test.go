package data

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/sharedcode/gamecore"
)

var ctx = context.Background()

func writeTemplate(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	root := t.TempDir()
	mobs := filepath.Join(root, "mobs")
	writeTemplate(t, mobs, "goblin.json", `{"id":"goblin_warrior","name":"Goblin Warrior","hp":50,"attack":8,"gold_reward":25}`)
	writeTemplate(t, mobs, "orc.json", `{"id":"orc_chieftain","name":"Orc Chieftain","hp":300,"attack":25,"gold_reward":150}`)
	writeTemplate(t, mobs, "dragon.json", `{"id":"dragon_boss","name":"Dragon","hp":5000,"attack":120,"gold_reward":2500}`)
	cards := filepath.Join(root, "cards")
	writeTemplate(t, cards, "c1.json", `{"id":"card_slime","name":"Slime","rarity":"C","cost":10}`)
	writeTemplate(t, cards, "s1.json", `{"id":"card_phoenix","name":"Phoenix","rarity":"S","cost":480}`)
	writeTemplate(t, cards, "s2.json", `{"id":"card_leviathan","name":"Leviathan","rarity":"S","cost":520}`)
	return NewLoader(root)
}

func TestLoadCategory(t *testing.T) {
	l := newTestLoader(t)
	n, err := l.LoadCategory(ctx, "mobs")
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("loaded %d templates, want 3", n)
	}
	if !l.IsLoaded("mobs") {
		t.Error("IsLoaded(mobs) = false after load")
	}
	if l.IsLoaded("cards") {
		t.Error("IsLoaded(cards) = true before load")
	}

	tpl, err := l.Get("mobs", "goblin_warrior")
	if err != nil {
		t.Fatal(err)
	}
	if tpl == nil || tpl["name"] != "Goblin Warrior" {
		t.Errorf("unexpected template %v", tpl)
	}

	// Absent id is nil without error.
	tpl, err = l.Get("mobs", "nonexistent")
	if err != nil || tpl != nil {
		t.Errorf("Get(absent) = (%v, %v), want (nil, nil)", tpl, err)
	}

	// Unloaded category errors.
	if _, err := l.Get("cards", "card_slime"); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("expected Validation for unloaded category, got %v", err)
	}
}

func TestLoaderIsolation(t *testing.T) {
	l := newTestLoader(t)
	if _, err := l.LoadCategory(ctx, "mobs"); err != nil {
		t.Fatal(err)
	}
	tpl, _ := l.Get("mobs", "goblin_warrior")
	tpl["hp"] = float64(9999)
	again, _ := l.Get("mobs", "goblin_warrior")
	if again["hp"] == float64(9999) {
		t.Error("mutating a returned template leaked into the loader")
	}
}

func TestLoadMissingCategory(t *testing.T) {
	l := newTestLoader(t)
	if _, err := l.LoadCategory(ctx, "spells"); !gamecore.IsCode(err, gamecore.NotFound) {
		t.Errorf("expected NotFound for missing directory, got %v", err)
	}
}

func TestLoadRejectsMissingID(t *testing.T) {
	root := t.TempDir()
	writeTemplate(t, filepath.Join(root, "mobs"), "bad.json", `{"name":"No ID"}`)
	l := NewLoader(root)
	if _, err := l.LoadCategory(ctx, "mobs"); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("expected Validation for missing id, got %v", err)
	}
}

func TestLoadRejectsDuplicateID(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "mobs")
	writeTemplate(t, dir, "a.json", `{"id":"goblin","hp":10}`)
	writeTemplate(t, dir, "b.json", `{"id":"goblin","hp":20}`)
	l := NewLoader(root)
	if _, err := l.LoadCategory(ctx, "mobs"); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("expected Validation for duplicate id, got %v", err)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	root := t.TempDir()
	writeTemplate(t, filepath.Join(root, "mobs"), "broken.json", `{not json`)
	l := NewLoader(root)
	if _, err := l.LoadCategory(ctx, "mobs"); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("expected Validation for bad JSON, got %v", err)
	}
}

func TestAllSortedByID(t *testing.T) {
	l := newTestLoader(t)
	if _, err := l.LoadCategory(ctx, "cards"); err != nil {
		t.Fatal(err)
	}
	all, err := l.All("cards")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("All returned %d templates, want 3", len(all))
	}
	want := []string{"card_leviathan", "card_phoenix", "card_slime"}
	for i, tpl := range all {
		if tpl["id"] != want[i] {
			t.Errorf("All[%d].id = %v, want %s", i, tpl["id"], want[i])
		}
	}
}

func TestReloadCategory(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "mobs")
	writeTemplate(t, dir, "goblin.json", `{"id":"goblin","hp":10}`)
	l := NewLoader(root)
	if _, err := l.LoadCategory(ctx, "mobs"); err != nil {
		t.Fatal(err)
	}

	writeTemplate(t, dir, "orc.json", `{"id":"orc","hp":80}`)
	// LoadCategory is cached; the new file is invisible until reload.
	if n, _ := l.LoadCategory(ctx, "mobs"); n != 1 {
		t.Errorf("cached LoadCategory returned %d, want 1", n)
	}
	n, err := l.ReloadCategory(ctx, "mobs")
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("ReloadCategory returned %d, want 2", n)
	}

	st := l.Stats()
	if st.Categories != 1 || st.Items != 2 || st.PerCategory["mobs"] != 2 {
		t.Errorf("unexpected stats %+v", st)
	}
}

func TestFilter(t *testing.T) {
	l := newTestLoader(t)
	if _, err := l.LoadCategory(ctx, "cards"); err != nil {
		t.Fatal(err)
	}

	sCards, err := l.Filter("cards", `item.rarity == "S"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(sCards) != 2 {
		t.Fatalf("rarity filter matched %d, want 2", len(sCards))
	}

	cheap, err := l.Filter("cards", `item.rarity == "S" && item.cost < 500`)
	if err != nil {
		t.Fatal(err)
	}
	if len(cheap) != 1 || cheap[0]["id"] != "card_phoenix" {
		t.Errorf("combined filter returned %v", cheap)
	}

	none, err := l.Filter("cards", `item.rarity == "SS"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(none) != 0 {
		t.Errorf("expected no matches, got %d", len(none))
	}
}

func TestFilterCompileErrorIsValidation(t *testing.T) {
	l := newTestLoader(t)
	if _, err := l.LoadCategory(ctx, "cards"); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Filter("cards", `item.rarity ==`); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("expected Validation for compile error, got %v", err)
	}
	if _, err := l.Filter("cards", `item.cost`); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("expected Validation for non-bool expression, got %v", err)
	}
	if _, err := l.Filter("cards", ""); !gamecore.IsCode(err, gamecore.Validation) {
		t.Errorf("expected Validation for empty expression, got %v", err)
	}
}
