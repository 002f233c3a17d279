// Package data loads static game templates (mobs, items, cards) from
// JSON files on disk and answers CEL-filtered queries over them.
package data

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/sharedcode/gamecore"
)

// Loader reads template categories from <root>/<category>/*.json. One
// file holds one template and must carry an "id" field. Loaded
// categories are cached; ReloadCategory refreshes from disk.
type Loader struct {
	root      string
	marshaler gamecore.Marshaler

	mu         sync.RWMutex
	categories map[string]map[string]map[string]any
	programs   map[string]cel.Program
}

func NewLoader(root string) *Loader {
	return &Loader{
		root:       root,
		marshaler:  gamecore.DefaultMarshaler,
		categories: make(map[string]map[string]map[string]any),
		programs:   make(map[string]cel.Program),
	}
}

func (l *Loader) Root() string { return l.root }

// LoadCategory reads every *.json template of the category. Returns the
// number of templates loaded. Loading an already loaded category is a
// cheap no-op; use ReloadCategory to refresh.
func (l *Loader) LoadCategory(ctx context.Context, category string) (int, error) {
	l.mu.RLock()
	if items, ok := l.categories[category]; ok {
		l.mu.RUnlock()
		return len(items), nil
	}
	l.mu.RUnlock()
	return l.load(ctx, category)
}

// ReloadCategory re-reads the category from disk, replacing the cached
// templates.
func (l *Loader) ReloadCategory(ctx context.Context, category string) (int, error) {
	return l.load(ctx, category)
}

func (l *Loader) load(ctx context.Context, category string) (int, error) {
	dir := filepath.Join(l.root, category)
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, gamecore.Errorf(gamecore.Internal, "globbing %s: %v", dir, err)
	}
	if _, serr := os.Stat(dir); serr != nil {
		return 0, gamecore.Errorf(gamecore.NotFound, "template category directory %s not found", dir)
	}
	sort.Strings(paths)

	items := make(map[string]map[string]any, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return 0, gamecore.Errorf(gamecore.Internal, "reading template %s: %v", path, err)
		}
		var tpl map[string]any
		if err := l.marshaler.Unmarshal(raw, &tpl); err != nil {
			return 0, gamecore.Errorf(gamecore.Validation, "template %s is not valid JSON: %v", path, err)
		}
		id, _ := tpl["id"].(string)
		if id == "" {
			return 0, gamecore.Errorf(gamecore.Validation, "template %s is missing the id field", path)
		}
		if _, dup := items[id]; dup {
			return 0, gamecore.Errorf(gamecore.Validation, "duplicate template id %s in category %s", id, category)
		}
		items[id] = tpl
	}

	l.mu.Lock()
	l.categories[category] = items
	l.mu.Unlock()
	return len(items), nil
}

// Get returns one template by id, nil when the id is absent. The
// category must have been loaded.
func (l *Loader) Get(category, id string) (map[string]any, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	items, ok := l.categories[category]
	if !ok {
		return nil, gamecore.Errorf(gamecore.Validation, "category %s is not loaded", category)
	}
	tpl, ok := items[id]
	if !ok {
		return nil, nil
	}
	return deepCopy(tpl), nil
}

// All returns every template of a loaded category, sorted by id.
func (l *Loader) All(category string) ([]map[string]any, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	items, ok := l.categories[category]
	if !ok {
		return nil, gamecore.Errorf(gamecore.Validation, "category %s is not loaded", category)
	}
	out := make([]map[string]any, 0, len(items))
	for _, tpl := range items {
		out = append(out, deepCopy(tpl))
	}
	sort.Slice(out, func(i, j int) bool {
		a, _ := out[i]["id"].(string)
		b, _ := out[j]["id"].(string)
		return a < b
	})
	return out, nil
}

func (l *Loader) IsLoaded(category string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.categories[category]
	return ok
}

// Stats summarizes what is loaded.
type Stats struct {
	Categories  int
	Items       int
	PerCategory map[string]int
}

func (l *Loader) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := Stats{Categories: len(l.categories), PerCategory: make(map[string]int, len(l.categories))}
	for name, items := range l.categories {
		st.Items += len(items)
		st.PerCategory[name] = len(items)
	}
	return st
}

// Filter returns the templates of a loaded category matching a CEL
// expression. The template is bound as the `item` variable and the
// expression must evaluate to bool, e.g. `item.rarity == "S" &&
// item.cost < 500`. Programs are compiled once and cached per
// expression.
func (l *Loader) Filter(category, expression string) ([]map[string]any, error) {
	all, err := l.All(category)
	if err != nil {
		return nil, err
	}
	prg, err := l.program(expression)
	if err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(all))
	for _, tpl := range all {
		match, err := evalBool(prg, tpl)
		if err != nil {
			return nil, err
		}
		if match {
			out = append(out, tpl)
		}
	}
	return out, nil
}

func (l *Loader) program(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, gamecore.Errorf(gamecore.Validation, "filter expression can't be empty string")
	}
	l.mu.RLock()
	prg, ok := l.programs[expression]
	l.mu.RUnlock()
	if ok {
		return prg, nil
	}

	// JSON numbers decode as float64 while filter literals are usually
	// ints; cross-type comparisons keep `item.hp > 50` working.
	env, err := cel.NewEnv(
		cel.Variable("item", cel.MapType(cel.StringType, cel.AnyType)),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, gamecore.Errorf(gamecore.Internal, "error creating CEL environment: %v", err)
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, gamecore.Errorf(gamecore.Validation, "error compiling filter expression: %v", issues.Err())
	}
	prg, err = env.Program(ast)
	if err != nil {
		return nil, gamecore.Errorf(gamecore.Validation, "error creating filter program: %v", err)
	}

	l.mu.Lock()
	l.programs[expression] = prg
	l.mu.Unlock()
	return prg, nil
}

func evalBool(prg cel.Program, item map[string]any) (bool, error) {
	out, _, err := prg.Eval(map[string]any{"item": item})
	if err != nil {
		return false, gamecore.Errorf(gamecore.Validation, "error evaluating filter expression: %v", err)
	}
	nv, err := out.ConvertToNative(reflect.TypeOf(false))
	if err != nil {
		return false, gamecore.Errorf(gamecore.Validation, "filter expression must evaluate to bool: %v", err)
	}
	b, ok := nv.(bool)
	if !ok {
		return false, gamecore.Errorf(gamecore.Validation, "filter expression must evaluate to bool, got %T", nv)
	}
	return b, nil
}

func deepCopy(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case map[string]any:
			out[k] = deepCopy(t)
		case []any:
			s := make([]any, len(t))
			for i, e := range t {
				if em, ok := e.(map[string]any); ok {
					s[i] = deepCopy(em)
				} else {
					s[i] = e
				}
			}
			out[k] = s
		default:
			out[k] = v
		}
	}
	return out
}
