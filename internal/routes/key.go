// Package routes discovers lazy route declarations and accumulates them
// across incremental builds. The accumulated map only grows: a resolved
// entry never regresses and entries are never pruned.
package routes

import (
	"fmt"
	"sort"
	"strings"
)

// Variant says whether a key names the authored module or the generated
// factory that codegen mode emits for it.
type Variant int

const (
	VariantSource Variant = iota
	VariantGenerated
)

const (
	factoryModuleSuffix = ".ngfactory"
	factoryExportSuffix = "NgFactory"
)

func (v Variant) String() string {
	if v == VariantGenerated {
		return "generated"
	}
	return "source"
}

// Key identifies a lazy route target as written in a loadChildren value.
type Key struct {
	Module  string
	Export  string
	Variant Variant
}

// ParseKey parses "module#Export". A missing export means "default".
// Keys spelled in the generated form parse to VariantGenerated with the
// suffixes stripped.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	module, export, _ := strings.Cut(s, "#")
	if module == "" {
		return Key{}, fmt.Errorf("invalid route %q: empty module", s)
	}
	if export == "" {
		export = "default"
	}
	k := Key{Module: module, Export: export}
	if strings.HasSuffix(module, factoryModuleSuffix) && strings.HasSuffix(export, factoryExportSuffix) {
		k.Module = strings.TrimSuffix(module, factoryModuleSuffix)
		k.Export = strings.TrimSuffix(export, factoryExportSuffix)
		k.Variant = VariantGenerated
	}
	return k, nil
}

func (k Key) String() string {
	if k.Variant == VariantGenerated {
		return k.Module + factoryModuleSuffix + "#" + k.Export + factoryExportSuffix
	}
	return k.Module + "#" + k.Export
}

// Generated returns the factory variant of k.
func (k Key) Generated() Key {
	k.Variant = VariantGenerated
	return k
}

// Source returns the authored variant of k.
func (k Key) Source() Key {
	k.Variant = VariantSource
	return k
}

// Entry is the resolved module path of a route. The zero Entry is the
// null value: the target has not been resolved.
type Entry struct {
	Path     string
	Resolved bool
}

// ResolvedEntry returns a resolved entry for path.
func ResolvedEntry(path string) Entry {
	return Entry{Path: path, Resolved: true}
}

func (e Entry) String() string {
	if !e.Resolved {
		return "<unresolved>"
	}
	return e.Path
}

// Map is a route map.
type Map map[Key]Entry

// Keys returns the keys of m in string order.
func (m Map) Keys() []Key {
	keys := make([]Key, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// Clone returns a copy of m.
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
