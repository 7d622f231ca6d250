package geo

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed data/turkey.yaml
var defaultTableYAML []byte

// tableFile is the on-disk YAML layout of a place table.
type tableFile struct {
	Provinces []struct {
		Name      string   `yaml:"name"`
		Districts []string `yaml:"districts"`
	} `yaml:"provinces"`
	Aliases map[string]string `yaml:"aliases"`
}

type district struct {
	cityKey string
	name    string
}

// Table maps folded place names to canonical cities. A Table is immutable
// after loading and safe for concurrent use.
type Table struct {
	cities    map[string]string // key -> display name
	aliases   map[string]string // folded alias -> city key
	districts map[string]district
}

// LoadTable reads a YAML place table. It rejects duplicate provinces, aliases
// that point at unknown provinces, and district names that would resolve to
// more than one province.
func LoadTable(r io.Reader) (*Table, error) {
	var doc tableFile
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode place table: %w", err)
	}
	if len(doc.Provinces) == 0 {
		return nil, errors.New("place table has no provinces")
	}

	t := &Table{
		cities:    make(map[string]string, len(doc.Provinces)),
		aliases:   make(map[string]string, len(doc.Aliases)),
		districts: make(map[string]district),
	}

	for _, p := range doc.Provinces {
		key := Fold(p.Name)
		if key == "" {
			return nil, fmt.Errorf("province %q folds to an empty key", p.Name)
		}
		if existing, ok := t.cities[key]; ok {
			return nil, fmt.Errorf("duplicate province %q (already defined as %q)", p.Name, existing)
		}
		t.cities[key] = p.Name
	}

	for alias, target := range doc.Aliases {
		aliasKey, targetKey := Fold(alias), Fold(target)
		if _, ok := t.cities[targetKey]; !ok {
			return nil, fmt.Errorf("alias %q points at unknown province %q", alias, target)
		}
		if _, ok := t.cities[aliasKey]; ok && aliasKey != targetKey {
			return nil, fmt.Errorf("alias %q shadows province %q", alias, t.cities[aliasKey])
		}
		t.aliases[aliasKey] = targetKey
	}

	for _, p := range doc.Provinces {
		cityKey := Fold(p.Name)
		for _, name := range p.Districts {
			key := Fold(name)
			if key == "" || key == cityKey {
				continue
			}
			if _, ok := t.cities[key]; ok {
				return nil, fmt.Errorf("district %q of %q collides with province %q", name, p.Name, t.cities[key])
			}
			if prev, ok := t.districts[key]; ok && prev.cityKey != cityKey {
				return nil, fmt.Errorf("district %q maps to both %q and %q", name, t.cities[prev.cityKey], p.Name)
			}
			t.districts[key] = district{cityKey: cityKey, name: name}
		}
	}

	return t, nil
}

// LoadTableFile loads a table from path.
func LoadTableFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open place table: %w", err)
	}
	defer f.Close()
	return LoadTable(f)
}

var loadDefaultTable = sync.OnceValues(func() (*Table, error) {
	return LoadTable(bytes.NewReader(defaultTableYAML))
})

// DefaultTable returns the embedded table of Turkish provinces and districts.
func DefaultTable() (*Table, error) {
	return loadDefaultTable()
}

// lookupCity resolves a folded key against provinces and aliases.
func (t *Table) lookupCity(key string) (CanonicalCity, bool) {
	if target, ok := t.aliases[key]; ok {
		key = target
	}
	name, ok := t.cities[key]
	if !ok {
		return CanonicalCity{}, false
	}
	return CanonicalCity{Key: key, Name: name, Known: true}, true
}

// lookupDistrict resolves a folded key against districts.
func (t *Table) lookupDistrict(key string) (CanonicalCity, bool) {
	d, ok := t.districts[key]
	if !ok {
		return CanonicalCity{}, false
	}
	return CanonicalCity{Key: d.cityKey, Name: t.cities[d.cityKey], District: d.name, Known: true}, true
}

// Provinces returns the display names of every province, sorted by key.
func (t *Table) Provinces() []string {
	keys := make([]string, 0, len(t.cities))
	for k := range t.cities {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = t.cities[k]
	}
	return names
}

// DistrictCount is the number of distinct district names in the table.
func (t *Table) DistrictCount() int { return len(t.districts) }
