// Package geo canonicalizes free-text Turkish place names so that profile
// cities and event locations can be compared by key.
package geo

import (
	"regexp"
	"strings"
)

// CanonicalCity is the normalized form of a place name. Key is the only field
// used for comparison; Name is for display.
type CanonicalCity struct {
	Key      string `json:"key"`
	Name     string `json:"name"`
	District string `json:"district,omitempty"`
	Known    bool   `json:"known"`
}

func (c CanonicalCity) String() string {
	if c.District != "" {
		return c.District + ", " + c.Name
	}
	return c.Name
}

var (
	// "SINDIRGI (BALIKESIR)" as written by Kandilli and AFAD.
	parenthetical = regexp.MustCompile(`^(.*?)\s*\(([^()]*)\)\s*$`)

	// "10 km SW of Sindirgi, Turkey" as written by USGS and EMSC.
	distancePrefix = regexp.MustCompile(`(?i)^\s*\d+(?:\.\d+)?\s*km\s+[NSEW]{1,3}\s+of\s+`)

	partSeparators = regexp.MustCompile(`[,/;-]`)
)

// Normalizer maps raw place text to a CanonicalCity using a Table. It holds no
// mutable state and is safe for concurrent use.
type Normalizer struct {
	table *Table
}

// NewNormalizer returns a Normalizer backed by table.
func NewNormalizer(table *Table) *Normalizer {
	return &Normalizer{table: table}
}

// Normalize resolves raw to a province. Districts resolve to their province
// with District set. Text that matches nothing comes back with Known false and
// its folded form as both Key and Name, so an unknown place never equals a
// known one.
//
// Normalize(Normalize(x).Name) yields the same Key, Name and Known as
// Normalize(x).
func (n *Normalizer) Normalize(raw string) CanonicalCity {
	text := strings.TrimSpace(raw)
	if text == "" {
		return CanonicalCity{}
	}

	if m := parenthetical.FindStringSubmatch(text); m != nil {
		outer, inner := strings.TrimSpace(m[1]), strings.TrimSpace(m[2])
		if city, ok := n.table.lookupCity(Fold(inner)); ok {
			city.District = n.districtLabel(outer, city.Key)
			return city
		}
		if city, ok := n.resolve(outer); ok {
			return city
		}
	}

	stripped := distancePrefix.ReplaceAllString(text, "")
	if parts := partSeparators.Split(stripped, -1); len(parts) > 1 || stripped != text {
		if city, ok := n.resolveParts(parts); ok {
			return city
		}
	}

	if city, ok := n.resolve(text); ok {
		return city
	}

	key := Fold(text)
	return CanonicalCity{Key: key, Name: key}
}

// Known reports whether raw resolves to a province in the table.
func (n *Normalizer) Known(raw string) bool {
	return n.Normalize(raw).Known
}

func (n *Normalizer) resolve(text string) (CanonicalCity, bool) {
	key := Fold(text)
	if key == "" {
		return CanonicalCity{}, false
	}
	if city, ok := n.table.lookupCity(key); ok {
		return city, true
	}
	return n.table.lookupDistrict(key)
}

// resolveParts prefers a province named in any part over a district named in
// an earlier one.
func (n *Normalizer) resolveParts(parts []string) (CanonicalCity, bool) {
	keys := make([]string, 0, len(parts))
	for _, p := range parts {
		if k := Fold(p); k != "" {
			keys = append(keys, k)
		}
	}
	for _, k := range keys {
		if city, ok := n.table.lookupCity(k); ok {
			return city, true
		}
	}
	for _, k := range keys {
		if city, ok := n.table.lookupDistrict(k); ok {
			return city, true
		}
	}
	return CanonicalCity{}, false
}

// districtLabel prefers the table's spelling when outer is a known district of
// cityKey.
func (n *Normalizer) districtLabel(outer, cityKey string) string {
	if d, ok := n.table.districts[Fold(outer)]; ok && d.cityKey == cityKey {
		return d.name
	}
	return outer
}
