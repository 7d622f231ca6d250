package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

// SourceCode identifies the seismological agency that reported an event.
type SourceCode string

const (
	SourceKandilli SourceCode = "kandilli"
	SourceAFAD     SourceCode = "afad"
	SourceUSGS     SourceCode = "usgs"
	SourceEMSC     SourceCode = "emsc"
	SourceIRIS     SourceCode = "iris"
)

// SourceAll is the profile-side sentinel meaning "every agency". It is never a
// valid event source.
const SourceAll = "all"

var knownSources = []SourceCode{SourceKandilli, SourceAFAD, SourceUSGS, SourceEMSC, SourceIRIS}

// KnownSources returns the fixed source enumeration in declaration order.
func KnownSources() []SourceCode {
	return slices.Clone(knownSources)
}

// ParseSourceCode normalizes s and checks it against the enumeration.
// The "all" sentinel is rejected.
func ParseSourceCode(s string) (SourceCode, error) {
	code := SourceCode(strings.ToLower(strings.TrimSpace(s)))
	if slices.Contains(knownSources, code) {
		return code, nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// SourceSelection is the source filter of a profile: either every source or an
// explicit non-empty set of codes, never both. The zero value selects nothing
// and is treated as malformed.
type SourceSelection struct {
	all   bool
	codes []SourceCode // sorted, unique
}

// AllSourcesSelection selects every source.
func AllSourcesSelection() SourceSelection {
	return SourceSelection{all: true}
}

// ExplicitSources selects exactly the given codes.
func ExplicitSources(codes ...SourceCode) (SourceSelection, error) {
	if len(codes) == 0 {
		return SourceSelection{}, NewValidationError("sources", "at least one source is required")
	}
	out := make([]SourceCode, 0, len(codes))
	for _, c := range codes {
		if !slices.Contains(knownSources, c) {
			return SourceSelection{}, NewValidationError("sources", fmt.Sprintf("unknown source %q", c))
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	slices.Sort(out)
	return SourceSelection{codes: out}, nil
}

// ParseSourceSelection reads the loosely-typed list form used in storage and
// on the wire. "all" may only appear alone.
func ParseSourceSelection(values []string) (SourceSelection, error) {
	if len(values) == 0 {
		return SourceSelection{}, NewValidationError("sources", "at least one source is required")
	}
	codes := make([]SourceCode, 0, len(values))
	sawAll := false
	for _, v := range values {
		if strings.EqualFold(strings.TrimSpace(v), SourceAll) {
			sawAll = true
			continue
		}
		code, err := ParseSourceCode(v)
		if err != nil {
			return SourceSelection{}, NewValidationError("sources", err.Error())
		}
		codes = append(codes, code)
	}
	if sawAll {
		if len(codes) > 0 {
			return SourceSelection{}, NewValidationError("sources", `"all" cannot be combined with explicit sources`)
		}
		return AllSourcesSelection(), nil
	}
	return ExplicitSources(codes...)
}

// Select applies the picker toggle semantics: choosing "all" clears explicit
// codes, choosing a code while "all" is selected replaces "all" with that code.
func (s SourceSelection) Select(token string) (SourceSelection, error) {
	if strings.EqualFold(strings.TrimSpace(token), SourceAll) {
		return AllSourcesSelection(), nil
	}
	code, err := ParseSourceCode(token)
	if err != nil {
		return s, NewValidationError("sources", err.Error())
	}
	if s.all {
		return ExplicitSources(code)
	}
	return ExplicitSources(append(slices.Clone(s.codes), code)...)
}

// Deselect removes a code. Removing the last explicit code is rejected so the
// selection never becomes empty.
func (s SourceSelection) Deselect(code SourceCode) (SourceSelection, error) {
	if s.all || !slices.Contains(s.codes, code) {
		return s, nil
	}
	if len(s.codes) == 1 {
		return s, NewValidationError("sources", "at least one source is required")
	}
	rest := slices.DeleteFunc(slices.Clone(s.codes), func(c SourceCode) bool { return c == code })
	return SourceSelection{codes: rest}, nil
}

// IsAll reports whether every source is selected.
func (s SourceSelection) IsAll() bool { return s.all }

// IsEmpty reports whether nothing is selected (the zero value).
func (s SourceSelection) IsEmpty() bool { return !s.all && len(s.codes) == 0 }

// Codes returns the explicit codes in sorted order, or nil when IsAll.
func (s SourceSelection) Codes() []SourceCode { return slices.Clone(s.codes) }

// Contains reports whether an event from code passes the filter.
func (s SourceSelection) Contains(code SourceCode) bool {
	return s.all || slices.Contains(s.codes, code)
}

// Strings returns the list form used in storage and on the wire.
func (s SourceSelection) Strings() []string {
	if s.all {
		return []string{SourceAll}
	}
	out := make([]string, len(s.codes))
	for i, c := range s.codes {
		out[i] = string(c)
	}
	return out
}

func (s SourceSelection) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Strings())
}

func (s *SourceSelection) UnmarshalJSON(data []byte) error {
	var values []string
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	parsed, err := ParseSourceSelection(values)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
