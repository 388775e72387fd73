// Package preferences parses weighted `Accept-*` style header values and selects
// the best of what the server is willing to offer.
package preferences

import (
	"slices"
	"strings"
)

// Preference is one element of a weighted list such as `gzip;q=0.8`.
type Preference[T comparable] struct {
	Selector Selector[T]
	Weight   Weight
}

// Preferences is a preference list sorted by descending weight.
// Equal weights keep the order in which the client sent them.
type Preferences[T comparable] []Preference[T]

// Parse parses header values into sorted preferences.
// A token with an unknown selection or a malformed weight is dropped,
// the rest of the list is kept.
func Parse[T comparable](values []string, parse func(string) (T, bool)) Preferences[T] {
	var prefs Preferences[T]
	for _, value := range values {
		for _, token := range strings.Split(value, ",") {
			token = strings.TrimSpace(token)
			if token == "" {
				continue
			}
			if pref, ok := parsePreference(token, parse); ok {
				prefs = append(prefs, pref)
			}
		}
	}
	slices.SortStableFunc(prefs, func(a, b Preference[T]) int {
		return int(b.Weight) - int(a.Weight)
	})
	return prefs
}

func parsePreference[T comparable](token string, parse func(string) (T, bool)) (Preference[T], bool) {
	selection, params, hasParams := strings.Cut(token, ";")
	pref := Preference[T]{Weight: MaxWeight}

	selection = strings.TrimSpace(selection)
	if selection == "" {
		return pref, false
	} else if selection == "*" {
		pref.Selector = AnySelector[T]()
	} else if v, ok := parse(selection); ok {
		pref.Selector = Specific(v)
	} else {
		return pref, false
	}

	if hasParams {
		w, ok := ParseWeight(params)
		if !ok {
			return pref, false
		}
		pref.Weight = w
	}
	return pref, true
}

// Best selects the most preferred of the allowances, which are given in the
// server's order of preference.
//
// The first preference matching any allowance wins. If it is specific, the
// following specific preferences with the very same weight are considered
// just as good. Remaining ties go to the earliest allowance.
// Selections with weight 0 are not acceptable and are never returned.
func (p Preferences[T]) Best(allowances []T) (T, bool) {
	var zero T
	allowed := p.acceptable(allowances)

	var candidates []T
	for i, pref := range p {
		if pref.Weight == 0 {
			break
		}
		candidates = pref.Selector.Select(allowed)
		if len(candidates) == 0 {
			continue
		}
		if !pref.Selector.Any {
			for _, tied := range p[i+1:] {
				if tied.Weight != pref.Weight {
					break
				}
				if !tied.Selector.Any {
					candidates = append(candidates, tied.Selector.Select(allowed)...)
				}
			}
		}
		break
	}

	switch len(candidates) {
	case 0:
		return zero, false
	case 1:
		return candidates[0], true
	}
	for _, a := range allowed {
		if slices.Contains(candidates, a) {
			return a, true
		}
	}
	return zero, false
}

// BestOrFirst is Best, falling back to the first allowance.
func (p Preferences[T]) BestOrFirst(allowances []T) T {
	if best, ok := p.Best(allowances); ok {
		return best
	}
	var zero T
	if len(allowances) == 0 {
		return zero
	}
	return allowances[0]
}

// acceptable drops allowances the client explicitly refused with q=0.
func (p Preferences[T]) acceptable(allowances []T) []T {
	var refused []T
	for _, pref := range p {
		if pref.Weight == 0 && !pref.Selector.Any {
			refused = append(refused, pref.Selector.Value)
		}
	}
	if len(refused) == 0 {
		return allowances
	}
	allowed := make([]T, 0, len(allowances))
	for _, a := range allowances {
		if !slices.Contains(refused, a) {
			allowed = append(allowed, a)
		}
	}
	return allowed
}
