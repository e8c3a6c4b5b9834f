// Package registry implements the search-root override policy used by the
// module loader: when two search roots produce a candidate with the same
// name, the candidate from the higher-priority root wins, and a same-
// priority collision is a hard configuration error.
//
// This generalizes the conflict-resolution concept of a map-based service
// registry (register-by-name with a configurable collision policy) into
// ordered priority layers, per the module host's discovery design: static
// registration replaces directory-scan-plus-reflection discovery, and the
// search-root override policy becomes ordered registry layers.
package registry

import "fmt"

// Candidate is anything that can be resolved by the layered override
// policy: it has a name contended for uniqueness.
type Candidate interface {
	CandidateName() string
}

// Layer is an ordered, named source of candidates. Layers are supplied in
// priority order: the first layer in the slice passed to Resolve wins
// ties against later layers. Name identifies the layer in a DuplicateError;
// Resolve does not attach it to the winning candidate, and it plays no role
// in ordering beyond slice position.
type Layer[T Candidate] struct {
	Name       string
	Candidates []T
}

// DuplicateError reports a same-priority collision: two candidates with
// the same name registered within the same layer.
type DuplicateError struct {
	Name  string
	Layer string
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("registry: duplicate candidate %q within layer %q", e.Name, e.Layer)
}

// Resolve applies the override policy across layers, given in priority
// order (layers[0] is highest priority). It returns the winning candidate
// per name plus the ordered list of names in first-seen-overall order
// (highest priority layer's discovery order first), which downstream
// resolution (e.g. the dependency sort) uses as a stable tie-break.
//
// A collision between two candidates of the same name within the *same*
// layer is a hard error (DuplicateError): same-priority duplicates are not
// a valid override, only a cross-layer shadow is. A collision across
// different layers is expected and resolved by picking the first layer
// (by position) that defines the name.
func Resolve[T Candidate](layers []Layer[T]) (map[string]T, []string, error) {
	winners := make(map[string]T)
	order := make([]string, 0)
	seenLayer := make(map[string]map[string]bool)

	for _, layer := range layers {
		seenLayer[layer.Name] = make(map[string]bool)
		for _, c := range layer.Candidates {
			name := c.CandidateName()

			if seenLayer[layer.Name][name] {
				return nil, nil, &DuplicateError{Name: name, Layer: layer.Name}
			}
			seenLayer[layer.Name][name] = true

			if _, already := winners[name]; already {
				// A higher-priority layer already claimed this name;
				// this layer's candidate is shadowed, not an error.
				continue
			}
			winners[name] = c
			order = append(order, name)
		}
	}

	return winners, order, nil
}
