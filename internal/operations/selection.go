package operations

import (
	"fmt"
	"slices"
)

// SelectionSet is the ordered, deduplicated set of classes chosen for one
// invocation. It is immutable once built.
type SelectionSet struct {
	kind    Kind
	classes []*StageClass
}

// NewSelectionSet builds a set from classes, dropping repeated names
func NewSelectionSet(kind Kind, classes []*StageClass) *SelectionSet {
	seen := make(map[string]bool, len(classes))
	kept := make([]*StageClass, 0, len(classes))
	for _, c := range classes {
		if c == nil || seen[c.Name] {
			continue
		}
		seen[c.Name] = true
		kept = append(kept, c)
	}
	return &SelectionSet{kind: kind, classes: kept}
}

// Kind returns the kind of stage the set was selected for
func (s *SelectionSet) Kind() Kind {
	return s.kind
}

// Classes returns a copy of the selected classes in order
func (s *SelectionSet) Classes() []*StageClass {
	return slices.Clone(s.classes)
}

// Names returns the selected class names in order
func (s *SelectionSet) Names() []string {
	names := make([]string, len(s.classes))
	for i, c := range s.classes {
		names[i] = c.Name
	}
	return names
}

// Len returns the number of selected classes
func (s *SelectionSet) Len() int {
	return len(s.classes)
}

// TotalWorkers is the number of runners an asynchronous dispatch starts
func (s *SelectionSet) TotalWorkers() int {
	total := 0
	for _, c := range s.classes {
		total += c.Workers()
	}
	return total
}

// Selector resolves operator-supplied names against a set of classes. Each
// class can be looked up once.
type Selector struct {
	kind   Kind
	byName map[string]*StageClass
	seen   map[string]bool
}

// ByName indexes classes by name for explicit selection
func ByName(kind Kind, classes []*StageClass) *Selector {
	byName := make(map[string]*StageClass, len(classes))
	for _, c := range classes {
		byName[c.Name] = c
	}
	return &Selector{kind: kind, byName: byName, seen: make(map[string]bool)}
}

// Lookup returns the class called name. An unknown name or a second lookup
// of the same class is a usage error.
func (s *Selector) Lookup(name string) (*StageClass, error) {
	class, ok := s.byName[name]
	if !ok {
		return nil, NewUsageError(fmt.Sprintf("Invalid %s name '%s'", s.kind, name))
	}
	if s.seen[class.Name] {
		return nil, NewUsageError(fmt.Sprintf("Duplicated %s name '%s'", s.kind, name))
	}
	s.seen[class.Name] = true
	return class, nil
}

// Select builds the SelectionSet for one invocation. names and groups are
// mutually exclusive; with neither, every class is selected. On error no
// set is returned, so nothing gets scheduled.
func Select(kind Kind, classes []*StageClass, names, groups []string) (*SelectionSet, error) {
	switch {
	case len(names) > 0 && len(groups) > 0:
		return nil, NewUsageError(fmt.Sprintf("%s names and groups are mutually exclusive", kind))
	case len(names) > 0:
		selector := ByName(kind, classes)
		selected := make([]*StageClass, 0, len(names))
		for _, name := range names {
			class, err := selector.Lookup(name)
			if err != nil {
				return nil, err
			}
			selected = append(selected, class)
		}
		return NewSelectionSet(kind, selected), nil
	default:
		return NewSelectionSet(kind, FilterByGroups(classes, groups)), nil
	}
}
