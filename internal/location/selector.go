package location

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/hanko-field/checkout/internal/domain"
	"github.com/hanko-field/checkout/internal/platform/textutil"
)

// Level identifies one tier of the department, commune, section, locality cascade.
type Level int

const (
	LevelDepartment Level = iota + 1
	LevelCommune
	LevelSection
	LevelLocality
)

// Depth is the number of levels in the cascade.
const Depth = 4

var levelNames = [...]string{"", "department", "commune", "section", "locality"}

func (l Level) String() string {
	if l.Valid() {
		return levelNames[l]
	}
	return fmt.Sprintf("level(%d)", int(l))
}

func (l Level) Valid() bool { return l >= LevelDepartment && l <= LevelLocality }

// ParseLevel maps a level name to its Level.
func ParseLevel(name string) (Level, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for l := LevelDepartment; l <= LevelLocality; l++ {
		if levelNames[l] == name {
			return l, true
		}
	}
	return 0, false
}

var (
	// ErrHierarchyInconsistent is wrapped by every HierarchyError.
	ErrHierarchyInconsistent = errors.New("location: hierarchy inconsistent")
	// ErrEmptyAddress is returned when a composed address has no content.
	ErrEmptyAddress = errors.New("location: composed address is empty")
)

// HierarchyError rejects a selection whose ancestors are unset or whose code does not
// belong to the selected parent.
type HierarchyError struct {
	Level  Level
	Code   string
	Reason string
}

func (e *HierarchyError) Error() string {
	return fmt.Sprintf("location: cannot select %s %q: %s", e.Level, e.Code, e.Reason)
}

func (e *HierarchyError) Unwrap() error { return ErrHierarchyInconsistent }

// Hierarchy is the read-only location table.
type Hierarchy interface {
	Departments() []domain.LocationNode
	Children(code string) []domain.LocationNode
	Name(code string) (string, bool)
}

// Selector answers option queries and applies selections against a Hierarchy.
type Selector struct {
	hierarchy Hierarchy
}

func NewSelector(h Hierarchy) (*Selector, error) {
	if h == nil {
		return nil, errors.New("location: hierarchy is required")
	}
	return &Selector{hierarchy: h}, nil
}

// Options lists the choices for level given the ancestors already in loc. Entries that
// share a display name, compared case-insensitively after NFC normalisation, collapse
// into the first one.
func (s *Selector) Options(level Level, loc domain.Location) ([]domain.LocationNode, error) {
	nodes, err := s.candidates(level, loc)
	if err != nil {
		return nil, err
	}
	fold := cases.Fold()
	seen := make(map[string]struct{}, len(nodes))
	out := make([]domain.LocationNode, 0, len(nodes))
	for _, node := range nodes {
		key := fold.String(norm.NFC.String(strings.TrimSpace(node.Name)))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, node)
	}
	return out, nil
}

// NextOptions returns the options for the first unset level of loc. It returns zero
// level when the selection is complete or replaced by a composed address.
func (s *Selector) NextOptions(loc domain.Location) (Level, []domain.LocationNode) {
	if loc.Composed != "" {
		return 0, nil
	}
	for l := LevelDepartment; l <= LevelLocality; l++ {
		if Get(loc, l) == "" {
			opts, err := s.Options(l, loc)
			if err != nil {
				return 0, nil
			}
			return l, opts
		}
	}
	return 0, nil
}

// Select returns loc with level set to code, every deeper level cleared and the
// composed address dropped. loc is returned unchanged with a HierarchyError when an
// ancestor is missing or code is not a child of the selected parent.
func (s *Selector) Select(loc domain.Location, level Level, code string) (domain.Location, error) {
	code = strings.TrimSpace(code)
	if !level.Valid() {
		return loc, &HierarchyError{Level: level, Code: code, Reason: "unknown level"}
	}
	if code == "" {
		return loc, &HierarchyError{Level: level, Code: code, Reason: "empty code"}
	}
	nodes, err := s.candidates(level, loc)
	if err != nil {
		return loc, err
	}
	found := false
	for _, node := range nodes {
		if node.Code == code {
			found = true
			break
		}
	}
	if !found {
		return loc, &HierarchyError{Level: level, Code: code, Reason: "not a child of the selected " + (level - 1).String()}
	}

	next := loc
	next.Composed = ""
	set(&next, level, code)
	for l := level + 1; l <= LevelLocality; l++ {
		set(&next, l, "")
	}
	return next, nil
}

// Compose replaces the hierarchy with a free-form address.
func Compose(address string) (domain.Location, error) {
	address = textutil.Clean(address)
	if address == "" {
		return domain.Location{}, ErrEmptyAddress
	}
	return domain.Location{Composed: address}, nil
}

// Complete reports whether loc satisfies the location step.
func Complete(loc domain.Location) bool {
	if loc.Composed != "" {
		return true
	}
	return loc.Department != "" && loc.Commune != "" && loc.Section != "" && loc.Locality != ""
}

// Consistent reports whether every set level has all of its ancestors set and the
// composed address does not coexist with hierarchy fields.
func Consistent(loc domain.Location) bool {
	if loc.Composed != "" {
		return loc.Department == "" && loc.Commune == "" && loc.Section == "" && loc.Locality == ""
	}
	gap := false
	for l := LevelDepartment; l <= LevelLocality; l++ {
		if Get(loc, l) == "" {
			gap = true
			continue
		}
		if gap {
			return false
		}
	}
	return true
}

// Label renders loc from the most specific level up, e.g. "Pacot, Turgeau,
// Port-au-Prince, Ouest".
func (s *Selector) Label(loc domain.Location) string {
	if loc.Composed != "" {
		return loc.Composed
	}
	parts := make([]string, 0, Depth)
	for l := LevelLocality; l >= LevelDepartment; l-- {
		code := Get(loc, l)
		if code == "" {
			continue
		}
		if name, ok := s.hierarchy.Name(code); ok {
			parts = append(parts, name)
			continue
		}
		parts = append(parts, code)
	}
	return strings.Join(parts, ", ")
}

// Get returns the code stored at level.
func Get(loc domain.Location, level Level) string {
	switch level {
	case LevelDepartment:
		return loc.Department
	case LevelCommune:
		return loc.Commune
	case LevelSection:
		return loc.Section
	case LevelLocality:
		return loc.Locality
	}
	return ""
}

func set(loc *domain.Location, level Level, code string) {
	switch level {
	case LevelDepartment:
		loc.Department = code
	case LevelCommune:
		loc.Commune = code
	case LevelSection:
		loc.Section = code
	case LevelLocality:
		loc.Locality = code
	}
}

func (s *Selector) candidates(level Level, loc domain.Location) ([]domain.LocationNode, error) {
	if !level.Valid() {
		return nil, &HierarchyError{Level: level, Reason: "unknown level"}
	}
	if level == LevelDepartment {
		return s.hierarchy.Departments(), nil
	}
	for l := LevelDepartment; l < level; l++ {
		if Get(loc, l) == "" {
			return nil, &HierarchyError{Level: level, Reason: l.String() + " is not selected"}
		}
	}
	return s.hierarchy.Children(Get(loc, level-1)), nil
}
