package audit

import (
	"fmt"
	"slices"
	"strings"

	"recordgrid/internal/domain"
)

// Level is one access level a permission filter can select.
type Level string

const (
	LevelCreate    Level = "Create"
	LevelRead      Level = "Read"
	LevelEdit      Level = "Edit"
	LevelDelete    Level = "Delete"
	LevelModifyAll Level = "ModifyAll"
	LevelViewAll   Level = "ViewAll"
	LevelAll       Level = "All"
)

// individualLevels is every level except All, in option order.
var individualLevels = []Level{LevelCreate, LevelRead, LevelEdit, LevelDelete, LevelModifyAll, LevelViewAll}

// Options returns the filter options in display order, All last.
func Options() []Level {
	return append(slices.Clone(individualLevels), LevelAll)
}

// ParseLevel accepts a level name case-insensitively, with or without
// the space of its display label ("Modify All").
func ParseLevel(s string) (Level, error) {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
	for _, l := range Options() {
		if strings.ToLower(string(l)) == key {
			return l, nil
		}
	}
	return "", fmt.Errorf("unknown permission level: %q", s)
}

// LevelSelection is the multi-select filter state. The zero value selects
// nothing, which filters nothing.
type LevelSelection struct {
	selected []Level
}

// Toggle checks or unchecks level. Checking All selects every option and
// unchecking All clears the selection. Unchecking any single level also
// drops All, and checking the last missing single level adds All.
func (s *LevelSelection) Toggle(level Level, checked bool) {
	switch {
	case checked && level == LevelAll:
		s.selected = Options()
	case checked:
		if !slices.Contains(s.selected, level) {
			s.selected = append(s.selected, level)
		}
		s.selected = slices.DeleteFunc(s.selected, func(l Level) bool { return l == LevelAll })
	case level == LevelAll:
		s.selected = nil
	default:
		s.selected = slices.DeleteFunc(s.selected, func(l Level) bool { return l == level || l == LevelAll })
	}

	for _, l := range individualLevels {
		if !slices.Contains(s.selected, l) {
			return
		}
	}
	s.selected = Options()
}

// Selected returns the checked options.
func (s *LevelSelection) Selected() []Level {
	return slices.Clone(s.selected)
}

// Checked reports whether level is checked.
func (s *LevelSelection) Checked(level Level) bool {
	return slices.Contains(s.selected, level)
}

// Clear unchecks everything.
func (s *LevelSelection) Clear() { s.selected = nil }

// Label is the dropdown button text for the current selection.
func (s *LevelSelection) Label() string {
	n := len(s.selected)
	switch {
	case n == 0:
		return "Select Permissions"
	case n == len(individualLevels) || s.Checked(LevelAll):
		return "All selected"
	case n == 1:
		return "1 permission selected"
	default:
		return fmt.Sprintf("%d permissions selected", n)
	}
}

// Matches keeps p when any checked level is granted. An empty selection
// or All keeps everything.
func (s *LevelSelection) Matches(p domain.ObjectPermission) bool {
	if len(s.selected) == 0 || s.Checked(LevelAll) {
		return true
	}
	for _, l := range s.selected {
		if granted(p, l) {
			return true
		}
	}
	return false
}

func granted(p domain.ObjectPermission, l Level) bool {
	switch l {
	case LevelCreate:
		return p.Create
	case LevelRead:
		return p.Read
	case LevelEdit:
		return p.Edit
	case LevelDelete:
		return p.Delete
	case LevelViewAll:
		return p.ViewAll
	case LevelModifyAll:
		return p.ModifyAll
	default:
		return false
	}
}
