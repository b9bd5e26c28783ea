package audit

import (
	"slices"
	"strings"

	"recordgrid/internal/domain"
)

// DefaultTablePageSize is the number of object permissions per page.
const DefaultTablePageSize = 10

// Table is the object-permission audit list: a label search and a level
// filter over a loaded set, then a label sort, then pagination. Not safe
// for concurrent use.
type Table struct {
	all        []domain.ObjectPermission
	filtered   []domain.ObjectPermission
	search     string
	levels     LevelSelection
	descending bool
	pager      pager
}

// TableView is a detached snapshot of a Table.
type TableView struct {
	Rows        []domain.ObjectPermission `json:"rows"`
	Page        int                       `json:"page"`
	TotalPages  int                       `json:"totalPages"`
	Total       int                       `json:"total"`
	Matching    int                       `json:"matching"`
	Search      string                    `json:"search,omitempty"`
	Levels      []Level                   `json:"levels,omitempty"`
	LevelsLabel string                    `json:"levelsLabel"`
	Descending  bool                      `json:"descending"`
	IsFirst     bool                      `json:"isFirst"`
	IsLast      bool                      `json:"isLast"`
	// Privileged lists every loaded permission granting View All or
	// Modify All, ignoring search and level filters.
	Privileged  []domain.ObjectPermission `json:"privileged"`
}

// NewTable creates an empty table. pageSize <= 0 uses DefaultTablePageSize.
func NewTable(pageSize int) *Table {
	if pageSize <= 0 {
		pageSize = DefaultTablePageSize
	}
	return &Table{pager: pager{size: pageSize}}
}

// Load replaces the permission list, sorted by label ascending, and clears
// the search. The level filter is kept.
func (t *Table) Load(perms []domain.ObjectPermission) {
	t.all = slices.Clone(perms)
	slices.SortStableFunc(t.all, compareLabels)
	t.search = ""
	t.apply()
}

// Search filters by case-insensitive label substring.
func (t *Table) Search(key string) {
	t.search = strings.ToLower(strings.TrimSpace(key))
	t.apply()
}

// ToggleLevel checks or unchecks a level filter option.
func (t *Table) ToggleLevel(level Level, checked bool) {
	t.levels.Toggle(level, checked)
	t.apply()
}

// SetLevels replaces the level filter by checking each level in turn.
func (t *Table) SetLevels(levels []Level) {
	t.levels.Clear()
	for _, l := range levels {
		t.levels.Toggle(l, true)
	}
	t.apply()
}

// Levels exposes the filter state.
func (t *Table) Levels() *LevelSelection { return &t.levels }

// apply rebuilds the filtered list from the ascending full list and goes
// back to the first page.
func (t *Table) apply() {
	t.filtered = t.filtered[:0:0]
	for _, p := range t.all {
		if t.search != "" && !strings.Contains(strings.ToLower(p.ObjectLabel), t.search) {
			continue
		}
		if !t.levels.Matches(p) {
			continue
		}
		t.filtered = append(t.filtered, p)
	}
	t.descending = false
	t.pager.reset(len(t.filtered))
}

// ToggleSort flips the label order of the filtered list. The current page
// number is kept.
func (t *Table) ToggleSort() {
	t.descending = !t.descending
	if t.descending {
		slices.SortStableFunc(t.filtered, func(a, b domain.ObjectPermission) int { return compareLabels(b, a) })
	} else {
		slices.SortStableFunc(t.filtered, compareLabels)
	}
}

func (t *Table) First() { t.pager.first() }
func (t *Table) Previous() { t.pager.previous() }
func (t *Table) Next() { t.pager.next() }
func (t *Table) Last() { t.pager.last() }
func (t *Table) GoTo(page int) { t.pager.goTo(page) }
func (t *Table) IsFirst() bool { return t.pager.isFirst() }
func (t *Table) IsLast() bool { return t.pager.isLast() }
func (t *Table) TotalPages() int { return t.pager.totalPages() }
func (t *Table) PageNumber() int { return t.pager.page }

// Page returns the rows of the current page.
func (t *Table) Page() []domain.ObjectPermission {
	start, end := t.pager.bounds()
	return slices.Clone(t.filtered[start:end])
}

// Matching is the number of rows passing the filters.
func (t *Table) Matching() int { return len(t.filtered) }

// View snapshots the table for rendering.
func (t *Table) View() TableView {
	return TableView{
		Rows:        t.Page(),
		Page:        t.pager.page,
		TotalPages:  t.pager.totalPages(),
		Total:       len(t.all),
		Matching:    len(t.filtered),
		Search:      t.search,
		Levels:      t.levels.Selected(),
		LevelsLabel: t.levels.Label(),
		Descending:  t.descending,
		IsFirst:     t.pager.isFirst(),
		IsLast:      t.pager.isLast(),
		Privileged:  Privileged(t.all),
	}
}

func compareLabels(a, b domain.ObjectPermission) int {
	return strings.Compare(strings.ToLower(a.ObjectLabel), strings.ToLower(b.ObjectLabel))
}
