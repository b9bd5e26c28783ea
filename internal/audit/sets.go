package audit

import (
	"fmt"
	"slices"
	"strings"

	"recordgrid/internal/domain"
)

const (
	// DefaultSetPageSize is the number of permission sets per page.
	DefaultSetPageSize = 8
	// DefaultDetailPageSize is the number of object permissions per page
	// in an opened permission set.
	DefaultDetailPageSize = 7
	// badgeCount is how many permission badges show before "more".
	badgeCount = 2
)

// SetEntry is a permission set prepared for display.
type SetEntry struct {
	domain.PermissionSet
	PermissionList []string `json:"permissionList"`
	Badges         []string `json:"badges"`
	Remaining      []string `json:"remaining"`
	Expanded       bool     `json:"expanded"`
}

// SetsView is a detached snapshot of a SetBrowser page.
type SetsView struct {
	Sets       []SetEntry `json:"sets"`
	Page       int        `json:"page"`
	TotalPages int        `json:"totalPages"`
	Total      int        `json:"total"`
	IsFirst    bool       `json:"isFirst"`
	IsLast     bool       `json:"isLast"`
}

// SetBrowser pages through permission sets, most assigned first, and can
// open one set's object permissions as a searchable Table.
type SetBrowser struct {
	sets   []SetEntry
	pager  pager
	detail *Table
	opened string
}

// NewSetBrowser creates an empty browser.
func NewSetBrowser() *SetBrowser {
	return &SetBrowser{pager: pager{size: DefaultSetPageSize, keepOne: true}}
}

// Load replaces the sets, ordered by assigned user count descending, and
// returns to the first page. Any opened set is closed.
func (b *SetBrowser) Load(sets []domain.PermissionSet) {
	b.sets = make([]SetEntry, 0, len(sets))
	for _, ps := range sets {
		perms := splitPermissions(ps.AssignedPermissions)
		b.sets = append(b.sets, SetEntry{
			PermissionSet:  ps,
			PermissionList: perms,
			Badges:         perms[:min(badgeCount, len(perms))],
			Remaining:      perms[min(badgeCount, len(perms)):],
		})
	}
	slices.SortStableFunc(b.sets, func(x, y SetEntry) int { return y.AssignedUserCount - x.AssignedUserCount })
	b.pager.reset(len(b.sets))
	b.Close()
}

func splitPermissions(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Page returns the sets on the current page.
func (b *SetBrowser) Page() []SetEntry {
	start, end := b.pager.bounds()
	return slices.Clone(b.sets[start:end])
}

// View returns the current page with its navigation state.
func (b *SetBrowser) View() SetsView {
	return SetsView{
		Sets:       b.Page(),
		Page:       b.pager.page,
		TotalPages: b.pager.totalPages(),
		Total:      len(b.sets),
		IsFirst:    b.pager.isFirst(),
		IsLast:     b.pager.isLast(),
	}
}

func (b *SetBrowser) GoTo(page int) { b.pager.goTo(page) }
func (b *SetBrowser) Previous() { b.pager.previous() }
func (b *SetBrowser) Next() { b.pager.next() }
func (b *SetBrowser) IsFirst() bool { return b.pager.isFirst() }
func (b *SetBrowser) IsLast() bool { return b.pager.isLast() }
func (b *SetBrowser) TotalPages() int { return b.pager.totalPages() }
func (b *SetBrowser) PageNumber() int { return b.pager.page }

// ToggleExpand flips whether a set shows all its permission badges. It
// reports false when no set has that id.
func (b *SetBrowser) ToggleExpand(id string) bool {
	for i := range b.sets {
		if b.sets[i].ID == id {
			b.sets[i].Expanded = !b.sets[i].Expanded
			return true
		}
	}
	return false
}

// Open loads the object permissions of one set into a detail table.
func (b *SetBrowser) Open(id string) (*Table, error) {
	for _, s := range b.sets {
		if s.ID != id {
			continue
		}
		t := NewTable(DefaultDetailPageSize)
		t.pager.keepOne = true
		t.Load(s.Permissions)
		b.detail, b.opened = t, s.Name
		return t, nil
	}
	return nil, fmt.Errorf("permission set not found: %s", id)
}

// Detail returns the opened set's table and name, or nil when none is open.
func (b *SetBrowser) Detail() (*Table, string) { return b.detail, b.opened }

// Close discards the opened set.
func (b *SetBrowser) Close() { b.detail, b.opened = nil, "" }
