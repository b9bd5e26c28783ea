package audit

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"recordgrid/internal/domain"
)

// Mapping names the record fields that carry each part of an object
// permission. Subject and SubjectType are only needed to audit a single
// grantee.
type Mapping struct {
	Label       string `json:"label" validate:"required"`
	Subject     string `json:"subject"`
	SubjectType string `json:"subjectType"`
	Create      string `json:"create"`
	Read        string `json:"read"`
	Edit        string `json:"edit"`
	Delete      string `json:"delete"`
	ViewAll     string `json:"viewAll"`
	ModifyAll   string `json:"modifyAll"`
}

// Default subject columns of an ObjectPermissions export, used when a
// subject is requested and the mapping leaves them empty.
const (
	DefaultSubjectField     = "ParentId"
	DefaultSubjectTypeField = "ParentType"
)

// DefaultMapping matches the column names of an ObjectPermissions export.
var DefaultMapping = Mapping{
	Label:     "SobjectType",
	Create:    "PermissionsCreate",
	Read:      "PermissionsRead",
	Edit:      "PermissionsEdit",
	Delete:    "PermissionsDelete",
	ViewAll:   "PermissionsViewAllRecords",
	ModifyAll: "PermissionsModifyAllRecords",
}

// Fields lists the mapped field names once each, skipping empty ones.
func (m Mapping) Fields() []string {
	var out []string
	for _, f := range []string{m.Label, m.Subject, m.SubjectType, m.Create, m.Read, m.Edit, m.Delete, m.ViewAll, m.ModifyAll} {
		if f != "" && !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// FromRows converts grid rows into object permissions. Rows without a
// label are skipped.
func FromRows(rows []domain.Row, m Mapping) []domain.ObjectPermission {
	out := make([]domain.ObjectPermission, 0, len(rows))
	for _, r := range rows {
		label := labelOf(r[m.Label])
		if label == "" {
			continue
		}
		p := domain.ObjectPermission{
			ObjectLabel: label,
			Create:      truthy(r[m.Create]),
			Read:        truthy(r[m.Read]),
			Edit:        truthy(r[m.Edit]),
			Delete:      truthy(r[m.Delete]),
			ViewAll:     truthy(r[m.ViewAll]),
			ModifyAll:   truthy(r[m.ModifyAll]),
		}
		if m.Subject != "" {
			p.Subject = labelOf(r[m.Subject])
		}
		if m.SubjectType != "" {
			p.SubjectType = labelOf(r[m.SubjectType])
		}
		out = append(out, p)
	}
	return out
}

// ForSubject keeps the permissions granted to subject. An empty subject
// or subjectType matches any value; subjectType compares case-insensitively.
func ForSubject(perms []domain.ObjectPermission, subject, subjectType string) []domain.ObjectPermission {
	if subject == "" && subjectType == "" {
		return perms
	}
	out := make([]domain.ObjectPermission, 0, len(perms))
	for _, p := range perms {
		if subject != "" && p.Subject != subject {
			continue
		}
		if subjectType != "" && !strings.EqualFold(p.SubjectType, subjectType) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// Privileged keeps the permissions that bypass sharing: View All or
// Modify All.
func Privileged(perms []domain.ObjectPermission) []domain.ObjectPermission {
	out := make([]domain.ObjectPermission, 0)
	for _, p := range perms {
		if p.ViewAll || p.ModifyAll {
			out = append(out, p)
		}
	}
	return out
}

func labelOf(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	default:
		return fmt.Sprint(x)
	}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case int64:
		return x != 0
	case int:
		return x != 0
	case float64:
		return x != 0
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
			return b
		}
		return strings.EqualFold(strings.TrimSpace(x), "yes")
	default:
		return false
	}
}

// SetMapping names the record fields that describe a permission set.
// An empty ID uses the row identifier.
type SetMapping struct {
	ID                  string `json:"id"`
	Name                string `json:"name" validate:"required"`
	AssignedUserCount   string `json:"assignedUserCount"`
	AssignedPermissions string `json:"assignedPermissions"`
}

// DefaultSetMapping matches the column names of a PermissionSet export.
var DefaultSetMapping = SetMapping{
	Name:                "Label",
	AssignedUserCount:   "AssignedUserCount",
	AssignedPermissions: "AssignedPermissions",
}

// Fields lists the mapped field names to fetch. The row identifier is
// always present and is never requested.
func (m SetMapping) Fields() []string {
	var out []string
	for _, f := range []string{m.ID, m.Name, m.AssignedUserCount, m.AssignedPermissions} {
		if f != "" && f != domain.IDField {
			out = append(out, f)
		}
	}
	return out
}

// SetsFromRows converts grid rows into permission sets. Rows without a
// name are skipped.
func SetsFromRows(rows []domain.Row, m SetMapping) []domain.PermissionSet {
	idField := m.ID
	if idField == "" {
		idField = domain.IDField
	}
	out := make([]domain.PermissionSet, 0, len(rows))
	for _, r := range rows {
		name := labelOf(r[m.Name])
		if name == "" {
			continue
		}
		out = append(out, domain.PermissionSet{
			ID:                  labelOf(r[idField]),
			Name:                name,
			AssignedUserCount:   count(r[m.AssignedUserCount]),
			AssignedPermissions: labelOf(r[m.AssignedPermissions]),
		})
	}
	return out
}

func count(v any) int {
	switch x := v.(type) {
	case int64:
		return int(x)
	case int:
		return x
	case float64:
		return int(x)
	case string:
		n, _ := strconv.Atoi(strings.TrimSpace(x))
		return n
	default:
		return 0
	}
}
