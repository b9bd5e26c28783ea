package grid

import (
	"regexp"
	"strings"

	"recordgrid/internal/domain"
)

// readOnlyNames matches field names that are system-managed on every
// backend we talk to. Consulted only when the backend does not report
// write permission for a field.
var readOnlyNames = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^id$`),
	regexp.MustCompile(`(?i)createddate`),
	regexp.MustCompile(`(?i)lastmodifieddate`),
	regexp.MustCompile(`(?i)systemmodstamp`),
	regexp.MustCompile(`(?i)createdbyid`),
	regexp.MustCompile(`(?i)lastmodifiedbyid`),
	regexp.MustCompile(`(?i)isdeleted`),
	regexp.MustCompile(`(?i)ownerid`),
	regexp.MustCompile(`(?i)^recordtypeid$`),
	regexp.MustCompile(`(?i)^currencyiso`),
	regexp.MustCompile(`(?i)latitude`),
	regexp.MustCompile(`(?i)longitude`),
	regexp.MustCompile(`(?i)^_id$`),
	regexp.MustCompile(`(?i)created_?at$`),
	regexp.MustCompile(`(?i)updated_?at$`),
	regexp.MustCompile(`(?i)^owner_id$`),
	regexp.MustCompile(`(?i)^is_deleted$`),
	regexp.MustCompile(`(?i)^record_?type_?id$`),
}

var readOnlyTypes = map[string]bool{
	"reference": true,
	"location":  true,
	"base64":    true,
	"textarea":  true,
	"json":      true,
}

// IdentifierColumn is always the first column and never editable.
var IdentifierColumn = domain.ColumnDescriptor{
	FieldName:  domain.IDField,
	Label:      "Id",
	RenderType: domain.RenderText,
	Editable:   false,
}

// Columns derives display columns for the selected field names. The
// identifier column comes first, then one column per known selected name
// in selection order. Unknown names, duplicates and the identifier itself
// are skipped.
func Columns(selected []string, options []domain.FieldDescriptor) []domain.ColumnDescriptor {
	byName := make(map[string]domain.FieldDescriptor, len(options))
	for _, f := range options {
		byName[f.Name] = f
	}

	cols := make([]domain.ColumnDescriptor, 0, len(selected)+1)
	cols = append(cols, IdentifierColumn)
	seen := map[string]bool{domain.IDField: true}
	for _, name := range selected {
		if seen[name] {
			continue
		}
		f, ok := byName[name]
		if !ok {
			continue
		}
		seen[name] = true
		label := f.Label
		if label == "" {
			label = f.Name
		}
		cols = append(cols, domain.ColumnDescriptor{
			FieldName:  f.Name,
			Label:      label,
			RenderType: RenderTypeOf(f.DataType),
			Editable:   IsEditable(f),
		})
	}
	return cols
}

// IsEditable trusts the backend's write permission when reported and falls
// back to the name and type blocklists otherwise.
func IsEditable(f domain.FieldDescriptor) bool {
	if f.Updatable != nil {
		return *f.Updatable
	}
	if readOnlyTypes[strings.ToLower(f.DataType)] {
		return false
	}
	for _, re := range readOnlyNames {
		if re.MatchString(f.Name) {
			return false
		}
	}
	return true
}

// RenderTypeOf maps a backend data type to a column render hint.
func RenderTypeOf(dataType string) domain.RenderType {
	switch strings.ToLower(dataType) {
	case "phone":
		return domain.RenderPhone
	case "email":
		return domain.RenderEmail
	case "date", "datetime", "timestamp":
		return domain.RenderDate
	case "currency":
		return domain.RenderCurrency
	case "double", "integer", "percent", "int", "long", "decimal", "number":
		return domain.RenderNumber
	case "boolean":
		return domain.RenderBoolean
	case "url":
		return domain.RenderURL
	default:
		return domain.RenderText
	}
}
