package domain

// ObjectDescriptor identifies a queryable record type.
type ObjectDescriptor struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// FieldDescriptor describes one field of an object as reported by the backend.
// Updatable is nil when the backend does not report write permission.
type FieldDescriptor struct {
	Name      string `json:"name"`
	Label     string `json:"label"`
	DataType  string `json:"dataType"`
	Updatable *bool  `json:"updatable,omitempty"`
}

// BoolPtr is a helper for FieldDescriptor.Updatable literals.
func BoolPtr(b bool) *bool { return &b }

// RenderType is the display hint attached to a column.
type RenderType string

const (
	RenderText     RenderType = "text"
	RenderNumber   RenderType = "number"
	RenderDate     RenderType = "date"
	RenderBoolean  RenderType = "boolean"
	RenderURL      RenderType = "url"
	RenderPhone    RenderType = "phone"
	RenderEmail    RenderType = "email"
	RenderCurrency RenderType = "currency"
)

// IDField is the name of the identifier column every row carries.
const IDField = "Id"

// ColumnDescriptor is a display column derived from a selected field.
type ColumnDescriptor struct {
	FieldName  string     `json:"fieldName"`
	Label      string     `json:"label"`
	RenderType RenderType `json:"type"`
	Editable   bool       `json:"editable"`
}

// Row is one record: field name to primitive value, plus "Id".
type Row map[string]any

// ID returns the row identifier rendered as a string.
func (r Row) ID() string {
	switch v := r[IDField].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return formatScalar(v)
	}
}

// RowEdit is a pending change set for one row.
type RowEdit struct {
	RowID   string         `json:"rowId"`
	Changes map[string]any `json:"changes"`
}

// RowResult is the backend's verdict for one RowEdit.
type RowResult struct {
	RowID     string `json:"rowId"`
	Succeeded bool   `json:"succeeded"`
	Error     string `json:"error,omitempty"`
}

// EditOutcome counts the per-row results of a submission.
type EditOutcome struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}
