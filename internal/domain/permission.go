package domain

// ObjectPermission is the per-object access a profile or permission set grants.
// Subject and SubjectType name the grantee when the source records them.
type ObjectPermission struct {
	ObjectLabel string `json:"objectLabel"`
	Subject     string `json:"subject,omitempty"`
	SubjectType string `json:"subjectType,omitempty"`
	Create      bool   `json:"create"`
	Read        bool   `json:"read"`
	Edit        bool   `json:"edit"`
	Delete      bool   `json:"delete"`
	ViewAll     bool   `json:"viewAll"`
	ModifyAll   bool   `json:"modifyAll"`
}

// PermissionSet is a named grant bundle with its assigned user count.
// AssignedPermissions is a comma-separated list of permission labels.
type PermissionSet struct {
	ID                  string             `json:"id"`
	Name                string             `json:"name"`
	AssignedUserCount   int                `json:"assignedUserCount"`
	AssignedPermissions string             `json:"assignedPermissions"`
	Permissions         []ObjectPermission `json:"permissions,omitempty"`
}
