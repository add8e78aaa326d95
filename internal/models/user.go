package models

type UserRole string

const (
	RoleStudent    UserRole = "student"
	RoleTeacher    UserRole = "teacher"
	RoleInstructor UserRole = "instructor"
	RoleProctor    UserRole = "proctor"
	RoleAdmin      UserRole = "admin"
)

// IsStaff reports whether the role belongs to the monitoring staff group.
func (r UserRole) IsStaff() bool {
	switch r {
	case RoleTeacher, RoleInstructor, RoleProctor, RoleAdmin:
		return true
	}
	return false
}

// Identity is the authenticated caller of an HTTP request or realtime connection.
type Identity struct {
	UserID string   `json:"userId"`
	Role   UserRole `json:"role"`
	Locale string   `json:"locale,omitempty"`
}
