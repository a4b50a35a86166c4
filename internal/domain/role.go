package domain

// Role is the coarse authorization label cached for synchronous UI gating.
type Role string

const (
	RoleStudent    Role = "student"
	RoleInstructor Role = "instructor"
	RoleAdmin      Role = "admin"
)

// DefaultRole is the fallback on any resolution failure.
const DefaultRole = RoleStudent

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleInstructor, RoleAdmin:
		return true
	}
	return false
}

// Ptr returns a pointer to a copy of r.
func (r Role) Ptr() *Role {
	return &r
}
