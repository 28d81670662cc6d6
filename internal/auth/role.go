// ABOUTME: Closed set of roles a session may carry
// ABOUTME: Roles travel as strings in tokens and the database but are compared as values

package auth

// Role is the authorization level granted to a session.
type Role int

const (
	// RoleNone grants nothing. It is the zero value, so a missing or
	// unrecognised role never grants access.
	RoleNone Role = iota
	// RoleAdmin grants access to the back office.
	RoleAdmin
)

// ParseRole converts a stored role name to a Role. Unknown names map to RoleNone.
func ParseRole(s string) Role {
	switch s {
	case "admin":
		return RoleAdmin
	default:
		return RoleNone
	}
}

// String returns the stored name of the role ("" for RoleNone).
func (r Role) String() string {
	switch r {
	case RoleAdmin:
		return "admin"
	default:
		return ""
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(text []byte) error {
	*r = ParseRole(string(text))
	return nil
}
