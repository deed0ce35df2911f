package auth

// RoleUser is the role granted to the built-in credential pair and required
// by authenticated routes.
const RoleUser = "USER"

// Principal is the result of a successful authentication. It lives only as
// long as the connection that presented the credentials.
type Principal struct {
	Name  string
	Roles []string
}

// HasRole reports whether the principal carries the given role.
func (p *Principal) HasRole(role string) bool {
	if p == nil {
		return false
	}
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Credentials is a username/password pair presented at connection setup.
type Credentials struct {
	Username string
	Password string
}
