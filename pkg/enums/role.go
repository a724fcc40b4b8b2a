package enums

// Role is the caller role carried in access tokens.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

func (r Role) String() string { return string(r) }

func (r Role) IsValid() bool { return r == RoleCustomer || r == RoleAdmin }

func ParseRole(value string) (Role, error) {
	return parse("role", value, []Role{RoleCustomer, RoleAdmin})
}
