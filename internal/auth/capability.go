package auth

// Role is the coarse role stored in a token
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

// Capability names a resource:action pair
type Capability string

const (
	CapOrdersUpdateStatus Capability = "orders:update-status"
	CapOrdersReadAny      Capability = "orders:read-any"
	CapPaymentsReconcile  Capability = "payments:reconcile"
)

var roleCapabilities = map[Role][]Capability{
	RoleCustomer: nil,
	RoleStaff:    {CapOrdersReadAny},
	RoleAdmin:    {CapOrdersUpdateStatus, CapOrdersReadAny, CapPaymentsReconcile},
}

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Can reports whether r grants c
func (r Role) Can(c Capability) bool {
	for _, granted := range roleCapabilities[r] {
		if granted == c {
			return true
		}
	}
	return false
}
