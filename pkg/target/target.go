// Package target defines the database targets the connection pool routes to.
// A target pairs a connection role with the DSN of the SQL Server instance
// that serves it: one write target (the primary) and zero or more read replicas.
package target

// Role classifies a connection by the kind of traffic it carries.
type Role string

const (
	// RoleRead marks connections routed to read replicas.
	RoleRead Role = "read"

	// RoleWrite marks connections routed to the primary.
	RoleWrite Role = "write"
)

// Valid reports whether the role is one of the two known values.
func (r Role) Valid() bool {
	return r == RoleRead || r == RoleWrite
}

// String returns the role tag as used in logs and metric labels.
func (r Role) String() string {
	return string(r)
}

// Target is a single routable database endpoint.
type Target struct {
	Role Role
	URL  string
}
