package policy

// Role is a user's privilege level within the volunteer organisation.
type Role string

const (
	RoleManager   Role = "manager"   // Elevated: event owners and administrators
	RoleLead      Role = "lead"      // Coordinator: runs events on the ground
	RoleVolunteer Role = "volunteer" // Base: signs up for events
)

// rank orders roles by privilege. Unknown roles rank zero.
var rank = map[Role]int{
	RoleVolunteer: 1,
	RoleLead:      2,
	RoleManager:   3,
}

// Roles lists the known roles from most to least privileged.
func Roles() []Role {
	return []Role{RoleManager, RoleLead, RoleVolunteer}
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := rank[r]
	return ok
}

// AtLeast reports whether r satisfies a requirement of required.
// Unknown roles satisfy nothing.
func (r Role) AtLeast(required Role) bool {
	have, ok := rank[r]
	if !ok {
		return false
	}
	need, ok := rank[required]
	if !ok {
		return false
	}
	return have >= need
}

func (r Role) String() string {
	return string(r)
}
