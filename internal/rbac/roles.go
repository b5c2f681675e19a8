package rbac

// Role names. Keep these stable; they are part of auth/RBAC contracts.
const (
	RoleParent       = "parent"
	RoleTeacher      = "teacher"
	RolePrincipal    = "principal"
	RoleSuperAdmin   = "super_admin"
	RoleSupportAgent = "support_agent" // hidden role
)

func IsSuperAdmin(role string) bool { return role == RoleSuperAdmin }

func IsHiddenRole(role string) bool { return role == RoleSupportAgent }
