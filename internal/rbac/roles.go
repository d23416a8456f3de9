package rbac

// Role names. Keep these stable; the backend issues them in access tokens.
const (
	RoleAgent   = "agent"
	RoleManager = "manager"
	RoleAdmin   = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }

// CanCall reports whether the role may place calls from the console.
func CanCall(role string) bool {
	switch role {
	case RoleAgent, RoleManager, RoleAdmin:
		return true
	default:
		return false
	}
}
