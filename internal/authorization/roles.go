package authorization

import "strings"

const (
	RoleOwner  = "OWNER"
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
	RoleViewer = "VIEWER"
)

var roleRank = map[string]int{
	RoleViewer: 1,
	RoleMember: 2,
	RoleAdmin:  3,
	RoleOwner:  4,
}

// Roles lists workspace roles from most to least privileged.
func Roles() []string {
	return []string{RoleOwner, RoleAdmin, RoleMember, RoleViewer}
}

// NormalizeRole upper-cases raw and reports whether it names a workspace role.
func NormalizeRole(raw string) (string, bool) {
	role := strings.ToUpper(strings.TrimSpace(raw))
	_, ok := roleRank[role]
	return role, ok
}

func ValidRole(role string) bool {
	_, ok := roleRank[role]
	return ok
}

// RoleAtLeast reports whether role is minimum or above. Unknown roles never qualify.
func RoleAtLeast(role, minimum string) bool {
	have, ok := roleRank[role]
	if !ok {
		return false
	}
	need, ok := roleRank[minimum]
	if !ok {
		return false
	}
	return have >= need
}

// CanGrant reports whether a member holding actorRole may hand out target.
func CanGrant(actorRole, target string) bool {
	return ValidRole(target) && RoleAtLeast(actorRole, target)
}

func subjectForRole(role string) string {
	return "role:" + strings.ToLower(role)
}
