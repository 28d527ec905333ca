package shared

import "fmt"

// RoleGrantLockKey builds the redis key serialising grant reconciliation for
// a role. The admin service holds it across mutation commit and cache
// invalidation so invalidation never fires against not-yet-visible data.
func RoleGrantLockKey(roleID int64) string {
	return fmt.Sprintf("permissions:role:%d:lock", roleID)
}
