package shared

// Route-level admin capabilities. A role holds a set of these; a route
// declares which ones it accepts.
const (
	PermPagesView = "admin.page.view"
	PermPagesEdit = "admin.page.edit"

	PermUsersView = "admin.user.view"
	PermUsersEdit = "admin.user.edit"

	PermGroupsView = "admin.group.view"
	PermGroupsEdit = "admin.group.edit"

	PermRolesView = "admin.role.view"
	PermRolesEdit = "admin.role.edit"

	PermPermissionsView = "admin.permission.view"
	PermPermissionsEdit = "admin.permission.edit"

	PermAuditView = "admin.audit.view"
)

// AdminScopes lists every admin capability, used when seeding the admin role.
func AdminScopes() []string {
	return []string{
		PermPagesView,
		PermPagesEdit,
		PermUsersView,
		PermUsersEdit,
		PermGroupsView,
		PermGroupsEdit,
		PermRolesView,
		PermRolesEdit,
		PermPermissionsView,
		PermPermissionsEdit,
		PermAuditView,
	}
}
