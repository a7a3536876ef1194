package rbac

// System administration permissions.
const (
	PermPermissionRead   = "iers:system:permission:read"
	PermPermissionCreate = "iers:system:permission:create"
	PermPermissionUpdate = "iers:system:permission:update"
	PermRoleAssign       = "iers:system:role:assign"

	PermAuditRead = "iers:system:audit:read"

	PermFeatureRead   = "iers:system:feature:read"
	PermFeatureToggle = "iers:system:feature:toggle"

	PermSLARun = "iers:compliance:sla:run"
)

// CoreScopes lists every permission the core subsystem checks.
func CoreScopes() []Permission {
	return []Permission{
		{Slug: PermPermissionRead, Module: "system", Action: "read", Description: "List permissions and role grants"},
		{Slug: PermPermissionCreate, Module: "system", Action: "create", Description: "Create permissions"},
		{Slug: PermPermissionUpdate, Module: "system", Action: "update", Description: "Edit permission descriptions"},
		{Slug: PermRoleAssign, Module: "system", Action: "assign", Description: "Grant or revoke role permissions"},
		{Slug: PermAuditRead, Module: "system", Action: "read", Description: "Read the audit timeline"},
		{Slug: PermFeatureRead, Module: "system", Action: "read", Description: "Read module feature flags"},
		{Slug: PermFeatureToggle, Module: "system", Action: "toggle", Description: "Toggle module feature flags"},
		{Slug: PermSLARun, Module: "compliance", Action: "run", Description: "Trigger an SLA audit pass"},
	}
}
