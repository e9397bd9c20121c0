package rbac

import (
	"strings"

	"partner_portal/internal/models"
)

// Permission keys, composed as resource:action.
const (
	PartnersRead    = "partners:read"
	PartnersWrite   = "partners:write"
	PartnersDelete  = "partners:delete"
	PartnersComment = "partners:comment"
	DocumentsRead   = "documents:read"
	DocumentsWrite  = "documents:write"
	TemplatesRead   = "templates:read"
	TemplatesWrite  = "templates:write"
	SettingsRead    = "settings:read"
	SettingsWrite   = "settings:write"
	UsersRead       = "users:read"
	UsersWrite      = "users:write"
	AuditRead       = "audit:read"
)

var all = []string{
	PartnersRead, PartnersWrite, PartnersDelete, PartnersComment,
	DocumentsRead, DocumentsWrite, TemplatesRead, TemplatesWrite,
	SettingsRead, SettingsWrite, UsersRead, UsersWrite, AuditRead,
}

var rolePermissions = map[models.Role][]string{
	models.RoleAdmin: all,
	models.RoleTransferz: {
		PartnersRead, PartnersWrite, PartnersComment,
		DocumentsRead, DocumentsWrite, TemplatesRead, TemplatesWrite,
		SettingsRead,
	},
	models.RolePartner: {
		PartnersRead, PartnersComment,
		DocumentsRead, DocumentsWrite, TemplatesRead,
	},
	models.RoleDefault: {},
}

// Checker answers permission questions for the fixed role set.
type Checker struct{ perms map[models.Role]map[string]bool }

func NewChecker() Checker {
	perms := make(map[models.Role]map[string]bool, len(rolePermissions))
	for role, keys := range rolePermissions {
		set := make(map[string]bool, len(keys))
		for _, k := range keys {
			set[k] = true
		}
		perms[role] = set
	}
	return Checker{perms: perms}
}

func (c Checker) Can(role models.Role, permKey string) bool {
	return c.perms[role][strings.ToLower(permKey)]
}

// Permissions lists the keys granted to role in a stable order.
func (c Checker) Permissions(role models.Role) []string {
	out := []string{}
	for _, k := range all {
		if c.perms[role][k] {
			out = append(out, k)
		}
	}
	return out
}

// Helper to compose like "users:read" from resource+action
func Key(resource, action string) string { return strings.ToLower(resource + ":" + action) }
