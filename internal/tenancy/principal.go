package tenancy

import "dues-service/internal/model"

// Principal is the authenticated actor of a request
type Principal struct {
	UserID   string
	Username string
	Role     string
	TenantID string
}

// IsSystem reports whether the principal lives outside all tenants
func (p Principal) IsSystem() bool {
	return p.Role == model.RoleSystem
}

// Context is the resolved tenant scope of one request. Release must be
// called once the request no longer uses the partition.
type Context struct {
	Principal Principal
	Tenant    *model.Tenant
	Handle    *Handle

	// Limited is set for pending tenants; writes are refused.
	Limited bool
}

// IsSystem reports whether the context carries no tenant
func (c *Context) IsSystem() bool {
	return c.Tenant == nil
}

// TenantID returns the resolved tenant id or the empty string
func (c *Context) TenantID() string {
	if c.Tenant == nil {
		return ""
	}
	return c.Tenant.ID
}

// Release returns the partition handle to the pool. It is safe to call more
// than once.
func (c *Context) Release() {
	if c.Handle != nil {
		c.Handle.Release()
		c.Handle = nil
	}
}
