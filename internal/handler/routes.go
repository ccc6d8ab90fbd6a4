package handler

import (
	mid "dues-service/internal/middleware"
	"dues-service/internal/model"

	"github.com/labstack/echo/v4"
)

// RegisterRoutes mounts the API on e
func RegisterRoutes(e *echo.Echo, h *Handler) {
	e.GET("/health", h.Health)

	auth := e.Group("/api/auth")
	auth.POST("/login", h.Login)
	auth.POST("/register", h.RegisterTenant)

	authed := mid.AuthMiddleware(h.JWT)
	e.GET("/api/auth/me", h.Me, authed)
	e.PUT("/api/auth/password", h.ChangePassword, authed)

	system := e.Group("/api/system", authed, mid.RequireRoles(model.RoleSystem))
	system.GET("/tenants", h.ListTenants)
	system.GET("/tenants/pending", h.PendingTenants)
	system.GET("/tenants/rejected", h.RejectedTenants)
	system.GET("/tenants/:id", h.GetTenant)
	system.PUT("/tenants/:id", h.UpdateTenant)
	system.POST("/tenants/:id/approve", h.ApproveTenant)
	system.POST("/tenants/:id/reject", h.RejectTenant)
	system.POST("/tenants/:id/activate", h.ActivateTenant)
	system.POST("/tenants/:id/deactivate", h.DeactivateTenant)
	system.DELETE("/tenants/:id", h.DeleteTenant)
	system.POST("/tenants/:id/restore", h.RestoreTenant)
	system.POST("/users", h.CreateSystemUser)

	api := e.Group("/api", authed,
		mid.RequireRoles(model.RoleSuper, model.RoleAdmin),
		mid.TenantContext(h.Resolver),
		mid.RequireTenant)
	write := mid.RequireWritable

	api.GET("/tenant", h.CurrentTenant)

	api.GET("/members", h.ListMembers)
	api.GET("/members/arrears", h.MembersInArrears)
	api.GET("/members/:id", h.GetMember)
	api.POST("/members", h.CreateMember, write)
	api.PUT("/members/:id", h.UpdateMember, write)
	api.DELETE("/members/:id", h.DeleteMember, write)

	api.GET("/payments", h.ListPayments)
	api.POST("/payments", h.RecordPayment, write)

	api.GET("/subgroups", h.ListSubgroups)
	api.GET("/subgroups/:id", h.GetSubgroup)
	api.POST("/subgroups", h.CreateSubgroup, write)
	api.PUT("/subgroups/:id", h.UpdateSubgroup, write)
	api.DELETE("/subgroups/:id", h.DeleteSubgroup, write)

	api.GET("/contribution-types", h.ListContributionTypes)
	api.POST("/contribution-types", h.CreateContributionType, write)
	api.PUT("/contribution-types/:id", h.UpdateContributionType, write)
	api.DELETE("/contribution-types/:id", h.DeleteContributionType, write)

	api.GET("/contributions", h.ListContributions)
	api.POST("/contributions", h.RecordContribution, write)

	api.GET("/expenditures", h.ListExpenditures)
	api.POST("/expenditures", h.CreateExpenditure, write)
	api.PUT("/expenditures/:id", h.UpdateExpenditure, write)
	api.DELETE("/expenditures/:id", h.DeleteExpenditure, write)

	api.GET("/receipts", h.ListReceipts)
	api.GET("/receipts/:id", h.GetReceipt)

	api.GET("/reminders", h.ListReminders)
	api.POST("/reminders", h.QueueReminders, write)
	api.POST("/reminders/:id/sent", h.MarkReminderSent, write)

	api.GET("/logs", h.ListActivity)

	api.GET("/reports/dashboard", h.Dashboard)
	api.GET("/reports/subgroups", h.SubgroupPerformance)
}
