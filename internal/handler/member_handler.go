package handler

import (
	"net/http"
	"time"

	mid "dues-service/internal/middleware"
	"dues-service/internal/model"
	"dues-service/internal/store"
	"dues-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// MemberRequest is the writable part of a member
type MemberRequest struct {
	Name         *string    `json:"name"`
	MemberCode   *string    `json:"member_code"`
	Email        *string    `json:"email"`
	Phone        *string    `json:"phone"`
	JoinDate     *time.Time `json:"join_date"`
	DuesPerMonth *float64   `json:"dues_per_month"`
	SubgroupID   *string    `json:"subgroup_id"`
	Role         *string    `json:"role"`
}

func (r MemberRequest) fields() map[string]interface{} {
	f := map[string]interface{}{}
	if r.Name != nil {
		f["name"] = *r.Name
	}
	if r.MemberCode != nil {
		f["member_code"] = *r.MemberCode
	}
	if r.Email != nil {
		f["email"] = *r.Email
	}
	if r.Phone != nil {
		f["phone"] = *r.Phone
	}
	if r.JoinDate != nil {
		f["join_date"] = *r.JoinDate
	}
	if r.DuesPerMonth != nil {
		f["dues_per_month"] = *r.DuesPerMonth
	}
	if r.SubgroupID != nil {
		if *r.SubgroupID == "" {
			f["subgroup_id"] = nil
		} else {
			f["subgroup_id"] = *r.SubgroupID
		}
	}
	if r.Role != nil {
		f["role"] = *r.Role
	}
	return f
}

// ListMembers lists members, optionally ?search=&subgroup_id=
func (h *Handler) ListMembers(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	q := store.NewQuery().OrderBy("name", false)
	if s := c.QueryParam("search"); s != "" {
		q.MatchAny(s, "name", "email", "member_code")
	}
	if sg := c.QueryParam("subgroup_id"); sg != "" {
		q.Eq("subgroup_id", sg)
	}
	total, err := m.Member.Count(c.Request().Context(), q)
	if err != nil {
		return mid.RespondError(c, err)
	}
	members, err := m.Member.Find(c.Request().Context(), page(c, q))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"members": members, "total": total})
}

// MembersInArrears lists members owing dues
func (h *Handler) MembersInArrears(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	members, err := m.Arrears(c.Request().Context())
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, members)
}

// GetMember returns a member with payment history and subgroup
func (h *Handler) GetMember(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	ctx := c.Request().Context()
	member, err := m.Member.Detail(ctx, c.Param("id"))
	if err != nil {
		return mid.RespondError(c, err)
	}
	items := []model.Member{*member}
	err = store.Expand(ctx, items,
		func(mem *model.Member) *string { return mem.SubgroupID },
		m.Subgroup,
		func(mem *model.Member, s *model.Summary) { mem.Subgroup = s })
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, items[0])
}

// CreateMember adds a member to the tenant
func (h *Handler) CreateMember(c echo.Context) error {
	log := logger.FromEcho(c)
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}

	var req MemberRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	member := &model.Member{MemberCode: req.MemberCode, SubgroupID: req.SubgroupID, Role: "member"}
	if req.Name != nil {
		member.Name = *req.Name
	}
	if req.Email != nil {
		member.Email = *req.Email
	}
	if req.Phone != nil {
		member.Phone = *req.Phone
	}
	if req.JoinDate != nil {
		member.JoinDate = *req.JoinDate
	}
	if req.DuesPerMonth != nil {
		member.DuesPerMonth = *req.DuesPerMonth
	}
	if req.Role != nil {
		member.Role = *req.Role
	}

	if err := m.Member.Create(c.Request().Context(), member); err != nil {
		log.Warn("Failed to create member", zap.Error(err))
		return mid.RespondError(c, err)
	}
	h.logActivity(c, m, "create_member", "member", member.ID, member.Name)
	log.Info("Member created", zap.String("member_id", member.ID))
	return c.JSON(http.StatusCreated, member)
}

// UpdateMember applies a partial update
func (h *Handler) UpdateMember(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	var req MemberRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	member, err := m.Member.UpdateFields(c.Request().Context(), c.Param("id"), req.fields())
	if err != nil {
		return mid.RespondError(c, err)
	}
	h.logActivity(c, m, "update_member", "member", member.ID, member.Name)
	return c.JSON(http.StatusOK, member)
}

// DeleteMember removes a member and its history
func (h *Handler) DeleteMember(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	id := c.Param("id")
	if err := m.Member.Delete(c.Request().Context(), id); err != nil {
		return mid.RespondError(c, err)
	}
	h.logActivity(c, m, "delete_member", "member", id, "")
	return c.JSON(http.StatusOK, echo.Map{"message": "Member deleted"})
}

// PaymentRequest records a dues payment
type PaymentRequest struct {
	MemberID string     `json:"member_id"`
	Amount   float64    `json:"amount"`
	Date     *time.Time `json:"date"`
}

// RecordPayment credits a dues payment and issues its receipt
func (h *Handler) RecordPayment(c echo.Context) error {
	log := logger.FromEcho(c)
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	var req PaymentRequest
	if err := c.Bind(&req); err != nil || req.MemberID == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "member_id and amount are required"})
	}
	in := store.PaymentInput{MemberID: req.MemberID, Amount: req.Amount, RecordedBy: actor(c)}
	if req.Date != nil {
		in.PaidAt = *req.Date
	}
	res, err := m.Member.RecordPayment(c.Request().Context(), in)
	if err != nil {
		log.Warn("Failed to record payment", zap.String("member_id", req.MemberID), zap.Error(err))
		return mid.RespondError(c, err)
	}
	log.Info("Payment recorded",
		zap.String("member_id", req.MemberID),
		zap.Float64("amount", req.Amount),
		zap.String("receipt", res.Receipt.ReceiptNumber))
	return c.JSON(http.StatusCreated, res)
}

// ListPayments lists payments, optionally ?member_id=&from=&to=
func (h *Handler) ListPayments(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	q := store.NewQuery().OrderBy("paid_at", true)
	if id := c.QueryParam("member_id"); id != "" {
		q.Eq("member_id", id)
	}
	if from, ok := queryTime(c, "from"); ok {
		q.Gte("paid_at", from)
	}
	if to, ok := queryTime(c, "to"); ok {
		q.Lte("paid_at", to)
	}
	payments, err := m.Payment.Find(c.Request().Context(), page(c, q))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, payments)
}

// logActivity appends an activity entry; a failure is logged, not returned
func (h *Handler) logActivity(c echo.Context, m *store.Models, action, entityType, entityID, details string) {
	entry := &model.ActivityLog{
		Actor:      actor(c),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Details:    details,
	}
	if err := m.ActivityLog.Create(c.Request().Context(), entry); err != nil {
		logger.FromEcho(c).Warn("Failed to log activity", zap.String("action", action), zap.Error(err))
	}
}
