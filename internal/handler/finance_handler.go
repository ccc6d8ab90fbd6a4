package handler

import (
	"net/http"
	"time"

	mid "dues-service/internal/middleware"
	"dues-service/internal/model"
	"dues-service/internal/store"

	"github.com/labstack/echo/v4"
)

// ListSubgroups lists subgroups with leaders expanded
func (h *Handler) ListSubgroups(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	groups, err := m.Subgroup.List(c.Request().Context())
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, groups)
}

// GetSubgroup returns a subgroup and its members
func (h *Handler) GetSubgroup(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	ctx := c.Request().Context()
	sg, err := m.Subgroup.Get(ctx, c.Param("id"))
	if err != nil {
		return mid.RespondError(c, err)
	}
	members, err := m.Member.Find(ctx, store.NewQuery().Eq("subgroup_id", sg.ID).OrderBy("name", false))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"subgroup": sg, "members": members})
}

// SubgroupRequest is the writable part of a subgroup
type SubgroupRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	LeaderID    *string `json:"leader_id"`
}

// CreateSubgroup adds a subgroup
func (h *Handler) CreateSubgroup(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	var req SubgroupRequest
	if err := c.Bind(&req); err != nil || req.Name == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}
	sg := &model.Subgroup{Name: *req.Name, LeaderID: req.LeaderID}
	if req.Description != nil {
		sg.Description = *req.Description
	}
	if err := m.Subgroup.Create(c.Request().Context(), sg); err != nil {
		return mid.RespondError(c, err)
	}
	h.logActivity(c, m, "create_subgroup", "subgroup", sg.ID, sg.Name)
	return c.JSON(http.StatusCreated, sg)
}

// UpdateSubgroup changes name, description or leader
func (h *Handler) UpdateSubgroup(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	var req SubgroupRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	ctx := c.Request().Context()
	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Description != nil {
		fields["description"] = *req.Description
	}
	if req.LeaderID != nil {
		if *req.LeaderID == "" {
			fields["leader_id"] = nil
		} else {
			if err := m.Subgroup.CheckLeader(ctx, req.LeaderID); err != nil {
				return mid.RespondError(c, err)
			}
			fields["leader_id"] = *req.LeaderID
		}
	}
	if _, err := m.Subgroup.UpdateFields(ctx, c.Param("id"), fields); err != nil {
		return mid.RespondError(c, err)
	}
	sg, err := m.Subgroup.Get(ctx, c.Param("id"))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, sg)
}

// DeleteSubgroup removes a subgroup, detaching its members
func (h *Handler) DeleteSubgroup(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	if err := m.Subgroup.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mid.RespondError(c, err)
	}
	h.logActivity(c, m, "delete_subgroup", "subgroup", c.Param("id"), "")
	return c.JSON(http.StatusOK, echo.Map{"message": "Subgroup deleted"})
}

// ListContributionTypes lists types, Dues first
func (h *Handler) ListContributionTypes(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	types, err := m.ContributionType.List(c.Request().Context())
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, types)
}

type contributionTypeRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
}

// CreateContributionType adds a custom type
func (h *Handler) CreateContributionType(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	var req contributionTypeRequest
	if err := c.Bind(&req); err != nil || req.Name == nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}
	ct := &model.ContributionType{Name: *req.Name}
	if req.Description != nil {
		ct.Description = *req.Description
	}
	if err := m.ContributionType.Create(c.Request().Context(), ct); err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, ct)
}

// UpdateContributionType renames a custom type
func (h *Handler) UpdateContributionType(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	var req contributionTypeRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	ct, err := m.ContributionType.Rename(c.Request().Context(), c.Param("id"), req.Name, req.Description)
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, ct)
}

// DeleteContributionType removes an unused custom type
func (h *Handler) DeleteContributionType(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	if err := m.ContributionType.Delete(c.Request().Context(), c.Param("id"), m.Contribution.Repository); err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Contribution type deleted"})
}

// ContributionRequest records a contribution
type ContributionRequest struct {
	MemberID           *string    `json:"member_id"`
	ContributionTypeID string     `json:"contribution_type_id"`
	Amount             float64    `json:"amount"`
	Date               *time.Time `json:"date"`
	Description        string     `json:"description"`
}

// RecordContribution stores a contribution or, for Dues, a payment
func (h *Handler) RecordContribution(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	var req ContributionRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	in := store.ContributionInput{
		MemberID:           req.MemberID,
		ContributionTypeID: req.ContributionTypeID,
		Amount:             req.Amount,
		Description:        req.Description,
		RecordedBy:         actor(c),
	}
	if req.Date != nil {
		in.Date = *req.Date
	}
	res, err := m.Contribution.Record(c.Request().Context(), in)
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, res)
}

// ListContributions lists contributions, optionally ?member_id=&type_id=&from=&to=
func (h *Handler) ListContributions(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	q := store.NewQuery().OrderBy("date", true)
	if id := c.QueryParam("member_id"); id != "" {
		q.Eq("member_id", id)
	}
	if id := c.QueryParam("type_id"); id != "" {
		q.Eq("contribution_type_id", id)
	}
	if from, ok := queryTime(c, "from"); ok {
		q.Gte("date", from)
	}
	if to, ok := queryTime(c, "to"); ok {
		q.Lte("date", to)
	}
	items, err := m.Contribution.List(c.Request().Context(), page(c, q))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, items)
}

// ExpenditureRequest is the writable part of an expenditure
type ExpenditureRequest struct {
	Title       string     `json:"title"`
	Amount      float64    `json:"amount"`
	Date        *time.Time `json:"date"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
}

func (h *Handler) expenditureFrom(c echo.Context, req ExpenditureRequest) (*model.Expenditure, bool) {
	if req.Title == "" || req.Amount <= 0 {
		return nil, false
	}
	e := &model.Expenditure{
		Title:       req.Title,
		Amount:      req.Amount,
		Date:        h.Clock.Now(),
		Category:    req.Category,
		Description: req.Description,
		RecordedBy:  actor(c),
	}
	if req.Date != nil {
		e.Date = *req.Date
	}
	return e, true
}

// ListExpenditures lists expenditures, optionally ?category=&from=&to=
func (h *Handler) ListExpenditures(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	q := store.NewQuery().OrderBy("date", true)
	if cat := c.QueryParam("category"); cat != "" {
		q.Eq("category", cat)
	}
	if from, ok := queryTime(c, "from"); ok {
		q.Gte("date", from)
	}
	if to, ok := queryTime(c, "to"); ok {
		q.Lte("date", to)
	}
	ctx := c.Request().Context()
	items, err := m.Expenditure.Find(ctx, page(c, q))
	if err != nil {
		return mid.RespondError(c, err)
	}
	total, err := m.Expenditure.Sum(ctx, q, "amount")
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"expenditures": items, "total_amount": total})
}

// CreateExpenditure records money spent
func (h *Handler) CreateExpenditure(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	var req ExpenditureRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	e, ok := h.expenditureFrom(c, req)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title and a positive amount are required"})
	}
	if err := m.Expenditure.Create(c.Request().Context(), e); err != nil {
		return mid.RespondError(c, err)
	}
	h.logActivity(c, m, "create_expenditure", "expenditure", e.ID, e.Title)
	return c.JSON(http.StatusCreated, e)
}

// UpdateExpenditure replaces an expenditure
func (h *Handler) UpdateExpenditure(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	var req ExpenditureRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}
	ctx := c.Request().Context()
	current, err := m.Expenditure.FindByID(ctx, c.Param("id"))
	if err != nil {
		return mid.RespondError(c, err)
	}
	e, ok := h.expenditureFrom(c, req)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "title and a positive amount are required"})
	}
	e.ID = current.ID
	e.CreatedAt = current.CreatedAt
	if req.Date == nil {
		e.Date = current.Date
	}
	if err := m.Expenditure.Update(ctx, e); err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

// DeleteExpenditure removes an expenditure
func (h *Handler) DeleteExpenditure(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	if err := m.Expenditure.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return mid.RespondError(c, err)
	}
	h.logActivity(c, m, "delete_expenditure", "expenditure", c.Param("id"), "")
	return c.JSON(http.StatusOK, echo.Map{"message": "Expenditure deleted"})
}

// ListReceipts lists receipts, optionally ?member_id=&type=
func (h *Handler) ListReceipts(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	q := store.NewQuery().OrderBy("issued_at", true)
	if id := c.QueryParam("member_id"); id != "" {
		q.Eq("member_id", id)
	}
	if t := c.QueryParam("type"); t != "" {
		q.Eq("receipt_type", t)
	}
	receipts, err := m.Receipt.Find(c.Request().Context(), page(c, q))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, receipts)
}

// GetReceipt returns a receipt by id or receipt number
func (h *Handler) GetReceipt(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	ctx := c.Request().Context()
	id := c.Param("id")
	r, err := m.Receipt.FindByID(ctx, id)
	if store.IsNotFound(err) {
		r, err = m.Receipt.FindOne(ctx, store.NewQuery().Eq("receipt_number", id))
	}
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// ListReminders lists reminders, optionally ?sent=false
func (h *Handler) ListReminders(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	q := store.NewQuery().OrderBy("created_at", true)
	switch c.QueryParam("sent") {
	case "true":
		q.Eq("sent", true)
	case "false":
		q.Eq("sent", false)
	}
	reminders, err := m.Reminder.Find(c.Request().Context(), page(c, q))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, reminders)
}

// QueueReminders creates reminders for every member in arrears
func (h *Handler) QueueReminders(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	due := h.Clock.Now().AddDate(0, 0, 7)
	if d, ok := queryTime(c, "due"); ok {
		due = d
	}
	n, err := m.Reminder.QueueArrears(c.Request().Context(), due)
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"queued": n})
}

// MarkReminderSent flags a reminder as delivered
func (h *Handler) MarkReminderSent(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	r, err := m.Reminder.MarkSent(c.Request().Context(), c.Param("id"))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, r)
}

// ListActivity lists the activity log, newest first
func (h *Handler) ListActivity(c echo.Context) error {
	m, err := h.models(c)
	if err != nil {
		return mid.RespondError(c, err)
	}
	q := store.NewQuery().OrderBy("created_at", true)
	if a := c.QueryParam("action"); a != "" {
		q.Eq("action", a)
	}
	logs, err := m.ActivityLog.Find(c.Request().Context(), page(c, q))
	if err != nil {
		return mid.RespondError(c, err)
	}
	return c.JSON(http.StatusOK, logs)
}
