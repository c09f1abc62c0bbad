package httpapi

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"gigflow/auth"
	"gigflow/chat"
	"gigflow/job"
	"gigflow/order"
	"gigflow/review"
)

func (s *Server) handleRegister(c echo.Context) error {
	var req auth.RegisterRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}
	user, err := s.auth.Register(c.Request().Context(), req)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
	})
}

func (s *Server) handleLogin(c echo.Context) error {
	var req auth.LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}
	result, err := s.auth.Login(c.Request().Context(), req)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"token":   result.Token,
		"user_id": result.User.ID,
		"role":    result.User.Role,
	})
}

func (s *Server) handleCreateJob(c echo.Context) error {
	var body struct {
		Title        string  `json:"title"`
		Description  string  `json:"description"`
		BudgetMin    float64 `json:"budget_min"`
		BudgetMax    float64 `json:"budget_max"`
		IsNegotiable bool    `json:"is_negotiable"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	j, err := s.jobs.Create(c.Request().Context(), callerID(c), job.CreateParams{
		Title:        body.Title,
		Description:  body.Description,
		BudgetMin:    body.BudgetMin,
		BudgetMax:    body.BudgetMax,
		IsNegotiable: body.IsNegotiable,
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, jobJSON(j))
}

func (s *Server) handleListJobs(c echo.Context) error {
	ctx := c.Request().Context()
	if c.QueryParam("scope") == "open" {
		limit, _ := strconv.Atoi(c.QueryParam("limit"))
		jobs, err := s.jobs.ListOpen(ctx, limit)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, jobsJSON(jobs))
	}

	jobs, err := s.jobs.ListForClient(ctx, callerID(c))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, jobsJSON(jobs))
}

func (s *Server) handleGetJob(c echo.Context) error {
	j, err := s.jobs.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, jobJSON(j))
}

func (s *Server) handleSetJobStatus(c echo.Context) error {
	var body struct {
		Status string `json:"status"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	j, err := s.jobs.SetStatus(c.Request().Context(), c.Param("id"), callerID(c), job.Status(body.Status))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, jobJSON(j))
}

func (s *Server) handleAssignProvider(c echo.Context) error {
	var body struct {
		ProviderID string `json:"provider_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	ctx := c.Request().Context()
	j, err := s.jobs.GetByID(ctx, c.Param("id"))
	if err != nil {
		return writeDomainError(c, err)
	}
	if j.ClientID != callerID(c) {
		return c.JSON(http.StatusForbidden, echo.Map{"error": "only the job's client may assign"})
	}

	j, err = s.jobs.AssignProvider(ctx, c.Param("id"), body.ProviderID)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, jobJSON(j))
}

func (s *Server) handleListThreads(c echo.Context) error {
	threads, err := s.chat.ListThreadsForUser(c.Request().Context(), callerID(c))
	if err != nil {
		return writeDomainError(c, err)
	}

	out := make([]echo.Map, 0, len(threads))
	for _, t := range threads {
		item := echo.Map{
			"id":              t.ID,
			"job_id":          t.JobID,
			"job_title":       t.JobTitle,
			"job_status":      t.JobStatus,
			"client_id":       t.ClientID,
			"client_name":     t.ClientName,
			"provider_id":     t.ProviderID,
			"provider_name":   t.ProviderName,
			"last_message_at": t.LastMessageAt,
			"unread_count":    t.UnreadCount,
		}
		if t.LastMessage != nil {
			item["last_message"] = messageJSON(*t.LastMessage)
		}
		out = append(out, item)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSendMessage(c echo.Context) error {
	var body struct {
		Content     string  `json:"content"`
		ImageURL    *string `json:"image_url"`
		RecipientID string  `json:"recipient_id"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	msg, err := s.chat.Append(c.Request().Context(), chat.AppendParams{
		JobID:       c.Param("id"),
		SenderID:    callerID(c),
		RecipientID: body.RecipientID,
		Content:     body.Content,
		ImageURL:    body.ImageURL,
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, messageJSON(msg))
}

func (s *Server) handleListMessages(c echo.Context) error {
	messages, err := s.chat.ListMessages(c.Request().Context(), c.Param("id"), callerID(c))
	if err != nil {
		return writeDomainError(c, err)
	}
	out := make([]echo.Map, 0, len(messages))
	for _, m := range messages {
		out = append(out, messageJSON(m))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleMarkRead(c echo.Context) error {
	if err := s.chat.MarkRead(c.Request().Context(), c.Param("id"), callerID(c)); err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"ok": true})
}

// handleUnread serves the three unread-count scopes: user-wide by default,
// per-job with ?job_id, per-counterpart with ?job_id&sender_id.
func (s *Server) handleUnread(c echo.Context) error {
	ctx := c.Request().Context()
	jobID := c.QueryParam("job_id")
	senderID := c.QueryParam("sender_id")

	var (
		count int
		err   error
	)
	switch {
	case jobID != "" && senderID != "":
		ok, perr := s.chat.IsParticipant(ctx, jobID, callerID(c))
		if perr != nil {
			return writeDomainError(c, perr)
		}
		if !ok {
			return c.JSON(http.StatusForbidden, echo.Map{"error": "not a participant in this job"})
		}
		count, err = s.chat.UnreadFromSender(ctx, jobID, senderID)
	case jobID != "":
		count, err = s.chat.UnreadForJob(ctx, jobID, callerID(c))
	default:
		count, err = s.chat.UnreadForUser(ctx, callerID(c))
	}
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"unread": count})
}

func (s *Server) handleCreateOrder(c echo.Context) error {
	var body struct {
		PriceEUR float64 `json:"price_eur"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	o, err := s.orders.Create(c.Request().Context(), callerID(c), c.Param("id"), body.PriceEUR)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, orderJSON(o))
}

func (s *Server) handleListOrders(c echo.Context) error {
	orders, err := s.orders.ListForJob(c.Request().Context(), c.Param("id"), callerID(c))
	if err != nil {
		return writeDomainError(c, err)
	}
	out := make([]echo.Map, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderJSON(o))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleAcceptOrder(c echo.Context) error {
	o, err := s.orders.Accept(c.Request().Context(), c.Param("id"), callerID(c))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, orderJSON(o))
}

func (s *Server) handleDeclineOrder(c echo.Context) error {
	o, err := s.orders.Decline(c.Request().Context(), c.Param("id"), callerID(c))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, orderJSON(o))
}

func (s *Server) handleMarkOrderPaid(c echo.Context) error {
	var body struct {
		PaymentRef string `json:"payment_ref"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	o, err := s.orders.MarkPaid(c.Request().Context(), c.Param("id"), callerID(c), body.PaymentRef)
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, orderJSON(o))
}

func (s *Server) handleCompleteOrder(c echo.Context) error {
	o, err := s.orders.CompleteByProvider(c.Request().Context(), c.Param("id"), callerID(c))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, orderJSON(o))
}

func (s *Server) handleCancelOrder(c echo.Context) error {
	o, err := s.orders.Cancel(c.Request().Context(), c.Param("id"), callerID(c))
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusOK, orderJSON(o))
}

func (s *Server) handleSubmitReview(c echo.Context) error {
	var body struct {
		ProviderID string  `json:"provider_id"`
		Rating     int     `json:"rating"`
		Comment    *string `json:"comment"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid payload"})
	}

	rev, err := s.reviews.Submit(c.Request().Context(), review.SubmitParams{
		JobID:      c.Param("id"),
		ClientID:   callerID(c),
		ProviderID: body.ProviderID,
		Rating:     body.Rating,
		Comment:    body.Comment,
	})
	if err != nil {
		return writeDomainError(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"id":          rev.ID,
		"job_id":      rev.JobID,
		"provider_id": rev.ProviderID,
		"rating":      rev.Rating,
		"comment":     rev.Comment,
		"created_at":  rev.CreatedAt,
	})
}

func jobJSON(j job.Job) echo.Map {
	return echo.Map{
		"id":            j.ID,
		"client_id":     j.ClientID,
		"provider_id":   j.ProviderID,
		"status":        j.Status,
		"title":         j.Title,
		"description":   j.Description,
		"budget_min":    j.BudgetMin,
		"budget_max":    j.BudgetMax,
		"is_negotiable": j.IsNegotiable,
		"created_at":    j.CreatedAt,
		"updated_at":    j.UpdatedAt,
	}
}

func jobsJSON(jobs []job.Job) []echo.Map {
	out := make([]echo.Map, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobJSON(j))
	}
	return out
}

func messageJSON(m chat.Message) echo.Map {
	return echo.Map{
		"id":         m.ID,
		"job_id":     m.JobID,
		"thread_id":  m.ThreadID,
		"sender_id":  m.SenderID,
		"content":    m.Content,
		"image_url":  m.ImageURL,
		"is_read":    m.IsRead,
		"created_at": m.CreatedAt,
	}
}

func orderJSON(o order.Order) echo.Map {
	return echo.Map{
		"id":          o.ID,
		"job_id":      o.JobID,
		"client_id":   o.ClientID,
		"provider_id": o.ProviderID,
		"status":      o.Status,
		"price_eur":   o.PriceEUR,
		"payment_ref": o.PaymentRef,
		"created_at":  o.CreatedAt,
		"updated_at":  o.UpdatedAt,
	}
}
