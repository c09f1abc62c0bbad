package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"gigflow/auth"
	"gigflow/chat"
	"gigflow/event"
	"gigflow/job"
	"gigflow/order"
	"gigflow/review"
)

// The server depends on narrow interfaces so handlers can be exercised with
// stubs; the concrete services satisfy them.

type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type JobService interface {
	Create(ctx context.Context, clientID string, params job.CreateParams) (job.Job, error)
	AssignProvider(ctx context.Context, jobID, providerID string) (job.Job, error)
	SetStatus(ctx context.Context, jobID, actorID string, next job.Status) (job.Job, error)
	GetByID(ctx context.Context, jobID string) (job.Job, error)
	ListForClient(ctx context.Context, clientID string) ([]job.Job, error)
	ListOpen(ctx context.Context, limit int) ([]job.Job, error)
}

type OrderService interface {
	Create(ctx context.Context, providerID, jobID string, priceEUR float64) (order.Order, error)
	Accept(ctx context.Context, orderID, callerID string) (order.Order, error)
	Decline(ctx context.Context, orderID, callerID string) (order.Order, error)
	MarkPaid(ctx context.Context, orderID, callerID, paymentRef string) (order.Order, error)
	CompleteByProvider(ctx context.Context, orderID, callerID string) (order.Order, error)
	Cancel(ctx context.Context, orderID, callerID string) (order.Order, error)
	ListForJob(ctx context.Context, jobID, callerID string) ([]order.Order, error)
}

type ChatService interface {
	GetOrCreateThread(ctx context.Context, jobID, providerID string) (chat.Thread, error)
	ListThreadsForUser(ctx context.Context, userID string) ([]chat.ThreadSummary, error)
	Append(ctx context.Context, params chat.AppendParams) (chat.Message, error)
	MarkRead(ctx context.Context, jobID, readerID string) error
	ListMessages(ctx context.Context, jobID, callerID string) ([]chat.Message, error)
	UnreadForUser(ctx context.Context, userID string) (int, error)
	UnreadForJob(ctx context.Context, jobID, userID string) (int, error)
	UnreadFromSender(ctx context.Context, jobID, senderID string) (int, error)
	IsParticipant(ctx context.Context, jobID, userID string) (bool, error)
}

type ReviewService interface {
	Submit(ctx context.Context, params review.SubmitParams) (review.Review, error)
}

type Subscriber interface {
	Subscribe(scope string, filter func(event.Event) bool) *event.Subscription
}

// Server wires the domain services to the HTTP and websocket surface.
type Server struct {
	auth    AuthService
	jobs    JobService
	orders  OrderService
	chat    ChatService
	reviews ReviewService
	bus     Subscriber
}

func NewServer(authSvc AuthService, jobs JobService, orders OrderService, chatSvc ChatService, reviews ReviewService, bus Subscriber) *Server {
	return &Server{
		auth:    authSvc,
		jobs:    jobs,
		orders:  orders,
		chat:    chatSvc,
		reviews: reviews,
		bus:     bus,
	}
}

// Routes registers every endpoint on the echo instance.
func (s *Server) Routes(e *echo.Echo) {
	e.POST("/auth/register", s.handleRegister)
	e.POST("/auth/login", s.handleLogin)

	api := e.Group("", s.requireUser)

	api.POST("/jobs", s.handleCreateJob)
	api.GET("/jobs", s.handleListJobs)
	api.GET("/jobs/:id", s.handleGetJob)
	api.PATCH("/jobs/:id/status", s.handleSetJobStatus)
	api.POST("/jobs/:id/assign", s.handleAssignProvider)

	api.GET("/threads", s.handleListThreads)
	api.POST("/jobs/:id/messages", s.handleSendMessage)
	api.GET("/jobs/:id/messages", s.handleListMessages)
	api.POST("/jobs/:id/messages/read", s.handleMarkRead)
	api.GET("/unread", s.handleUnread)

	api.POST("/jobs/:id/orders", s.handleCreateOrder)
	api.GET("/jobs/:id/orders", s.handleListOrders)
	api.POST("/orders/:id/accept", s.handleAcceptOrder)
	api.POST("/orders/:id/decline", s.handleDeclineOrder)
	api.POST("/orders/:id/pay", s.handleMarkOrderPaid)
	api.POST("/orders/:id/complete", s.handleCompleteOrder)
	api.POST("/orders/:id/cancel", s.handleCancelOrder)

	api.POST("/jobs/:id/review", s.handleSubmitReview)

	api.GET("/ws", s.handleWS)
}

// requireUser authenticates the bearer token and stores the caller identity
// on the request context.
func (s *Server) requireUser(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		var token string
		if header := c.Request().Header.Get(echo.HeaderAuthorization); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		} else {
			// websocket clients cannot set headers
			token = c.QueryParam("token")
		}
		if token == "" {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing token"})
		}

		userID, role, err := s.auth.VerifyToken(token)
		if err != nil {
			return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid token"})
		}
		c.Set("user_id", userID)
		c.Set("role", string(role))
		return next(c)
	}
}

func callerID(c echo.Context) string {
	id, _ := c.Get("user_id").(string)
	return id
}

// writeDomainError maps the domain sentinels onto HTTP statuses in one place.
func writeDomainError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, job.ErrNotFound),
		errors.Is(err, order.ErrNotFound),
		errors.Is(err, chat.ErrNotFound),
		errors.Is(err, review.ErrNotFound),
		errors.Is(err, auth.ErrUserNotFound):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})

	case errors.Is(err, job.ErrUnauthorized),
		errors.Is(err, order.ErrUnauthorized),
		errors.Is(err, review.ErrUnauthorized),
		errors.Is(err, chat.ErrNotParticipant):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})

	case errors.Is(err, job.ErrInvalidTransition),
		errors.Is(err, order.ErrInvalidTransition),
		errors.Is(err, order.ErrJobClosed),
		errors.Is(err, review.ErrConflict),
		errors.Is(err, auth.ErrDuplicateEmail):
		return c.JSON(http.StatusConflict, echo.Map{"error": err.Error()})

	case errors.Is(err, auth.ErrInvalidCredentials):
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": err.Error()})

	case errors.Is(err, job.ErrValidation),
		errors.Is(err, order.ErrValidation),
		errors.Is(err, chat.ErrValidation),
		errors.Is(err, review.ErrValidation),
		errors.Is(err, auth.ErrWeakPassword):
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{"error": err.Error()})
	}

	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}
