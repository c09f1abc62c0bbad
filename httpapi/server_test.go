package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"gigflow/auth"
	"gigflow/event"
	"gigflow/job"
	"gigflow/order"
	"gigflow/review"
)

type stubAuth struct {
	userID string
	role   auth.Role
	err    error
}

func (s *stubAuth) Register(_ context.Context, req auth.RegisterRequest) (*auth.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &auth.User{ID: s.userID, Email: req.Email, FullName: req.FullName, Role: auth.RoleClient}, nil
}

func (s *stubAuth) Login(context.Context, auth.LoginRequest) (auth.LoginResult, error) {
	if s.err != nil {
		return auth.LoginResult{}, s.err
	}
	return auth.LoginResult{Token: "tok", User: auth.User{ID: s.userID, Role: s.role}}, nil
}

func (s *stubAuth) VerifyToken(token string) (string, auth.Role, error) {
	if token != "tok" {
		return "", "", auth.ErrInvalidCredentials
	}
	return s.userID, s.role, nil
}

type stubJobs struct {
	JobService
	job job.Job
	err error
}

func (s *stubJobs) Create(context.Context, string, job.CreateParams) (job.Job, error) {
	return s.job, s.err
}

func (s *stubJobs) SetStatus(context.Context, string, string, job.Status) (job.Job, error) {
	return s.job, s.err
}

func (s *stubJobs) GetByID(context.Context, string) (job.Job, error) {
	return s.job, s.err
}

type stubOrders struct {
	OrderService
	order order.Order
	err   error
}

func (s *stubOrders) Accept(context.Context, string, string) (order.Order, error) {
	return s.order, s.err
}

func (s *stubOrders) MarkPaid(context.Context, string, string, string) (order.Order, error) {
	return s.order, s.err
}

type stubChat struct {
	ChatService
	unreadUser   int
	unreadJob    int
	unreadSender int
	participant  bool
}

func (s *stubChat) UnreadForUser(context.Context, string) (int, error)        { return s.unreadUser, nil }
func (s *stubChat) UnreadForJob(context.Context, string, string) (int, error) { return s.unreadJob, nil }
func (s *stubChat) UnreadFromSender(context.Context, string, string) (int, error) {
	return s.unreadSender, nil
}

func (s *stubChat) IsParticipant(context.Context, string, string) (bool, error) {
	return s.participant, nil
}

type stubReviews struct {
	rev review.Review
	err error
}

func (s *stubReviews) Submit(context.Context, review.SubmitParams) (review.Review, error) {
	return s.rev, s.err
}

func newTestServer(t *testing.T, jobs JobService, orders OrderService, chatSvc ChatService, reviews ReviewService) (*echo.Echo, *stubAuth) {
	t.Helper()
	authSvc := &stubAuth{userID: "user-1", role: auth.RoleClient}
	srv := NewServer(authSvc, jobs, orders, chatSvc, reviews, event.NewBus())
	e := echo.New()
	srv.Routes(e)
	return e, authSvc
}

func doJSON(e *echo.Echo, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireUser_RejectsMissingAndBadTokens(t *testing.T) {
	e, _ := newTestServer(t, &stubJobs{}, &stubOrders{}, &stubChat{}, &stubReviews{})

	if rec := doJSON(e, http.MethodGet, "/unread", "", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}
	if rec := doJSON(e, http.MethodGet, "/unread", "bogus", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token: expected 401, got %d", rec.Code)
	}
}

func TestHandleUnread_SelectsScopeFromQuery(t *testing.T) {
	chatSvc := &stubChat{unreadUser: 7, unreadJob: 3, unreadSender: 1, participant: true}
	e, _ := newTestServer(t, &stubJobs{}, &stubOrders{}, chatSvc, &stubReviews{})

	cases := []struct {
		path string
		want int
	}{
		{"/unread", 7},
		{"/unread?job_id=j1", 3},
		{"/unread?job_id=j1&sender_id=p1", 1},
	}
	for _, tc := range cases {
		rec := doJSON(e, http.MethodGet, tc.path, "tok", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", tc.path, rec.Code)
		}
		var body struct {
			Unread int `json:"unread"`
		}
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode: %v", tc.path, err)
		}
		if body.Unread != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.path, tc.want, body.Unread)
		}
	}
}

// The per-counterpart count names an arbitrary job and sender, so it is only
// served to that job's participants.
func TestHandleUnread_SenderScopeRequiresParticipation(t *testing.T) {
	chatSvc := &stubChat{unreadSender: 4, participant: false}
	e, _ := newTestServer(t, &stubJobs{}, &stubOrders{}, chatSvc, &stubReviews{})

	rec := doJSON(e, http.MethodGet, "/unread?job_id=j1&sender_id=p1", "tok", "")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for a non-participant, got %d (body %s)", rec.Code, rec.Body.String())
	}
}

func TestDomainErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", job.ErrNotFound, http.StatusNotFound},
		{"forbidden", order.ErrUnauthorized, http.StatusForbidden},
		{"invalid transition", order.ErrInvalidTransition, http.StatusConflict},
		{"duplicate review", review.ErrConflict, http.StatusConflict},
		{"validation", review.ErrValidation, http.StatusUnprocessableEntity},
	}

	for _, tc := range cases {
		e, _ := newTestServer(t,
			&stubJobs{err: tc.err},
			&stubOrders{err: tc.err},
			&stubChat{},
			&stubReviews{err: tc.err},
		)
		rec := doJSON(e, http.MethodPost, "/orders/o1/accept", "tok", "")
		if rec.Code != tc.want {
			t.Errorf("%s: expected %d, got %d (body %s)", tc.name, tc.want, rec.Code, rec.Body.String())
		}
	}
}

func TestHandleSubmitReview_Success(t *testing.T) {
	reviews := &stubReviews{rev: review.Review{ID: "r1", JobID: "j1", ProviderID: "p1", Rating: 5}}
	e, _ := newTestServer(t, &stubJobs{}, &stubOrders{}, &stubChat{}, reviews)

	rec := doJSON(e, http.MethodPost, "/jobs/j1/review", "tok", `{"provider_id":"p1","rating":5}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		ID     string `json:"id"`
		Rating int    `json:"rating"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.ID != "r1" || body.Rating != 5 {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHandleMarkOrderPaid_PassesPaymentRef(t *testing.T) {
	orders := &stubOrders{order: order.Order{ID: "o1", Status: order.StatusInProgress}}
	e, _ := newTestServer(t, &stubJobs{}, orders, &stubChat{}, &stubReviews{})

	rec := doJSON(e, http.MethodPost, "/orders/o1/pay", "tok", `{"payment_ref":"pi_123"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != string(order.StatusInProgress) {
		t.Fatalf("expected in_progress, got %q", body.Status)
	}
}
